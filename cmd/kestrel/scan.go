package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ingest"
	"github.com/opensource-finance/kestrel/internal/report"
)

type scanFlags struct {
	envFile    string
	input      string
	output     string
	format     string
	includeAll bool
	mode       string
	workers    int
	timezone   string
	top        int
	quiet      bool
}

func parseScanFlags(args []string, stderr io.Writer) (*scanFlags, error) {
	f := &scanFlags{}
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.envFile, "env", config.DefaultEnvFile, "path to .env file")
	fs.StringVar(&f.input, "input", "", "input transaction CSV (required)")
	fs.StringVar(&f.output, "output", "", "output file for scored rows")
	fs.StringVar(&f.format, "format", "", "output format: csv or json (default from -output extension)")
	fs.BoolVar(&f.includeAll, "include-all", false, "write every transaction, not only flagged ones")
	fs.StringVar(&f.mode, "mode", "", "profile mode: global or causal")
	fs.IntVar(&f.workers, "workers", 0, "feature and rule workers")
	fs.StringVar(&f.timezone, "timezone", "", "time zone for naive timestamps")
	fs.IntVar(&f.top, "top", 10, "riskiest rows shown in the summary")
	fs.BoolVar(&f.quiet, "quiet", false, "skip the console summary")

	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	if f.input == "" {
		return nil, fmt.Errorf("%w: -input is required", errUsage)
	}

	if f.format == "" {
		f.format = "csv"
		if strings.EqualFold(filepath.Ext(f.output), ".json") {
			f.format = "json"
		}
	}
	f.format = strings.ToLower(f.format)
	if f.format != "csv" && f.format != "json" {
		return nil, fmt.Errorf("%w: unknown format %q", errUsage, f.format)
	}
	return f, nil
}

// apply layers flag overrides onto cfg.
func (f *scanFlags) apply(cfg *domain.Config) error {
	if f.mode != "" {
		cfg.Features.Mode = domain.ProfileMode(strings.ToLower(f.mode))
	}
	if f.workers > 0 {
		cfg.Features.Workers = f.workers
	}
	if f.timezone != "" {
		cfg.Ingest.Location = f.timezone
	}
	return config.Validate(cfg)
}

func runScan(args []string, stdout, stderr io.Writer) error {
	flags, err := parseScanFlags(args, stderr)
	if err != nil {
		return err
	}

	cfg, err := config.Load(flags.envFile)
	if err != nil {
		return err
	}
	if err := flags.apply(cfg); err != nil {
		return err
	}
	if err := setupLogger(cfg.Logging, stderr); err != nil {
		return err
	}
	flushTraces, err := setupTracing(cfg.Tracing)
	if err != nil {
		return err
	}
	defer flushTraces()

	loc, err := time.LoadLocation(cfg.Ingest.Location)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}

	txs, load, err := ingest.LoadFile(flags.input, ingest.Options{Location: loc})
	if err != nil {
		return err
	}
	slog.Info("transactions loaded",
		"input", flags.input,
		"rows", load.Rows,
		"loaded", load.Loaded,
		"dropped", load.Dropped(),
	)

	b, err := openBackends(cfg, false)
	if err != nil {
		return err
	}
	defer b.Close()

	scanners, err := newScanners(cfg, b, cfg.Features.Mode)
	if err != nil {
		return err
	}

	result, err := scanners[cfg.Features.Mode].Run(context.Background(), txs)
	if err != nil {
		return err
	}

	doc := report.NewDocument(result, flags.includeAll)
	if flags.output != "" {
		if err := writeOutput(flags.output, flags.format, doc); err != nil {
			return err
		}
		slog.Info("report written", "output", flags.output, "format", flags.format, "rows", len(doc.Rows))
	}

	if !flags.quiet {
		fmt.Fprintf(stdout, "Run %s (%s profile, %d users, %d ms)\n\n",
			result.RunID, result.Mode, result.Metadata.Users, result.Metadata.TotalMs)
		report.WriteSummary(stdout, result.Stats)
		if flags.top > 0 && len(doc.Rows) > 0 {
			fmt.Fprintln(stdout)
			report.WriteTop(stdout, doc.Rows, flags.top)
		}
	}
	return nil
}

func writeOutput(path, format string, doc *report.Document) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}

	if format == "json" {
		err = report.WriteJSON(f, doc)
	} else {
		err = report.WriteCSV(f, doc.Rows)
	}
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close output: %w", cerr)
	}
	return err
}
