package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
)

func runServe(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	envFile := fs.String("env", config.DefaultEnvFile, "path to .env file")
	host := fs.String("host", "", "listen host")
	port := fs.Int("port", 0, "listen port")
	mode := fs.String("mode", "", "default profile mode: global or causal")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *mode != "" {
		cfg.Features.Mode = domain.ProfileMode(strings.ToLower(*mode))
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if err := setupLogger(cfg.Logging, stdout); err != nil {
		return err
	}
	flushTraces, err := setupTracing(cfg.Tracing)
	if err != nil {
		return err
	}
	defer flushTraces()

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"mode", cfg.Features.Mode,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	loc, err := time.LoadLocation(cfg.Ingest.Location)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	b, err := openBackends(cfg, true)
	if err != nil {
		return err
	}
	defer b.Close()

	scanners, err := newScanners(cfg, b, domain.ProfileGlobal, domain.ProfileCausal)
	if err != nil {
		return err
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Scanners:    scanners,
		DefaultMode: cfg.Features.Mode,
		Repository:  b.repo,
		Cache:       b.cache,
		Bus:         b.bus,
		CacheTTL:    cfg.Cache.TTL,
		Location:    loc,
		Version:     Version,
	})

	// Start Server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(stdout, cfg)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		slog.Error("server failed", "error", serveErr)
	}
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
	return serveErr
}

func printBanner(w io.Writer, cfg *domain.Config) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  KESTREL - batch fraud scoring")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Version:  %s\n", Version)
	fmt.Fprintf(w, "  Mode:     %s\n", cfg.Features.Mode)
	fmt.Fprintf(w, "  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Endpoints:")
	fmt.Fprintln(w, "    POST /scans        - Score a transaction CSV")
	fmt.Fprintln(w, "    GET  /scans/{id}   - Get an archived run")
	fmt.Fprintln(w, "    GET  /rules        - Effective rule configuration")
	fmt.Fprintln(w, "    GET  /health       - Health check")
	fmt.Fprintln(w)
}
