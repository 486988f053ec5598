package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scan"
	"github.com/opensource-finance/kestrel/internal/tracing"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// backends holds the optional infrastructure of a process. Any field may be nil.
type backends struct {
	repo   domain.Repository
	cache  domain.Cache
	bus    domain.EventBus
	worker *worker.Worker
}

// openBackends connects the repository, event bus and alert worker, and the
// cache when withCache is set.
func openBackends(cfg *domain.Config, withCache bool) (*backends, error) {
	b := &backends{}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}
	b.repo = repo
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	if withCache {
		c, err := cache.New(cfg.Cache)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to initialize cache: %w", err)
		}
		b.cache = c
		slog.Info("cache initialized", "type", cfg.Cache.Type)
	}

	eventBus, err := bus.New(cfg.EventBus)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to initialize event bus: %w", err)
	}
	b.bus = eventBus
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	if b.bus != nil {
		w := worker.NewWorker(b.bus, b.repo)
		if err := w.Start(); err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to start alert worker: %w", err)
		}
		b.worker = w
	}

	return b, nil
}

// Close shuts down in dependency order. The bus drains queued alerts into the
// worker before the repository goes away.
func (b *backends) Close() {
	if b.bus != nil {
		closeLogged("event bus", b.bus)
	}
	if b.worker != nil {
		if err := b.worker.Stop(); err != nil {
			slog.Error("failed to stop alert worker", "error", err)
		}
	}
	if b.repo != nil {
		closeLogged("repository", b.repo)
	}
	if b.cache != nil {
		closeLogged("cache", b.cache)
	}
}

func closeLogged(name string, c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Error("failed to close "+name, "error", err)
	}
}

// newScanners builds one scanner per profile mode, sharing a rule engine.
func newScanners(cfg *domain.Config, b *backends, modes ...domain.ProfileMode) (map[domain.ProfileMode]*scan.Scanner, error) {
	re, err := rules.NewEngine(cfg.Rules, cfg.Features.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	slog.Info("rule engine initialized", "engine", re.String())

	opts := scan.Options{
		Repository: b.repo,
		Bus:        b.bus,
		Version:    Version,
	}

	scanners := make(map[domain.ProfileMode]*scan.Scanner, len(modes))
	for _, mode := range modes {
		fe, err := features.NewEngine(domain.FeatureConfig{Mode: mode, Workers: cfg.Features.Workers})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize feature engine: %w", err)
		}
		scanners[mode] = scan.New(fe, re, opts)
	}
	return scanners, nil
}

// setupLogger installs the default slog logger.
func setupLogger(cfg domain.LoggingConfig, w io.Writer) error {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// setupTracing installs the tracer provider and returns a func that flushes it.
func setupTracing(cfg domain.TracingConfig) (func(), error) {
	shutdown, err := tracing.Init(context.Background(), cfg, Version)
	if err != nil {
		return nil, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			slog.Error("failed to flush traces", "error", err)
		}
	}, nil
}
