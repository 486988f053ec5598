// Package scan runs the batch pipeline: features, rules, statistics, and the
// optional archive and alert hooks.
package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/rules"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("kestrel-scan")

// Options holds the optional collaborators of a Scanner.
type Options struct {
	// Repository archives finished runs. Nil disables archiving.
	Repository domain.Repository

	// Bus receives scan-completed events and alerts. Nil disables publishing.
	Bus domain.EventBus

	// Version is recorded in the run metadata.
	Version string
}

// Scanner runs batches through the Feature Engine and Rule Engine.
type Scanner struct {
	features *features.Engine
	rules    *rules.Engine
	repo     domain.Repository
	bus      domain.EventBus
	version  string
}

// New creates a scanner.
func New(fe *features.Engine, re *rules.Engine, opts Options) *Scanner {
	return &Scanner{
		features: fe,
		rules:    re,
		repo:     opts.Repository,
		bus:      opts.Bus,
		version:  opts.Version,
	}
}

// Mode returns the profile mode of the feature engine.
func (s *Scanner) Mode() domain.ProfileMode {
	return s.features.Mode()
}

// Rules returns the rule engine.
func (s *Scanner) Rules() *rules.Engine {
	return s.rules
}

// Run scores one batch. Hook failures are logged and do not fail the run.
func (s *Scanner) Run(ctx context.Context, txs []domain.Transaction) (*domain.ScanResult, error) {
	result := &domain.ScanResult{
		RunID:     uuid.New().String(),
		Mode:      s.features.Mode(),
		StartedAt: time.Now().UTC(),
	}

	ctx, span := tracer.Start(ctx, "scan.Run",
		trace.WithAttributes(
			attribute.String("run.id", result.RunID),
			attribute.String("run.mode", string(result.Mode)),
			attribute.Int("run.transactions", len(txs)),
		),
	)
	defer span.End()

	slog.InfoContext(ctx, "scan started",
		"run_id", result.RunID,
		"mode", result.Mode,
		"transactions", len(txs),
	)

	start := time.Now()
	enriched, err := s.features.Enrich(ctx, txs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "feature engineering failed")
		metrics.ObserveScanFailure(result.Mode)
		return nil, fmt.Errorf("feature engineering failed: %w", err)
	}
	featuresDone := time.Now()

	if err := s.rules.Score(ctx, enriched); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rule evaluation failed")
		metrics.ObserveScanFailure(result.Mode)
		return nil, fmt.Errorf("rule evaluation failed: %w", err)
	}
	rulesDone := time.Now()

	result.Transactions = enriched
	result.Stats = rules.Stats(enriched)
	result.Metadata = domain.ScanMetadata{
		Users:      features.UserCount(txs),
		FeaturesMs: featuresDone.Sub(start).Milliseconds(),
		RulesMs:    rulesDone.Sub(featuresDone).Milliseconds(),
		TotalMs:    rulesDone.Sub(start).Milliseconds(),
		Version:    s.version,
	}

	span.SetAttributes(
		attribute.Int("run.flagged", result.Stats.FlaggedTransactions),
		attribute.Float64("run.max_risk_score", result.Stats.MaxRiskScore),
	)

	slog.InfoContext(ctx, "scan complete",
		"run_id", result.RunID,
		"transactions", result.Stats.TotalTransactions,
		"flagged", result.Stats.FlaggedTransactions,
		"users", result.Metadata.Users,
		"duration_ms", result.Metadata.TotalMs,
	)
	metrics.ObserveScan(result)

	s.archive(ctx, result)
	s.publish(ctx, result)

	return result, nil
}

func (s *Scanner) archive(ctx context.Context, result *domain.ScanResult) {
	if s.repo == nil {
		return
	}
	if err := s.repo.SaveRun(ctx, result); err != nil {
		slog.ErrorContext(ctx, "failed to archive scan", "run_id", result.RunID, "error", err)
	}
}

func (s *Scanner) publish(ctx context.Context, result *domain.ScanResult) {
	if s.bus == nil {
		return
	}

	published := 0
	for i := range result.Transactions {
		tx := &result.Transactions[i]
		if !tx.Outcome.FraudFlag {
			continue
		}

		payload, err := json.Marshal(domain.NewAlert(result.RunID, tx))
		if err != nil {
			slog.ErrorContext(ctx, "failed to encode alert", "run_id", result.RunID, "error", err)
			continue
		}
		if err := s.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			slog.ErrorContext(ctx, "failed to publish alert", "run_id", result.RunID, "error", err)
			if ctx.Err() != nil {
				return
			}
			continue
		}
		published++
	}

	payload, err := json.Marshal(domain.ScanCompleted{RunID: result.RunID, Stats: result.Stats})
	if err == nil {
		err = s.bus.Publish(ctx, domain.TopicScanCompleted, payload)
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to publish scan completion", "run_id", result.RunID, "error", err)
	}

	slog.DebugContext(ctx, "alerts published", "run_id", result.RunID, "alerts", published)
}
