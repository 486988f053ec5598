// Package worker consumes scan events from the EventBus and archives alerts.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Worker stores published alerts through the repository.
type Worker struct {
	bus  domain.EventBus
	repo domain.Repository

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	stored atomic.Int64
	failed atomic.Int64
	runs   atomic.Int64
}

// NewWorker creates a new alert worker.
func NewWorker(bus domain.EventBus, repo domain.Repository) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the alert and scan-completed topics.
func (w *Worker) Start() error {
	if w.bus == nil {
		return errors.New("worker requires an event bus")
	}

	alerts, err := w.bus.Subscribe(w.ctx, domain.TopicAlert, w.handleAlert)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicAlert, err)
	}
	w.subscriptions = append(w.subscriptions, alerts)

	completed, err := w.bus.Subscribe(w.ctx, domain.TopicScanCompleted, w.handleScanCompleted)
	if err != nil {
		_ = alerts.Unsubscribe()
		w.subscriptions = nil
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicScanCompleted, err)
	}
	w.subscriptions = append(w.subscriptions, completed)

	slog.Info("worker started",
		"topics", []string{domain.TopicAlert, domain.TopicScanCompleted},
		"archive", w.repo != nil,
	)
	return nil
}

// handleAlert decodes an alert and saves it.
func (w *Worker) handleAlert(ctx context.Context, msg *domain.Message) error {
	var alert domain.Alert
	if err := json.Unmarshal(msg.Payload, &alert); err != nil {
		w.failed.Add(1)
		metrics.AlertsTotal.WithLabelValues("failed").Inc()
		slog.Error("failed to parse alert message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	slog.Debug("alert received",
		"run_id", alert.RunID,
		"user_id", alert.UserID,
		"risk_score", alert.RiskScore,
	)

	if w.repo == nil {
		metrics.AlertsTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	if err := w.repo.SaveAlert(ctx, &alert); err != nil {
		w.failed.Add(1)
		metrics.AlertsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to save alert for run %s: %w", alert.RunID, err)
	}

	w.stored.Add(1)
	metrics.AlertsTotal.WithLabelValues("stored").Inc()
	return nil
}

// handleScanCompleted logs the summary of a finished run.
func (w *Worker) handleScanCompleted(ctx context.Context, msg *domain.Message) error {
	var done domain.ScanCompleted
	if err := json.Unmarshal(msg.Payload, &done); err != nil {
		slog.Error("failed to parse scan completion message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	w.runs.Add(1)
	slog.Info("scan completed",
		"run_id", done.RunID,
		"transactions", done.Stats.TotalTransactions,
		"flagged", done.Stats.FlaggedTransactions,
	)
	return nil
}

// Stop cancels the subscriptions.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("worker stopped",
		"alerts_stored", w.stored.Load(),
		"alerts_failed", w.failed.Load(),
	)
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	AlertsStored      int64    `json:"alertsStored"`
	AlertsFailed      int64    `json:"alertsFailed"`
	RunsCompleted     int64    `json:"runsCompleted"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		AlertsStored:      w.stored.Load(),
		AlertsFailed:      w.failed.Load(),
		RunsCompleted:     w.runs.Load(),
	}
}
