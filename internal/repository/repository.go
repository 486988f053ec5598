// Package repository archives scan reports in SQLite or PostgreSQL.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrInvalidInput is returned for unusable arguments.
var ErrInvalidInput = errors.New("invalid input")

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a repository based on configuration. Driver "none" returns a
// nil repository and callers skip archiving.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported driver: %s", domain.ErrConfig, cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun stores the run header and every scored transaction in one
// database transaction.
func (r *SQLRepository) SaveRun(ctx context.Context, result *domain.ScanResult) error {
	if result == nil || result.RunID == "" {
		return fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}

	stats, err := json.Marshal(result.Stats)
	if err != nil {
		return fmt.Errorf("failed to encode stats: %w", err)
	}
	metadata, err := json.Marshal(result.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, r.rebind(`
		INSERT INTO scan_runs (
			run_id, mode, started_at, total_transactions, flagged_transactions,
			stats, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`),
		result.RunID, string(result.Mode), formatTime(result.StartedAt),
		result.Stats.TotalTransactions, result.Stats.FlaggedTransactions,
		string(stats), string(metadata), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, r.rebind(`
		INSERT INTO scored_transactions (
			run_id, seq, user_id, timestamp, merchant_name, amount,
			risk_score, fraud_flag, triggered_rules, explanation
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return fmt.Errorf("failed to prepare row insert: %w", err)
	}
	defer stmt.Close()

	for i := range result.Transactions {
		et := &result.Transactions[i]
		flag := 0
		if et.Outcome.FraudFlag {
			flag = 1
		}
		_, err := stmt.ExecContext(ctx,
			result.RunID, i, et.UserID, formatTime(et.Timestamp), et.MerchantName,
			et.Amount.String(), et.Outcome.RiskScore, flag,
			strings.Join(et.Outcome.Tags(), ","), et.Outcome.Explanation(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// GetRun retrieves an archived run header.
func (r *SQLRepository) GetRun(ctx context.Context, runID string) (*domain.RunSummary, error) {
	query := `
		SELECT run_id, mode, started_at, stats, metadata
		FROM scan_runs
		WHERE run_id = ?
	`

	var run domain.RunSummary
	var mode, startedAt, stats, metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), runID).Scan(
		&run.RunID, &mode, &startedAt, &stats, &metadata,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	run.Mode = domain.ProfileMode(mode)
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(stats), &run.Stats); err != nil {
		return nil, fmt.Errorf("failed to parse stats of run %s: %w", runID, err)
	}
	if err := json.Unmarshal([]byte(metadata), &run.Metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata of run %s: %w", runID, err)
	}

	return &run, nil
}

// ListFlagged returns the flagged rows of a run by descending risk score.
// A non-positive limit returns every flagged row.
func (r *SQLRepository) ListFlagged(ctx context.Context, runID string, limit int) ([]*domain.ScoredRecord, error) {
	query := `
		SELECT run_id, seq, user_id, timestamp, merchant_name, amount,
			   risk_score, fraud_flag, triggered_rules, explanation
		FROM scored_transactions
		WHERE run_id = ? AND fraud_flag = 1
		ORDER BY risk_score DESC, seq
	`
	args := []any{runID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.ScoredRecord
	for rows.Next() {
		var rec domain.ScoredRecord
		var ts, tags string
		var flag int

		if err := rows.Scan(
			&rec.RunID, &rec.Seq, &rec.UserID, &ts, &rec.MerchantName, &rec.Amount,
			&rec.RiskScore, &flag, &tags, &rec.Explanation,
		); err != nil {
			return nil, err
		}

		if rec.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		rec.FraudFlag = flag == 1
		rec.TriggeredRules = splitTags(tags)
		records = append(records, &rec)
	}

	return records, rows.Err()
}

// SaveAlert stores one alert.
func (r *SQLRepository) SaveAlert(ctx context.Context, alert *domain.Alert) error {
	if alert == nil || alert.RunID == "" {
		return fmt.Errorf("%w: alert run id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO alerts (
			id, run_id, user_id, timestamp, merchant_name, amount,
			risk_score, triggered_rules, explanation, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		uuid.New().String(), alert.RunID, alert.UserID, formatTime(alert.Timestamp),
		alert.MerchantName, alert.Amount.String(), alert.RiskScore,
		strings.Join(alert.TriggeredRules, ","), alert.Explanation, formatTime(time.Now()),
	)
	return err
}

// ListAlerts returns the alerts of a run by descending risk score.
func (r *SQLRepository) ListAlerts(ctx context.Context, runID string) ([]*domain.Alert, error) {
	query := `
		SELECT run_id, user_id, timestamp, merchant_name, amount,
			   risk_score, triggered_rules, explanation
		FROM alerts
		WHERE run_id = ?
		ORDER BY risk_score DESC, timestamp, user_id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		var a domain.Alert
		var ts, amount, tags string

		if err := rows.Scan(
			&a.RunID, &a.UserID, &ts, &a.MerchantName, &amount,
			&a.RiskScore, &tags, &a.Explanation,
		); err != nil {
			return nil, err
		}

		if a.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		if a.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("failed to parse alert amount %q: %w", amount, err)
		}
		a.TriggeredRules = splitTags(tags)
		alerts = append(alerts, &a)
	}

	return alerts, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored timestamp %q: %w", s, err)
	}
	return t, nil
}

func splitTags(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}
