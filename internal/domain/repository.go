// Package domain defines the core types and interfaces for kestrel.
package domain

import (
	"context"
	"time"
)

// Repository archives finished scans. The engines never read from it.
type Repository interface {
	// Scan runs
	SaveRun(ctx context.Context, result *ScanResult) error
	GetRun(ctx context.Context, runID string) (*RunSummary, error)
	ListFlagged(ctx context.Context, runID string, limit int) ([]*ScoredRecord, error)

	// Alerts
	SaveAlert(ctx context.Context, alert *Alert) error
	ListAlerts(ctx context.Context, runID string) ([]*Alert, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RunSummary is the archived header of a scan run.
type RunSummary struct {
	RunID     string         `json:"runId"`
	Mode      ProfileMode    `json:"mode"`
	StartedAt time.Time      `json:"startedAt"`
	Stats     DetectionStats `json:"stats"`
	Metadata  ScanMetadata   `json:"metadata"`
}

// ScoredRecord is the archived display view of one scored transaction.
type ScoredRecord struct {
	RunID          string    `json:"runId"`
	Seq            int       `json:"seq"`
	UserID         string    `json:"userId"`
	Timestamp      time.Time `json:"timestamp"`
	MerchantName   string    `json:"merchantName"`
	Amount         string    `json:"amount"`
	RiskScore      float64   `json:"riskScore"`
	FraudFlag      bool      `json:"fraudFlag"`
	TriggeredRules []string  `json:"triggeredRules"`
	Explanation    string    `json:"explanation"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "none", "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
