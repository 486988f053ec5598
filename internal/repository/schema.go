package repository

// Schema definitions for the kestrel report archive.
// Compatible with both SQLite and PostgreSQL. Timestamps are stored as
// RFC 3339 text and amounts as decimal text.

const schemaScanRuns = `
CREATE TABLE IF NOT EXISTS scan_runs (
    run_id TEXT PRIMARY KEY,
    mode TEXT NOT NULL,
    started_at TEXT NOT NULL,
    total_transactions INTEGER NOT NULL,
    flagged_transactions INTEGER NOT NULL,
    stats TEXT NOT NULL,
    metadata TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scan_runs_started ON scan_runs(started_at);
`

const schemaScoredTransactions = `
CREATE TABLE IF NOT EXISTS scored_transactions (
    run_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    user_id TEXT NOT NULL,
    timestamp TEXT NOT NULL,
    merchant_name TEXT NOT NULL,
    amount TEXT NOT NULL,
    risk_score REAL NOT NULL,
    fraud_flag INTEGER NOT NULL,
    triggered_rules TEXT NOT NULL,
    explanation TEXT NOT NULL,
    PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_scored_flagged ON scored_transactions(run_id, fraud_flag, risk_score);
CREATE INDEX IF NOT EXISTS idx_scored_user ON scored_transactions(run_id, user_id);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    timestamp TEXT NOT NULL,
    merchant_name TEXT NOT NULL,
    amount TEXT NOT NULL,
    risk_score REAL NOT NULL,
    triggered_rules TEXT NOT NULL,
    explanation TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_run ON alerts(run_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaScanRuns,
		schemaScoredTransactions,
		schemaAlerts,
	}
}
