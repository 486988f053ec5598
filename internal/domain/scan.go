package domain

import "time"

// DetectionStats summarises a scored batch.
type DetectionStats struct {
	TotalTransactions   int            `json:"totalTransactions"`
	FlaggedTransactions int            `json:"flaggedTransactions"`
	FlaggedPercentage   float64        `json:"flaggedPercentage"`
	RuleTriggers        [RuleCount]int `json:"ruleTriggers"`
	AvgRiskScore        float64        `json:"avgRiskScore"`
	MaxRiskScore        float64        `json:"maxRiskScore"`
}

// Triggers returns the trigger count of one rule.
func (s *DetectionStats) Triggers(id RuleID) int {
	if !id.Valid() {
		return 0
	}
	return s.RuleTriggers[id.Index()]
}

// ScanResult is the output of one batch run.
type ScanResult struct {
	RunID        string                `json:"runId"`
	Mode         ProfileMode           `json:"mode"`
	StartedAt    time.Time             `json:"startedAt"`
	Transactions []EnrichedTransaction `json:"transactions"`
	Stats        DetectionStats        `json:"stats"`
	Metadata     ScanMetadata          `json:"metadata"`
}

// ScanMetadata contains processing information.
type ScanMetadata struct {
	Users      int    `json:"users"`
	FeaturesMs int64  `json:"featuresMs"`
	RulesMs    int64  `json:"rulesMs"`
	TotalMs    int64  `json:"totalMs"`
	Version    string `json:"version"`
}

// Flagged returns the flagged transactions in batch order.
func (r *ScanResult) Flagged() []EnrichedTransaction {
	var out []EnrichedTransaction
	for i := range r.Transactions {
		if r.Transactions[i].Outcome.FraudFlag {
			out = append(out, r.Transactions[i])
		}
	}
	return out
}
