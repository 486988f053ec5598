package rules

import (
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestStats(t *testing.T) {
	txs := []domain.EnrichedTransaction{
		{Outcome: domain.RuleOutcome{}},
		{Outcome: domain.RuleOutcome{Triggered: [5]bool{true}, RiskScore: 20, FraudFlag: true}},
		{Outcome: domain.RuleOutcome{Triggered: [5]bool{true, false, true}, RiskScore: 40, FraudFlag: true}},
		{Outcome: domain.RuleOutcome{}},
	}

	s := Stats(txs)

	if s.TotalTransactions != 4 || s.FlaggedTransactions != 2 {
		t.Errorf("counts = %d/%d, want 2/4", s.FlaggedTransactions, s.TotalTransactions)
	}
	if s.FlaggedPercentage != 50 {
		t.Errorf("FlaggedPercentage = %v, want 50", s.FlaggedPercentage)
	}
	if s.AvgRiskScore != 30 {
		t.Errorf("AvgRiskScore = %v, want 30", s.AvgRiskScore)
	}
	if s.MaxRiskScore != 40 {
		t.Errorf("MaxRiskScore = %v, want 40", s.MaxRiskScore)
	}
	if s.Triggers(domain.RuleVelocity) != 2 || s.Triggers(domain.RuleSpendingSpike) != 1 || s.Triggers(domain.RuleNocturnal) != 0 {
		t.Errorf("RuleTriggers = %v", s.RuleTriggers)
	}
}

func TestStatsEmpty(t *testing.T) {
	s := Stats(nil)
	if s != (domain.DetectionStats{}) {
		t.Errorf("Stats(nil) = %+v, want zero", s)
	}
}
