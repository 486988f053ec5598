package rules

import "github.com/opensource-finance/kestrel/internal/domain"

// Stats summarises an already scored batch.
func Stats(txs []domain.EnrichedTransaction) domain.DetectionStats {
	stats := domain.DetectionStats{TotalTransactions: len(txs)}

	var flaggedScore float64
	for i := range txs {
		o := &txs[i].Outcome

		for _, id := range domain.AllRules {
			if o.Triggered[id.Index()] {
				stats.RuleTriggers[id.Index()]++
			}
		}

		if o.FraudFlag {
			stats.FlaggedTransactions++
			flaggedScore += o.RiskScore
		}

		if i == 0 || o.RiskScore > stats.MaxRiskScore {
			stats.MaxRiskScore = o.RiskScore
		}
	}

	if stats.TotalTransactions > 0 {
		stats.FlaggedPercentage = float64(stats.FlaggedTransactions) / float64(stats.TotalTransactions) * 100
	}
	if stats.FlaggedTransactions > 0 {
		stats.AvgRiskScore = flaggedScore / float64(stats.FlaggedTransactions)
	}

	return stats
}
