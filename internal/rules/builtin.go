package rules

import "github.com/opensource-finance/kestrel/internal/domain"

// Minimum user history for the statistical rules.
const (
	minHistoryAmountAnomaly = 5
	minHistoryNewMerchant   = 3
	minHistoryNocturnal     = 5
)

// BuiltinRules returns the five fraud rules in R1..R5 order.
func BuiltinRules() [domain.RuleCount]Rule {
	return [domain.RuleCount]Rule{
		{ID: domain.RuleVelocity, Condition: Velocity},
		{ID: domain.RuleAmountAnomaly, MinHistory: minHistoryAmountAnomaly, Condition: AmountAnomaly},
		{ID: domain.RuleSpendingSpike, Condition: SpendingSpike},
		{ID: domain.RuleNewMerchant, MinHistory: minHistoryNewMerchant, Condition: NewMerchant},
		{ID: domain.RuleNocturnal, MinHistory: minHistoryNocturnal, Condition: Nocturnal},
	}
}

// Velocity fires on a burst of transactions inside 10 minutes.
func Velocity(tx *domain.EnrichedTransaction, cfg *domain.RuleConfig) bool {
	return tx.Window.Count10m >= cfg.Rule1VelocityThreshold
}

// AmountAnomaly fires when the amount is far above the user's usual spend.
func AmountAnomaly(tx *domain.EnrichedTransaction, cfg *domain.RuleConfig) bool {
	amount := tx.AmountFloat()
	threshold := tx.Profile.Mean + cfg.Rule2SigmaMultiplier*tx.Profile.Std
	return amount > threshold && amount > cfg.Rule2MinAmount
}

// SpendingSpike fires when 24-hour spend is high in absolute terms or
// relative to the user's daily average.
func SpendingSpike(tx *domain.EnrichedTransaction, cfg *domain.RuleConfig) bool {
	sum := tx.Window.Sum24h.InexactFloat64()
	return sum > cfg.Rule3AbsoluteThreshold ||
		sum > tx.Profile.DailyAvg*cfg.Rule3RelativeMultiplier
}

// NewMerchant fires on a large first payment to a merchant.
func NewMerchant(tx *domain.EnrichedTransaction, cfg *domain.RuleConfig) bool {
	amount := tx.AmountFloat()
	return tx.Merchant.FirstTime &&
		amount > cfg.Rule4MinAmount &&
		amount > tx.Profile.Mean*cfg.Rule4RelativeMultiplier
}

// Nocturnal fires on above-p75 spend inside the configured night hours.
func Nocturnal(tx *domain.EnrichedTransaction, cfg *domain.RuleConfig) bool {
	hour := tx.Temporal.Hour
	return hour >= cfg.Rule5StartHour &&
		hour <= cfg.Rule5EndHour &&
		tx.AmountFloat() > tx.Profile.P75
}

// BuiltinExpressions are CEL renderings of the built-in conditions. They can
// be used as a starting point for expression overrides.
var BuiltinExpressions = map[domain.RuleID]string{
	domain.RuleVelocity:      "rolling_10min_count >= rule1_velocity_threshold",
	domain.RuleAmountAnomaly: "amount > user_mean + rule2_sigma_multiplier * user_std && amount > rule2_min_amount",
	domain.RuleSpendingSpike: "rolling_24h_sum > rule3_absolute_threshold || rolling_24h_sum > user_daily_avg * rule3_relative_multiplier",
	domain.RuleNewMerchant:   "is_first_time_merchant && amount > rule4_min_amount && amount > user_mean * rule4_relative_multiplier",
	domain.RuleNocturnal:     "hour >= rule5_start_hour && hour <= rule5_end_hour && amount > user_p75",
}
