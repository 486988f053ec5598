package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// newEnv creates the CEL environment exposing feature and threshold variables.
func newEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		// Transaction
		cel.Variable("user_id", cel.StringType),
		cel.Variable("merchant_name", cel.StringType),
		cel.Variable("amount", cel.DoubleType),

		// User profile
		cel.Variable("user_count", cel.IntType),
		cel.Variable("user_mean", cel.DoubleType),
		cel.Variable("user_std", cel.DoubleType),
		cel.Variable("user_min", cel.DoubleType),
		cel.Variable("user_max", cel.DoubleType),
		cel.Variable("user_p25", cel.DoubleType),
		cel.Variable("user_p50", cel.DoubleType),
		cel.Variable("user_p75", cel.DoubleType),
		cel.Variable("user_p95", cel.DoubleType),
		cel.Variable("user_daily_avg", cel.DoubleType),

		// Rolling windows
		cel.Variable("rolling_10min_count", cel.IntType),
		cel.Variable("rolling_24h_count", cel.IntType),
		cel.Variable("rolling_24h_sum", cel.DoubleType),

		// Merchant and time
		cel.Variable("merchant_rank", cel.IntType),
		cel.Variable("is_first_time_merchant", cel.BoolType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("day_of_week", cel.IntType),
		cel.Variable("is_weekend", cel.BoolType),
		cel.Variable("is_nocturnal", cel.BoolType),
		cel.Variable("time_since_last_tx_seconds", cel.DoubleType),

		// Thresholds
		cel.Variable("rule1_velocity_threshold", cel.IntType),
		cel.Variable("rule2_sigma_multiplier", cel.DoubleType),
		cel.Variable("rule2_min_amount", cel.DoubleType),
		cel.Variable("rule3_absolute_threshold", cel.DoubleType),
		cel.Variable("rule3_relative_multiplier", cel.DoubleType),
		cel.Variable("rule4_min_amount", cel.DoubleType),
		cel.Variable("rule4_relative_multiplier", cel.DoubleType),
		cel.Variable("rule5_start_hour", cel.IntType),
		cel.Variable("rule5_end_hour", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// compileExpression compiles a boolean rule expression.
func compileExpression(env *cel.Env, id domain.RuleID, expr string) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: failed to compile %s expression: %v", domain.ErrConfig, id.Tag(), issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: %s expression must return bool, got %s", domain.ErrConfig, id.Tag(), ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create program for %s: %v", domain.ErrConfig, id.Tag(), err)
	}
	return program, nil
}

// activation exposes tx and cfg under the variable names declared in newEnv.
func activation(tx *domain.EnrichedTransaction, cfg *domain.RuleConfig) map[string]any {
	return map[string]any{
		"user_id":       tx.UserID,
		"merchant_name": tx.MerchantName,
		"amount":        tx.AmountFloat(),

		"user_count":     int64(tx.Profile.Count),
		"user_mean":      tx.Profile.Mean,
		"user_std":       tx.Profile.Std,
		"user_min":       tx.Profile.Min,
		"user_max":       tx.Profile.Max,
		"user_p25":       tx.Profile.P25,
		"user_p50":       tx.Profile.P50,
		"user_p75":       tx.Profile.P75,
		"user_p95":       tx.Profile.P95,
		"user_daily_avg": tx.Profile.DailyAvg,

		"rolling_10min_count": int64(tx.Window.Count10m),
		"rolling_24h_count":   int64(tx.Window.Count24h),
		"rolling_24h_sum":     tx.Window.Sum24h.InexactFloat64(),

		"merchant_rank":              int64(tx.Merchant.Rank),
		"is_first_time_merchant":     tx.Merchant.FirstTime,
		"hour":                       int64(tx.Temporal.Hour),
		"day_of_week":                int64(tx.Temporal.DayOfWeek),
		"is_weekend":                 tx.Temporal.IsWeekend,
		"is_nocturnal":               tx.Temporal.IsNocturnal,
		"time_since_last_tx_seconds": tx.Temporal.SinceLastSeconds,

		"rule1_velocity_threshold":  int64(cfg.Rule1VelocityThreshold),
		"rule2_sigma_multiplier":    cfg.Rule2SigmaMultiplier,
		"rule2_min_amount":          cfg.Rule2MinAmount,
		"rule3_absolute_threshold":  cfg.Rule3AbsoluteThreshold,
		"rule3_relative_multiplier": cfg.Rule3RelativeMultiplier,
		"rule4_min_amount":          cfg.Rule4MinAmount,
		"rule4_relative_multiplier": cfg.Rule4RelativeMultiplier,
		"rule5_start_hour":          int64(cfg.Rule5StartHour),
		"rule5_end_hour":            int64(cfg.Rule5EndHour),
	}
}

// evalExpression runs a compiled program against tx.
func evalExpression(program cel.Program, id domain.RuleID, tx *domain.EnrichedTransaction, cfg *domain.RuleConfig) (bool, error) {
	out, _, err := program.Eval(activation(tx, cfg))
	if err != nil {
		return false, fmt.Errorf("%w: %s expression failed: %v", domain.ErrPrecondition, id.Tag(), err)
	}

	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("%w: %s expression returned %s", domain.ErrPrecondition, id.Tag(), out.Type())
	}
	return bool(b), nil
}
