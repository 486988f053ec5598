// Package rules evaluates the five fraud rules against enriched transactions
// and aggregates them into a normalised risk score.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine is the Rule Engine. It is immutable after construction and safe
// for concurrent use.
type Engine struct {
	cfg        domain.RuleConfig
	rules      [domain.RuleCount]Rule
	programs   [domain.RuleCount]cel.Program // nil unless overridden
	maxWorkers int
}

// NewEngine validates cfg and compiles any expression overrides.
func NewEngine(cfg domain.RuleConfig, maxWorkers int) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	e := &Engine{
		cfg:        cfg,
		rules:      BuiltinRules(),
		maxWorkers: maxWorkers,
	}

	if len(cfg.Expressions) > 0 {
		env, err := newEnv()
		if err != nil {
			return nil, err
		}
		for n, expr := range cfg.Expressions {
			id := domain.RuleID(n)
			program, err := compileExpression(env, id, expr)
			if err != nil {
				return nil, err
			}
			e.programs[id.Index()] = program
		}
	}

	// Detach the map so later edits by the caller cannot reach the engine.
	e.cfg.Expressions = copyExpressions(cfg.Expressions)

	return e, nil
}

// Config returns the configuration in use.
func (e *Engine) Config() domain.RuleConfig {
	cfg := e.cfg
	cfg.Expressions = copyExpressions(e.cfg.Expressions)
	return cfg
}

// Evaluate computes the rule outcome of one transaction without modifying it.
func (e *Engine) Evaluate(tx *domain.EnrichedTransaction) (domain.RuleOutcome, error) {
	var out domain.RuleOutcome

	for i := range e.rules {
		rule := &e.rules[i]
		program := e.programs[i]
		if program == nil {
			out.Triggered[i] = rule.Triggered(tx, &e.cfg)
			continue
		}

		if !rule.Guarded(tx) {
			continue
		}
		fired, err := evalExpression(program, rule.ID, tx, &e.cfg)
		if err != nil {
			return domain.RuleOutcome{}, err
		}
		out.Triggered[i] = fired
	}

	out.RiskScore, out.FraudFlag = Aggregate(out.Triggered, &e.cfg)
	return out, nil
}

// Score fills the Outcome of every transaction. Transactions are split into
// contiguous chunks evaluated in parallel; only Outcome fields are written.
func (e *Engine) Score(ctx context.Context, txs []domain.EnrichedTransaction) error {
	start := time.Now()

	chunk := (len(txs) + e.maxWorkers - 1) / e.maxWorkers
	if chunk < 256 {
		chunk = 256
	}

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	for lo := 0; lo < len(txs); lo += chunk {
		hi := min(lo+chunk, len(txs))

		wg.Add(1)
		go func(part []domain.EnrichedTransaction) {
			defer wg.Done()

			for i := range part {
				outcome, err := e.Evaluate(&part[i])
				if err != nil {
					errOnce.Do(func() { firstErr = err })
					return
				}
				part[i].Outcome = outcome
			}
		}(txs[lo:hi])
	}

	wg.Wait()

	if firstErr != nil {
		return firstErr
	}

	slog.InfoContext(ctx, "rule evaluation complete",
		"transactions", len(txs),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Aggregate converts rule triggers into a risk score in [0, 100] and a fraud
// flag. The score is normalised by the sum of all five weights and rounded
// half-to-even at two decimals.
func Aggregate(triggered [domain.RuleCount]bool, cfg *domain.RuleConfig) (float64, bool) {
	var weighted float64
	var flag bool
	for _, id := range domain.AllRules {
		if triggered[id.Index()] {
			weighted += cfg.Weight(id)
			flag = true
		}
	}

	total := cfg.TotalWeight()
	if total <= 0 {
		// Validate rejects this; keep the score defined anyway.
		return 0, flag
	}

	score := weighted / total * 100
	return math.RoundToEven(score*100) / 100, flag
}

// Expressions returns the configured overrides keyed by rule.
func (e *Engine) Expressions() map[domain.RuleID]string {
	out := make(map[domain.RuleID]string, len(e.cfg.Expressions))
	for n, expr := range e.cfg.Expressions {
		out[domain.RuleID(n)] = expr
	}
	return out
}

func copyExpressions(in map[int]string) map[int]string {
	if in == nil {
		return nil
	}
	out := make(map[int]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// String describes the engine for logs.
func (e *Engine) String() string {
	return fmt.Sprintf("rules.Engine{overrides: %d, workers: %d}", len(e.cfg.Expressions), e.maxWorkers)
}
