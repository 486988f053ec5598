package rules

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

func newTestEngine(t *testing.T, cfg domain.RuleConfig) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, 4)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}

func TestNewEngineRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.RuleConfig)
	}{
		{"zero velocity", func(c *domain.RuleConfig) { c.Rule1VelocityThreshold = 0 }},
		{"hour out of range", func(c *domain.RuleConfig) { c.Rule5EndHour = 24 }},
		{"negative weight", func(c *domain.RuleConfig) { c.Rule3Weight = -1 }},
		{"all weights zero", func(c *domain.RuleConfig) {
			c.Rule1Weight, c.Rule2Weight, c.Rule3Weight, c.Rule4Weight, c.Rule5Weight = 0, 0, 0, 0, 0
		}},
		{"NaN weight", func(c *domain.RuleConfig) { c.Rule1Weight = math.NaN() }},
		{"infinite weight", func(c *domain.RuleConfig) { c.Rule2Weight = math.Inf(1) }},
		{"weight sum overflows", func(c *domain.RuleConfig) {
			c.Rule1Weight, c.Rule2Weight = math.MaxFloat64, math.MaxFloat64
		}},
		{"NaN threshold", func(c *domain.RuleConfig) { c.Rule2SigmaMultiplier = math.NaN() }},
		{"infinite threshold", func(c *domain.RuleConfig) { c.Rule4MinAmount = math.Inf(-1) }},
		{"unknown expression rule", func(c *domain.RuleConfig) { c.Expressions = map[int]string{7: "true"} }},
		{"expression does not compile", func(c *domain.RuleConfig) { c.Expressions = map[int]string{1: "amount >"} }},
		{"expression not boolean", func(c *domain.RuleConfig) { c.Expressions = map[int]string{2: "amount * 2.0"} }},
		{"unknown variable", func(c *domain.RuleConfig) { c.Expressions = map[int]string{3: "balance > 1.0"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.DefaultRuleConfig()
			tt.mutate(&cfg)
			_, err := NewEngine(cfg, 1)
			if !errors.Is(err, domain.ErrConfig) {
				t.Errorf("NewEngine() error = %v, want ErrConfig", err)
			}
		})
	}
}

func TestAggregate(t *testing.T) {
	cfg := domain.DefaultRuleConfig()

	tests := []struct {
		name      string
		triggered [domain.RuleCount]bool
		wantScore float64
		wantFlag  bool
	}{
		{"none", [5]bool{}, 0, false},
		{"one", [5]bool{true}, 20, true},
		{"two", [5]bool{false, true, false, true}, 40, true},
		{"all", [5]bool{true, true, true, true, true}, 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, flag := Aggregate(tt.triggered, &cfg)
			if score != tt.wantScore || flag != tt.wantFlag {
				t.Errorf("Aggregate() = (%v, %v), want (%v, %v)", score, flag, tt.wantScore, tt.wantFlag)
			}
		})
	}
}

func TestAggregateWeighted(t *testing.T) {
	cfg := domain.DefaultRuleConfig()
	cfg.Rule1Weight = 2
	cfg.Rule2Weight = 1
	cfg.Rule3Weight = 0
	cfg.Rule4Weight = 0
	cfg.Rule5Weight = 0

	score, flag := Aggregate([5]bool{false, true}, &cfg)
	if score != 33.33 || !flag {
		t.Errorf("Aggregate() = (%v, %v), want (33.33, true)", score, flag)
	}

	score, _ = Aggregate([5]bool{true}, &cfg)
	if score != 66.67 {
		t.Errorf("Aggregate() = %v, want 66.67", score)
	}

	// A zero-weight rule still flags the transaction.
	score, flag = Aggregate([5]bool{false, false, true}, &cfg)
	if score != 0 || !flag {
		t.Errorf("Aggregate(zero weight) = (%v, %v), want (0, true)", score, flag)
	}
}

func TestEvaluateAllRulesFire(t *testing.T) {
	e := newTestEngine(t, domain.DefaultRuleConfig())

	tx := enriched(9000, func(tx *domain.EnrichedTransaction) {
		tx.Profile = domain.UserProfile{Count: 20, Mean: 100, Std: 20, P75: 120, DailyAvg: 150}
		tx.Window.Count10m = 6
		tx.Window.Sum24h = decimal.NewFromInt(9500)
		tx.Merchant.FirstTime = true
		tx.Temporal.Hour = 3
	})

	out, err := e.Evaluate(tx)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if out.RiskScore != 100 || !out.FraudFlag {
		t.Errorf("Evaluate() = (%v, %v), want (100, true)", out.RiskScore, out.FraudFlag)
	}
	if got := len(out.TriggeredRules()); got != 5 {
		t.Errorf("len(TriggeredRules()) = %d, want 5", got)
	}
}

func TestEvaluateGuardsSuppressShortHistory(t *testing.T) {
	e := newTestEngine(t, domain.DefaultRuleConfig())

	tx := enriched(9000, func(tx *domain.EnrichedTransaction) {
		tx.Profile = domain.UserProfile{Count: 2, Mean: 100, Std: 0, P75: 100, DailyAvg: 100}
		tx.Merchant.FirstTime = true
		tx.Temporal.Hour = 3
	})

	out, err := e.Evaluate(tx)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	// Only the unguarded spending spike can fire.
	want := []domain.RuleID{domain.RuleSpendingSpike}
	if got := out.TriggeredRules(); len(got) != 1 || got[0] != want[0] {
		t.Errorf("TriggeredRules() = %v, want %v", got, want)
	}
}

// burst builds five transactions within five minutes, enriched the way the
// Feature Engine would for a fresh user.
func burst(amounts []float64) []domain.EnrichedTransaction {
	base := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

	var sum float64
	for _, a := range amounts {
		sum += a
	}
	mean := sum / float64(len(amounts))

	txs := make([]domain.EnrichedTransaction, len(amounts))
	running := decimal.Zero
	for i, a := range amounts {
		amt := decimal.NewFromFloat(a)
		running = running.Add(amt)
		txs[i] = domain.EnrichedTransaction{
			Transaction: domain.Transaction{
				UserID:       "u1",
				Timestamp:    base.Add(time.Duration(i) * time.Minute),
				MerchantName: "shop",
				Amount:       amt,
			},
			Profile: domain.UserProfile{Count: len(amounts), Mean: mean, Std: 219.14, P75: 10, DailyAvg: sum},
			Window: domain.WindowFeatures{
				Count10m: i + 1,
				Count24h: i + 1,
				Sum24h:   running,
			},
			Merchant: domain.MerchantFeatures{Rank: i + 1, FirstTime: i == 0},
			Temporal: domain.TemporalFeatures{Hour: 12},
		}
	}
	return txs
}

func TestScoreVelocityBurst(t *testing.T) {
	e := newTestEngine(t, domain.DefaultRuleConfig())

	txs := burst([]float64{10, 10, 10, 10, 500})
	if err := e.Score(context.Background(), txs); err != nil {
		t.Fatalf("Score() error = %v", err)
	}

	for i := 0; i < 4; i++ {
		if txs[i].Outcome.Fired(domain.RuleVelocity) {
			t.Errorf("tx %d: velocity fired with count %d", i, txs[i].Window.Count10m)
		}
	}

	last := txs[4].Outcome
	if !last.Fired(domain.RuleVelocity) {
		t.Error("5th tx: velocity did not fire")
	}
	// 500 is not strictly greater than the 500 minimum.
	if last.Fired(domain.RuleAmountAnomaly) {
		t.Error("5th tx: amount anomaly fired at the minimum amount")
	}
	if last.RiskScore < 20 || !last.FraudFlag {
		t.Errorf("5th tx: score = %v flag = %v", last.RiskScore, last.FraudFlag)
	}
}

func TestScoreParallelMatchesSerial(t *testing.T) {
	cfg := domain.DefaultRuleConfig()
	serial, err := NewEngine(cfg, 1)
	if err != nil {
		t.Fatal(err)
	}
	parallel, err := NewEngine(cfg, 8)
	if err != nil {
		t.Fatal(err)
	}

	build := func() []domain.EnrichedTransaction {
		txs := make([]domain.EnrichedTransaction, 3000)
		for i := range txs {
			txs[i] = *enriched(float64(i%900), func(tx *domain.EnrichedTransaction) {
				tx.Profile = domain.UserProfile{Count: i % 12, Mean: 200, Std: 30, P75: 250, DailyAvg: 40}
				tx.Window.Count10m = i % 7
				tx.Merchant.FirstTime = i%5 == 0
				tx.Temporal.Hour = i % 24
			})
		}
		return txs
	}

	a, b := build(), build()
	if err := serial.Score(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	if err := parallel.Score(context.Background(), b); err != nil {
		t.Fatal(err)
	}

	for i := range a {
		if a[i].Outcome != b[i].Outcome {
			t.Fatalf("tx %d: serial %+v, parallel %+v", i, a[i].Outcome, b[i].Outcome)
		}
	}
}

func TestExpressionOverridesMatchBuiltins(t *testing.T) {
	cfg := domain.DefaultRuleConfig()
	builtin := newTestEngine(t, cfg)

	cfg.Expressions = make(map[int]string, len(BuiltinExpressions))
	for id, expr := range BuiltinExpressions {
		cfg.Expressions[int(id)] = expr
	}
	overridden := newTestEngine(t, cfg)

	for i := 0; i < 500; i++ {
		tx := enriched(float64(i*17%6000), func(tx *domain.EnrichedTransaction) {
			tx.Profile = domain.UserProfile{Count: i % 9, Mean: float64(i % 400), Std: float64(i % 60), P75: 300, DailyAvg: float64(i%50 + 1)}
			tx.Window.Count10m = i % 8
			tx.Window.Sum24h = decimal.NewFromInt(int64(i * 13 % 7000))
			tx.Merchant.FirstTime = i%3 == 0
			tx.Temporal.Hour = i % 24
		})

		want, err := builtin.Evaluate(tx)
		if err != nil {
			t.Fatal(err)
		}
		got, err := overridden.Evaluate(tx)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("case %d: override %+v, builtin %+v", i, got, want)
		}
	}
}

func TestExpressionOverrideKeepsGuard(t *testing.T) {
	cfg := domain.DefaultRuleConfig()
	cfg.Expressions = map[int]string{int(domain.RuleNocturnal): "true"}
	e := newTestEngine(t, cfg)

	tx := enriched(10, withProfile(2, 10, 0, 10, 1000))
	out, err := e.Evaluate(tx)
	if err != nil {
		t.Fatal(err)
	}
	if out.Fired(domain.RuleNocturnal) {
		t.Error("override fired below the history guard")
	}

	tx.Profile.Count = 5
	out, err = e.Evaluate(tx)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Fired(domain.RuleNocturnal) {
		t.Error("override did not fire above the history guard")
	}
}

func TestConfigIsDetached(t *testing.T) {
	cfg := domain.DefaultRuleConfig()
	cfg.Expressions = map[int]string{1: "rolling_10min_count >= 2"}
	e := newTestEngine(t, cfg)

	cfg.Expressions[1] = "false"
	got := e.Config()
	if got.Expressions[1] != "rolling_10min_count >= 2" {
		t.Errorf("Config().Expressions[1] = %q, caller mutation leaked", got.Expressions[1])
	}

	exprs := e.Expressions()
	if exprs[domain.RuleVelocity] != "rolling_10min_count >= 2" {
		t.Errorf("Expressions() = %v", exprs)
	}
}

func BenchmarkScore(b *testing.B) {
	e, err := NewEngine(domain.DefaultRuleConfig(), 8)
	if err != nil {
		b.Fatal(err)
	}

	txs := make([]domain.EnrichedTransaction, 10000)
	for i := range txs {
		txs[i] = *enriched(float64(i%1000), withProfile(10, 200, 50, 250, 300))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := e.Score(context.Background(), txs); err != nil {
			b.Fatal(err)
		}
	}
}
