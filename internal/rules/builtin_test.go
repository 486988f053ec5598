package rules

import (
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

func enriched(amount float64, mutate func(tx *domain.EnrichedTransaction)) *domain.EnrichedTransaction {
	tx := &domain.EnrichedTransaction{
		Transaction: domain.Transaction{
			UserID:       "u1",
			Timestamp:    time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC),
			MerchantName: "grocer",
			Amount:       decimal.NewFromFloat(amount),
		},
	}
	tx.Temporal.Hour = 12
	tx.Window.Count10m = 1
	tx.Window.Count24h = 1
	tx.Window.Sum24h = tx.Amount
	if mutate != nil {
		mutate(tx)
	}
	return tx
}

func withProfile(count int, mean, std, p75, dailyAvg float64) func(*domain.EnrichedTransaction) {
	return func(tx *domain.EnrichedTransaction) {
		tx.Profile = domain.UserProfile{
			Count:    count,
			Mean:     mean,
			Std:      std,
			P75:      p75,
			DailyAvg: dailyAvg,
		}
	}
}

func TestVelocity(t *testing.T) {
	cfg := domain.DefaultRuleConfig()

	tests := []struct {
		count int
		want  bool
	}{
		{1, false},
		{4, false},
		{5, true},
		{9, true},
	}

	for _, tt := range tests {
		tx := enriched(10, func(tx *domain.EnrichedTransaction) { tx.Window.Count10m = tt.count })
		if got := Velocity(tx, &cfg); got != tt.want {
			t.Errorf("Velocity(count=%d) = %v, want %v", tt.count, got, tt.want)
		}
	}
}

func TestAmountAnomaly(t *testing.T) {
	cfg := domain.DefaultRuleConfig()

	tests := []struct {
		name   string
		amount float64
		mean   float64
		std    float64
		want   bool
	}{
		{"far above pattern", 2000, 100, 50, true},
		{"within three sigma", 240, 100, 50, false},
		{"above sigma but below min amount", 450, 10, 5, false},
		{"exactly min amount", 500, 10, 5, false},
		{"zero std", 600, 100, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := enriched(tt.amount, withProfile(10, tt.mean, tt.std, 0, 0))
			if got := AmountAnomaly(tx, &cfg); got != tt.want {
				t.Errorf("AmountAnomaly() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSpendingSpike(t *testing.T) {
	cfg := domain.DefaultRuleConfig()

	tests := []struct {
		name     string
		sum      string
		dailyAvg float64
		want     bool
	}{
		{"absolute threshold", "5000.01", 10000, true},
		{"exactly absolute threshold", "5000", 10000, false},
		{"relative to daily average", "1001", 100, true},
		{"normal day", "300", 100, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := enriched(10, func(tx *domain.EnrichedTransaction) {
				tx.Window.Sum24h = decimal.RequireFromString(tt.sum)
				tx.Profile.DailyAvg = tt.dailyAvg
			})
			if got := SpendingSpike(tx, &cfg); got != tt.want {
				t.Errorf("SpendingSpike() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewMerchant(t *testing.T) {
	cfg := domain.DefaultRuleConfig()

	tests := []struct {
		name      string
		firstTime bool
		amount    float64
		mean      float64
		want      bool
	}{
		{"first time large", true, 800, 100, true},
		{"repeat merchant", false, 800, 100, false},
		{"below min amount", true, 250, 10, false},
		{"not relative to mean", true, 400, 300, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := enriched(tt.amount, func(tx *domain.EnrichedTransaction) {
				tx.Merchant.FirstTime = tt.firstTime
				tx.Profile.Mean = tt.mean
			})
			if got := NewMerchant(tx, &cfg); got != tt.want {
				t.Errorf("NewMerchant() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNocturnal(t *testing.T) {
	cfg := domain.DefaultRuleConfig()

	tests := []struct {
		hour int
		want bool
	}{
		{1, false},
		{2, true},
		{3, true},
		{6, true},
		{7, false},
		{10, false},
	}

	for _, tt := range tests {
		tx := enriched(200, func(tx *domain.EnrichedTransaction) {
			tx.Temporal.Hour = tt.hour
			tx.Profile.P75 = 100
		})
		if got := Nocturnal(tx, &cfg); got != tt.want {
			t.Errorf("Nocturnal(hour=%d) = %v, want %v", tt.hour, got, tt.want)
		}
	}

	tx := enriched(50, func(tx *domain.EnrichedTransaction) {
		tx.Temporal.Hour = 3
		tx.Profile.P75 = 100
	})
	if Nocturnal(tx, &cfg) {
		t.Error("Nocturnal() fired for an amount below p75")
	}
}

func TestRuleGuards(t *testing.T) {
	rules := BuiltinRules()

	tests := []struct {
		id    domain.RuleID
		count int
		want  bool
	}{
		{domain.RuleVelocity, 1, true},
		{domain.RuleAmountAnomaly, 4, false},
		{domain.RuleAmountAnomaly, 5, true},
		{domain.RuleSpendingSpike, 1, true},
		{domain.RuleNewMerchant, 2, false},
		{domain.RuleNewMerchant, 3, true},
		{domain.RuleNocturnal, 4, false},
		{domain.RuleNocturnal, 5, true},
	}

	for _, tt := range tests {
		tx := enriched(10, withProfile(tt.count, 10, 0, 10, 10))
		rule := rules[tt.id.Index()]
		if rule.ID != tt.id {
			t.Fatalf("BuiltinRules()[%d].ID = %v, want %v", tt.id.Index(), rule.ID, tt.id)
		}
		if got := rule.Guarded(tx); got != tt.want {
			t.Errorf("%s Guarded(count=%d) = %v, want %v", tt.id.Tag(), tt.count, got, tt.want)
		}
	}
}

func TestRuleTriggeredAppliesGuard(t *testing.T) {
	cfg := domain.DefaultRuleConfig()
	rule := BuiltinRules()[domain.RuleAmountAnomaly.Index()]

	short := enriched(1000, withProfile(4, 10, 0, 10, 10))
	if !rule.Condition(short, &cfg) {
		t.Fatal("condition should hold for a 1000 spend against a mean of 10")
	}
	if rule.Triggered(short, &cfg) {
		t.Error("Triggered() = true with a history of 4, want false")
	}

	enough := enriched(1000, withProfile(5, 10, 0, 10, 10))
	if !rule.Triggered(enough, &cfg) {
		t.Error("Triggered() = false with a history of 5, want true")
	}
}
