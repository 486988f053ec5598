package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a single ledger row as produced by ingestion.
// Its fields are never modified after creation.
type Transaction struct {
	UserID       string          `json:"userId"`
	Timestamp    time.Time       `json:"timestamp"`
	MerchantName string          `json:"merchantName"`
	Amount       decimal.Decimal `json:"amount"`
}

// UserProfile holds per-user amount statistics.
type UserProfile struct {
	Count    int     `json:"count"`
	Mean     float64 `json:"mean"`
	Std      float64 `json:"std"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	P25      float64 `json:"p25"`
	P50      float64 `json:"p50"`
	P75      float64 `json:"p75"`
	P95      float64 `json:"p95"`
	DailyAvg float64 `json:"dailyAvg"`
}

// WindowFeatures are the causal rolling-window aggregates for one transaction.
// The Prior fields cover the user's transactions in [t-w, t); the reported
// fields add the current transaction back in.
type WindowFeatures struct {
	Count10mPrior int             `json:"count10mPrior"`
	Count24hPrior int             `json:"count24hPrior"`
	Sum24hPrior   decimal.Decimal `json:"sum24hPrior"`

	Count10m int             `json:"count10m"`
	Count24h int             `json:"count24h"`
	Sum24h   decimal.Decimal `json:"sum24h"`
}

// MerchantFeatures describe how often the user has paid this merchant before.
type MerchantFeatures struct {
	Rank      int  `json:"rank"`
	FirstTime bool `json:"firstTime"`
}

// TemporalFeatures are derived from the transaction timestamp.
type TemporalFeatures struct {
	Hour             int     `json:"hour"`
	DayOfWeek        int     `json:"dayOfWeek"` // Monday = 0
	IsWeekend        bool    `json:"isWeekend"`
	IsNocturnal      bool    `json:"isNocturnal"`
	SinceLastSeconds float64 `json:"sinceLastSeconds"`
}

// EnrichedTransaction is a Transaction plus every derived feature and the
// rule outcome. Enrichment only appends; the embedded Transaction is a copy.
type EnrichedTransaction struct {
	Transaction

	Profile  UserProfile      `json:"profile"`
	Window   WindowFeatures   `json:"window"`
	Merchant MerchantFeatures `json:"merchant"`
	Temporal TemporalFeatures `json:"temporal"`

	Outcome RuleOutcome `json:"outcome"`
}

// AmountFloat returns the amount as a float64 for statistical comparisons.
func (t *Transaction) AmountFloat() float64 {
	return t.Amount.InexactFloat64()
}
