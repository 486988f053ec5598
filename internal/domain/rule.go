package domain

import (
	"strconv"
	"strings"
)

// RuleID identifies one of the five built-in fraud rules.
type RuleID int

const (
	RuleVelocity RuleID = iota + 1
	RuleAmountAnomaly
	RuleSpendingSpike
	RuleNewMerchant
	RuleNocturnal
)

// RuleCount is the number of built-in rules.
const RuleCount = 5

// AllRules lists the rule identifiers in evaluation and display order.
var AllRules = [RuleCount]RuleID{
	RuleVelocity,
	RuleAmountAnomaly,
	RuleSpendingSpike,
	RuleNewMerchant,
	RuleNocturnal,
}

var ruleNames = [RuleCount]string{
	"Velocity",
	"AmountAnomaly",
	"SpendingSpike",
	"NewMerchant",
	"Nocturnal",
}

var rulePhrases = [RuleCount]string{
	"Multiple transactions in 10 minutes",
	"Amount exceeds user pattern (>3 std dev)",
	"High spending in 24-hour period",
	"First-time merchant with high amount",
	"High-value transaction during 2am-6am",
}

// Valid reports whether id names a built-in rule.
func (id RuleID) Valid() bool {
	return id >= RuleVelocity && id <= RuleNocturnal
}

// Index returns the zero-based position of the rule.
func (id RuleID) Index() int {
	return int(id) - 1
}

// Name returns the short rule name, e.g. "Velocity".
func (id RuleID) Name() string {
	if !id.Valid() {
		return "Unknown"
	}
	return ruleNames[id.Index()]
}

// Tag returns the display identifier, e.g. "Rule1:Velocity".
func (id RuleID) Tag() string {
	if !id.Valid() {
		return "Unknown"
	}
	return "Rule" + strconv.Itoa(int(id)) + ":" + ruleNames[id.Index()]
}

// Phrase returns the human-readable explanation for the rule.
func (id RuleID) Phrase() string {
	if !id.Valid() {
		return ""
	}
	return rulePhrases[id.Index()]
}

func (id RuleID) String() string {
	return id.Tag()
}

// RuleOutcome is the Rule Engine output for one transaction.
type RuleOutcome struct {
	Triggered [RuleCount]bool `json:"triggered"`
	RiskScore float64         `json:"riskScore"`
	FraudFlag bool            `json:"fraudFlag"`
}

// Fired reports whether rule id triggered.
func (o *RuleOutcome) Fired(id RuleID) bool {
	if !id.Valid() {
		return false
	}
	return o.Triggered[id.Index()]
}

// TriggeredRules returns the fired rules in R1..R5 order.
func (o *RuleOutcome) TriggeredRules() []RuleID {
	var ids []RuleID
	for _, id := range AllRules {
		if o.Triggered[id.Index()] {
			ids = append(ids, id)
		}
	}
	return ids
}

// Tags returns the display tags of the fired rules.
func (o *RuleOutcome) Tags() []string {
	ids := o.TriggeredRules()
	tags := make([]string, len(ids))
	for i, id := range ids {
		tags[i] = id.Tag()
	}
	return tags
}

// Explanation joins the phrases of the fired rules for display.
func (o *RuleOutcome) Explanation() string {
	ids := o.TriggeredRules()
	phrases := make([]string, len(ids))
	for i, id := range ids {
		phrases[i] = id.Phrase()
	}
	return strings.Join(phrases, "; ")
}
