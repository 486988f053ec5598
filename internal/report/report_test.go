package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

func scored(user string, minute int, amount string, score float64, triggered ...domain.RuleID) domain.EnrichedTransaction {
	tx := domain.EnrichedTransaction{
		Transaction: domain.Transaction{
			UserID:       user,
			Timestamp:    time.Date(2024, 5, 1, 3, minute, 0, 0, time.UTC),
			MerchantName: "shop",
			Amount:       decimal.RequireFromString(amount),
		},
	}
	for _, id := range triggered {
		tx.Outcome.Triggered[id.Index()] = true
	}
	tx.Outcome.RiskScore = score
	tx.Outcome.FraudFlag = len(triggered) > 0
	return tx
}

func sample() []domain.EnrichedTransaction {
	return []domain.EnrichedTransaction{
		scored("u1", 0, "10", 0),
		scored("u1", 1, "900.5", 40, domain.RuleAmountAnomaly, domain.RuleNocturnal),
		scored("u2", 2, "12", 20, domain.RuleVelocity),
		scored("u2", 3, "7000", 40, domain.RuleSpendingSpike, domain.RuleNewMerchant),
	}
}

func TestSelect(t *testing.T) {
	txs := sample()

	flagged := Select(txs, false)
	if len(flagged) != 3 {
		t.Fatalf("len(Select(false)) = %d, want 3", len(flagged))
	}
	if flagged[0].Amount != "900.5" || flagged[2].Amount != "7000" {
		t.Errorf("Select() did not keep input order: %+v", flagged)
	}

	all := Select(txs, true)
	if len(all) != 4 {
		t.Fatalf("len(Select(true)) = %d, want 4", len(all))
	}
	if all[0].TriggeredRules == nil || len(all[0].TriggeredRules) != 0 {
		t.Errorf("unflagged row TriggeredRules = %#v, want empty slice", all[0].TriggeredRules)
	}
}

func TestSortByRisk(t *testing.T) {
	rows := Select(sample(), true)
	SortByRisk(rows)

	want := []string{"900.5", "7000", "12", "10"}
	for i, amount := range want {
		if rows[i].Amount != amount {
			t.Errorf("rows[%d].Amount = %s, want %s", i, rows[i].Amount, amount)
		}
	}
}

func TestDisplay(t *testing.T) {
	tx := sample()[1]
	row := Display(&tx)

	if row.Timestamp != "2024-05-01 03:01:00" {
		t.Errorf("Timestamp = %q", row.Timestamp)
	}
	if got := strings.Join(row.TriggeredRules, ","); got != "Rule2:AmountAnomaly,Rule5:Nocturnal" {
		t.Errorf("TriggeredRules = %q", got)
	}
	if row.Explanation != "Amount exceeds user pattern (>3 std dev); High-value transaction during 2am-6am" {
		t.Errorf("Explanation = %q", row.Explanation)
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, Select(sample(), false)); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("output is not valid csv: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("len(records) = %d, want 4", len(records))
	}
	if strings.Join(records[0], ",") != strings.Join(Columns, ",") {
		t.Errorf("header = %v", records[0])
	}

	want := []string{
		"u2", "2024-05-01 03:03:00", "shop", "7000", "40.00",
		"Rule3:SpendingSpike,Rule4:NewMerchant",
		"High spending in 24-hour period; First-time merchant with high amount",
	}
	got := records[3]
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("records[3][%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestWriteCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, nil); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(buf.String()); got != strings.Join(Columns, ",") {
		t.Errorf("WriteCSV(nil) = %q, want header only", got)
	}
}

func TestWriteJSON(t *testing.T) {
	result := &domain.ScanResult{
		RunID:        "run-1",
		Mode:         domain.ProfileGlobal,
		Transactions: sample(),
		Stats:        domain.DetectionStats{TotalTransactions: 4, FlaggedTransactions: 3},
	}

	var buf bytes.Buffer
	if err := WriteJSON(&buf, NewDocument(result, false)); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	var doc Document
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if doc.RunID != "run-1" || len(doc.Rows) != 3 || doc.Rows[0].RiskScore != 40 {
		t.Errorf("doc = %+v", doc)
	}
}

func TestWriteSummary(t *testing.T) {
	stats := domain.DetectionStats{
		TotalTransactions:   4,
		FlaggedTransactions: 3,
		FlaggedPercentage:   75,
		RuleTriggers:        [domain.RuleCount]int{1, 1, 1, 1, 1},
		AvgRiskScore:        33.33,
		MaxRiskScore:        40,
	}

	var buf bytes.Buffer
	WriteSummary(&buf, stats)
	out := buf.String()

	for _, want := range []string{"75.00%", "33.33", "Rule1:Velocity", "Rule5:Nocturnal"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestWriteTop(t *testing.T) {
	rows := Select(sample(), false)
	SortByRisk(rows)

	var buf bytes.Buffer
	WriteTop(&buf, rows, 10)
	if !strings.Contains(buf.String(), "900.5") {
		t.Errorf("top table missing row:\n%s", buf.String())
	}
}
