// Package report renders scored transactions as CSV, JSON and console tables.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// TimestampLayout is used for timestamps in CSV output.
const TimestampLayout = "2006-01-02 15:04:05"

// Columns is the CSV header.
var Columns = []string{
	"user_id",
	"timestamp",
	"merchant_name",
	"amount",
	"risk_score",
	"triggered_rules",
	"explanation",
}

// Row is the display form of a scored transaction.
type Row struct {
	UserID         string   `json:"userId"`
	Timestamp      string   `json:"timestamp"`
	MerchantName   string   `json:"merchantName"`
	Amount         string   `json:"amount"`
	RiskScore      float64  `json:"riskScore"`
	FraudFlag      bool     `json:"fraudFlag"`
	TriggeredRules []string `json:"triggeredRules"`
	Explanation    string   `json:"explanation"`
}

// Display converts a scored transaction to its display form.
func Display(tx *domain.EnrichedTransaction) Row {
	return Row{
		UserID:         tx.UserID,
		Timestamp:      tx.Timestamp.Format(TimestampLayout),
		MerchantName:   tx.MerchantName,
		Amount:         tx.Amount.String(),
		RiskScore:      tx.Outcome.RiskScore,
		FraudFlag:      tx.Outcome.FraudFlag,
		TriggeredRules: tx.Outcome.Tags(),
		Explanation:    tx.Outcome.Explanation(),
	}
}

// Select returns display rows for flagged transactions, or for all of them
// when includeAll is set. Input order is preserved.
func Select(txs []domain.EnrichedTransaction, includeAll bool) []Row {
	rows := make([]Row, 0, len(txs))
	for i := range txs {
		if includeAll || txs[i].Outcome.FraudFlag {
			rows = append(rows, Display(&txs[i]))
		}
	}
	return rows
}

// SortByRisk orders rows by descending risk score. Ties keep their order.
func SortByRisk(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].RiskScore > rows[j].RiskScore
	})
}

// WriteCSV writes rows with the Columns header.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	record := make([]string, len(Columns))
	for _, r := range rows {
		record[0] = r.UserID
		record[1] = r.Timestamp
		record[2] = r.MerchantName
		record[3] = r.Amount
		record[4] = strconv.FormatFloat(r.RiskScore, 'f', 2, 64)
		record[5] = strings.Join(r.TriggeredRules, ",")
		record[6] = r.Explanation
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

// Document is the JSON report layout.
type Document struct {
	RunID    string                `json:"runId"`
	Mode     domain.ProfileMode    `json:"mode"`
	Stats    domain.DetectionStats `json:"stats"`
	Metadata domain.ScanMetadata   `json:"metadata"`
	Rows     []Row                 `json:"rows"`
}

// NewDocument builds the JSON report of a scan.
func NewDocument(result *domain.ScanResult, includeAll bool) *Document {
	rows := Select(result.Transactions, includeAll)
	SortByRisk(rows)
	return &Document{
		RunID:    result.RunID,
		Mode:     result.Mode,
		Stats:    result.Stats,
		Metadata: result.Metadata,
		Rows:     rows,
	}
}

// WriteJSON writes doc as indented JSON.
func WriteJSON(w io.Writer, doc *Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}
