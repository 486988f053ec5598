// Package ingest loads transaction ledgers from CSV and normalises them for
// the Feature Engine.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

// Required column names.
const (
	ColUserID       = "user_id"
	ColTimestamp    = "timestamp"
	ColMerchantName = "merchant_name"
	ColAmount       = "amount"
)

var requiredColumns = []string{ColUserID, ColTimestamp, ColMerchantName, ColAmount}

// Accepted timestamp layouts, tried in order. Layouts without a zone are
// interpreted in Options.Location.
var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Options configures a load.
type Options struct {
	// Location for naive timestamps. Nil means UTC.
	Location *time.Location
}

// LoadReport counts what happened to the input rows.
type LoadReport struct {
	Rows         int `json:"rows"`
	Loaded       int `json:"loaded"`
	MissingField int `json:"missingField"`
	BadTimestamp int `json:"badTimestamp"`
	BadAmount    int `json:"badAmount"`
	NonPositive  int `json:"nonPositive"`
}

// Dropped returns the number of rows discarded.
func (r *LoadReport) Dropped() int {
	return r.MissingField + r.BadTimestamp + r.BadAmount + r.NonPositive
}

// LoadFile opens path and loads it.
func LoadFile(path string, opts Options) ([]domain.Transaction, *LoadReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return Load(f, opts)
}

// Load parses a CSV ledger. Rows with missing or invalid fields are dropped
// and counted; the result is stably sorted by (user_id, timestamp).
func Load(r io.Reader, opts Options) ([]domain.Transaction, *LoadReport, error) {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("%w: no header row", domain.ErrEmptyInput)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to read header: %v", domain.ErrSchema, err)
	}

	idx, err := columnIndex(header)
	if err != nil {
		return nil, nil, err
	}

	report := &LoadReport{}
	var txs []domain.Transaction

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: line %d: %v", domain.ErrSchema, report.Rows+2, err)
		}
		report.Rows++

		tx, ok := parseRow(record, idx, loc, report)
		if ok {
			txs = append(txs, tx)
		}
	}

	if report.Rows == 0 {
		return nil, report, fmt.Errorf("%w: no data rows", domain.ErrEmptyInput)
	}
	if len(txs) == 0 {
		return nil, report, fmt.Errorf("%w: all %d rows dropped", domain.ErrEmptyInput, report.Rows)
	}

	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].UserID != txs[j].UserID {
			return txs[i].UserID < txs[j].UserID
		}
		return txs[i].Timestamp.Before(txs[j].Timestamp)
	})

	report.Loaded = len(txs)
	if report.Dropped() > 0 {
		slog.Warn("dropped invalid rows",
			"rows", report.Rows,
			"missing_field", report.MissingField,
			"bad_timestamp", report.BadTimestamp,
			"bad_amount", report.BadAmount,
			"non_positive", report.NonPositive,
		)
	}

	return txs, report, nil
}

// columnIndex maps required column names to positions in header.
func columnIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, dup := idx[name]; !dup {
			idx[name] = i
		}
	}

	var missing []string
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing columns %s", domain.ErrSchema, strings.Join(missing, ", "))
	}
	return idx, nil
}

func parseRow(record []string, idx map[string]int, loc *time.Location, report *LoadReport) (domain.Transaction, bool) {
	field := func(col string) string {
		i := idx[col]
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	userID := field(ColUserID)
	rawTS := field(ColTimestamp)
	merchant := strings.ToLower(field(ColMerchantName))
	rawAmount := field(ColAmount)

	if userID == "" || rawTS == "" || merchant == "" || rawAmount == "" {
		report.MissingField++
		return domain.Transaction{}, false
	}

	ts, err := ParseTimestamp(rawTS, loc)
	if err != nil {
		report.BadTimestamp++
		return domain.Transaction{}, false
	}

	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		report.BadAmount++
		return domain.Transaction{}, false
	}
	if !amount.IsPositive() {
		report.NonPositive++
		return domain.Transaction{}, false
	}

	return domain.Transaction{
		UserID:       userID,
		Timestamp:    ts,
		MerchantName: merchant,
		Amount:       amount,
	}, true
}

// ParseTimestamp parses s using the accepted layouts.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
