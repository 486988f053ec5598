package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// WriteSummary prints detection statistics as two console tables.
func WriteSummary(w io.Writer, stats domain.DetectionStats) {
	overview := tablewriter.NewWriter(w)
	overview.SetHeader([]string{"Metric", "Value"})
	overview.SetAlignment(tablewriter.ALIGN_LEFT)
	overview.Append([]string{"Total transactions", strconv.Itoa(stats.TotalTransactions)})
	overview.Append([]string{"Flagged transactions", strconv.Itoa(stats.FlaggedTransactions)})
	overview.Append([]string{"Flagged percentage", fmt.Sprintf("%.2f%%", stats.FlaggedPercentage)})
	overview.Append([]string{"Average risk score (flagged)", fmt.Sprintf("%.2f", stats.AvgRiskScore)})
	overview.Append([]string{"Max risk score", fmt.Sprintf("%.2f", stats.MaxRiskScore)})
	overview.Render()

	fmt.Fprintln(w)

	triggers := tablewriter.NewWriter(w)
	triggers.SetHeader([]string{"Rule", "Description", "Triggers"})
	triggers.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, id := range domain.AllRules {
		triggers.Append([]string{id.Tag(), id.Phrase(), strconv.Itoa(stats.Triggers(id))})
	}
	triggers.Render()
}

// WriteTop prints the n highest-risk rows. Rows must already be sorted.
func WriteTop(w io.Writer, rows []Row, n int) {
	if n > len(rows) {
		n = len(rows)
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"User", "Timestamp", "Merchant", "Amount", "Risk", "Explanation"})
	table.SetAutoWrapText(false)
	for _, r := range rows[:n] {
		table.Append([]string{
			r.UserID,
			r.Timestamp,
			r.MerchantName,
			r.Amount,
			fmt.Sprintf("%.2f", r.RiskScore),
			r.Explanation,
		})
	}
	table.Render()
}
