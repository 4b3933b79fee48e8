// Package report renders run results for people: console tables and CSV.
package report

import (
	"fmt"
	"io"
	"os"

	"github.com/gocarina/gocsv"
	"github.com/olekukonko/tablewriter"

	"github.com/eddiefleurent/putspread_sentinel/internal/models"
)

// CandidatesTable prints the ranked candidate list.
func CandidatesTable(w io.Writer, cands []models.SpreadCandidate) {
	if len(cands) == 0 {
		fmt.Fprintln(w, "No spread candidates.")
		return
	}
	table := tablewriter.NewWriter(w)
	table.Header("#", "Expiration", "DTE", "Short", "Long", "Width", "Credit", "Delta", "Max loss")
	for i, c := range cands {
		_ = table.Append(
			fmt.Sprintf("%d", i+1),
			c.ExpirationDate,
			fmt.Sprintf("%d", c.DTE),
			models.FormatStrike(c.ShortStrike),
			models.FormatStrike(c.LongStrike),
			models.FormatStrike(c.Width),
			fmt.Sprintf("$%.2f", c.Credit),
			fmt.Sprintf("%.3f", c.ShortDelta),
			fmt.Sprintf("$%.2f", c.MaxLoss()),
		)
	}
	_ = table.Render()
}

// EvaluationsTable prints one row per evaluated position.
func EvaluationsTable(w io.Writer, evals []models.PositionEvaluation) {
	if len(evals) == 0 {
		fmt.Fprintln(w, "No positions evaluated.")
		return
	}
	table := tablewriter.NewWriter(w)
	table.Header("Position", "DTE", "Entry", "Value", "P&L %", "Short delta", "Alert")
	for _, e := range evals {
		delta := "-"
		if e.CurrentDelta != nil {
			delta = fmt.Sprintf("%.3f", *e.CurrentDelta)
		}
		_ = table.Append(
			e.Position.Label(),
			fmt.Sprintf("%d", e.DTE),
			fmt.Sprintf("$%.2f", e.Position.EntryPrice),
			fmt.Sprintf("$%.2f", e.CurrentValue),
			fmt.Sprintf("%.2f", e.PnLPercent),
			delta,
			e.Alert.String(),
		)
	}
	_ = table.Render()
}

// WriteCandidatesCSV writes cands with a header row.
func WriteCandidatesCSV(w io.Writer, cands []models.SpreadCandidate) error {
	if cands == nil {
		cands = []models.SpreadCandidate{}
	}
	if err := gocsv.Marshal(&cands, w); err != nil {
		return fmt.Errorf("writing candidates csv: %w", err)
	}
	return nil
}

// ExportCandidatesCSV writes cands to a new file at path.
func ExportCandidatesCSV(path string, cands []models.SpreadCandidate) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := WriteCandidatesCSV(f, cands); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
