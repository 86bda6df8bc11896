package report

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"maskaudit/internal/models"
)

// Alignment of a rendered column
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// RenderTable renders headers and rows as a rounded console table. Rows
// shorter than headers are padded.
func RenderTable(headers []string, rows [][]string, aligns []Alignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == AlignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// RenderSheet renders a report sheet; numeric columns are right aligned
func RenderSheet(s Sheet) string {
	aligns := make([]Alignment, len(s.Headers))
	rows := make([][]string, len(s.Rows))
	for i, row := range s.Rows {
		rows[i] = make([]string, len(row))
		for j, v := range row {
			rows[i][j] = CellString(v)
			switch v.(type) {
			case int, float64:
				if j < len(aligns) {
					aligns[j] = AlignRight
				}
			}
		}
	}
	return RenderTable(s.Headers, rows, aligns)
}

// RenderSummary renders the run summary shown at the end of a run. Header
// cells are upper-cased by the table style, so the run id goes in a data row.
func RenderSummary(sum models.RunSummary) string {
	rows := [][]string{
		{"Run", sum.RunID},
		{"Started", formatTime(sum.StartedAt)},
		{"Finished", formatTime(sum.FinishedAt)},
		{"Elapsed", sum.ElapsedString()},
		{"Cases", fmt.Sprint(sum.Cases)},
		{"Mean per case", fmt.Sprintf("%.2fs", sum.MeanPerCase().Seconds())},
		{"Processed", fmt.Sprint(sum.Processed)},
		{"Mean case time", fmt.Sprintf("%.2fs", sum.MeanCaseTime().Seconds())},
		{"Load errors", fmt.Sprint(sum.Failures)},
		{"Skipped", fmt.Sprint(sum.Skipped)},
		{"Mismatches", fmt.Sprint(sum.Mismatches)},
		{"Patched cells", fmt.Sprint(sum.PatchedCells)},
	}
	return RenderTable([]string{"Run summary", ""}, rows, []Alignment{AlignLeft, AlignRight})
}

// RenderMismatches renders up to limit entries that do not match the
// reference. A limit of zero or less renders all of them.
func RenderMismatches(entries []models.ReconciliationEntry, limit int) string {
	var rows [][]string
	for _, e := range entries {
		if e.Match {
			continue
		}
		if limit > 0 && len(rows) == limit {
			break
		}
		rows = append(rows, []string{e.CaseID, e.MaskName, fmt.Sprint(e.PresenceInData), e.PresenceInReference.String()})
	}
	if len(rows) == 0 {
		return ""
	}
	return RenderTable([]string{"Case", "Mask", "Computed", "Reference"}, rows, []Alignment{AlignLeft, AlignLeft, AlignRight, AlignLeft})
}
