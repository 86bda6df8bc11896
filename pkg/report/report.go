// Package report turns the aggregated results of an audit run into tables:
// a multi-sheet workbook, optional Parquet files and console summaries all
// render the same Sheet values.
package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"maskaudit/internal/models"
)

// Sheet names, in workbook order
const (
	SheetVolumeComparison = "Volume Comparison"
	SheetMaskPresence     = "Mask Presence"
	SheetImageInfo        = "Image Info"
	SheetComparison       = "Mask Presence Comparison"
	SheetLoadErrors       = "Load Errors"
	SheetRunSummary       = "Run Summary"
)

// TimeLayout formats wall-clock times in the run summary
const TimeLayout = "2006-01-02 15:04:05"

// Data is everything a run reports. Collections are expected sorted by case
// id, then mask name.
type Data struct {
	Summary     models.RunSummary
	MaskNames   []string
	Volumes     []models.VolumeInfo
	Consistency []models.ConsistencyRecord
	Presence    []models.MaskPresenceRecord
	Entries     []models.ReconciliationEntry
	Failures    []models.CaseFailure
	Skipped     []string
}

// Sheet is one report table. Cells hold string, int, float64 or bool values.
type Sheet struct {
	Name    string
	Headers []string
	Rows    [][]any
}

// Sheets builds every report table in workbook order
func Sheets(d Data) []Sheet {
	return []Sheet{
		volumeComparison(d),
		maskPresence(d),
		imageInfo(d),
		comparison(d),
		LoadErrors(d),
		runSummary(d.Summary),
	}
}

func volumeComparison(d Data) Sheet {
	s := Sheet{Name: SheetVolumeComparison, Headers: []string{"case_id", "mask_name", "dimensions_match", "origin_match"}}
	for _, r := range d.Consistency {
		s.Rows = append(s.Rows, []any{r.CaseID, r.MaskName, r.DimsMatch, r.OriginMatch})
	}
	return s
}

func maskPresence(d Data) Sheet {
	s := Sheet{Name: SheetMaskPresence, Headers: append([]string{"case_id"}, d.MaskNames...)}
	for _, r := range d.Presence {
		row := []any{r.CaseID}
		for _, name := range d.MaskNames {
			row = append(row, r.Presence[name])
		}
		s.Rows = append(s.Rows, row)
	}
	return s
}

func imageInfo(d Data) Sheet {
	s := Sheet{Name: SheetImageInfo, Headers: []string{"case_id", "dimensions", "origin", "spacing"}}
	for _, v := range d.Volumes {
		s.Rows = append(s.Rows, []any{
			v.CaseID,
			FormatShape(v.Dimensions),
			FormatVector(v.Origin),
			FormatVector(v.Spacing),
		})
	}
	return s
}

func comparison(d Data) Sheet {
	s := Sheet{Name: SheetComparison, Headers: []string{"case_id", "mask_name", "presence_in_folder", "presence_in_excel", "match"}}
	for _, e := range d.Entries {
		s.Rows = append(s.Rows, []any{e.CaseID, e.MaskName, e.PresenceInData, ReferenceCell(e.PresenceInReference), e.Match})
	}
	return s
}

// LoadErrors builds the Load Errors sheet from the failures and skipped
// cases of d
func LoadErrors(d Data) Sheet {
	s := Sheet{Name: SheetLoadErrors, Headers: []string{"case_id", "mask_name", "error"}}
	for _, f := range d.Failures {
		msg := ""
		if f.Err != nil {
			msg = f.Err.Error()
		}
		s.Rows = append(s.Rows, []any{f.CaseID, f.MaskName, msg})
	}
	for _, id := range d.Skipped {
		s.Rows = append(s.Rows, []any{id, "", "skipped: run cancelled"})
	}
	return s
}

func runSummary(sum models.RunSummary) Sheet {
	return Sheet{
		Name:    SheetRunSummary,
		Headers: []string{"field", "value"},
		Rows: [][]any{
			{"run_id", sum.RunID},
			{"started", formatTime(sum.StartedAt)},
			{"finished", formatTime(sum.FinishedAt)},
			{"elapsed", sum.ElapsedString()},
			{"cases", sum.Cases},
			{"mean_seconds_per_case", roundSeconds(sum.MeanPerCase())},
			{"processed", sum.Processed},
			{"mean_case_seconds", roundSeconds(sum.MeanCaseTime())},
			{"load_errors", sum.Failures},
			{"skipped", sum.Skipped},
			{"mismatches", sum.Mismatches},
			{"patched_cells", sum.PatchedCells},
		},
	}
}

// ReferenceCell returns the report value of a reference lookup: the number
// for numeric values, its text otherwise.
func ReferenceCell(l models.RefLookup) any {
	if l.Status == models.Found && l.Value.Kind == models.RefNumeric {
		if l.Value.Value == float64(int(l.Value.Value)) {
			return int(l.Value.Value)
		}
		return l.Value.Value
	}
	return l.String()
}

// FormatShape renders dimensions as "(x, y, z)"
func FormatShape(shape [3]int) string {
	return fmt.Sprintf("(%d, %d, %d)", shape[0], shape[1], shape[2])
}

// FormatVector renders a 3-vector as "[x y z]"
func FormatVector(v [3]float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(x, 'g', 6, 64)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// CellString renders a sheet cell as text
func CellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(TimeLayout)
}

func roundSeconds(d time.Duration) float64 {
	s, _ := strconv.ParseFloat(strconv.FormatFloat(d.Seconds(), 'f', 2, 64), 64)
	return s
}
