package reference

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// HighlightColor fills patched cells for review
const HighlightColor = "FFFF00"

// Load reads the active sheet of an .xlsx workbook. Row 1 supplies the
// headers. Raw cell values are used so number formats do not leak into
// normalization.
func Load(path string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	if sheet == "" {
		return nil, errors.New("workbook has no sheets")
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q has no header row", sheet)
	}

	table := &Table{Sheet: sheet, Headers: rows[0]}
	for i, cells := range rows[1:] {
		table.Rows = append(table.Rows, Row{Number: i + 2, Cells: cells})
	}
	return table, nil
}

// PatchedPath returns the default output path for a patched copy of src:
// the same directory and stem with suffix appended.
func PatchedPath(src, dir, suffix string) string {
	base := filepath.Base(src)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if dir == "" {
		dir = filepath.Dir(src)
	}
	return filepath.Join(dir, stem+suffix+ext)
}

// SavePatched writes a copy of the workbook at src to dst with every changed
// cell set to its new value and highlighted. Other formatting of a changed
// cell is kept; unchanged cells are not touched. src is never written.
func SavePatched(src, dst string, patched Patched) error {
	if sameFile(src, dst) {
		return fmt.Errorf("refusing to overwrite the reference workbook %s", src)
	}

	f, err := excelize.OpenFile(src)
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := patched.Table.Sheet
	if sheet == "" {
		sheet = f.GetSheetName(f.GetActiveSheetIndex())
	}

	highlighted := make(map[int]int)
	for _, change := range patched.Changes {
		cell, err := excelize.CoordinatesToCellName(change.Column+1, change.SheetRow)
		if err != nil {
			return fmt.Errorf("locate cell for case %s mask %s: %w", change.CaseID, change.MaskName, err)
		}
		if err := f.SetCellValue(sheet, cell, change.New); err != nil {
			return fmt.Errorf("set %s: %w", cell, err)
		}

		styleID, err := f.GetCellStyle(sheet, cell)
		if err != nil {
			return fmt.Errorf("read style of %s: %w", cell, err)
		}
		newID, ok := highlighted[styleID]
		if !ok {
			newID, err = highlightStyle(f, styleID)
			if err != nil {
				return fmt.Errorf("highlight %s: %w", cell, err)
			}
			highlighted[styleID] = newID
		}
		if err := f.SetCellStyle(sheet, cell, cell, newID); err != nil {
			return fmt.Errorf("style %s: %w", cell, err)
		}
	}

	if err := f.SaveAs(dst); err != nil {
		return fmt.Errorf("save patched workbook: %w", err)
	}
	return nil
}

// highlightStyle derives a style from styleID with a solid highlight fill
func highlightStyle(f *excelize.File, styleID int) (int, error) {
	style, err := f.GetStyle(styleID)
	if err != nil || style == nil {
		style = &excelize.Style{}
	}
	style.Fill = excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{HighlightColor}}
	return f.NewStyle(style)
}

func sameFile(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return absA == absB
}
