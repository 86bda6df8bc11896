package reference

import (
	"strconv"
	"strings"

	"maskaudit/internal/models"
)

// Change is one overwritten reference cell
type Change struct {
	// Row is the index into Table.Rows; SheetRow the 1-based sheet row
	Row      int
	SheetRow int

	// Column is the 0-based column index
	Column int
	Header string

	CaseID   string
	MaskName string

	Old string
	New int
}

// Patched is a patched copy of a reference table and the cells that changed
type Patched struct {
	Table   *Table
	Changes []Change
}

// Patch returns a copy of table in which every resolved mask cell whose
// normalized value disagrees with the computed presence is overwritten.
// Agreeing cells are untouched and table itself is never modified, so
// patching the result again yields no changes.
func Patch(table *Table, records []models.MaskPresenceRecord, schema Schema, maskNames []string) Patched {
	out := Patched{Table: table.Clone()}
	if !schema.HasCaseIDColumn() {
		return out
	}

	byCase := make(map[string]models.MaskPresenceRecord, len(records))
	for _, r := range records {
		byCase[strings.TrimSpace(r.CaseID)] = r
	}

	for i := range out.Table.Rows {
		caseID := strings.TrimSpace(out.Table.Cell(i, schema.CaseIDColumn))
		record, ok := byCase[caseID]
		if !ok || caseID == "" {
			continue
		}
		for _, name := range maskNames {
			col, ok := schema.Column(name)
			if !ok {
				continue
			}
			current := out.Table.Cell(i, col)
			want := record.Presence[name]
			if Normalize(current).Equals(want) {
				continue
			}
			out.Table.set(i, col, strconv.Itoa(want))
			out.Changes = append(out.Changes, Change{
				Row:      i,
				SheetRow: out.Table.Rows[i].Number,
				Column:   col,
				Header:   headerAt(out.Table, col),
				CaseID:   caseID,
				MaskName: name,
				Old:      current,
				New:      want,
			})
		}
	}
	return out
}

func headerAt(t *Table, col int) string {
	if col < len(t.Headers) {
		return t.Headers[col]
	}
	return ""
}
