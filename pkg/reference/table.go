// Package reference reconciles computed mask presence with an externally
// maintained reference spreadsheet and produces a patched copy of it.
//
// The reference schema is not fixed: the case id column and the mask columns
// are discovered from header text once per run (see DiscoverSchema), and the
// resulting Schema is shared by Reconcile and Patch.
package reference

// Row is one data row of the reference sheet
type Row struct {
	// Number is the 1-based sheet row the cells came from
	Number int

	Cells []string
}

// Table is the reference sheet as loaded: row 1 holds the headers, every
// other row one case. Tables are treated as immutable values.
type Table struct {
	Sheet   string
	Headers []string
	Rows    []Row
}

// Cell returns the text of column col in row, or "" past the row's end
func (t *Table) Cell(row, col int) string {
	if row < 0 || row >= len(t.Rows) || col < 0 {
		return ""
	}
	cells := t.Rows[row].Cells
	if col >= len(cells) {
		return ""
	}
	return cells[col]
}

// Clone returns a deep copy of the table
func (t *Table) Clone() *Table {
	out := &Table{
		Sheet:   t.Sheet,
		Headers: append([]string(nil), t.Headers...),
		Rows:    make([]Row, len(t.Rows)),
	}
	for i, row := range t.Rows {
		out.Rows[i] = Row{Number: row.Number, Cells: append([]string(nil), row.Cells...)}
	}
	return out
}

func (t *Table) set(row, col int, value string) {
	cells := t.Rows[row].Cells
	for len(cells) <= col {
		cells = append(cells, "")
	}
	cells[col] = value
	t.Rows[row].Cells = cells
}
