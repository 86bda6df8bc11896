package reference

import (
	"strings"

	"maskaudit/internal/models"
)

// rowIndex maps case id to the first row holding it
func rowIndex(table *Table, schema Schema) map[string]int {
	index := make(map[string]int, len(table.Rows))
	if !schema.HasCaseIDColumn() {
		return index
	}
	for i := range table.Rows {
		id := strings.TrimSpace(table.Cell(i, schema.CaseIDColumn))
		if id == "" {
			continue
		}
		if _, dup := index[id]; !dup {
			index[id] = i
		}
	}
	return index
}

// Reconcile compares every presence record with the reference table, one
// entry per (case, mask name). Cases are matched by string-equal id; a case
// without a row yields CaseNotFound for all masks, and a mask without a column
// yields ColumnNotFound. Match requires a numeric reference value equal to the
// computed presence.
func Reconcile(records []models.MaskPresenceRecord, table *Table, schema Schema, maskNames []string) []models.ReconciliationEntry {
	index := rowIndex(table, schema)
	entries := make([]models.ReconciliationEntry, 0, len(records)*len(maskNames))

	for _, record := range records {
		row, found := index[strings.TrimSpace(record.CaseID)]
		for _, name := range maskNames {
			entry := models.ReconciliationEntry{
				CaseID:         record.CaseID,
				MaskName:       name,
				PresenceInData: record.Presence[name],
			}

			col, hasCol := schema.Column(name)
			switch {
			case !found:
				entry.PresenceInReference = models.RefLookup{Status: models.CaseNotFound}
			case !hasCol:
				entry.PresenceInReference = models.RefLookup{Status: models.ColumnNotFound}
			default:
				value := Normalize(table.Cell(row, col))
				entry.PresenceInReference = models.RefLookup{Status: models.Found, Value: value}
				entry.Match = value.Equals(entry.PresenceInData)
			}
			entries = append(entries, entry)
		}
	}
	return entries
}

// Mismatches counts entries whose Match is false
func Mismatches(entries []models.ReconciliationEntry) int {
	n := 0
	for _, e := range entries {
		if !e.Match {
			n++
		}
	}
	return n
}
