package reference

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"maskaudit/internal/models"
)

func sampleTable() *Table {
	return &Table{
		Sheet:   "Sheet1",
		Headers: []string{"Case ID", "Liver", "Tumor (O/X)", "Note"},
		Rows: []Row{
			{Number: 2, Cells: []string{"A", "O", "yes", "ok"}},
			{Number: 3, Cells: []string{"B", "1", "x"}},
			{Number: 4, Cells: []string{"D", "maybe", ""}},
		},
	}
}

func presence(caseID string, liver, tumor int) models.MaskPresenceRecord {
	return models.MaskPresenceRecord{CaseID: caseID, Presence: map[string]int{"liver": liver, "tumor": tumor}}
}

func found(v float64) models.RefLookup {
	return models.RefLookup{Status: models.Found, Value: models.RefValue{Kind: models.RefNumeric, Value: v}}
}

func TestReconcile(t *testing.T) {
	masks := []string{"liver", "tumor"}
	table := sampleTable()
	schema := DiscoverSchema(table.Headers, masks)
	records := []models.MaskPresenceRecord{
		presence("A", 1, 1),
		presence("B", 0, 0),
		presence("C", 1, 0),
		presence("D", 0, 0),
	}

	got := Reconcile(records, table, schema, masks)
	want := []models.ReconciliationEntry{
		{CaseID: "A", MaskName: "liver", PresenceInData: 1, PresenceInReference: found(1), Match: true},
		{CaseID: "A", MaskName: "tumor", PresenceInData: 1, PresenceInReference: found(1), Match: true},
		{CaseID: "B", MaskName: "liver", PresenceInData: 0, PresenceInReference: found(1)},
		{CaseID: "B", MaskName: "tumor", PresenceInData: 0, PresenceInReference: found(0), Match: true},
		{CaseID: "C", MaskName: "liver", PresenceInData: 1, PresenceInReference: models.RefLookup{Status: models.CaseNotFound}},
		{CaseID: "C", MaskName: "tumor", PresenceInData: 0, PresenceInReference: models.RefLookup{Status: models.CaseNotFound}},
		{CaseID: "D", MaskName: "liver", PresenceInData: 0, PresenceInReference: models.RefLookup{
			Status: models.Found, Value: models.RefValue{Kind: models.RefUnparseable, Raw: "maybe"},
		}},
		{CaseID: "D", MaskName: "tumor", PresenceInData: 0, PresenceInReference: models.RefLookup{
			Status: models.Found, Value: models.RefValue{Kind: models.RefBlank},
		}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Reconcile mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 5, Mismatches(got))
}

func TestReconcileColumnNotFound(t *testing.T) {
	masks := []string{"kidney", "liver"}
	table := sampleTable()
	schema := DiscoverSchema(table.Headers, masks)
	records := []models.MaskPresenceRecord{
		{CaseID: "A", Presence: map[string]int{"kidney": 1, "liver": 1}},
		{CaseID: "B", Presence: map[string]int{"kidney": 0, "liver": 1}},
	}

	for _, e := range Reconcile(records, table, schema, masks) {
		if e.MaskName != "kidney" {
			continue
		}
		assert.Equal(t, models.ColumnNotFound, e.PresenceInReference.Status)
		assert.Equal(t, "Column Not Found", e.PresenceInReference.String())
		assert.False(t, e.Match)
	}
}

func TestReconcileWithoutCaseIDColumn(t *testing.T) {
	masks := []string{"liver"}
	table := &Table{Headers: []string{"patient", "liver"}, Rows: []Row{{Number: 2, Cells: []string{"A", "1"}}}}
	schema := DiscoverSchema(table.Headers, masks)

	entries := Reconcile([]models.MaskPresenceRecord{{CaseID: "A", Presence: map[string]int{"liver": 1}}}, table, schema, masks)
	assert.Len(t, entries, 1)
	assert.Equal(t, "Case Not Found", entries[0].PresenceInReference.String())
}

func TestReconcileFirstDuplicateRowWins(t *testing.T) {
	masks := []string{"liver"}
	table := &Table{
		Headers: []string{"case_id", "liver"},
		Rows: []Row{
			{Number: 2, Cells: []string{" 1001 ", "x"}},
			{Number: 3, Cells: []string{"1001", "o"}},
		},
	}
	schema := DiscoverSchema(table.Headers, masks)
	entries := Reconcile([]models.MaskPresenceRecord{{CaseID: "1001", Presence: map[string]int{"liver": 0}}}, table, schema, masks)
	assert.True(t, entries[0].Match)
}
