package checker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"maskaudit/internal/models"
	"maskaudit/pkg/audit"
	"maskaudit/pkg/history"
	"maskaudit/pkg/nifti"
	"maskaudit/pkg/report"
	"maskaudit/pkg/volume"
)

var shape = [3]int{4, 4, 3}

func writeVolume(t *testing.T, path string, filled bool) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	grid := volume.NewMemory(shape, nil)
	if filled {
		grid.Set(1, 2, 2, 1)
	}
	require.NoError(t, nifti.Write(path, grid, nifti.WriteOptions{}))
}

func writeReference(t *testing.T, path string, rows [][]any) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	require.NoError(t, f.SaveAs(path))
}

// fixture lays out three cases:
// A has liver and tumor masks, both present and matching the reference;
// B has no mask directory and a reference row claiming a liver;
// C has masks but no reference row, and an unreadable tumor mask.
func fixture(t *testing.T) *Params {
	t.Helper()
	root := t.TempDir()
	images := filepath.Join(root, "images")
	masks := filepath.Join(root, "masks")

	for _, id := range []string{"A", "B", "C"} {
		writeVolume(t, filepath.Join(images, id+".nii.gz"), true)
	}
	writeVolume(t, filepath.Join(masks, "A", "liver.nii.gz"), true)
	writeVolume(t, filepath.Join(masks, "A", "tumor.nii.gz"), true)
	writeVolume(t, filepath.Join(masks, "C", "liver.nii.gz"), true)
	require.NoError(t, os.WriteFile(filepath.Join(masks, "C", "tumor.nii.gz"), []byte("not a volume"), 0644))

	ref := filepath.Join(root, "data.xlsx")
	writeReference(t, ref, [][]any{
		{"Case ID", "Liver", "Tumor (O/X)", "Notes"},
		{"A", "O", 1, "first"},
		{"B", 1, "x", "second"},
		{"D", "x", "x", "not imaged"},
	})

	return &Params{
		ImageDir:  images,
		MaskDir:   masks,
		Reference: ref,
		OutputDir: filepath.Join(root, "out"),
		Workers:   2,
	}
}

func TestProcessEndToEnd(t *testing.T) {
	params := fixture(t)
	params.HistoryDB = filepath.Join(params.OutputDir, "history.db")
	before, err := os.ReadFile(params.Reference)
	require.NoError(t, err)

	var done []string
	params.OnCaseDone = func(c audit.Case, err error) { done = append(done, c.ID) }

	out, err := New(params).Process(context.Background())
	require.NoError(t, err)
	assert.False(t, out.Interrupted)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, done)
	assert.Equal(t, []string{"liver", "tumor"}, out.MaskNames)

	// 3 cases x 2 masks, C missing from the reference
	require.Len(t, out.Entries, 6)
	notFound := 0
	for _, e := range out.Entries {
		if e.PresenceInReference.Status == models.CaseNotFound {
			notFound++
			assert.Equal(t, "C", e.CaseID)
		}
	}
	assert.Equal(t, 2, notFound)

	presence := map[string]map[string]int{}
	for _, r := range out.Results.Presence {
		presence[r.CaseID] = r.Presence
	}
	assert.Equal(t, map[string]int{"liver": 1, "tumor": 1}, presence["A"])
	assert.Equal(t, map[string]int{"liver": 0, "tumor": 0}, presence["B"])
	assert.Equal(t, map[string]int{"liver": 1, "tumor": 0}, presence["C"])

	require.Len(t, out.Results.Failures, 1)
	assert.Equal(t, "C", out.Results.Failures[0].CaseID)
	assert.Equal(t, "tumor", out.Results.Failures[0].MaskName)
	assert.ErrorIs(t, out.Results.Failures[0].Err, audit.ErrCaseLoad)

	// Only B's liver disagreed
	require.Len(t, out.Patched.Changes, 1)
	change := out.Patched.Changes[0]
	assert.Equal(t, "B", change.CaseID)
	assert.Equal(t, "liver", change.MaskName)
	assert.Equal(t, 0, change.New)

	after, err := os.ReadFile(params.Reference)
	require.NoError(t, err)
	assert.Equal(t, before, after, "reference workbook must not be modified")

	patched, err := excelize.OpenFile(out.PatchedPath)
	require.NoError(t, err)
	defer patched.Close()
	rows, err := patched.GetRows("Sheet1")
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Case ID", "Liver", "Tumor (O/X)", "Notes"},
		{"A", "O", "1", "first"},
		{"B", "0", "x", "second"},
		{"D", "x", "x", "not imaged"},
	}, rows)

	assert.Equal(t, filepath.Join(params.OutputDir, "data_updated.xlsx"), out.PatchedPath)
	wb, err := excelize.OpenFile(out.ReportPath)
	require.NoError(t, err)
	defer wb.Close()
	assert.Len(t, wb.GetSheetList(), 6)
	volumes, err := wb.GetRows(report.SheetImageInfo)
	require.NoError(t, err)
	assert.Len(t, volumes, 4)

	assert.Equal(t, 3, out.Summary.Cases)
	assert.Equal(t, 1, out.Summary.Failures)
	assert.Equal(t, 1, out.Summary.PatchedCells)
	assert.Equal(t, 3, out.Summary.Mismatches)
	assert.Equal(t, 3, out.Summary.Processed)
	assert.Equal(t, out.Results.CaseTime(), out.Summary.CaseTime)

	store, err := history.Open(params.HistoryDB)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, out.Summary.RunID, runs[0].RunID)
	assert.Equal(t, 3, runs[0].Processed)
}

func TestProcessConsistency(t *testing.T) {
	params := fixture(t)
	affine := volume.Identity()
	affine.Set(0, 3, 5)
	shifted := volume.NewMemory(shape, affine)
	shifted.Set(0, 0, 0, 1)
	require.NoError(t, nifti.Write(filepath.Join(params.MaskDir, "A", "tumor.nii.gz"), shifted, nifti.WriteOptions{}))

	out, err := New(params).Process(context.Background())
	require.NoError(t, err)

	var tumor models.ConsistencyRecord
	for _, r := range out.Results.Consistency {
		if r.CaseID == "A" && r.MaskName == "tumor" {
			tumor = r
		}
	}
	assert.True(t, tumor.DimsMatch)
	assert.False(t, tumor.OriginMatch)
}

func TestProcessFatalInputsWriteNothing(t *testing.T) {
	cases := map[string]func(p *Params){
		"missing images":    func(p *Params) { p.ImageDir = filepath.Join(p.ImageDir, "nope") },
		"missing masks":     func(p *Params) { p.MaskDir = filepath.Join(p.MaskDir, "nope") },
		"missing reference": func(p *Params) { p.Reference = filepath.Join(filepath.Dir(p.Reference), "nope.xlsx") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			params := fixture(t)
			mutate(params)

			out, err := New(params).Process(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, audit.ErrFatalInput), "got %v", err)
			assert.Nil(t, out)
			_, statErr := os.Stat(params.OutputDir)
			assert.True(t, os.IsNotExist(statErr), "output directory must not be created")
		})
	}
}

func TestProcessLockedOutput(t *testing.T) {
	params := fixture(t)
	require.NoError(t, os.MkdirAll(params.OutputDir, 0755))
	held := flock.New(filepath.Join(params.OutputDir, LockName))
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer held.Unlock()

	_, err = New(params).Process(context.Background())
	assert.ErrorIs(t, err, ErrLocked)
}

func TestProcessCancelled(t *testing.T) {
	params := fixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := New(params).Process(ctx)
	require.NoError(t, err)
	assert.True(t, out.Interrupted)
	assert.Equal(t, []string{"A", "B", "C"}, out.Results.Skipped)
	assert.Empty(t, out.Entries)
	assert.Empty(t, out.Patched.Changes)
	assert.FileExists(t, out.ReportPath)
}

func TestProcessMaskOverrideAndParquet(t *testing.T) {
	params := fixture(t)
	params.Masks = []string{"liver"}
	params.Parquet = true

	out, err := New(params).Process(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"liver"}, out.MaskNames)
	assert.Len(t, out.Entries, 3)
	assert.Len(t, out.ParquetPaths, 5)
	for _, path := range out.ParquetPaths {
		assert.FileExists(t, path)
	}
}
