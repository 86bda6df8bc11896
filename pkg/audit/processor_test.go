package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"maskaudit/internal/models"
	"maskaudit/pkg/volume"
)

type fixture struct {
	root      string
	imageDir  string
	maskRoot  string
	source    *volume.MemorySource
	processor *Processor
}

func newFixture(t *testing.T, maskNames ...string) *fixture {
	root := t.TempDir()
	f := &fixture{
		root:     root,
		imageDir: filepath.Join(root, "img"),
		maskRoot: filepath.Join(root, "mask"),
		source:   volume.NewMemorySource(),
	}
	f.processor = NewProcessor(f.source, ProcessorOptions{
		MaskRoot:  f.maskRoot,
		MaskNames: maskNames,
		SlabDepth: 4,
		Logger:    zerolog.Nop(),
	})
	return f
}

func scaled(spacing float64, originZ float64) *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		spacing, 0, 0, -10,
		0, spacing, 0, 20,
		0, 0, spacing, originZ,
		0, 0, 0, 1,
	})
}

// addImage registers an image grid and creates its placeholder file
func (f *fixture) addImage(t *testing.T, caseID string, grid *volume.Memory) Case {
	path := filepath.Join(f.imageDir, caseID+".nii.gz")
	touch(t, path)
	f.source.Add(path, grid)
	return Case{ID: caseID, ImagePath: path}
}

// addMask registers a mask grid; a nil grid leaves the file unreadable
func (f *fixture) addMask(t *testing.T, caseID, name string, grid *volume.Memory) {
	path := filepath.Join(f.maskRoot, caseID, name+".nii.gz")
	touch(t, path)
	if grid != nil {
		f.source.Add(path, grid)
	}
}

func TestProcessCase(t *testing.T) {
	f := newFixture(t, "tumor", "liver", "spleen")
	shape := [3]int{6, 6, 9}
	c := f.addImage(t, "P001", volume.NewMemory(shape, scaled(0.8, 30)))

	liver := volume.NewMemory(shape, scaled(0.8, 30))
	liver.Set(5, 5, 8, 1)
	f.addMask(t, "P001", "liver", liver)
	f.addMask(t, "P001", "tumor", volume.NewMemory(shape, scaled(0.8, 30)))
	f.addMask(t, "P001", "spleen", volume.NewMemory([3]int{6, 6, 8}, scaled(0.8, 31)))

	res, err := f.processor.Process(context.Background(), c)
	require.NoError(t, err)

	assert.Equal(t, models.VolumeInfo{
		CaseID:     "P001",
		Dimensions: shape,
		Origin:     [3]float64{-10, 20, 30},
		Spacing:    [3]float64{0.8, 0.8, 0.8},
	}, res.Info)
	assert.Equal(t, map[string]int{"liver": 1, "spleen": 0, "tumor": 0}, res.Presence.Presence)
	assert.Equal(t, []models.ConsistencyRecord{
		{CaseID: "P001", MaskName: "liver", DimsMatch: true, OriginMatch: true},
		{CaseID: "P001", MaskName: "spleen", DimsMatch: false, OriginMatch: false},
		{CaseID: "P001", MaskName: "tumor", DimsMatch: true, OriginMatch: true},
	}, res.Consistency)
	assert.Empty(t, res.Failures)
}

func TestProcessMissingMaskDirectory(t *testing.T) {
	f := newFixture(t, "liver", "tumor")
	c := f.addImage(t, "P002", volume.NewMemory([3]int{2, 2, 2}, nil))

	res, err := f.processor.Process(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"liver": 0, "tumor": 0}, res.Presence.Presence)
	assert.Empty(t, res.Consistency)
}

func TestProcessUnreadableImage(t *testing.T) {
	f := newFixture(t, "liver")
	path := filepath.Join(f.imageDir, "P003.nii.gz")

	_, err := f.processor.Process(context.Background(), Case{ID: "P003", ImagePath: path})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCaseLoad)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "P003", loadErr.CaseID)
	assert.Empty(t, loadErr.MaskName)
}

func TestProcessUnreadableMaskIsIsolated(t *testing.T) {
	f := newFixture(t, "liver", "tumor")
	c := f.addImage(t, "P004", volume.NewMemory([3]int{2, 2, 2}, nil))

	tumor := volume.NewMemory([3]int{2, 2, 2}, nil)
	tumor.Set(0, 0, 0, 2)
	f.addMask(t, "P004", "tumor", tumor)
	f.addMask(t, "P004", "liver", nil)

	res, err := f.processor.Process(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"liver": 0, "tumor": 1}, res.Presence.Presence)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "liver", res.Failures[0].MaskName)
	assert.ErrorIs(t, res.Failures[0].Err, ErrCaseLoad)
	require.Len(t, res.Consistency, 1)
	assert.Equal(t, "tumor", res.Consistency[0].MaskName)
}

func TestProcessMaskOutsideUniverse(t *testing.T) {
	f := newFixture(t, "liver")
	c := f.addImage(t, "P005", volume.NewMemory([3]int{2, 2, 2}, nil))

	kidney := volume.NewMemory([3]int{2, 2, 2}, nil)
	kidney.Set(1, 1, 1, 1)
	f.addMask(t, "P005", "kidney", kidney)

	res, err := f.processor.Process(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"liver": 0}, res.Presence.Presence)
	require.Len(t, res.Consistency, 1)
	assert.Equal(t, "kidney", res.Consistency[0].MaskName)
}

func TestProcessCancelled(t *testing.T) {
	f := newFixture(t, "liver")
	c := f.addImage(t, "P006", volume.NewMemory([3]int{2, 2, 2}, nil))
	f.addMask(t, "P006", "liver", volume.NewMemory([3]int{2, 2, 2}, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.processor.Process(ctx, c)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrCaseLoad)
}
