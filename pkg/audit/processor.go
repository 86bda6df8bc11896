package audit

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"maskaudit/internal/models"
	"maskaudit/pkg/checks"
	"maskaudit/pkg/volume"
)

// ProcessorOptions configures a Processor
type ProcessorOptions struct {
	// MaskRoot holds one subdirectory of mask volumes per case id
	MaskRoot string

	// Extensions lists the file suffixes treated as volumes
	Extensions []string

	// MaskNames is the closed, sorted mask universe of the run
	MaskNames []string

	// SlabDepth is the number of z-planes read per emptiness slab
	SlabDepth int

	// Tolerance is the absolute tolerance for transform comparison
	Tolerance float64

	Logger zerolog.Logger
}

// CaseResult holds everything one case contributes to the run
type CaseResult struct {
	Info        models.VolumeInfo
	Presence    models.MaskPresenceRecord
	Consistency []models.ConsistencyRecord

	// Failures lists masks that could not be read; the case itself succeeded
	Failures []models.CaseFailure

	Duration time.Duration
}

// Processor runs the emptiness and consistency checks for one case at a time.
// It holds no mutable state and is safe for concurrent use.
type Processor struct {
	source volume.Source
	opts   ProcessorOptions
	known  map[string]bool
}

// NewProcessor creates a processor reading volumes through source
func NewProcessor(source volume.Source, opts ProcessorOptions) *Processor {
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	if opts.SlabDepth < 1 {
		opts.SlabDepth = checks.DefaultSlabDepth
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = checks.DefaultTolerance
	}
	opts.MaskNames = NormalizeMaskNames(opts.MaskNames)

	known := make(map[string]bool, len(opts.MaskNames))
	for _, name := range opts.MaskNames {
		known[name] = true
	}
	return &Processor{source: source, opts: opts, known: known}
}

// Process loads the case image, then checks every mask volume found in the
// case's mask directory. A missing mask directory is a valid all-absent case.
// An unreadable image fails the whole case with a *LoadError; an unreadable
// mask is recorded in CaseResult.Failures and skipped.
func (p *Processor) Process(ctx context.Context, c Case) (CaseResult, error) {
	start := time.Now()
	logger := p.opts.Logger.With().Str("case_id", c.ID).Logger()

	result := CaseResult{
		Presence: models.NewMaskPresenceRecord(c.ID, p.opts.MaskNames),
	}

	image, err := p.source.Open(c.ImagePath)
	if err != nil {
		return result, &LoadError{CaseID: c.ID, Path: c.ImagePath, Err: err}
	}
	imageShape := image.Shape()
	imageAffine := image.Affine()
	image.Close()

	result.Info = models.VolumeInfo{
		CaseID:     c.ID,
		Dimensions: imageShape,
		Origin:     checks.Origin(imageAffine),
		Spacing:    checks.Spacing(imageAffine),
	}

	maskDir := filepath.Join(p.opts.MaskRoot, c.ID)
	files, err := ListVolumes(maskDir, p.opts.Extensions)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Debug().Str("dir", maskDir).Msg("No mask directory, all masks absent")
		result.Duration = time.Since(start)
		return result, nil
	}
	if err != nil {
		return result, &LoadError{CaseID: c.ID, Path: maskDir, Err: fmt.Errorf("list masks: %w", err)}
	}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return result, &LoadError{CaseID: c.ID, Path: maskDir, Err: err}
		}

		maskName := Stem(file)
		path := filepath.Join(maskDir, file)
		record, present, err := p.checkMask(ctx, c.ID, maskName, path, imageShape, imageAffine)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, &LoadError{CaseID: c.ID, Path: path, Err: ctxErr}
			}
			logger.Warn().Err(err).Str("mask", maskName).Msg("Skipping unreadable mask")
			result.Failures = append(result.Failures, models.CaseFailure{CaseID: c.ID, MaskName: maskName, Err: err})
			continue
		}

		if p.known[maskName] {
			if present {
				result.Presence.Presence[maskName] = 1
			}
		} else {
			logger.Warn().Str("mask", maskName).Msg("Mask outside the run's mask set; presence not recorded")
		}
		result.Consistency = append(result.Consistency, record)
	}

	result.Duration = time.Since(start)
	logger.Debug().Int("masks", len(files)).Dur("elapsed", result.Duration).Msg("Case processed")
	return result, nil
}

func (p *Processor) checkMask(ctx context.Context, caseID, maskName, path string, imageShape [3]int, imageAffine *mat.Dense) (models.ConsistencyRecord, bool, error) {
	mask, err := p.source.Open(path)
	if err != nil {
		return models.ConsistencyRecord{}, false, &LoadError{CaseID: caseID, MaskName: maskName, Path: path, Err: err}
	}
	defer mask.Close()

	empty, err := checks.IsEmpty(ctx, mask, p.opts.SlabDepth)
	if err != nil {
		return models.ConsistencyRecord{}, false, &LoadError{CaseID: caseID, MaskName: maskName, Path: path, Err: err}
	}

	res := checks.Compare(imageShape, imageAffine, mask.Shape(), mask.Affine(), p.opts.Tolerance)
	return models.ConsistencyRecord{
		CaseID:      caseID,
		MaskName:    maskName,
		DimsMatch:   res.DimsMatch,
		OriginMatch: res.OriginMatch,
	}, !empty, nil
}
