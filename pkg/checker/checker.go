// Package checker runs a complete audit: it validates the inputs, checks
// every case across the worker pool, reconciles the results with the
// reference workbook and writes the patched workbook and the report.
package checker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"maskaudit/internal/models"
	"maskaudit/pkg/audit"
	"maskaudit/pkg/config"
	"maskaudit/pkg/history"
	"maskaudit/pkg/nifti"
	"maskaudit/pkg/reference"
	"maskaudit/pkg/report"
	"maskaudit/pkg/volume"
)

// LockName is the lock file created in the output directory during a run
const LockName = ".maskaudit.lock"

// ErrLocked is returned when another run holds the output directory
var ErrLocked = errors.New("output directory is locked by another run")

// Params holds the audit parameters
type Params struct {
	// ImageDir holds one image volume per case
	ImageDir string

	// MaskDir holds one subdirectory of mask volumes per case
	MaskDir string

	// Reference is the .xlsx workbook with expected mask presence
	Reference string

	// OutputDir receives the report and the patched reference
	OutputDir string

	ReportName    string
	PatchedSuffix string

	// Extensions lists the file suffixes treated as volumes
	Extensions []string

	// Masks overrides the mask set taken from the first case directory
	Masks []string

	Workers     int
	SlabDepth   int
	Tolerance   float64
	CaseTimeout time.Duration

	// Parquet also writes every report table as a Parquet file
	Parquet bool

	// HistoryDB records the run in a SQLite database when set
	HistoryDB string

	// Source opens volumes; nil reads NIfTI files from disk
	Source volume.Source

	// OnStart is called once the cases are known, before any is processed
	OnStart func(cases int)

	// OnCaseDone is called after each case; see audit.SchedulerOptions
	OnCaseDone func(c audit.Case, err error)

	Logger zerolog.Logger
}

// ParamsFromConfig maps the loaded configuration onto audit parameters
func ParamsFromConfig(cfg *config.Config) *Params {
	return &Params{
		ImageDir:      cfg.Input.ImageDir,
		MaskDir:       cfg.Input.MaskDir,
		Reference:     cfg.Input.Reference,
		OutputDir:     cfg.Output.Dir,
		ReportName:    cfg.Output.ReportName,
		PatchedSuffix: cfg.Output.PatchedSuffix,
		Extensions:    cfg.Input.Extensions,
		Masks:         cfg.Input.Masks,
		Workers:       cfg.Processing.Workers,
		SlabDepth:     cfg.Processing.SlabDepth,
		Tolerance:     cfg.Processing.OriginTolerance,
		CaseTimeout:   cfg.Processing.CaseTimeout,
		Parquet:       cfg.Output.Parquet,
		HistoryDB:     cfg.Output.HistoryDB,
	}
}

// Outcome is everything a run produced
type Outcome struct {
	Summary   models.RunSummary
	Results   *audit.Results
	MaskNames []string
	Schema    reference.Schema
	Entries   []models.ReconciliationEntry
	Patched   reference.Patched

	ReportPath   string
	PatchedPath  string
	ParquetPaths []string

	// Interrupted is set when cancellation stopped the run before every case
	// was dispatched. Outputs are still written for the processed cases.
	Interrupted bool
}

// Checker runs audits with fixed parameters
type Checker struct {
	params *Params
}

// New creates a checker with the provided parameters
func New(params *Params) *Checker {
	p := *params
	if p.Source == nil {
		p.Source = nifti.Source{}
	}
	if p.ReportName == "" {
		p.ReportName = "volume_analysis_results.xlsx"
	}
	if p.PatchedSuffix == "" {
		p.PatchedSuffix = "_updated"
	}
	if p.OutputDir == "" {
		p.OutputDir = "."
	}
	if len(p.Extensions) == 0 {
		p.Extensions = audit.DefaultExtensions
	}
	return &Checker{params: &p}
}

// Process runs the complete audit pipeline. Missing or unreadable inputs
// fail with an error matching audit.ErrFatalInput before anything is written.
func (c *Checker) Process(ctx context.Context) (*Outcome, error) {
	p := c.params
	logger := p.Logger
	started := time.Now()

	// Step 1: validate every input before producing output
	logger.Info().Str("images", p.ImageDir).Str("masks", p.MaskDir).Str("reference", p.Reference).Msg("Validating inputs")
	table, err := c.validateInputs()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(p.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	lock := flock.New(filepath.Join(p.OutputDir, LockName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock output directory: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, p.OutputDir)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	// Step 2: discover the mask universe and the cases
	maskNames := audit.NormalizeMaskNames(p.Masks)
	if len(maskNames) == 0 {
		maskNames, err = audit.DiscoverMaskNames(p.MaskDir, p.Extensions)
		if err != nil {
			return nil, err
		}
	}
	cases, err := audit.DiscoverCases(p.ImageDir, p.Extensions)
	if err != nil {
		return nil, err
	}
	logger.Info().Int("cases", len(cases)).Strs("masks", maskNames).Msg("Discovered cases")
	if len(maskNames) == 0 {
		logger.Warn().Str("dir", p.MaskDir).Msg("No masks found; every presence record will be empty")
	}
	if p.OnStart != nil {
		p.OnStart(len(cases))
	}

	// Step 3: check every case in parallel
	processor := audit.NewProcessor(p.Source, audit.ProcessorOptions{
		MaskRoot:   p.MaskDir,
		Extensions: p.Extensions,
		MaskNames:  maskNames,
		SlabDepth:  p.SlabDepth,
		Tolerance:  p.Tolerance,
		Logger:     logger,
	})
	scheduler := audit.NewScheduler(processor, audit.SchedulerOptions{
		Workers:     p.Workers,
		CaseTimeout: p.CaseTimeout,
		OnCaseDone:  p.OnCaseDone,
		Logger:      logger,
	})
	results := scheduler.RunAll(ctx, cases)

	out := &Outcome{
		Results:     results,
		MaskNames:   maskNames,
		Interrupted: len(results.Skipped) > 0,
	}
	if out.Interrupted {
		logger.Warn().Int("skipped", len(results.Skipped)).Msg("Run interrupted; writing outputs for processed cases")
	}

	// Step 4: reconcile with the reference and patch a copy of it
	out.Schema = reference.DiscoverSchema(table.Headers, maskNames)
	if !out.Schema.HasCaseIDColumn() {
		logger.Warn().Str("fallback", reference.DefaultCaseIDKey).Msg("No case id column in reference; every case will be reported as not found")
	}
	if missing := out.Schema.Unresolved(maskNames); len(missing) > 0 {
		logger.Warn().Strs("masks", missing).Msg("Masks without a reference column")
	}
	out.Entries = reference.Reconcile(results.Presence, table, out.Schema, maskNames)
	out.Patched = reference.Patch(table, results.Presence, out.Schema, maskNames)

	out.PatchedPath = reference.PatchedPath(p.Reference, p.OutputDir, p.PatchedSuffix)
	if err := reference.SavePatched(p.Reference, out.PatchedPath, out.Patched); err != nil {
		return out, fmt.Errorf("write patched reference: %w", err)
	}
	logger.Info().Str("path", out.PatchedPath).Int("cells", len(out.Patched.Changes)).Msg("Patched reference written")

	// Step 5: report
	out.Summary = models.RunSummary{
		RunID:        uuid.NewString(),
		StartedAt:    started,
		FinishedAt:   time.Now(),
		Cases:        len(cases),
		Failures:     len(results.Failures),
		Skipped:      len(results.Skipped),
		Mismatches:   reference.Mismatches(out.Entries),
		PatchedCells: len(out.Patched.Changes),
		Processed:    results.Processed(),
		CaseTime:     results.CaseTime(),
	}
	data := report.Data{
		Summary:     out.Summary,
		MaskNames:   maskNames,
		Volumes:     results.Volumes,
		Consistency: results.Consistency,
		Presence:    results.Presence,
		Entries:     out.Entries,
		Failures:    results.Failures,
		Skipped:     results.Skipped,
	}

	out.ReportPath = filepath.Join(p.OutputDir, p.ReportName)
	if err := report.WriteWorkbook(out.ReportPath, report.Sheets(data)); err != nil {
		return out, fmt.Errorf("write report: %w", err)
	}
	logger.Info().Str("path", out.ReportPath).Msg("Report written")

	if p.Parquet {
		paths, err := report.WriteParquet(p.OutputDir, data)
		out.ParquetPaths = paths
		if err != nil {
			return out, fmt.Errorf("write parquet: %w", err)
		}
	}

	if p.HistoryDB != "" {
		// Interrupted runs are recorded too
		if err := c.recordHistory(context.WithoutCancel(ctx), out); err != nil {
			return out, err
		}
	}

	logger.Info().
		Str("run_id", out.Summary.RunID).
		Int("cases", out.Summary.Cases).
		Int("mismatches", out.Summary.Mismatches).
		Dur("elapsed", out.Summary.Elapsed()).
		Msg("Audit complete")
	return out, nil
}

func (c *Checker) validateInputs() (*reference.Table, error) {
	p := c.params
	if err := audit.CheckDir("image directory", p.ImageDir); err != nil {
		return nil, err
	}
	if err := audit.CheckDir("mask root", p.MaskDir); err != nil {
		return nil, err
	}
	table, err := reference.Load(p.Reference)
	if err != nil {
		return nil, &audit.FatalInputError{Input: "reference table", Path: p.Reference, Err: err}
	}
	return table, nil
}

func (c *Checker) recordHistory(ctx context.Context, out *Outcome) error {
	store, err := history.Open(c.params.HistoryDB)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer store.Close()

	run := history.Run{
		RunSummary:  out.Summary,
		ImageDir:    c.params.ImageDir,
		MaskDir:     c.params.MaskDir,
		Reference:   c.params.Reference,
		ReportPath:  out.ReportPath,
		PatchedPath: out.PatchedPath,
	}
	if err := store.Record(ctx, run, out.Entries); err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	c.params.Logger.Debug().Str("db", store.Path()).Str("run_id", run.RunID).Msg("Run recorded")
	return nil
}
