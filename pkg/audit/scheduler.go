package audit

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"maskaudit/internal/models"
)

// CaseRunner processes a single case. *Processor implements it.
type CaseRunner interface {
	Process(ctx context.Context, c Case) (CaseResult, error)
}

// SchedulerOptions configures a Scheduler
type SchedulerOptions struct {
	// Workers bounds concurrent cases; zero means runtime.NumCPU()
	Workers int

	// CaseTimeout bounds each case; zero disables the deadline
	CaseTimeout time.Duration

	// OnCaseDone is called from the aggregating goroutine after each case
	// completes, fails or is skipped. It is never called concurrently.
	OnCaseDone func(c Case, err error)

	Logger zerolog.Logger
}

// Results is the fan-in of all case results of a run
type Results struct {
	Consistency []models.ConsistencyRecord
	Presence    []models.MaskPresenceRecord
	Volumes     []models.VolumeInfo

	// Failures holds failed cases (empty MaskName) and failed masks
	Failures []models.CaseFailure

	// Skipped lists case ids never processed because the run was cancelled
	Skipped []string

	// Durations maps case id to its processing time
	Durations map[string]time.Duration
}

// Processed returns the number of cases that produced a presence record
func (r *Results) Processed() int {
	return len(r.Presence)
}

// CaseTime returns the summed processing time of completed cases
func (r *Results) CaseTime() time.Duration {
	var total time.Duration
	for _, d := range r.Durations {
		total += d
	}
	return total
}

// Sort orders every collection by case id, then mask name, so output does
// not depend on completion order.
func (r *Results) Sort() {
	sort.SliceStable(r.Consistency, func(i, j int) bool {
		a, b := r.Consistency[i], r.Consistency[j]
		if a.CaseID != b.CaseID {
			return a.CaseID < b.CaseID
		}
		return a.MaskName < b.MaskName
	})
	sort.SliceStable(r.Presence, func(i, j int) bool {
		return r.Presence[i].CaseID < r.Presence[j].CaseID
	})
	sort.SliceStable(r.Volumes, func(i, j int) bool {
		return r.Volumes[i].CaseID < r.Volumes[j].CaseID
	})
	sort.SliceStable(r.Failures, func(i, j int) bool {
		a, b := r.Failures[i], r.Failures[j]
		if a.CaseID != b.CaseID {
			return a.CaseID < b.CaseID
		}
		return a.MaskName < b.MaskName
	})
	sort.Strings(r.Skipped)
}

// Scheduler fans cases out over a bounded pool and fans results back in
type Scheduler struct {
	runner CaseRunner
	opts   SchedulerOptions
}

// NewScheduler creates a scheduler around runner
func NewScheduler(runner CaseRunner, opts SchedulerOptions) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Scheduler{runner: runner, opts: opts}
}

type outcome struct {
	c       Case
	result  CaseResult
	err     error
	skipped bool
}

// RunAll processes every case and returns the sorted aggregate. A failing case
// never stops the others. Once ctx is cancelled no further cases start; those
// are reported in Results.Skipped.
func (s *Scheduler) RunAll(ctx context.Context, cases []Case) *Results {
	outcomes := make(chan outcome)

	go func() {
		var g errgroup.Group
		g.SetLimit(s.opts.Workers)
		for _, c := range cases {
			g.Go(func() error {
				if ctx.Err() != nil {
					outcomes <- outcome{c: c, skipped: true}
					return nil
				}
				res, err := s.runOne(ctx, c)
				if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
					outcomes <- outcome{c: c, skipped: true}
					return nil
				}
				outcomes <- outcome{c: c, result: res, err: err}
				return nil
			})
		}
		g.Wait()
		close(outcomes)
	}()

	results := &Results{Durations: make(map[string]time.Duration, len(cases))}
	for out := range outcomes {
		s.collect(results, out)
	}
	results.Sort()
	return results
}

// collect runs on the single aggregating goroutine only
func (s *Scheduler) collect(results *Results, out outcome) {
	switch {
	case out.skipped:
		results.Skipped = append(results.Skipped, out.c.ID)
		if s.opts.OnCaseDone != nil {
			s.opts.OnCaseDone(out.c, context.Canceled)
		}
		return
	case out.err != nil:
		s.opts.Logger.Error().Err(out.err).Str("case_id", out.c.ID).Msg("Case excluded")
		results.Failures = append(results.Failures, models.CaseFailure{CaseID: out.c.ID, Err: out.err})
	default:
		results.Consistency = append(results.Consistency, out.result.Consistency...)
		results.Presence = append(results.Presence, out.result.Presence)
		results.Volumes = append(results.Volumes, out.result.Info)
		results.Failures = append(results.Failures, out.result.Failures...)
		results.Durations[out.c.ID] = out.result.Duration
	}
	if s.opts.OnCaseDone != nil {
		s.opts.OnCaseDone(out.c, out.err)
	}
}

func (s *Scheduler) runOne(ctx context.Context, c Case) (CaseResult, error) {
	if s.opts.CaseTimeout <= 0 {
		return s.runner.Process(ctx, c)
	}

	caseCtx, cancel := context.WithTimeout(ctx, s.opts.CaseTimeout)
	defer cancel()

	type done struct {
		res CaseResult
		err error
	}
	ch := make(chan done, 1)
	go func() {
		res, err := s.runner.Process(caseCtx, c)
		ch <- done{res, err}
	}()

	// A read blocked in the kernel ignores caseCtx; the worker slot is freed
	// anyway and the stray goroutine exits when the read returns.
	select {
	case d := <-ch:
		if d.err != nil && errors.Is(caseCtx.Err(), context.DeadlineExceeded) {
			return d.res, s.timeoutError(c)
		}
		return d.res, d.err
	case <-caseCtx.Done():
		if errors.Is(caseCtx.Err(), context.DeadlineExceeded) {
			return CaseResult{}, s.timeoutError(c)
		}
		return CaseResult{}, &LoadError{CaseID: c.ID, Path: c.ImagePath, Err: caseCtx.Err()}
	}
}

func (s *Scheduler) timeoutError(c Case) error {
	return &LoadError{
		CaseID: c.ID,
		Path:   c.ImagePath,
		Err:    fmt.Errorf("%w after %s", ErrCaseTimeout, s.opts.CaseTimeout),
	}
}
