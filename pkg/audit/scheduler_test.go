package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maskaudit/internal/models"
)

// fakeRunner returns canned results and tracks peak concurrency
type fakeRunner struct {
	delay   map[string]time.Duration
	fail    map[string]bool
	block   map[string]bool
	active  atomic.Int32
	peak    atomic.Int32
	started sync.Map
}

func (r *fakeRunner) Process(ctx context.Context, c Case) (CaseResult, error) {
	r.started.Store(c.ID, true)
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if r.block[c.ID] {
		<-ctx.Done()
		return CaseResult{}, &LoadError{CaseID: c.ID, Err: ctx.Err()}
	}
	time.Sleep(r.delay[c.ID])
	if r.fail[c.ID] {
		return CaseResult{}, &LoadError{CaseID: c.ID, Err: errors.New("corrupt volume")}
	}

	return CaseResult{
		Info:     models.VolumeInfo{CaseID: c.ID},
		Presence: models.MaskPresenceRecord{CaseID: c.ID, Presence: map[string]int{"liver": 1}},
		Consistency: []models.ConsistencyRecord{
			{CaseID: c.ID, MaskName: "tumor", DimsMatch: true, OriginMatch: true},
			{CaseID: c.ID, MaskName: "liver", DimsMatch: true, OriginMatch: true},
		},
		Duration: r.delay[c.ID],
	}, nil
}

func makeCases(ids ...string) []Case {
	cases := make([]Case, len(ids))
	for i, id := range ids {
		cases[i] = Case{ID: id, ImagePath: id + ".nii.gz"}
	}
	return cases
}

func TestRunAllSortsCompletionOrder(t *testing.T) {
	runner := &fakeRunner{delay: map[string]time.Duration{
		"A": 30 * time.Millisecond,
		"B": 10 * time.Millisecond,
		"C": 0,
	}}
	var completed []string
	s := NewScheduler(runner, SchedulerOptions{
		Workers:    3,
		Logger:     zerolog.Nop(),
		OnCaseDone: func(c Case, err error) { completed = append(completed, c.ID) },
	})

	res := s.RunAll(context.Background(), makeCases("A", "B", "C"))

	assert.ElementsMatch(t, []string{"A", "B", "C"}, completed)
	require.Len(t, res.Presence, 3)
	assert.Equal(t, "A", res.Presence[0].CaseID)
	assert.Equal(t, "C", res.Presence[2].CaseID)
	require.Len(t, res.Consistency, 6)
	assert.Equal(t, models.ConsistencyRecord{CaseID: "A", MaskName: "liver", DimsMatch: true, OriginMatch: true}, res.Consistency[0])
	assert.Equal(t, "tumor", res.Consistency[1].MaskName)
	assert.Equal(t, 3, res.Processed())
	assert.Len(t, res.Durations, 3)
	assert.Equal(t, 40*time.Millisecond, res.CaseTime())
}

func TestRunAllBoundsConcurrency(t *testing.T) {
	delay := make(map[string]time.Duration)
	ids := make([]string, 12)
	for i := range ids {
		ids[i] = fmt.Sprintf("C%02d", i)
		delay[ids[i]] = 5 * time.Millisecond
	}
	runner := &fakeRunner{delay: delay}
	s := NewScheduler(runner, SchedulerOptions{Workers: 2, Logger: zerolog.Nop()})

	res := s.RunAll(context.Background(), makeCases(ids...))
	assert.Equal(t, 12, res.Processed())
	assert.LessOrEqual(t, runner.peak.Load(), int32(2))
}

func TestRunAllIsolatesFailures(t *testing.T) {
	runner := &fakeRunner{fail: map[string]bool{"B": true}}
	s := NewScheduler(runner, SchedulerOptions{Workers: 2, Logger: zerolog.Nop()})

	res := s.RunAll(context.Background(), makeCases("A", "B", "C"))
	assert.Equal(t, 2, res.Processed())
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "B", res.Failures[0].CaseID)
	assert.ErrorIs(t, res.Failures[0].Err, ErrCaseLoad)
}

func TestRunAllCaseTimeout(t *testing.T) {
	runner := &fakeRunner{block: map[string]bool{"B": true}}
	s := NewScheduler(runner, SchedulerOptions{
		Workers:     2,
		CaseTimeout: 20 * time.Millisecond,
		Logger:      zerolog.Nop(),
	})

	res := s.RunAll(context.Background(), makeCases("A", "B", "C"))
	assert.Equal(t, 2, res.Processed())
	require.Len(t, res.Failures, 1)
	assert.ErrorIs(t, res.Failures[0].Err, ErrCaseTimeout)
	assert.ErrorIs(t, res.Failures[0].Err, ErrCaseLoad)
}

func TestRunAllCancelledBeforeStart(t *testing.T) {
	runner := &fakeRunner{}
	s := NewScheduler(runner, SchedulerOptions{Workers: 2, Logger: zerolog.Nop()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := s.RunAll(ctx, makeCases("B", "A"))
	assert.Equal(t, 0, res.Processed())
	assert.Equal(t, []string{"A", "B"}, res.Skipped)
	assert.Empty(t, res.Failures)
	_, started := runner.started.Load("A")
	assert.False(t, started)
}

func TestRunAllCancelStopsDispatch(t *testing.T) {
	runner := &fakeRunner{block: map[string]bool{"A": true}}
	ctx, cancel := context.WithCancel(context.Background())

	s := NewScheduler(runner, SchedulerOptions{Workers: 1, Logger: zerolog.Nop()})
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := s.RunAll(ctx, makeCases("A", "B", "C"))
	assert.Equal(t, []string{"A", "B", "C"}, res.Skipped)
	_, started := runner.started.Load("C")
	assert.False(t, started)
}

func TestRunAllEmpty(t *testing.T) {
	s := NewScheduler(&fakeRunner{}, SchedulerOptions{Logger: zerolog.Nop()})
	res := s.RunAll(context.Background(), nil)
	assert.Equal(t, 0, res.Processed())
}
