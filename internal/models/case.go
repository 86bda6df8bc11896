package models

import (
	"fmt"
	"strconv"
	"time"
)

// VolumeInfo describes the geometry of one case's image volume
type VolumeInfo struct {
	// CaseID identifies the subject or study the volume belongs to
	CaseID string

	// Dimensions is the voxel count along each of the three spatial axes
	Dimensions [3]int

	// Origin is the translation column of the volume's affine in mm
	Origin [3]float64

	// Spacing is the physical voxel size along each axis in mm
	Spacing [3]float64
}

// MaskPresenceRecord maps every known mask name to 0 (absent or empty) or 1 (contains signal)
type MaskPresenceRecord struct {
	CaseID   string
	Presence map[string]int
}

// NewMaskPresenceRecord returns a record with every mask name set to 0
func NewMaskPresenceRecord(caseID string, maskNames []string) MaskPresenceRecord {
	presence := make(map[string]int, len(maskNames))
	for _, name := range maskNames {
		presence[name] = 0
	}
	return MaskPresenceRecord{CaseID: caseID, Presence: presence}
}

// ConsistencyRecord holds the geometry comparison of one mask against its image
type ConsistencyRecord struct {
	CaseID      string
	MaskName    string
	DimsMatch   bool
	OriginMatch bool
}

// CaseFailure records a volume that could not be read. MaskName is empty when
// the image itself failed and the whole case was excluded.
type CaseFailure struct {
	CaseID   string
	MaskName string
	Err      error
}

// RefKind classifies a normalized reference cell
type RefKind int

const (
	// RefNumeric is a cell holding a number, including the 0/1 tokens
	RefNumeric RefKind = iota

	// RefBlank is an empty cell
	RefBlank

	// RefUnparseable is free text outside the known token set
	RefUnparseable
)

// RefValue is a reference cell after normalization
type RefValue struct {
	Kind  RefKind
	Value float64
	Raw   string
}

// Equals reports whether the value is numeric and equal to presence
func (v RefValue) Equals(presence int) bool {
	return v.Kind == RefNumeric && v.Value == float64(presence)
}

func (v RefValue) String() string {
	switch v.Kind {
	case RefNumeric:
		return strconv.FormatFloat(v.Value, 'f', -1, 64)
	case RefBlank:
		return ""
	default:
		return "Unparseable: " + v.Raw
	}
}

// LookupStatus tells whether a reference value could be located at all
type LookupStatus int

const (
	Found LookupStatus = iota
	ColumnNotFound
	CaseNotFound
)

// RefLookup is the reference side of one reconciliation comparison
type RefLookup struct {
	Status LookupStatus
	Value  RefValue
}

func (l RefLookup) String() string {
	switch l.Status {
	case ColumnNotFound:
		return "Column Not Found"
	case CaseNotFound:
		return "Case Not Found"
	default:
		return l.Value.String()
	}
}

// ReconciliationEntry compares computed presence with the reference table for one (case, mask)
type ReconciliationEntry struct {
	CaseID              string
	MaskName            string
	PresenceInData      int
	PresenceInReference RefLookup
	Match               bool
}

// RunSummary describes one complete audit run
type RunSummary struct {
	// RunID uniquely identifies the run in the history store
	RunID string

	StartedAt  time.Time
	FinishedAt time.Time

	// Cases is the number of image volumes discovered
	Cases int

	// Failures counts image and mask volumes that could not be read
	Failures int

	// Skipped counts cases never dispatched because the run was cancelled
	Skipped int

	// Mismatches counts reconciliation entries whose match is false
	Mismatches int

	// PatchedCells counts cells overwritten in the patched reference
	PatchedCells int

	// Processed counts cases that completed; CaseTime sums their processing
	// time as measured by the worker that ran them.
	Processed int
	CaseTime  time.Duration
}

// Elapsed returns the wall-clock duration of the run
func (s RunSummary) Elapsed() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// MeanPerCase returns elapsed time divided by the case count
func (s RunSummary) MeanPerCase() time.Duration {
	if s.Cases == 0 {
		return 0
	}
	return s.Elapsed() / time.Duration(s.Cases)
}

// MeanCaseTime returns the mean processing time of completed cases
func (s RunSummary) MeanCaseTime() time.Duration {
	if s.Processed == 0 {
		return 0
	}
	return s.CaseTime / time.Duration(s.Processed)
}

// ElapsedString formats the elapsed time as minutes and seconds
func (s RunSummary) ElapsedString() string {
	elapsed := s.Elapsed()
	minutes := int(elapsed / time.Minute)
	seconds := int((elapsed % time.Minute) / time.Second)
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
