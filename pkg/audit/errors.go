package audit

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks
var (
	// ErrFatalInput marks a missing or unreadable top-level input
	ErrFatalInput = errors.New("fatal input error")

	// ErrCaseLoad marks a case or mask volume that could not be read
	ErrCaseLoad = errors.New("case load error")

	// ErrCaseTimeout marks a case that exceeded its processing deadline
	ErrCaseTimeout = errors.New("case timed out")
)

// FatalInputError aborts a run before any output is written
type FatalInputError struct {
	// Input names the role of the path (image directory, mask root, reference table)
	Input string
	Path  string
	Err   error
}

// Error implements the error interface
func (e *FatalInputError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Input, e.Path, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *FatalInputError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *FatalInputError) Is(target error) bool {
	return target == ErrFatalInput
}

// LoadError is scoped to one case, or to one mask of a case when MaskName is set
type LoadError struct {
	CaseID   string
	MaskName string
	Path     string
	Err      error
}

// Error implements the error interface
func (e *LoadError) Error() string {
	if e.MaskName != "" {
		return fmt.Sprintf("case %s mask %s: %v", e.CaseID, e.MaskName, e.Err)
	}
	return fmt.Sprintf("case %s: %v", e.CaseID, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *LoadError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support
func (e *LoadError) Is(target error) bool {
	return target == ErrCaseLoad
}
