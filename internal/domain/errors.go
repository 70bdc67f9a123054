package domain

import "fmt"

// DiscoveryError means the test tree could not be scanned; fatal to the pipeline
type DiscoveryError struct {
	Root string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovering test units under %s: %v", e.Root, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// ExecutionError means a task's process could not be spawned; fatal to that task only
type ExecutionError struct {
	Task Task
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("starting %s (seed %d): %v", e.Task.Describe(), e.Task.Seed, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// CoverageCollectionError drops one task's coverage contribution
type CoverageCollectionError struct {
	Seed   uint64
	Output string
	Err    error
}

func (e *CoverageCollectionError) Error() string {
	return fmt.Sprintf("collecting coverage for seed %d: %v", e.Seed, e.Err)
}

func (e *CoverageCollectionError) Unwrap() error { return e.Err }

// MergeError aborts the aggregation phase. Restored reports whether the prior
// cumulative database was put back in place.
type MergeError struct {
	Err      error
	Restored bool
}

func (e *MergeError) Error() string {
	if e.Restored {
		return fmt.Sprintf("merging coverage (prior cumulative database restored): %v", e.Err)
	}
	return fmt.Sprintf("merging coverage: %v", e.Err)
}

func (e *MergeError) Unwrap() error { return e.Err }

// ReportError is reported but never fails the pipeline
type ReportError struct {
	Err error
}

func (e *ReportError) Error() string {
	return fmt.Sprintf("generating coverage report: %v", e.Err)
}

func (e *ReportError) Unwrap() error { return e.Err }

// PhaseError identifies the pipeline stage that failed
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s phase failed: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }
