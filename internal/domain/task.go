package domain

import (
	"fmt"
	"path/filepath"
	"time"
)

// CoverageTarget describes what the coverage scorer should look at
type CoverageTarget struct {
	Sources []string
	Top     string
	Scope   string
}

// TestUnit is a directory holding an invokable build descriptor
type TestUnit struct {
	RootPath string
	Name     string
	// Coverage overrides the configured target when the unit ships a descriptor
	Coverage *CoverageTarget
}

// NewTestUnit creates a unit named after the final path component
func NewTestUnit(root string) TestUnit {
	return TestUnit{RootPath: root, Name: filepath.Base(root)}
}

// Task is one randomized execution of a test unit
type Task struct {
	Unit         TestUnit
	RunIndex     int // 1-based within the unit
	Seed         uint64
	TracePath    string
	CoveragePath string
	OrderIndex   int // 0-based submission order
}

// Describe returns the label used in logs and progress output
func (t Task) Describe() string {
	return fmt.Sprintf("%s run %d", t.Unit.Name, t.RunIndex)
}

// RunResult is the recorded outcome of one task
type RunResult struct {
	Task        Task
	ExitCode    int
	Output      string
	Status      RunStatus
	Succeeded   bool
	Err         error
	Coverage    CoverageStatus
	CoverageErr error
	Duration    time.Duration
}

// ContributesCoverage reports whether the run produced a per-run database
func (r *RunResult) ContributesCoverage() bool {
	return r != nil && r.Coverage == CoverageCollected
}
