package domain

// RunStatus represents the outcome of a single build/simulate run
type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunPassed  RunStatus = "passed"
	RunFailed  RunStatus = "failed"
	RunError   RunStatus = "error"
)

// CoverageStatus represents what happened to a run's coverage contribution
type CoverageStatus string

const (
	CoverageSkipped   CoverageStatus = "skipped"
	CoverageCollected CoverageStatus = "collected"
	CoverageFailed    CoverageStatus = "failed"
)

// Phase names a pipeline stage for diagnostics
type Phase string

const (
	PhaseDiscovery Phase = "discovery"
	PhaseRun       Phase = "run"
	PhaseLog       Phase = "log"
	PhaseMerge     Phase = "merge"
	PhaseReport    Phase = "report"
)

// Seed range for per-task stimulus randomization: [SeedMin, SeedMax)
const (
	SeedMin uint64 = 1_000_000_000
	SeedMax uint64 = 10_000_000_000
)
