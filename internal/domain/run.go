package domain

import "time"

// Invocation summarizes one execution of the whole regression pipeline
type Invocation struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time
	Units       []string
	Runs        int
	Width       int
	Total       int
	Passed      int
	Failed      int
	Errored     int
	Collected   int
	MergeInputs int
	Merged      bool
	ReportOK    bool
}

// Tally fills the pass/fail/coverage counters from a set of results
func (inv *Invocation) Tally(results []*RunResult) {
	inv.Total = len(results)
	inv.Passed, inv.Failed, inv.Errored, inv.Collected = 0, 0, 0, 0
	for _, r := range results {
		if r == nil {
			continue
		}
		switch r.Status {
		case RunPassed:
			inv.Passed++
		case RunFailed:
			inv.Failed++
		case RunError:
			inv.Errored++
		}
		if r.ContributesCoverage() {
			inv.Collected++
		}
	}
}

// Healthy is true when every task passed
func (inv *Invocation) Healthy() bool {
	return inv.Failed == 0 && inv.Errored == 0
}

// Duration returns the wall-clock time of the invocation
func (inv *Invocation) Duration() time.Duration {
	if inv.FinishedAt.IsZero() {
		return 0
	}
	return inv.FinishedAt.Sub(inv.StartedAt)
}
