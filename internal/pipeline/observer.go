package pipeline

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hochfrequenz/hdl-regress/internal/domain"
)

// Observer receives progress events. TaskStarted and TaskFinished are
// called from worker goroutines.
type Observer interface {
	PhaseStarted(phase domain.Phase)
	TasksPlanned(tasks []domain.Task)
	TaskStarted(task domain.Task)
	TaskFinished(result *domain.RunResult)
}

// SlotObserver is optionally implemented by observers that want worker
// occupancy updates
type SlotObserver interface {
	SlotsChanged(active, max int)
}

// NopObserver ignores all events
type NopObserver struct{}

func (NopObserver) PhaseStarted(domain.Phase)      {}
func (NopObserver) TasksPlanned([]domain.Task)     {}
func (NopObserver) TaskStarted(domain.Task)        {}
func (NopObserver) TaskFinished(*domain.RunResult) {}

// LogObserver prints one line per finished task
type LogObserver struct {
	mu   sync.Mutex
	w    io.Writer
	done int
	all  int
}

// NewLogObserver creates an observer writing progress lines to w
func NewLogObserver(w io.Writer) *LogObserver {
	return &LogObserver{w: w}
}

func (o *LogObserver) PhaseStarted(phase domain.Phase) {
	switch phase {
	case domain.PhaseMerge:
		fmt.Fprintln(o.w, "Merging coverage...")
	case domain.PhaseReport:
		fmt.Fprintln(o.w, "Generating coverage report...")
	}
}

func (o *LogObserver) TasksPlanned(tasks []domain.Task) {
	o.mu.Lock()
	o.all = len(tasks)
	o.mu.Unlock()
	fmt.Fprintf(o.w, "Scheduled %d tasks\n", len(tasks))
}

func (o *LogObserver) TaskStarted(domain.Task) {}

func (o *LogObserver) TaskFinished(r *domain.RunResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.done++

	status := "PASS"
	switch r.Status {
	case domain.RunFailed:
		status = fmt.Sprintf("FAIL (exit %d)", r.ExitCode)
	case domain.RunError:
		status = "ERROR"
	}
	line := fmt.Sprintf("[%d/%d] %s (seed %d): %s in %s", o.done, o.all, r.Task.Describe(), r.Task.Seed, status, r.Duration.Round(time.Millisecond))
	if r.Coverage == domain.CoverageFailed {
		line += ", coverage collection failed"
	}
	fmt.Fprintln(o.w, line)
}
