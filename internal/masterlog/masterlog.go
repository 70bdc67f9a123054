// Package masterlog assembles per-task output into the single regression log.
// Sections are recorded concurrently and emitted in submission order once
// every task has finished.
package masterlog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hochfrequenz/hdl-regress/internal/domain"
)

// Header describes the invocation at the top of each log block
type Header struct {
	InvocationID string
	Timestamp    time.Time
	Units        []string
	Runs         int
	Width        int
	Total        int
}

// Section is one task's contribution to the log
type Section struct {
	Unit     string
	RunIndex int
	Seed     uint64
	Output   string
	Status   domain.RunStatus
	ExitCode int
	Coverage domain.CoverageStatus
}

// SectionFor builds the log section for a finished task
func SectionFor(r *domain.RunResult) Section {
	out := r.Output
	if r.Err != nil {
		if out != "" && !strings.HasSuffix(out, "\n") {
			out += "\n"
		}
		out += fmt.Sprintf("[regress] %v\n", r.Err)
	}
	if r.CoverageErr != nil {
		if out != "" && !strings.HasSuffix(out, "\n") {
			out += "\n"
		}
		out += fmt.Sprintf("[regress] %v\n", r.CoverageErr)
	}
	return Section{
		Unit:     r.Task.Unit.Name,
		RunIndex: r.Task.RunIndex,
		Seed:     r.Task.Seed,
		Output:   out,
		Status:   r.Status,
		ExitCode: r.ExitCode,
		Coverage: r.Coverage,
	}
}

// Log collects sections indexed by task order
type Log struct {
	mu       sync.Mutex
	sections []*Section
}

// New creates a log expecting total sections
func New(total int) *Log {
	return &Log{sections: make([]*Section, total)}
}

// Record stores the section for the task at index. Each index may be
// recorded once.
func (l *Log) Record(index int, s Section) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if index < 0 || index >= len(l.sections) {
		return fmt.Errorf("section index %d out of range [0, %d)", index, len(l.sections))
	}
	if l.sections[index] != nil {
		return fmt.Errorf("section %d already recorded", index)
	}
	l.sections[index] = &s
	return nil
}

// Recorded returns how many sections have been stored
func (l *Log) Recorded() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, s := range l.sections {
		if s != nil {
			n++
		}
	}
	return n
}

// Write appends the header and all sections to path, or replaces the file
// when reset is set
func (l *Log) Write(path string, h Header, reset bool) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if reset {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return fmt.Errorf("opening master log: %w", err)
	}

	w := bufio.NewWriter(f)
	l.render(w, h)
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writing master log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing master log: %w", err)
	}
	return nil
}

// Render returns the log block as it would be written
func (l *Log) Render(h Header) string {
	var b strings.Builder
	l.render(&b, h)
	return b.String()
}

func (l *Log) render(w io.Writer, h Header) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprintln(w, "=== Regression Log ===")
	if h.InvocationID != "" {
		fmt.Fprintf(w, "Invocation: %s\n", h.InvocationID)
	}
	fmt.Fprintf(w, "Timestamp: %s\n", h.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(w, "Test directories: %s\n", strings.Join(h.Units, ", "))
	fmt.Fprintf(w, "Repetitions per directory: %d\n", h.Runs)
	fmt.Fprintf(w, "Threads used: %d\n", h.Width)
	fmt.Fprintf(w, "Total tasks: %d\n", h.Total)
	fmt.Fprintln(w, "========================")

	for i, s := range l.sections {
		if s == nil {
			fmt.Fprintf(w, "\n=== [task %d] ===\n(no result recorded)\n", i)
			continue
		}
		fmt.Fprintf(w, "\n=== [%s run %d] Using seed %d ===\n", s.Unit, s.RunIndex, s.Seed)
		io.WriteString(w, s.Output)
		if s.Output != "" && !strings.HasSuffix(s.Output, "\n") {
			io.WriteString(w, "\n")
		}
		fmt.Fprintf(w, "--- %s run %d: %s (exit %d), coverage %s ---\n",
			s.Unit, s.RunIndex, statusWord(s.Status), s.ExitCode, s.Coverage)
	}
}

func statusWord(s domain.RunStatus) string {
	switch s {
	case domain.RunPassed:
		return "PASS"
	case domain.RunFailed:
		return "FAIL"
	default:
		return "ERROR"
	}
}
