package tui

import (
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hochfrequenz/hdl-regress/internal/domain"
)

// recentLimit bounds the finished-task list
const recentLimit = 8

// Model is the TUI application model
type Model struct {
	// Progress
	phase    domain.Phase
	total    int
	done     int
	passed   int
	failed   int
	errored  int
	covFail  int
	active   map[int]*TaskView
	recent   []*TaskView
	slots    int
	maxSlots int

	// Outcome
	finished   bool
	invocation *domain.Invocation
	err        error

	// UI state
	width   int
	height  int
	started time.Time
	now     time.Time
}

// TaskView represents a task in the TUI
type TaskView struct {
	Order    int
	Label    string
	Seed     uint64
	Started  time.Time
	Duration time.Duration
	Status   domain.RunStatus
	ExitCode int
	Coverage domain.CoverageStatus
}

// NewModel creates a new TUI model
func NewModel(width int) Model {
	now := time.Now()
	return Model{
		phase:    domain.PhaseDiscovery,
		active:   make(map[int]*TaskView),
		maxSlots: width,
		started:  now,
		now:      now,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// TickMsg triggers a refresh
type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// Done reports whether the pipeline finished
func (m Model) Done() bool { return m.finished }

// Err returns the pipeline error, if any
func (m Model) Err() error { return m.err }

func (m Model) activeTasks() []*TaskView {
	tasks := make([]*TaskView, 0, len(m.active))
	for _, t := range m.active {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Order < tasks[j].Order })
	return tasks
}
