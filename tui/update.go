package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hochfrequenz/hdl-regress/internal/domain"
)

// PhaseMsg announces a pipeline phase
type PhaseMsg struct{ Phase domain.Phase }

// PlannedMsg carries the task count once scheduling is done
type PlannedMsg struct{ Total int }

// TaskStartedMsg is sent when a worker picks up a task
type TaskStartedMsg struct {
	Task domain.Task
	At   time.Time
}

// TaskFinishedMsg is sent with the outcome of a task
type TaskFinishedMsg struct{ Result *domain.RunResult }

// SlotsMsg reports worker occupancy
type SlotsMsg struct{ Active, Max int }

// DoneMsg is sent when the pipeline returns
type DoneMsg struct {
	Invocation *domain.Invocation
	Err        error
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			// detaches the view; the pipeline keeps running
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		m.now = time.Time(msg)
		if m.finished {
			return m, nil
		}
		return m, tickCmd()

	case PhaseMsg:
		m.phase = msg.Phase

	case PlannedMsg:
		m.total = msg.Total

	case SlotsMsg:
		m.slots = msg.Active
		m.maxSlots = msg.Max

	case TaskStartedMsg:
		m.active[msg.Task.OrderIndex] = &TaskView{
			Order:   msg.Task.OrderIndex,
			Label:   msg.Task.Describe(),
			Seed:    msg.Task.Seed,
			Started: msg.At,
			Status:  domain.RunPending,
		}

	case TaskFinishedMsg:
		m.finishTask(msg.Result)

	case DoneMsg:
		m.finished = true
		m.invocation = msg.Invocation
		m.err = msg.Err
		return m, tea.Quit
	}

	return m, nil
}

func (m *Model) finishTask(r *domain.RunResult) {
	if r == nil {
		return
	}
	delete(m.active, r.Task.OrderIndex)
	m.done++
	switch r.Status {
	case domain.RunPassed:
		m.passed++
	case domain.RunFailed:
		m.failed++
	default:
		m.errored++
	}
	if r.Coverage == domain.CoverageFailed {
		m.covFail++
	}

	view := &TaskView{
		Order:    r.Task.OrderIndex,
		Label:    r.Task.Describe(),
		Seed:     r.Task.Seed,
		Duration: r.Duration,
		Status:   r.Status,
		ExitCode: r.ExitCode,
		Coverage: r.Coverage,
	}
	m.recent = append([]*TaskView{view}, m.recent...)
	if len(m.recent) > recentLimit {
		m.recent = m.recent[:recentLimit]
	}
}
