package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hochfrequenz/hdl-regress/internal/domain"
)

// Observer forwards pipeline events to a running program
type Observer struct {
	program *tea.Program
}

// NewObserver creates an observer sending to p
func NewObserver(p *tea.Program) *Observer {
	return &Observer{program: p}
}

func (o *Observer) PhaseStarted(phase domain.Phase) {
	o.program.Send(PhaseMsg{Phase: phase})
}

func (o *Observer) TasksPlanned(tasks []domain.Task) {
	o.program.Send(PlannedMsg{Total: len(tasks)})
}

func (o *Observer) TaskStarted(task domain.Task) {
	o.program.Send(TaskStartedMsg{Task: task, At: time.Now()})
}

func (o *Observer) TaskFinished(r *domain.RunResult) {
	o.program.Send(TaskFinishedMsg{Result: r})
}

func (o *Observer) SlotsChanged(active, max int) {
	o.program.Send(SlotsMsg{Active: active, Max: max})
}
