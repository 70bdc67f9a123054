package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/hochfrequenz/hdl-regress/internal/domain"
)

var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255")).
		Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	runningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	queuedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	warningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("214"))

	failedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	statusBarStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255"))
)

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	header := fmt.Sprintf(" hdl-regress │ Phase: %s │ Done: %d/%d │ Passed: %d │ Failed: %d │ Workers: %d/%d ",
		m.phase, m.done, m.total, m.passed, m.failed+m.errored, m.slots, m.maxSlots)
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(m.renderProgress())
	b.WriteString("\n")

	b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderRunning()))
	b.WriteString("\n")
	b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderRecent()))
	b.WriteString("\n")

	if m.finished {
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderOutcome()))
		b.WriteString("\n")
	}

	status := fmt.Sprintf(" Elapsed %s │ q: detach (runs continue) ", formatDuration(m.now.Sub(m.started)))
	b.WriteString(statusBarStyle.Width(m.width).Render(status))
	return b.String()
}

func (m Model) renderProgress() string {
	barWidth := m.width - 12
	if barWidth < 10 {
		barWidth = 10
	}
	filled := 0
	pct := 0
	if m.total > 0 {
		filled = m.done * barWidth / m.total
		pct = m.done * 100 / m.total
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	return fmt.Sprintf(" %s %3d%%", runningStyle.Render(bar), pct)
}

func (m Model) renderRunning() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("RUNNING"))
	b.WriteString("\n")

	tasks := m.activeTasks()
	if len(tasks) == 0 {
		if m.total > 0 && m.done == m.total {
			b.WriteString(queuedStyle.Render("  All runs completed"))
		} else {
			b.WriteString(queuedStyle.Render("  No runs in flight"))
		}
		return b.String()
	}

	for _, t := range tasks {
		line := fmt.Sprintf("  ● %-28s seed %d  %s",
			truncate(t.Label, 28), t.Seed, formatDuration(m.now.Sub(t.Started)))
		b.WriteString(runningStyle.Render(line))
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) renderRecent() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("FINISHED (last %d)", recentLimit)))
	b.WriteString("\n")

	if len(m.recent) == 0 {
		b.WriteString(queuedStyle.Render("  Nothing finished yet"))
		return b.String()
	}

	for _, t := range m.recent {
		b.WriteString(formatFinished(t))
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) renderOutcome() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("RESULT"))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(failedStyle.Render("  " + m.err.Error()))
		return b.String()
	}
	if inv := m.invocation; inv != nil {
		line := fmt.Sprintf("  %d/%d passed, %d databases merged", inv.Passed, inv.Total, inv.MergeInputs)
		if inv.ReportOK {
			line += ", report written"
		}
		if inv.Healthy() {
			b.WriteString(runningStyle.Render(line))
		} else {
			b.WriteString(warningStyle.Render(line))
		}
	}
	if m.covFail > 0 {
		b.WriteString("\n")
		b.WriteString(warningStyle.Render(fmt.Sprintf("  %d runs passed without usable coverage", m.covFail)))
	}
	return b.String()
}

func formatFinished(t *TaskView) string {
	switch t.Status {
	case domain.RunPassed:
		line := fmt.Sprintf("  ✓ %-28s seed %d  %s", truncate(t.Label, 28), t.Seed, formatDuration(t.Duration))
		if t.Coverage == domain.CoverageFailed {
			return warningStyle.Render(line + "  (no coverage)")
		}
		return runningStyle.Render(line)
	case domain.RunFailed:
		return failedStyle.Render(fmt.Sprintf("  ✗ %-28s seed %d  exit %d", truncate(t.Label, 28), t.Seed, t.ExitCode))
	default:
		return failedStyle.Render(fmt.Sprintf("  ! %-28s seed %d  could not start", truncate(t.Label, 28), t.Seed))
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
}
