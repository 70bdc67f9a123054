package notify

import (
	"fmt"
	"time"

	"github.com/hochfrequenz/hdl-regress/internal/domain"
)

// FromInvocation describes a finished invocation. A failed merge outranks
// failed runs.
func FromInvocation(inv *domain.Invocation, mergeErr error, reportPath string) Notification {
	n := Notification{
		Invocation: inv,
		MergeErr:   mergeErr,
		Severity:   SeverityPass,
		Title:      "Regression passed",
	}
	if inv.ReportOK {
		n.ReportPath = reportPath
	}

	switch {
	case mergeErr != nil:
		n.Severity = SeverityFail
		n.Title = "Regression coverage merge failed"
	case !inv.Healthy():
		n.Severity = SeverityWarn
		n.Title = fmt.Sprintf("Regression: %d of %d runs failed", inv.Failed+inv.Errored, inv.Total)
	case inv.Total == 0:
		n.Severity = SeverityInfo
		n.Title = "Regression found no test units"
	}
	return n
}

// Headline is the one-line run outcome, e.g. "11/12 runs passed across 3 units in 2m5s"
func (n Notification) Headline() string {
	inv := n.Invocation
	if inv == nil {
		return ""
	}
	return fmt.Sprintf("%d/%d runs passed across %d units in %s",
		inv.Passed, inv.Total, len(inv.Units), inv.Duration().Round(time.Second))
}

// CoverageLine states what happened to the cumulative database
func (n Notification) CoverageLine() string {
	inv := n.Invocation
	switch {
	case n.MergeErr != nil:
		return "coverage merge failed: " + n.MergeErr.Error()
	case inv == nil || inv.Total == 0:
		return ""
	case inv.Merged:
		return fmt.Sprintf("%d run databases merged into the cumulative database", inv.MergeInputs)
	default:
		return "no new coverage merged"
	}
}
