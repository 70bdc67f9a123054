// Package notify tells the user how a regression invocation went.
package notify

import (
	"errors"

	"github.com/hochfrequenz/hdl-regress/internal/domain"
)

// Severity ranks the outcome of an invocation
type Severity int

const (
	SeverityInfo Severity = iota // nothing to run
	SeverityPass
	SeverityWarn // failed or errored runs
	SeverityFail // the cumulative database could not be updated
)

func (s Severity) String() string {
	switch s {
	case SeverityPass:
		return "pass"
	case SeverityWarn:
		return "warn"
	case SeverityFail:
		return "fail"
	default:
		return "info"
	}
}

// Notification is one finished invocation as the transports render it
type Notification struct {
	Severity   Severity
	Title      string
	Invocation *domain.Invocation
	MergeErr   error
	ReportPath string // empty when no report was written
}

// Notifier delivers notifications
type Notifier interface {
	Send(n Notification) error
}

// Fanout sends to every notifier; one failing transport does not stop the others
type Fanout []Notifier

func (f Fanout) Send(n Notification) error {
	var errs []error
	for _, notifier := range f {
		if err := notifier.Send(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every notification
type Discard struct{}

func (Discard) Send(Notification) error { return nil }
