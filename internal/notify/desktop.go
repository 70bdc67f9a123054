package notify

import (
	"fmt"
	"os/exec"
	"runtime"
)

// DesktopNotifier pops up the outcome through the OS notification service.
// Unsupported platforms are skipped silently.
type DesktopNotifier struct {
	enabled bool
	goos    string
	run     func(name string, args ...string) error
}

// NewDesktopNotifier creates a desktop notifier for the running platform
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{
		enabled: enabled,
		goos:    runtime.GOOS,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// Send shows the notification
func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}
	name, args, ok := desktopCommand(d.goos, n)
	if !ok {
		return nil
	}
	if err := d.run(name, args...); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// desktopCommand builds the notifier command line for goos
func desktopCommand(goos string, n Notification) (string, []string, bool) {
	body := n.Headline()
	if line := n.CoverageLine(); line != "" {
		if body != "" {
			body += "\n"
		}
		body += line
	}

	switch goos {
	case "linux":
		return "notify-send", []string{
			"-a", "hdl-regress",
			"-u", urgency(n.Severity),
			"-i", icon(n.Severity),
			n.Title, body,
		}, true
	case "darwin":
		script := fmt.Sprintf("display notification %q with title %q subtitle %q", body, n.Title, "hdl-regress")
		if n.Severity >= SeverityWarn {
			script += ` sound name "Basso"`
		}
		return "osascript", []string{"-e", script}, true
	default:
		return "", nil, false
	}
}

// urgency keeps unhealthy invocations on screen until dismissed
func urgency(s Severity) string {
	switch s {
	case SeverityWarn, SeverityFail:
		return "critical"
	case SeverityPass:
		return "normal"
	default:
		return "low"
	}
}

func icon(s Severity) string {
	switch s {
	case SeverityPass:
		return "dialog-positive"
	case SeverityWarn:
		return "dialog-warning"
	case SeverityFail:
		return "dialog-error"
	default:
		return "dialog-information"
	}
}
