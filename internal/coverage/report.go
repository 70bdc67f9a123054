package coverage

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/hochfrequenz/hdl-regress/internal/artifacts"
	"github.com/hochfrequenz/hdl-regress/internal/domain"
)

// Reporter renders the cumulative database into a text report
type Reporter struct {
	tool       *Tool
	store      *artifacts.Store
	reportPath string
}

// NewReporter creates a reporter writing to reportPath
func NewReporter(tool *Tool, store *artifacts.Store, reportPath string) *Reporter {
	return &Reporter{tool: tool, store: store, reportPath: reportPath}
}

// Path returns the report file location
func (r *Reporter) Path() string { return r.reportPath }

// ReportArgs builds the report invocation
func (r *Reporter) ReportArgs(verbose bool) []string {
	args := []string{"report"}
	if verbose {
		args = append(args, "-d", "v")
	}
	return append(args, r.store.CumulativePath())
}

// Report overwrites the report file with the tool's output. Failures come
// back as ReportError and never invalidate the other artifacts.
func (r *Reporter) Report(ctx context.Context, verbose bool) error {
	if !r.store.HasCumulative() {
		return &domain.ReportError{Err: errors.New("no cumulative database to report on")}
	}
	if dir := filepath.Dir(r.reportPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return &domain.ReportError{Err: err}
		}
	}

	f, err := os.Create(r.reportPath)
	if err != nil {
		return &domain.ReportError{Err: err}
	}
	defer f.Close()

	if err := r.tool.runTo(ctx, f, r.ReportArgs(verbose)...); err != nil {
		return &domain.ReportError{Err: err}
	}
	return nil
}
