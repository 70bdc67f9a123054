// Package coverage drives the external coverage tool: scoring per-run traces,
// merging databases into the cumulative one and rendering reports.
package coverage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
)

// Tool invokes the coverage command line tool (Covered by default)
type Tool struct {
	Binary string
	Debug  bool
}

// NewTool creates a Tool for the given binary
func NewTool(binary string, debug bool) *Tool {
	if binary == "" {
		binary = "covered"
	}
	return &Tool{Binary: binary, Debug: debug}
}

// run executes the tool and returns its combined output
func (t *Tool) run(ctx context.Context, args ...string) ([]byte, error) {
	var out bytes.Buffer
	err := t.runTo(ctx, &out, args...)
	return out.Bytes(), err
}

// runTo executes the tool writing stdout and stderr to w
func (t *Tool) runTo(ctx context.Context, w io.Writer, args ...string) error {
	if t.Debug {
		log.Printf("[coverage] running: %s %s", t.Binary, strings.Join(args, " "))
	}
	cmd := exec.CommandContext(ctx, t.Binary, args...)
	cmd.Stdout = w
	cmd.Stderr = w
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w", t.Binary, args[0], err)
	}
	return nil
}
