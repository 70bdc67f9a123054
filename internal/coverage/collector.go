package coverage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hochfrequenz/hdl-regress/internal/discovery"
	"github.com/hochfrequenz/hdl-regress/internal/domain"
)

// Collector turns a run's trace into a per-run coverage database
type Collector struct {
	tool     *Tool
	defaults domain.CoverageTarget
}

// NewCollector creates a collector using defaults for units without a descriptor
func NewCollector(tool *Tool, defaults domain.CoverageTarget) *Collector {
	return &Collector{tool: tool, defaults: defaults}
}

// Target resolves the coverage target for a task's unit
func (c *Collector) Target(task domain.Task) domain.CoverageTarget {
	return discovery.Merge(c.defaults, task.Unit.Coverage)
}

// ScoreArgs builds the score invocation for a task
func (c *Collector) ScoreArgs(task domain.Task, target domain.CoverageTarget) []string {
	args := []string{"score"}
	for _, src := range target.Sources {
		args = append(args, "-v", src)
	}
	return append(args,
		"-t", target.Top,
		"-i", target.Scope,
		"-vcd", task.TracePath,
		"-o", task.CoveragePath,
	)
}

// Collect scores the task's trace into task.CoveragePath. Any failure is a
// CoverageCollectionError scoped to this task.
func (c *Collector) Collect(ctx context.Context, task domain.Task) error {
	target := c.Target(task)
	if len(target.Sources) == 0 {
		return &domain.CoverageCollectionError{Seed: task.Seed, Err: errors.New("no design sources configured")}
	}
	if target.Top == "" || target.Scope == "" {
		return &domain.CoverageCollectionError{Seed: task.Seed, Err: errors.New("top module and scope are required")}
	}
	if _, err := os.Stat(task.TracePath); err != nil {
		return &domain.CoverageCollectionError{Seed: task.Seed, Err: fmt.Errorf("trace missing: %w", err)}
	}

	out, err := c.tool.run(ctx, c.ScoreArgs(task, target)...)
	if err != nil {
		return &domain.CoverageCollectionError{Seed: task.Seed, Output: string(out), Err: err}
	}
	if _, err := os.Stat(task.CoveragePath); err != nil {
		return &domain.CoverageCollectionError{Seed: task.Seed, Output: string(out), Err: fmt.Errorf("scorer wrote no database: %w", err)}
	}
	return nil
}
