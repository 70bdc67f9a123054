// Package scheduler expands test units into randomized tasks and runs them
// on a bounded worker pool.
package scheduler

import (
	"context"
	"fmt"
	"log"

	"github.com/hochfrequenz/hdl-regress/internal/domain"
	"golang.org/x/sync/errgroup"
)

// TaskFunc executes one task. It must always return a result; task failures
// are reported inside the result, never by aborting the pool.
type TaskFunc func(ctx context.Context, task domain.Task) *domain.RunResult

// Scheduler runs tasks with at most Width in flight
type Scheduler struct {
	width int
	pool  *Pool
	debug bool
}

// New creates a scheduler for the given width (clamped to at least 1)
func New(width int, debug bool) *Scheduler {
	if width < 1 {
		width = 1
	}
	return &Scheduler{width: width, pool: NewPool(width), debug: debug}
}

// Width returns the configured concurrency bound
func (s *Scheduler) Width() int { return s.width }

// Pool exposes the slot tracker, mainly for progress reporting
func (s *Scheduler) Pool() *Pool { return s.pool }

// Run executes every task and blocks until all of them have finished.
// The returned slice is indexed by OrderIndex; each slot is written once by
// the task that owns it and read only after the join.
func (s *Scheduler) Run(ctx context.Context, tasks []domain.Task, fn TaskFunc) ([]*domain.RunResult, error) {
	results := make([]*domain.RunResult, len(tasks))
	for i, t := range tasks {
		if t.OrderIndex != i {
			return nil, fmt.Errorf("task %s has order index %d at position %d", t.Describe(), t.OrderIndex, i)
		}
	}

	width := EffectiveWidth(s.width, len(tasks))
	if s.debug {
		log.Printf("[scheduler] running %d tasks, %d at a time", len(tasks), width)
	}

	// Plain group, not WithContext: one task failing must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(width)

	for _, task := range tasks {
		// Go blocks while width tasks are in flight
		g.Go(func() error {
			if !s.pool.Acquire() {
				return fmt.Errorf("worker slot overflow for %s", task.Describe())
			}
			defer s.pool.Release()

			res := fn(ctx, task)
			if res == nil {
				res = &domain.RunResult{
					Task:     task,
					Status:   domain.RunError,
					Err:      fmt.Errorf("no result recorded"),
					Coverage: domain.CoverageSkipped,
				}
			}
			results[task.OrderIndex] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
