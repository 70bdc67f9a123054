// Package batch runs configured regression batches on cron schedules.
package batch

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/hochfrequenz/hdl-regress/internal/config"
	"github.com/robfig/cron/v3"
)

// RunFunc executes one batch
type RunFunc func(ctx context.Context, b config.BatchConfig) error

// Scheduler manages scheduled batch runs
type Scheduler struct {
	configs   map[string]config.BatchConfig
	schedules map[string]cron.Schedule
	lastRun   map[string]time.Time
	running   map[string]bool
	mu        sync.RWMutex
	// runMu serializes batches; they share one artifact store
	runMu sync.Mutex
	now   func() time.Time
	tick  time.Duration
}

// NewScheduler creates a new batch scheduler. Batches first become due at
// the schedule point following creation.
func NewScheduler(configs []config.BatchConfig) (*Scheduler, error) {
	s := &Scheduler{
		configs:   make(map[string]config.BatchConfig),
		schedules: make(map[string]cron.Schedule),
		lastRun:   make(map[string]time.Time),
		running:   make(map[string]bool),
		now:       time.Now,
		tick:      time.Minute,
	}

	created := s.now()
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.configs[cfg.Name]; dup {
			return nil, fmt.Errorf("duplicate batch name %q", cfg.Name)
		}
		sched, err := config.ParseCron(cfg.Cron)
		if err != nil {
			return nil, err
		}
		s.configs[cfg.Name] = cfg
		s.schedules[cfg.Name] = sched
		s.lastRun[cfg.Name] = created
	}

	return s, nil
}

// NextRun returns the next scheduled run time for a batch
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched, ok := s.schedules[name]
	if !ok {
		return time.Time{}
	}
	return sched.Next(s.now())
}

// ShouldRun returns true if a batch is due and not already running
func (s *Scheduler) ShouldRun(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched, ok := s.schedules[name]
	if !ok || s.running[name] {
		return false
	}
	nextRun := sched.Next(s.lastRun[name])
	return !s.now().Before(nextRun)
}

// MarkRunning marks a batch as currently running
func (s *Scheduler) MarkRunning(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = true
}

// MarkComplete marks a batch as complete
func (s *Scheduler) MarkComplete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = false
	s.lastRun[name] = s.now()
}

// GetConfig returns the config for a batch
func (s *Scheduler) GetConfig(name string) (config.BatchConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[name]
	return cfg, ok
}

// ListBatches returns all batch names, sorted
func (s *Scheduler) ListBatches() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.configs))
	for name := range s.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start runs due batches until ctx is cancelled. It waits for running
// batches before returning.
func (s *Scheduler) Start(ctx context.Context, runFunc RunFunc) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatch(ctx, runFunc, &wg)
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, runFunc RunFunc, wg *sync.WaitGroup) {
	for _, name := range s.ListBatches() {
		if !s.ShouldRun(name) {
			continue
		}
		cfg, _ := s.GetConfig(name)
		s.MarkRunning(name)
		wg.Add(1)
		go func(c config.BatchConfig) {
			defer wg.Done()
			defer s.MarkComplete(c.Name)

			s.runMu.Lock()
			defer s.runMu.Unlock()
			if ctx.Err() != nil {
				return
			}
			log.Printf("[batch] starting %s", c.Name)
			if err := runFunc(ctx, c); err != nil {
				log.Printf("[batch] %s failed: %v", c.Name, err)
			}
		}(cfg)
	}
}
