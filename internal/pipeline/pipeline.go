// Package pipeline runs a full regression invocation: discovery, scheduled
// runs with coverage collection, the master log, the cumulative merge and
// the report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hochfrequenz/hdl-regress/internal/artifacts"
	"github.com/hochfrequenz/hdl-regress/internal/config"
	"github.com/hochfrequenz/hdl-regress/internal/coverage"
	"github.com/hochfrequenz/hdl-regress/internal/discovery"
	"github.com/hochfrequenz/hdl-regress/internal/domain"
	"github.com/hochfrequenz/hdl-regress/internal/history"
	"github.com/hochfrequenz/hdl-regress/internal/masterlog"
	"github.com/hochfrequenz/hdl-regress/internal/notify"
	"github.com/hochfrequenz/hdl-regress/internal/runner"
	"github.com/hochfrequenz/hdl-regress/internal/scheduler"
)

// Options are the per-invocation knobs, usually from the command line
type Options struct {
	Runs     int
	Width    int
	Clean    bool
	Verbose  bool // detailed coverage report
	ResetLog bool
	Strict   bool // failed runs fail the invocation
}

// OptionsFromConfig returns the defaults configured for an invocation
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Runs:    cfg.General.Runs,
		Width:   cfg.General.Width,
		Verbose: cfg.Coverage.VerboseReport,
		Strict:  cfg.General.FailOnRunFailure,
	}
}

// Summary is what an invocation produced
type Summary struct {
	Invocation *domain.Invocation
	Results    []*domain.RunResult
	Merge      *coverage.MergeResult
	ReportErr  error
}

// Pipeline wires the regression components together
type Pipeline struct {
	cfg      *config.Config
	store    *artifacts.Store
	tool     *coverage.Tool
	observer Observer
	notifier notify.Notifier
	history  *history.Store
	seedRand *rand.Rand
	timeout  time.Duration
	newID    func() string
	now      func() time.Time
}

// New creates a pipeline from a validated configuration
func New(cfg *config.Config) (*Pipeline, error) {
	store, err := artifacts.New(cfg.General.ArtifactDir, cfg.General.CumulativeDB)
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.BuildTimeout()
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:      cfg,
		store:    store,
		tool:     coverage.NewTool(cfg.Coverage.Tool, cfg.General.Debug),
		observer: NopObserver{},
		notifier: notify.Discard{},
		timeout:  timeout,
		newID:    uuid.NewString,
		now:      time.Now,
	}, nil
}

// SetObserver routes progress events to o
func (p *Pipeline) SetObserver(o Observer) {
	if o == nil {
		o = NopObserver{}
	}
	p.observer = o
}

// SetNotifier sets where completion notifications go
func (p *Pipeline) SetNotifier(n notify.Notifier) {
	if n == nil {
		n = notify.Discard{}
	}
	p.notifier = n
}

// SetHistory enables recording invocations; nil disables it
func (p *Pipeline) SetHistory(h *history.Store) {
	p.history = h
}

// SetSeedSource makes seed generation reproducible
func (p *Pipeline) SetSeedSource(r *rand.Rand) {
	p.seedRand = r
}

// Store returns the artifact store
func (p *Pipeline) Store() *artifacts.Store { return p.store }

// Discover lists the test units under the configured root
func (p *Pipeline) Discover() ([]domain.TestUnit, error) {
	return discovery.Discover(p.cfg.General.TestsRoot, discovery.Options{
		Exclude: p.cfg.Discovery.Exclude,
		Prune:   []string{p.store.Dir()},
		Debug:   p.cfg.General.Debug,
	})
}

// Merge folds any per-run databases in the store into the cumulative one
func (p *Pipeline) Merge(ctx context.Context) (*coverage.MergeResult, error) {
	if err := p.store.Ensure(); err != nil {
		return nil, fmt.Errorf("preparing artifact store: %w", err)
	}
	return coverage.NewMerger(p.tool, p.store).Merge(ctx)
}

// Report renders the cumulative database into the report file
func (p *Pipeline) Report(ctx context.Context, verbose bool) error {
	return p.reporter().Report(ctx, verbose)
}

// Clean removes every coverage artifact including the cumulative database
func (p *Pipeline) Clean() ([]string, error) {
	if err := p.store.Ensure(); err != nil {
		return nil, err
	}
	return p.store.Clean()
}

// ReportPath returns where reports are written
func (p *Pipeline) ReportPath() string { return p.cfg.General.ReportFile }

func (p *Pipeline) reporter() *coverage.Reporter {
	return coverage.NewReporter(p.tool, p.store, p.cfg.General.ReportFile)
}

// Run executes one complete invocation. The returned error is a PhaseError
// naming the stage that failed; the summary is filled as far as the
// pipeline got.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Summary, error) {
	if opts.Runs < 1 {
		return nil, fmt.Errorf("runs must be >= 1, got %d", opts.Runs)
	}
	if opts.Width < 1 {
		return nil, fmt.Errorf("width must be >= 1, got %d", opts.Width)
	}

	inv := &domain.Invocation{
		ID:        p.newID(),
		StartedAt: p.now(),
		Runs:      opts.Runs,
		Width:     opts.Width,
	}
	summary := &Summary{Invocation: inv}

	if err := p.store.Ensure(); err != nil {
		return summary, &domain.PhaseError{Phase: domain.PhaseDiscovery, Err: fmt.Errorf("preparing artifact store: %w", err)}
	}
	if opts.Clean {
		removed, err := p.store.Clean()
		if err != nil {
			return summary, &domain.PhaseError{Phase: domain.PhaseDiscovery, Err: fmt.Errorf("cleaning artifact store: %w", err)}
		}
		log.Printf("[pipeline] cleaned %d artifacts", len(removed))
	}

	p.observer.PhaseStarted(domain.PhaseDiscovery)
	units, err := p.Discover()
	if err != nil {
		return summary, &domain.PhaseError{Phase: domain.PhaseDiscovery, Err: err}
	}
	inv.Units = discovery.Names(units)

	tasks, err := scheduler.BuildTasks(units, opts.Runs, scheduler.NewSeedGenerator(p.seedRand), p.store)
	if err != nil {
		return summary, &domain.PhaseError{Phase: domain.PhaseRun, Err: err}
	}
	p.observer.TasksPlanned(tasks)

	p.observer.PhaseStarted(domain.PhaseRun)
	mlog := masterlog.New(len(tasks))
	sched := scheduler.New(opts.Width, p.cfg.General.Debug)
	if so, ok := p.observer.(SlotObserver); ok {
		sched.Pool().SetOnSlotsChanged(func(active int) {
			so.SlotsChanged(active, sched.Pool().MaxJobs())
		})
	}
	inv.Width = scheduler.EffectiveWidth(opts.Width, len(tasks))

	results, err := sched.Run(ctx, tasks, p.taskFunc(mlog))
	summary.Results = results
	inv.Tally(results)
	if err != nil {
		return summary, &domain.PhaseError{Phase: domain.PhaseRun, Err: err}
	}

	p.observer.PhaseStarted(domain.PhaseLog)
	header := masterlog.Header{
		InvocationID: inv.ID,
		Timestamp:    inv.StartedAt,
		Units:        inv.Units,
		Runs:         opts.Runs,
		Width:        inv.Width,
		Total:        len(tasks),
	}
	if err := mlog.Write(p.cfg.General.MasterLog, header, opts.ResetLog); err != nil {
		return summary, p.finish(summary, &domain.PhaseError{Phase: domain.PhaseLog, Err: err})
	}

	p.observer.PhaseStarted(domain.PhaseMerge)
	merge, err := coverage.NewMerger(p.tool, p.store).Merge(ctx)
	summary.Merge = merge
	if merge != nil {
		inv.MergeInputs = len(merge.Inputs)
		inv.Merged = !merge.Skipped
	}
	if err != nil {
		return summary, p.finish(summary, &domain.PhaseError{Phase: domain.PhaseMerge, Err: err})
	}

	p.observer.PhaseStarted(domain.PhaseReport)
	if err := p.reporter().Report(ctx, opts.Verbose); err != nil {
		log.Printf("[pipeline] warning: %v", err)
		summary.ReportErr = err
	} else {
		inv.ReportOK = true
	}

	var runErr error
	if opts.Strict && !inv.Healthy() {
		runErr = &domain.PhaseError{
			Phase: domain.PhaseRun,
			Err:   fmt.Errorf("%d of %d runs did not pass", inv.Failed+inv.Errored, inv.Total),
		}
	}
	return summary, p.finish(summary, runErr)
}

// finish stamps the invocation, records it and sends the notification.
// It returns err unchanged.
func (p *Pipeline) finish(summary *Summary, err error) error {
	inv := summary.Invocation
	inv.FinishedAt = p.now()

	if p.history != nil {
		if herr := p.history.RecordInvocation(inv, summary.Results); herr != nil {
			log.Printf("[pipeline] recording history: %v", herr)
		}
	}

	var mergeErr error
	var me *domain.MergeError
	if errors.As(err, &me) {
		mergeErr = me
	}
	if nerr := p.notifier.Send(notify.FromInvocation(inv, mergeErr, p.cfg.General.ReportFile)); nerr != nil {
		log.Printf("[pipeline] sending notification: %v", nerr)
	}
	return err
}

func (p *Pipeline) taskFunc(mlog *masterlog.Log) scheduler.TaskFunc {
	executor := runner.NewExecutor(runner.ExecutorConfig{
		Command:  p.cfg.Build.Command,
		SeedVar:  p.cfg.Build.SeedVar,
		TraceVar: p.cfg.Build.TraceVar,
		Env:      p.cfg.Build.Env,
		Timeout:  p.timeout,
		OnOutput: p.outputCallback(),
		Debug:    p.cfg.General.Debug,
	})
	collector := coverage.NewCollector(p.tool, domain.CoverageTarget{
		Sources: p.cfg.Coverage.Sources,
		Top:     p.cfg.Coverage.Top,
		Scope:   p.cfg.Coverage.Scope,
	})

	return func(ctx context.Context, task domain.Task) *domain.RunResult {
		p.observer.TaskStarted(task)

		res, err := executor.Run(ctx, task)
		if err != nil {
			res = &domain.RunResult{
				Task:     task,
				ExitCode: -1,
				Status:   domain.RunError,
				Err:      err,
				Coverage: domain.CoverageSkipped,
			}
		}

		if res.Succeeded {
			if err := collector.Collect(ctx, task); err != nil {
				res.Coverage = domain.CoverageFailed
				res.CoverageErr = err
				// a half-written database must not reach the merge
				if rmErr := os.Remove(task.CoveragePath); rmErr != nil && !os.IsNotExist(rmErr) {
					log.Printf("[pipeline] removing %s: %v", task.CoveragePath, rmErr)
				}
			} else {
				res.Coverage = domain.CoverageCollected
			}
		}

		if err := mlog.Record(task.OrderIndex, masterlog.SectionFor(res)); err != nil {
			log.Printf("[pipeline] %v", err)
		}
		p.observer.TaskFinished(res)
		return res
	}
}

func (p *Pipeline) outputCallback() runner.OutputCallback {
	if !p.cfg.General.Debug {
		return nil
	}
	return func(task domain.Task, line string) {
		log.Printf("[%s] %s", task.Describe(), line)
	}
}
