package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/hochfrequenz/hdl-regress/internal/batch"
	"github.com/hochfrequenz/hdl-regress/internal/config"
	"github.com/hochfrequenz/hdl-regress/internal/pipeline"
	"github.com/hochfrequenz/hdl-regress/internal/watch"
	"github.com/spf13/cobra"
)

var watchInitial bool

func init() {
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run the regression whenever tests or design sources change",
		RunE:  runWatch,
	}
	watchCmd.Flags().BoolVar(&watchInitial, "initial", false, "run once before waiting for changes")
	rootCmd.AddCommand(watchCmd)

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the configured [[batch]] entries on their cron schedules",
		RunE:  runSchedule,
	}
	rootCmd.AddCommand(scheduleCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p, closeFn, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	p.SetObserver(pipeline.NewLogObserver(os.Stdout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// one pending trigger is enough; changes during a run fold into it
	trigger := make(chan []string, 1)
	w, err := watch.New(func(changed []string) {
		select {
		case trigger <- changed:
		default:
		}
	}, watchIgnores(cfg))
	if err != nil {
		return err
	}
	defer w.Stop()

	for _, dir := range watchRoots(cfg) {
		if err := w.AddTree(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	w.Start(ctx)

	if watchInitial {
		trigger <- nil
	}
	fmt.Printf("Watching %s for changes (Ctrl+C to stop)\n", cfg.General.TestsRoot)

	opts := pipeline.OptionsFromConfig(cfg)
	for {
		select {
		case <-ctx.Done():
			return nil
		case changed := <-trigger:
			if len(changed) > 0 {
				fmt.Printf("\n%d files changed, starting regression\n", len(changed))
			}
			summary, err := p.Run(ctx, opts)
			printSummary(cfg, p, summary)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		}
	}
}

// watchRoots returns the tests root plus every directory holding a design source
func watchRoots(cfg *config.Config) []string {
	roots := []string{cfg.General.TestsRoot}
	seen := map[string]bool{}
	if abs, err := filepath.Abs(cfg.General.TestsRoot); err == nil {
		seen[abs] = true
	}
	for _, src := range cfg.Coverage.Sources {
		dir, err := filepath.Abs(filepath.Dir(src))
		if err != nil || seen[dir] {
			continue
		}
		seen[dir] = true
		roots = append(roots, dir)
	}
	return roots
}

func watchIgnores(cfg *config.Config) []string {
	ignore := []string{cfg.General.ArtifactDir, cfg.General.MasterLog, cfg.General.ReportFile}
	if cfg.General.HistoryDB != "" {
		ignore = append(ignore, filepath.Dir(cfg.General.HistoryDB))
	}
	return ignore
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(cfg.Batches) == 0 {
		return fmt.Errorf("no [[batch]] entries configured")
	}

	sched, err := batch.NewScheduler(cfg.Batches)
	if err != nil {
		return err
	}
	p, closeFn, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	p.SetObserver(pipeline.NewLogObserver(os.Stdout))

	for _, name := range sched.ListBatches() {
		fmt.Printf("Batch %s: next run %s\n", name, sched.NextRun(name).Format("Mon Jan 2 15:04"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched.Start(ctx, func(ctx context.Context, b config.BatchConfig) error {
		opts := pipeline.OptionsFromConfig(cfg)
		opts.Runs = b.Runs
		if b.Width > 0 {
			opts.Width = b.Width
		}
		opts.Verbose = opts.Verbose || b.Verbose
		opts.Clean = b.Clean

		summary, err := p.Run(ctx, opts)
		printSummary(cfg, p, summary)
		return err
	})
	return nil
}
