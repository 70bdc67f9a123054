package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/hochfrequenz/hdl-regress/internal/config"
	"github.com/hochfrequenz/hdl-regress/internal/history"
	"github.com/hochfrequenz/hdl-regress/internal/notify"
	"github.com/hochfrequenz/hdl-regress/internal/pipeline"
	"github.com/hochfrequenz/hdl-regress/tui"
	"github.com/spf13/cobra"
)

var (
	runRuns     int
	runWidth    int
	runFresh    bool
	runVerbose  bool
	runResetLog bool
	runTUI      bool
	runStrict   bool

	reportVerbose bool
)

func init() {
	// run command
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full regression: discover, run, log, merge, report",
		RunE:  runRegression,
	}
	runCmd.Flags().IntVar(&runRuns, "runs", 1, "repetitions per test unit")
	runCmd.Flags().IntVar(&runWidth, "width", 4, "maximum concurrent runs")
	runCmd.Flags().BoolVar(&runFresh, "clean", false, "remove all coverage artifacts, the cumulative database included, before running")
	runCmd.Flags().BoolVar(&runVerbose, "verbose", false, "detailed coverage report")
	runCmd.Flags().BoolVar(&runResetLog, "reset-log", false, "truncate the master log instead of appending")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "show a live dashboard")
	runCmd.Flags().BoolVar(&runStrict, "strict", false, "exit non-zero when any run fails")
	rootCmd.AddCommand(runCmd)

	// discover command
	discoverCmd := &cobra.Command{
		Use:   "discover",
		Short: "List the test units that would run",
		RunE:  runDiscover,
	}
	rootCmd.AddCommand(discoverCmd)

	// merge command
	mergeCmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge leftover per-run coverage databases into the cumulative one",
		RunE:  runMerge,
	}
	rootCmd.AddCommand(mergeCmd)

	// report command
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Regenerate the coverage report from the cumulative database",
		RunE:  runReport,
	}
	reportCmd.Flags().BoolVar(&reportVerbose, "verbose", false, "detailed coverage report")
	rootCmd.AddCommand(reportCmd)

	// clean command
	cleanCmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove all coverage artifacts including the cumulative database",
		RunE:  runCleanStore,
	}
	rootCmd.AddCommand(cleanCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.FindLocalConfig()
	}
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadGlobal(config.DefaultConfigPath())
	}
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.General.Debug = true
	}
	return cfg, nil
}

// newPipeline builds a pipeline with history and notifications attached.
// The returned func releases the history database.
func newPipeline(cfg *config.Config) (*pipeline.Pipeline, func(), error) {
	p, err := pipeline.New(cfg)
	if err != nil {
		return nil, nil, err
	}

	p.SetNotifier(notify.Fanout{
		notify.NewDesktopNotifier(cfg.Notifications.Desktop),
		notify.NewSlackNotifier(cfg.Notifications.SlackWebhook),
	})

	closeFn := func() {}
	if cfg.General.HistoryDB != "" {
		store, err := history.New(cfg.General.HistoryDB)
		if err != nil {
			log.Printf("[history] disabled: %v", err)
		} else {
			p.SetHistory(store)
			closeFn = func() { store.Close() }
		}
	}
	return p, closeFn, nil
}

func runRegression(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	opts := pipeline.OptionsFromConfig(cfg)
	if cmd.Flags().Changed("runs") {
		opts.Runs = runRuns
	}
	if cmd.Flags().Changed("width") {
		opts.Width = runWidth
	}
	opts.Clean = runFresh
	opts.ResetLog = runResetLog
	opts.Verbose = opts.Verbose || runVerbose
	opts.Strict = opts.Strict || runStrict

	p, closeFn, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	if runTUI {
		return runWithTUI(cfg, p, opts)
	}

	p.SetObserver(pipeline.NewLogObserver(os.Stdout))
	fmt.Printf("Discovering test units under %s\n", cfg.General.TestsRoot)
	summary, err := p.Run(context.Background(), opts)
	printSummary(cfg, p, summary)
	return err
}

func runWithTUI(cfg *config.Config, p *pipeline.Pipeline, opts pipeline.Options) error {
	// keep log output off the alternate screen
	if cfg.General.Debug {
		f, err := tea.LogToFile(filepath.Join(filepath.Dir(cfg.General.MasterLog), "regress-debug.log"), "regress")
		if err != nil {
			return err
		}
		defer f.Close()
	} else {
		log.SetOutput(io.Discard)
	}
	defer log.SetOutput(os.Stderr)

	prog := tea.NewProgram(tui.NewModel(opts.Width), tea.WithAltScreen())
	p.SetObserver(tui.NewObserver(prog))

	var summary *pipeline.Summary
	var runErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		summary, runErr = p.Run(context.Background(), opts)
		msg := tui.DoneMsg{Err: runErr}
		if summary != nil {
			msg.Invocation = summary.Invocation
		}
		prog.Send(msg)
	}()

	if _, err := prog.Run(); err != nil {
		return err
	}
	// q only detaches the view; the regression always runs to completion
	<-done

	printSummary(cfg, p, summary)
	return runErr
}

func printSummary(cfg *config.Config, p *pipeline.Pipeline, s *pipeline.Summary) {
	if s == nil || s.Invocation == nil {
		return
	}
	inv := s.Invocation

	fmt.Println()
	fmt.Printf("Invocation %s finished in %s\n", inv.ID, inv.Duration().Round(time.Millisecond))
	fmt.Printf("  Units:    %d\n", len(inv.Units))
	fmt.Printf("  Runs:     %d passed, %d failed, %d errors (%d total)\n", inv.Passed, inv.Failed, inv.Errored, inv.Total)
	if s.Merge != nil {
		if s.Merge.Skipped {
			fmt.Printf("  Coverage: no new databases, merge skipped\n")
		} else {
			fmt.Printf("  Coverage: %d databases merged into %s (%s)\n",
				len(s.Merge.Inputs), s.Merge.Output, humanize.Bytes(uint64(p.Store().Size())))
		}
	}
	fmt.Printf("  Log:      %s\n", cfg.General.MasterLog)
	if s.ReportErr != nil {
		fmt.Printf("  Report:   not generated (%v)\n", s.ReportErr)
	} else if inv.ReportOK {
		fmt.Printf("  Report:   %s\n", cfg.General.ReportFile)
	}
}

func runDiscover(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p, err := pipeline.New(cfg)
	if err != nil {
		return err
	}

	units, err := p.Discover()
	if err != nil {
		return err
	}
	if len(units) == 0 {
		fmt.Printf("No test units under %s\n", cfg.General.TestsRoot)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "UNIT\tPATH\tCOVERAGE")
	for _, u := range units {
		target := "default"
		if u.Coverage != nil {
			target = "regress.yaml"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", u.Name, u.RootPath, target)
	}
	w.Flush()
	return nil
}

func runMerge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p, err := pipeline.New(cfg)
	if err != nil {
		return err
	}

	res, err := p.Merge(context.Background())
	if err != nil {
		return err
	}
	if res.Recovered {
		fmt.Println("Restored the cumulative database left by an interrupted merge")
	}
	if res.Skipped {
		fmt.Println("No per-run databases to merge")
		return nil
	}
	fmt.Printf("Merged %d databases into %s (%s), removed %d transient files\n",
		len(res.Inputs), res.Output, humanize.Bytes(uint64(p.Store().Size())), len(res.Purged))
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p, err := pipeline.New(cfg)
	if err != nil {
		return err
	}

	if err := p.Report(context.Background(), reportVerbose || cfg.Coverage.VerboseReport); err != nil {
		return err
	}
	fmt.Printf("Report written to %s\n", p.ReportPath())
	return nil
}

func runCleanStore(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p, err := pipeline.New(cfg)
	if err != nil {
		return err
	}

	removed, err := p.Clean()
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d files from %s\n", len(removed), p.Store().Dir())
	return nil
}
