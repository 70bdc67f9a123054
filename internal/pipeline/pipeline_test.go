package pipeline

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/hochfrequenz/hdl-regress/internal/config"
	"github.com/hochfrequenz/hdl-regress/internal/domain"
	"github.com/hochfrequenz/hdl-regress/internal/history"
	"github.com/hochfrequenz/hdl-regress/internal/notify"
	"github.com/hochfrequenz/hdl-regress/internal/testutil"
)

type env struct {
	cfg   *config.Config
	tests string
	p     *Pipeline
}

func setup(t *testing.T, units ...string) *env {
	t.Helper()
	work := t.TempDir()
	tools := t.TempDir()
	tests := filepath.Join(work, "tests")
	if err := os.MkdirAll(tests, 0755); err != nil {
		t.Fatal(err)
	}
	testutil.MakeUnits(t, tests, units...)

	t.Setenv("FAKE_COVERED_FAIL", "")
	t.Setenv("FAKE_COVERED_CLOBBER", "")
	t.Setenv("FAKE_COVERED_LOG", "")

	cfg := config.Default()
	cfg.General.TestsRoot = tests
	cfg.General.ArtifactDir = filepath.Join(work, "cov")
	cfg.General.MasterLog = filepath.Join(work, "latest_regress.log")
	cfg.General.ReportFile = filepath.Join(work, "coverage.log")
	cfg.Build.Command = []string{testutil.WriteFakeMake(t, tools)}
	cfg.Coverage.Tool = testutil.WriteFakeCovered(t, tools)
	cfg.Coverage.Sources = []string{"/src/peripheral.v"}

	p, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	p.SetSeedSource(rand.New(rand.NewPCG(1, 2)))
	return &env{cfg: cfg, tests: tests, p: p}
}

func (e *env) read(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func (e *env) cumulative(t *testing.T) string {
	t.Helper()
	return e.read(t, e.p.Store().CumulativePath())
}

func opts(runs, width int) Options {
	return Options{Runs: runs, Width: width}
}

func TestRun_OrderedLogAndMergedCoverage(t *testing.T) {
	e := setup(t, "gamma", "alpha", "beta")

	summary, err := e.p.Run(context.Background(), opts(2, 3))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(summary.Results) != 6 {
		t.Fatalf("got %d results, want 6", len(summary.Results))
	}
	for i, r := range summary.Results {
		if r.Task.OrderIndex != i {
			t.Errorf("result %d has order index %d", i, r.Task.OrderIndex)
		}
		if r.Status != domain.RunPassed || r.Coverage != domain.CoverageCollected {
			t.Errorf("%s: status %s coverage %s", r.Task.Describe(), r.Status, r.Coverage)
		}
	}

	logText := e.read(t, e.cfg.General.MasterLog)
	last := -1
	for _, r := range summary.Results {
		marker := "=== [" + r.Task.Describe() + "] Using seed "
		idx := strings.Index(logText, marker)
		if idx <= last {
			t.Errorf("section %q missing or out of order", marker)
		}
		last = idx
	}
	if !strings.Contains(logText, "Test directories: alpha, beta, gamma") {
		t.Errorf("log header missing units:\n%s", logText)
	}

	cum := e.cumulative(t)
	for _, unit := range []string{"alpha", "beta", "gamma"} {
		if !strings.Contains(cum, "toggle:"+unit) {
			t.Errorf("cumulative database lacks %s", unit)
		}
	}
	if got := strings.Count(cum, "seed:"); got != 6 {
		t.Errorf("cumulative holds %d seeds, want 6", got)
	}

	entries, _ := os.ReadDir(e.p.Store().Dir())
	if len(entries) != 1 {
		t.Errorf("store holds %d entries after merge, want only the cumulative database", len(entries))
	}

	inv := summary.Invocation
	if inv.Passed != 6 || inv.Collected != 6 || inv.MergeInputs != 6 || !inv.Merged || !inv.ReportOK {
		t.Errorf("invocation = %+v", inv)
	}
	if !strings.Contains(e.read(t, e.cfg.General.ReportFile), "Coverage report for") {
		t.Error("report file not written")
	}
}

func TestRun_FailingRunContributesNoCoverage(t *testing.T) {
	e := setup(t, "alpha", "beta", "gamma")
	testutil.Touch(t, filepath.Join(e.tests, "beta", "FAIL"), "")

	summary, err := e.p.Run(context.Background(), opts(1, 2))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	beta := summary.Results[1]
	if beta.Task.Unit.Name != "beta" || beta.Status != domain.RunFailed || beta.ExitCode != 1 {
		t.Fatalf("beta result = %+v", beta)
	}
	if beta.Coverage != domain.CoverageSkipped {
		t.Errorf("failed run coverage = %s, want skipped", beta.Coverage)
	}
	if summary.Invocation.Failed != 1 || summary.Invocation.Passed != 2 {
		t.Errorf("invocation = %+v", summary.Invocation)
	}

	cum := e.cumulative(t)
	if strings.Contains(cum, "toggle:beta") {
		t.Error("failed run leaked into the cumulative database")
	}
	if !strings.Contains(cum, "toggle:alpha") || !strings.Contains(cum, "toggle:gamma") {
		t.Error("passing runs missing from cumulative database")
	}

	logText := e.read(t, e.cfg.General.MasterLog)
	betaAt := strings.Index(logText, "=== [beta run 1]")
	gammaAt := strings.Index(logText, "=== [gamma run 1]")
	failAt := strings.Index(logText, "assertion failed in beta")
	if failAt < betaAt || failAt > gammaAt {
		t.Error("failure output should sit inside the beta section")
	}
	if !strings.Contains(logText, "--- beta run 1: FAIL (exit 1), coverage skipped ---") {
		t.Error("missing FAIL status line")
	}
}

func TestRun_StrictFailsAfterWritingArtifacts(t *testing.T) {
	e := setup(t, "alpha", "beta")
	testutil.Touch(t, filepath.Join(e.tests, "alpha", "FAIL"), "")

	o := opts(1, 2)
	o.Strict = true
	summary, err := e.p.Run(context.Background(), o)

	var pe *domain.PhaseError
	if !errors.As(err, &pe) || pe.Phase != domain.PhaseRun {
		t.Fatalf("got %v, want run PhaseError", err)
	}
	if !summary.Invocation.Merged {
		t.Error("merge should still run before the strict check")
	}
	if _, err := os.Stat(e.cfg.General.MasterLog); err != nil {
		t.Error("master log should be written")
	}
}

func TestRun_CoverageCollectionFailureKeepsRun(t *testing.T) {
	e := setup(t, "alpha", "beta")
	testutil.Touch(t, filepath.Join(e.tests, "alpha", "NOTRACE"), "")

	summary, err := e.p.Run(context.Background(), opts(1, 2))
	if err != nil {
		t.Fatal(err)
	}

	alpha := summary.Results[0]
	if alpha.Status != domain.RunPassed || alpha.Coverage != domain.CoverageFailed {
		t.Errorf("alpha = status %s coverage %s", alpha.Status, alpha.Coverage)
	}
	var ce *domain.CoverageCollectionError
	if !errors.As(alpha.CoverageErr, &ce) {
		t.Errorf("CoverageErr = %v", alpha.CoverageErr)
	}
	if summary.Invocation.MergeInputs != 1 {
		t.Errorf("MergeInputs = %d, want 1", summary.Invocation.MergeInputs)
	}
	if !strings.Contains(e.read(t, e.cfg.General.MasterLog), "coverage failed") {
		t.Error("log should show the coverage failure")
	}
}

func TestRun_CoverageAccumulatesAcrossInvocations(t *testing.T) {
	e := setup(t, "alpha")

	if _, err := e.p.Run(context.Background(), opts(1, 1)); err != nil {
		t.Fatal(err)
	}
	first := e.cumulative(t)

	if _, err := e.p.Run(context.Background(), opts(1, 1)); err != nil {
		t.Fatal(err)
	}
	second := e.cumulative(t)

	for _, line := range strings.Split(strings.TrimSpace(first), "\n") {
		if !strings.Contains(second, line) {
			t.Errorf("second invocation dropped %q", line)
		}
	}
	if got := strings.Count(second, "seed:"); got != 2 {
		t.Errorf("cumulative holds %d seeds, want 2", got)
	}

	logText := e.read(t, e.cfg.General.MasterLog)
	if got := strings.Count(logText, "=== Regression Log ==="); got != 2 {
		t.Errorf("master log holds %d blocks, want 2 (append)", got)
	}
}

func TestRun_ResetLog(t *testing.T) {
	e := setup(t, "alpha")
	for i := 0; i < 2; i++ {
		if _, err := e.p.Run(context.Background(), opts(1, 1)); err != nil {
			t.Fatal(err)
		}
	}

	o := opts(1, 1)
	o.ResetLog = true
	if _, err := e.p.Run(context.Background(), o); err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(e.read(t, e.cfg.General.MasterLog), "=== Regression Log ==="); got != 1 {
		t.Errorf("master log holds %d blocks after reset, want 1", got)
	}
}

func TestRun_MergeFailureRestoresPrior(t *testing.T) {
	e := setup(t, "alpha", "beta")
	if _, err := e.p.Run(context.Background(), opts(1, 2)); err != nil {
		t.Fatal(err)
	}
	prior := e.cumulative(t)

	t.Setenv("FAKE_COVERED_FAIL", "merge")
	t.Setenv("FAKE_COVERED_CLOBBER", "1")
	_, err := e.p.Run(context.Background(), opts(1, 2))

	var pe *domain.PhaseError
	if !errors.As(err, &pe) || pe.Phase != domain.PhaseMerge {
		t.Fatalf("got %v, want merge PhaseError", err)
	}
	var me *domain.MergeError
	if !errors.As(err, &me) || !me.Restored {
		t.Errorf("got %v, want restored MergeError", err)
	}
	if got := e.cumulative(t); got != prior {
		t.Errorf("cumulative changed after failed merge:\n%s\nwant\n%s", got, prior)
	}
}

func TestRun_ReportFailureIsNotFatal(t *testing.T) {
	e := setup(t, "alpha")
	t.Setenv("FAKE_COVERED_FAIL", "report")

	summary, err := e.p.Run(context.Background(), opts(1, 1))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	var re *domain.ReportError
	if !errors.As(summary.ReportErr, &re) {
		t.Errorf("ReportErr = %v, want ReportError", summary.ReportErr)
	}
	if !e.p.Store().HasCumulative() {
		t.Error("cumulative database should survive a report failure")
	}
}

func TestRun_NoUnits(t *testing.T) {
	e := setup(t)

	summary, err := e.p.Run(context.Background(), opts(2, 4))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(summary.Results) != 0 {
		t.Errorf("got %d results", len(summary.Results))
	}
	if summary.Merge == nil || !summary.Merge.Skipped {
		t.Error("merge should be skipped")
	}
	if summary.ReportErr == nil {
		t.Error("report without a cumulative database should report an error")
	}
	if !strings.Contains(e.read(t, e.cfg.General.MasterLog), "Total tasks: 0") {
		t.Error("header should still be written")
	}
}

func TestRun_DiscoveryErrorIsFatal(t *testing.T) {
	e := setup(t, "alpha")
	e.cfg.General.TestsRoot = filepath.Join(e.tests, "missing")

	_, err := e.p.Run(context.Background(), opts(1, 1))
	var pe *domain.PhaseError
	if !errors.As(err, &pe) || pe.Phase != domain.PhaseDiscovery {
		t.Fatalf("got %v, want discovery PhaseError", err)
	}
	var de *domain.DiscoveryError
	if !errors.As(err, &de) {
		t.Error("expected DiscoveryError in chain")
	}
}

func TestRun_InvalidOptions(t *testing.T) {
	e := setup(t, "alpha")
	if _, err := e.p.Run(context.Background(), opts(0, 1)); err == nil {
		t.Error("runs 0 should be rejected")
	}
	if _, err := e.p.Run(context.Background(), opts(1, 0)); err == nil {
		t.Error("width 0 should be rejected")
	}
}

func TestRun_CleanStartsFresh(t *testing.T) {
	e := setup(t, "alpha")
	if err := os.MkdirAll(e.p.Store().Dir(), 0755); err != nil {
		t.Fatal(err)
	}
	testutil.Touch(t, e.p.Store().CumulativePath(), "old:coverage\n")

	o := opts(1, 1)
	o.Clean = true
	if _, err := e.p.Run(context.Background(), o); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(e.cumulative(t), "old:coverage") {
		t.Error("clean should discard the prior cumulative database")
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	phases   []domain.Phase
	planned  int
	started  int
	finished int
	peak     int
	max      int
}

func (o *recordingObserver) PhaseStarted(p domain.Phase) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phases = append(o.phases, p)
}

func (o *recordingObserver) TasksPlanned(tasks []domain.Task) { o.planned = len(tasks) }

func (o *recordingObserver) TaskStarted(domain.Task) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *recordingObserver) TaskFinished(*domain.RunResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished++
}

func (o *recordingObserver) SlotsChanged(active, max int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if active > o.peak {
		o.peak = active
	}
	o.max = max
}

func TestRun_ObserverAndWidthBound(t *testing.T) {
	e := setup(t, "a", "b", "c", "d", "e")
	for _, u := range []string{"a", "b", "c", "d", "e"} {
		testutil.Touch(t, filepath.Join(e.tests, u, "SLEEP"), "0.2")
	}
	obs := &recordingObserver{}
	e.p.SetObserver(obs)

	if _, err := e.p.Run(context.Background(), opts(2, 3)); err != nil {
		t.Fatal(err)
	}

	if obs.planned != 10 || obs.started != 10 || obs.finished != 10 {
		t.Errorf("planned %d started %d finished %d, want 10 each", obs.planned, obs.started, obs.finished)
	}
	if obs.peak > 3 || obs.peak < 1 {
		t.Errorf("peak concurrency = %d, want 1..3", obs.peak)
	}
	want := []domain.Phase{domain.PhaseDiscovery, domain.PhaseRun, domain.PhaseLog, domain.PhaseMerge, domain.PhaseReport}
	if len(obs.phases) != len(want) {
		t.Fatalf("phases = %v, want %v", obs.phases, want)
	}
	for i := range want {
		if obs.phases[i] != want[i] {
			t.Errorf("phase %d = %s, want %s", i, obs.phases[i], want[i])
		}
	}
}

type captureNotifier struct{ got []notify.Notification }

func (c *captureNotifier) Send(n notify.Notification) error {
	c.got = append(c.got, n)
	return nil
}

func TestRun_RecordsHistoryAndNotifies(t *testing.T) {
	e := setup(t, "alpha", "beta")
	store, err := history.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	notifier := &captureNotifier{}
	e.p.SetHistory(store)
	e.p.SetNotifier(notifier)
	e.p.newID = func() string { return "inv-fixed" }

	if _, err := e.p.Run(context.Background(), opts(2, 2)); err != nil {
		t.Fatal(err)
	}

	inv, err := store.GetInvocation("inv-fixed")
	if err != nil {
		t.Fatal(err)
	}
	if inv.Total != 4 || inv.Passed != 4 || !inv.Merged {
		t.Errorf("recorded invocation = %+v", inv)
	}
	recs, _ := store.ListResults("inv-fixed")
	if len(recs) != 4 {
		t.Errorf("recorded %d task results, want 4", len(recs))
	}

	if len(notifier.got) != 1 {
		t.Fatalf("got %d notifications, want 1", len(notifier.got))
	}
	if n := notifier.got[0]; n.Severity != notify.SeverityPass || n.Invocation.ID != "inv-fixed" {
		t.Errorf("notification = %+v", n)
	}
	if !strings.Contains(e.read(t, e.cfg.General.MasterLog), "Invocation: inv-fixed") {
		t.Error("master log should carry the invocation id")
	}
}

func TestMergeAndReportStandalone(t *testing.T) {
	e := setup(t)
	if err := e.p.Store().Ensure(); err != nil {
		t.Fatal(err)
	}
	testutil.Touch(t, e.p.Store().RunDatabasePath(1111111111), "line:1\n")

	res, err := e.p.Merge(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Inputs) != 1 || !e.p.Store().HasCumulative() {
		t.Errorf("merge result = %+v", res)
	}
	if err := e.p.Report(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(e.read(t, e.p.ReportPath()), "detail: verbose") {
		t.Error("verbose report expected")
	}

	removed, err := e.p.Clean()
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 1 || e.p.Store().HasCumulative() {
		t.Errorf("Clean() removed %v", removed)
	}
}
