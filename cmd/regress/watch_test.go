package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hochfrequenz/hdl-regress/internal/config"
	"github.com/hochfrequenz/hdl-regress/internal/pipeline"
	"github.com/hochfrequenz/hdl-regress/internal/testutil"
	"github.com/hochfrequenz/hdl-regress/internal/watch"
)

func TestWatch_RunDoesNotRetrigger(t *testing.T) {
	work := t.TempDir()
	tools := t.TempDir()
	tests := filepath.Join(work, "tests")
	units := testutil.MakeUnits(t, tests, "nes")
	t.Setenv("FAKE_COVERED_FAIL", "")
	t.Setenv("FAKE_COVERED_CLOBBER", "")
	t.Setenv("FAKE_COVERED_LOG", "")

	cfg := config.Default()
	cfg.General.TestsRoot = tests
	cfg.General.ArtifactDir = filepath.Join(work, "cov")
	cfg.General.MasterLog = filepath.Join(work, "latest_regress.log")
	cfg.General.ReportFile = filepath.Join(work, "coverage.log")
	cfg.General.HistoryDB = filepath.Join(work, ".regress", "history.db")
	cfg.Build.Command = []string{testutil.WriteFakeMake(t, tools)}
	cfg.Coverage.Tool = testutil.WriteFakeCovered(t, tools)
	cfg.Coverage.Sources = []string{filepath.Join(work, "src", "peripheral.v")}

	p, err := pipeline.New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	changes := make(chan []string, 10)
	w, err := watch.New(func(files []string) { changes <- files }, watchIgnores(cfg))
	if err != nil {
		t.Fatal(err)
	}
	w.SetDebounce(50 * time.Millisecond)
	for _, dir := range watchRoots(cfg) {
		if err := w.AddTree(dir); err != nil {
			t.Fatal(err)
		}
	}
	w.Start(context.Background())
	t.Cleanup(w.Stop)

	if _, err := p.Run(context.Background(), pipeline.Options{Runs: 2, Width: 2}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(units[0], "results.xml")); err != nil {
		t.Fatalf("build should have written results.xml: %v", err)
	}

	select {
	case files := <-changes:
		t.Fatalf("a regression run triggered another run: %v", files)
	case <-time.After(500 * time.Millisecond):
	}

	src := filepath.Join(units[0], "test_nes.py")
	if err := os.WriteFile(src, []byte("import cocotb\n"), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case files := <-changes:
		if len(files) != 1 || files[0] != src {
			t.Errorf("got %v, want [%s]", files, src)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("testbench edit did not trigger a run")
	}
}
