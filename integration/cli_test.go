//go:build integration

package integration

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestCLI_Discover(t *testing.T) {
	p := NewProject(t, "nes_basic", "snes_latch")
	// nested units are found, the artifact store never is
	if err := os.MkdirAll(p.Path("tests/group/deep_unit"), 0755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(p.Path("tests/group/deep_unit/makefile"), []byte("all:\n"), 0644)

	out, ok := p.Regress(t, nil, "discover")
	if !ok {
		t.Fatalf("discover failed:\n%s", out)
	}
	for _, unit := range []string{"nes_basic", "snes_latch", "deep_unit"} {
		if !strings.Contains(out, unit) {
			t.Errorf("discover output missing %s:\n%s", unit, out)
		}
	}
}

func TestCLI_RunTwiceAccumulatesCoverage(t *testing.T) {
	p := NewProject(t, "nes_basic", "snes_latch")

	out, ok := p.Regress(t, nil, "run", "--runs", "2", "--width", "3")
	if !ok {
		t.Fatalf("first run failed:\n%s", out)
	}
	if !strings.Contains(out, "4 passed, 0 failed") {
		t.Errorf("unexpected summary:\n%s", out)
	}
	first := Lines(p.Read(t, "cov/merged.cdd"))

	out, ok = p.Regress(t, nil, "run", "--runs", "2")
	if !ok {
		t.Fatalf("second run failed:\n%s", out)
	}
	second := p.Read(t, "cov/merged.cdd")
	for _, line := range first {
		if !strings.Contains(second, line) {
			t.Errorf("second run lost %q", line)
		}
	}
	if got := strings.Count(second, "seed:"); got != 8 {
		t.Errorf("cumulative database holds %d seeds, want 8", got)
	}

	entries, _ := os.ReadDir(p.Path("cov"))
	if len(entries) != 1 || entries[0].Name() != "merged.cdd" {
		t.Errorf("artifact store not purged: %v", entries)
	}

	logText := p.Read(t, "latest_regress.log")
	if strings.Count(logText, "=== Regression Log ===") != 2 {
		t.Error("master log should hold one block per invocation")
	}
	seeds := regexp.MustCompile(`Using seed (\d+)`).FindAllStringSubmatch(logText, -1)
	if len(seeds) != 8 {
		t.Fatalf("found %d seeded sections, want 8", len(seeds))
	}
	for _, m := range seeds {
		if len(m[1]) != 10 {
			t.Errorf("seed %s is not a 10-digit value", m[1])
		}
	}

	if !strings.Contains(p.Read(t, "coverage.log"), "Coverage report for") {
		t.Error("report not written")
	}
}

func TestCLI_FailingUnitStillMerges(t *testing.T) {
	p := NewProject(t, "nes_basic", "snes_latch")
	os.WriteFile(p.Path("tests/snes_latch/FAIL"), nil, 0644)

	out, ok := p.Regress(t, nil, "run")
	if !ok {
		t.Fatalf("run without --strict should succeed:\n%s", out)
	}
	if !strings.Contains(out, "1 passed, 1 failed") {
		t.Errorf("unexpected summary:\n%s", out)
	}
	cum := p.Read(t, "cov/merged.cdd")
	if strings.Contains(cum, "toggle:snes_latch") || !strings.Contains(cum, "toggle:nes_basic") {
		t.Errorf("cumulative database = %q", cum)
	}

	if out, ok := p.Regress(t, nil, "run", "--strict"); ok {
		t.Errorf("--strict should exit non-zero:\n%s", out)
	}
}

func TestCLI_MergeFailureKeepsPrior(t *testing.T) {
	p := NewProject(t, "nes_basic")
	if out, ok := p.Regress(t, nil, "run"); !ok {
		t.Fatalf("run failed:\n%s", out)
	}
	prior := p.Read(t, "cov/merged.cdd")

	out, ok := p.Regress(t, []string{"FAKE_COVERED_FAIL=merge", "FAKE_COVERED_CLOBBER=1"}, "run")
	if ok {
		t.Fatalf("run with a failing merge should exit non-zero:\n%s", out)
	}
	if !strings.Contains(out, "merge phase failed") {
		t.Errorf("diagnostic should name the merge phase:\n%s", out)
	}
	if got := p.Read(t, "cov/merged.cdd"); got != prior {
		t.Errorf("cumulative database changed:\n%s\nwant\n%s", got, prior)
	}

	// the leftover run database is picked up by a standalone merge
	out, ok = p.Regress(t, nil, "merge")
	if !ok {
		t.Fatalf("merge failed:\n%s", out)
	}
	if got := strings.Count(p.Read(t, "cov/merged.cdd"), "seed:"); got != 2 {
		t.Errorf("cumulative holds %d seeds after recovery merge, want 2", got)
	}
}

func TestCLI_HistoryAndClean(t *testing.T) {
	p := NewProject(t, "nes_basic")
	if out, ok := p.Regress(t, nil, "run", "--runs", "3"); !ok {
		t.Fatalf("run failed:\n%s", out)
	}

	out, ok := p.Regress(t, nil, "history")
	if !ok {
		t.Fatalf("history failed:\n%s", out)
	}
	lines := Lines(out)
	if len(lines) != 2 {
		t.Fatalf("history should list one invocation:\n%s", out)
	}
	id := strings.Fields(lines[1])[0]

	out, ok = p.Regress(t, nil, "history", id)
	if !ok || strings.Count(out, "nes_basic") != 3 {
		t.Errorf("history %s should list three runs:\n%s", id, out)
	}

	seed := regexp.MustCompile(`Using seed (\d+)`).FindStringSubmatch(p.Read(t, "latest_regress.log"))[1]
	out, ok = p.Regress(t, nil, "history", "--seed", seed)
	if !ok || !strings.Contains(out, id) {
		t.Errorf("seed lookup should find invocation %s:\n%s", id, out)
	}

	out, ok = p.Regress(t, nil, "clean")
	if !ok {
		t.Fatalf("clean failed:\n%s", out)
	}
	if _, err := os.Stat(p.Path("cov/merged.cdd")); !os.IsNotExist(err) {
		t.Error("clean should remove the cumulative database")
	}
	// second clean is a no-op
	if out, ok := p.Regress(t, nil, "clean"); !ok || !strings.Contains(out, "Removed 0 files") {
		t.Errorf("second clean:\n%s", out)
	}
}

func TestCLI_UnitDescriptorOverridesTarget(t *testing.T) {
	p := NewProject(t, "nes_basic", "custom")
	descriptor := "top: custom_top\nscope: tb.dut\nsources:\n  - rtl/custom.v\n"
	if err := os.WriteFile(p.Path("tests/custom/regress.yaml"), []byte(descriptor), 0644); err != nil {
		t.Fatal(err)
	}

	if out, ok := p.Regress(t, nil, "run"); !ok {
		t.Fatalf("run failed:\n%s", out)
	}

	var custom, standard string
	for _, call := range Lines(p.Read(t, "covered.log")) {
		if !strings.HasPrefix(call, "score") {
			continue
		}
		if strings.Contains(call, "custom_top") {
			custom = call
		} else {
			standard = call
		}
	}
	if !strings.Contains(custom, "-i tb.dut") || !strings.Contains(custom, filepath.Join(p.Tests, "custom", "rtl", "custom.v")) {
		t.Errorf("custom unit score call = %q", custom)
	}
	if !strings.Contains(standard, "-t tqvp_nes_snes_controller") || !strings.Contains(standard, p.Path("rtl/peripheral.v")) {
		t.Errorf("default score call = %q", standard)
	}
}
