//go:build integration

package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/hochfrequenz/hdl-regress/internal/testutil"
)

var (
	buildOnce sync.Once
	builtPath string
	buildErr  error
	buildOut  []byte
)

// binaryPath builds the CLI once per test run and returns its path
func binaryPath(t *testing.T) string {
	t.Helper()
	buildOnce.Do(func() {
		_, filename, _, ok := runtime.Caller(0)
		if !ok {
			buildErr = os.ErrNotExist
			return
		}
		root := filepath.Dir(filepath.Dir(filename))
		dir, err := os.MkdirTemp("", "regress-bin")
		if err != nil {
			buildErr = err
			return
		}
		builtPath = filepath.Join(dir, "regress")
		cmd := exec.Command("go", "build", "-o", builtPath, "./cmd/regress")
		cmd.Dir = root
		buildOut, buildErr = cmd.CombinedOutput()
	})
	if buildErr != nil {
		t.Fatalf("Failed to build binary: %v\n%s", buildErr, buildOut)
	}
	return builtPath
}

// Project is a throwaway regression workspace with fake tools
type Project struct {
	Root       string
	Tests      string
	ConfigPath string
	CoveredLog string
}

// NewProject lays out tests/<unit>/Makefile for each unit and writes a
// regress.toml pointing at the fake build and coverage tools
func NewProject(t *testing.T, units ...string) *Project {
	t.Helper()
	root := t.TempDir()
	tools := filepath.Join(root, "tools")
	tests := filepath.Join(root, "tests")
	for _, dir := range []string{tools, tests} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}
	testutil.MakeUnits(t, tests, units...)

	p := &Project{
		Root:       root,
		Tests:      tests,
		ConfigPath: filepath.Join(root, "regress.toml"),
		CoveredLog: filepath.Join(root, "covered.log"),
	}

	config := `[general]
tests_root = "tests"
artifact_dir = "cov"
master_log = "latest_regress.log"
report_file = "coverage.log"
history_db = ".regress/history.db"
runs = 1
width = 2

[build]
command = ["` + testutil.WriteFakeMake(t, tools) + `"]

[coverage]
tool = "` + testutil.WriteFakeCovered(t, tools) + `"
sources = ["rtl/peripheral.v"]

[notifications]
desktop = false
`
	if err := os.WriteFile(p.ConfigPath, []byte(config), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return p
}

// Path resolves a project-relative path
func (p *Project) Path(rel string) string {
	return filepath.Join(p.Root, rel)
}

// Read returns a project file's content
func (p *Project) Read(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(p.Path(rel))
	if err != nil {
		t.Fatalf("reading %s: %v", rel, err)
	}
	return string(data)
}

// Regress runs the CLI against the project and returns combined output and
// whether it exited zero
func (p *Project) Regress(t *testing.T, extraEnv []string, args ...string) (string, bool) {
	t.Helper()
	cmd := exec.Command(binaryPath(t), append([]string{"--config", p.ConfigPath}, args...)...)
	cmd.Dir = p.Root
	cmd.Env = append(os.Environ(), "FAKE_COVERED_LOG="+p.CoveredLog)
	cmd.Env = append(cmd.Env, extraEnv...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			t.Fatalf("running regress: %v", err)
		}
		return string(out), false
	}
	return string(out), true
}

// Lines splits a file into its non-empty lines
func Lines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}
