// Package testutil provides stand-ins for the external build and coverage
// tools so pipeline behaviour can be tested without a simulator installed.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// Fake coverage databases are plain text, one covered item per line; merge is
// a sorted union, so coverage can only grow. FAKE_COVERED_FAIL holds a comma
// separated list of subcommands to fail, FAKE_COVERED_CLOBBER makes a failing
// merge scribble over its output first, FAKE_COVERED_LOG records invocations.
const fakeCovered = `#!/bin/sh
cmd="$1"; shift
if [ -n "$FAKE_COVERED_LOG" ]; then echo "$cmd $*" >> "$FAKE_COVERED_LOG"; fi
case ",$FAKE_COVERED_FAIL," in
  *",$cmd,"*)
    if [ "$cmd" = merge ] && [ -n "$FAKE_COVERED_CLOBBER" ]; then
      while [ $# -gt 0 ]; do
        if [ "$1" = "-o" ]; then echo "half written" > "$2"; fi
        shift
      done
    fi
    echo "forced $cmd failure" >&2
    exit 1;;
esac
case "$cmd" in
score)
  out=""; vcd=""
  while [ $# -gt 0 ]; do
    case "$1" in
      -o) out="$2"; shift 2;;
      -vcd) vcd="$2"; shift 2;;
      *) shift;;
    esac
  done
  { echo "trace:$(basename "$vcd")"; cat "$vcd"; } > "$out"
  ;;
merge)
  out=""; inputs=""
  while [ $# -gt 0 ]; do
    case "$1" in
      -o) out="$2"; shift 2;;
      -d) shift 2;;
      *) inputs="$inputs $1"; shift;;
    esac
  done
  cat $inputs | sort -u > "$out.tmp" && mv "$out.tmp" "$out"
  ;;
report)
  db=""
  for a in "$@"; do db="$a"; done
  echo "Coverage report for $db"
  if [ "$1" = "-d" ]; then echo "detail: verbose"; fi
  echo "items: $(wc -l < "$db" | tr -d ' ')"
  sort "$db"
  ;;
*)
  echo "unknown command $cmd" >&2
  exit 2;;
esac
`

// Fake build: writes a trace at $VCD_PATH and fails when a file named FAIL
// exists in the unit directory. A SLEEP file (seconds) in the unit dir delays the run.
// Like a cocotb Makefile it leaves results.xml, sim_build/ and __pycache__/
// behind in the unit directory.
const fakeMake = `#!/bin/sh
for arg in "$@"; do
  case "$arg" in
    RANDOM_SEED=*) seed="${arg#RANDOM_SEED=}";;
    VCD_PATH=*) vcd="${arg#VCD_PATH=}";;
  esac
done
echo "running $(basename "$PWD") with seed $seed"
mkdir -p sim_build __pycache__
echo "vvp" > sim_build/sim.vvp
echo "pyc" > __pycache__/test_tb.cpython-312.pyc
if [ -f SLEEP ]; then sleep "$(cat SLEEP)"; fi
if [ -f FAIL ]; then
  echo "<testsuites><testsuite failures=\"1\"/></testsuites>" > results.xml
  echo "assertion failed in $(basename "$PWD")" >&2
  exit 1
fi
echo "<testsuites><testsuite failures=\"0\"/></testsuites>" > results.xml
if [ ! -f NOTRACE ]; then
  echo "toggle:$(basename "$PWD")" > "$vcd"
  echo "seed:$seed" >> "$vcd"
fi
echo "PASS"
`

// WriteFakeCovered installs the fake coverage tool in dir and returns its path
func WriteFakeCovered(t *testing.T, dir string) string {
	t.Helper()
	return writeScript(t, dir, "covered", fakeCovered)
}

// WriteFakeMake installs the fake build command in dir and returns its path
func WriteFakeMake(t *testing.T, dir string) string {
	t.Helper()
	return writeScript(t, dir, "fake-make", fakeMake)
}

// MakeUnits creates one directory with a Makefile per name under root
func MakeUnits(t *testing.T, root string, names ...string) []string {
	t.Helper()
	var dirs []string
	for _, name := range names {
		dir := filepath.Join(root, name)
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "Makefile"), []byte("all:\n\t@true\n"), 0644); err != nil {
			t.Fatal(err)
		}
		dirs = append(dirs, dir)
	}
	return dirs
}

// Touch creates an empty marker file (FAIL, NOTRACE) or one with content (SLEEP)
func Touch(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}
