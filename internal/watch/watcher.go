// Package watch triggers regressions when test benches or design sources change.
package watch

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeCallback is called with the files changed during one debounce window
type ChangeCallback func(changed []string)

// sourceExts are the file types a regression depends on
var sourceExts = map[string]bool{
	".v": true, ".vh": true, ".sv": true, ".svh": true,
	".vhd": true, ".vhdl": true,
	".py": true, ".mk": true,
}

// buildDirs are written by simulators and cocotb inside unit directories
var buildDirs = map[string]bool{
	"sim_build":   true,
	"__pycache__": true,
	"obj_dir":     true,
}

// Watcher monitors directory trees for source changes, skipping regression
// and simulator outputs
type Watcher struct {
	watcher  *fsnotify.Watcher
	callback ChangeCallback
	debounce time.Duration

	// ignored paths; anything under an ignored directory is skipped too
	ignore []string

	pending map[string]struct{}
	timer   *time.Timer
	mu      sync.Mutex

	cancel context.CancelFunc
}

// New creates a watcher. ignore holds paths (files or directories) whose
// changes never trigger a run, typically the artifact store and the logs.
func New(callback ChangeCallback, ignore []string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fw,
		callback: callback,
		debounce: 2 * time.Second, // simulators write in bursts
		pending:  make(map[string]struct{}),
	}
	for _, p := range ignore {
		if abs, err := filepath.Abs(p); err == nil {
			w.ignore = append(w.ignore, abs)
		}
	}
	return w, nil
}

// AddTree watches root and every directory below it
func (w *Watcher) AddTree(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	return filepath.WalkDir(abs, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable parts of the tree are not watched
		}
		if !d.IsDir() {
			return nil
		}
		if path != abs && (w.ignored(path) || buildDirs[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// Start begins watching for file changes
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[watch] %v", err)
			}
		}
	}()
}

// Stop stops watching for file changes
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	w.watcher.Close()
}

// SetDebounce sets how long changes are collected before the callback fires
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if w.ignored(event.Name) || scratchFile(filepath.Base(event.Name)) {
		return
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if buildDirs[filepath.Base(event.Name)] {
				return
			}
			if err := w.AddTree(event.Name); err != nil {
				log.Printf("[watch] adding %s: %v", event.Name, err)
			}
			return
		}
	}
	if !sourceFile(filepath.Base(event.Name)) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[event.Name] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	if w.callback == nil || len(pending) == 0 {
		return
	}
	files := make([]string, 0, len(pending))
	for f := range pending {
		files = append(files, f)
	}
	sort.Strings(files)
	w.callback(files)
}

func (w *Watcher) ignored(path string) bool {
	for _, ig := range w.ignore {
		if path == ig || strings.HasPrefix(path, ig+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// sourceFile reports whether a change to name can alter a regression result.
// Test results, waveforms and compiled simulators written by a run are not.
func sourceFile(name string) bool {
	lower := strings.ToLower(name)
	switch lower {
	case "makefile", "gnumakefile", "regress.yaml":
		return true
	}
	return sourceExts[filepath.Ext(lower)]
}

// scratchFile matches editor swap and backup files
func scratchFile(name string) bool {
	return strings.HasPrefix(name, ".") ||
		strings.HasSuffix(name, "~") ||
		strings.HasSuffix(name, ".swp") ||
		strings.HasPrefix(name, "#")
}
