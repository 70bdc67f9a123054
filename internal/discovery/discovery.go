// Package discovery finds invokable test units in a directory tree.
package discovery

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hochfrequenz/hdl-regress/internal/domain"
)

// BuildDescriptor is the file that marks a directory as a test unit (matched case-insensitively)
const BuildDescriptor = "makefile"

// Options tunes a discovery walk
type Options struct {
	// Exclude holds glob patterns matched against the directory's base name
	// and its slash-separated path relative to the root
	Exclude []string
	// Prune lists absolute directories that are never descended into
	Prune []string
	Debug bool
}

// Discover returns every subdirectory of root (root excluded) holding a build
// descriptor, sorted by path. A missing or unreadable root is a DiscoveryError.
func Discover(root string, opts Options) ([]domain.TestUnit, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, &domain.DiscoveryError{Root: root, Err: err}
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, &domain.DiscoveryError{Root: abs, Err: err}
	}
	if !info.IsDir() {
		return nil, &domain.DiscoveryError{Root: abs, Err: fmt.Errorf("not a directory")}
	}
	if _, err := os.ReadDir(abs); err != nil {
		return nil, &domain.DiscoveryError{Root: abs, Err: err}
	}

	pruned := make(map[string]bool, len(opts.Prune))
	for _, p := range opts.Prune {
		if p == "" {
			continue
		}
		if ap, err := filepath.Abs(p); err == nil {
			pruned[ap] = true
		}
	}

	var units []domain.TestUnit
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == abs {
				return walkErr
			}
			log.Printf("[discovery] skipping %s: %v", path, walkErr)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != abs {
			if pruned[path] || excluded(abs, path, opts.Exclude) {
				if opts.Debug {
					log.Printf("[discovery] pruning %s", path)
				}
				return fs.SkipDir
			}
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			log.Printf("[discovery] skipping %s: %v", path, err)
			return fs.SkipDir
		}
		if path == abs || !hasDescriptor(entries) {
			return nil
		}

		unit := domain.NewTestUnit(path)
		target, err := LoadDescriptor(path)
		if err != nil {
			log.Printf("[discovery] ignoring descriptor in %s: %v", path, err)
		} else {
			unit.Coverage = target
		}
		if opts.Debug {
			log.Printf("[discovery] found unit %s at %s", unit.Name, path)
		}
		units = append(units, unit)
		return nil
	})
	if err != nil {
		return nil, &domain.DiscoveryError{Root: abs, Err: err}
	}

	SortUnits(units)
	return units, nil
}

// SortUnits orders units by root path so task lists are reproducible
func SortUnits(units []domain.TestUnit) {
	sort.Slice(units, func(i, j int) bool {
		return units[i].RootPath < units[j].RootPath
	})
}

// Names returns the unit names in order
func Names(units []domain.TestUnit) []string {
	names := make([]string, len(units))
	for i, u := range units {
		names[i] = u.Name
	}
	return names
}

func hasDescriptor(entries []fs.DirEntry) bool {
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(e.Name(), BuildDescriptor) {
			return true
		}
	}
	return false
}

func excluded(root, path string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	base := filepath.Base(path)
	for _, pattern := range patterns {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
