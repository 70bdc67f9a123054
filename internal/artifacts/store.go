// Package artifacts manages the working directory shared by all regression
// runs: per-run traces, per-run coverage databases and the cumulative database.
package artifacts

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// TraceExt marks per-run simulation traces
	TraceExt = ".vcd"
	// DatabaseExt marks coverage databases
	DatabaseExt = ".cdd"
	// stashSuffix is appended to the cumulative name while a merge is in flight.
	// It does not end in DatabaseExt so the stash never looks like a per-run input.
	stashSuffix = ".stash"
)

// Store is a directory of coverage artifacts
type Store struct {
	dir        string
	cumulative string
}

// New creates a Store rooted at dir with the given cumulative database file name
func New(dir, cumulative string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if cumulative == "" || filepath.Base(cumulative) != cumulative {
		return nil, fmt.Errorf("cumulative database must be a plain file name, got %q", cumulative)
	}
	return &Store{dir: abs, cumulative: cumulative}, nil
}

// Dir returns the absolute store directory
func (s *Store) Dir() string { return s.dir }

// Ensure creates the store directory if absent
func (s *Store) Ensure() error {
	return os.MkdirAll(s.dir, 0755)
}

// TracePath is where the run with the given seed writes its trace
func (s *Store) TracePath(seed uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("tb_%d%s", seed, TraceExt))
}

// RunDatabasePath is where the coverage database for a seed is written
func (s *Store) RunDatabasePath(seed uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("cov_%d%s", seed, DatabaseExt))
}

// CumulativeName returns the fixed file name of the cumulative database
func (s *Store) CumulativeName() string { return s.cumulative }

// CumulativePath returns the fixed path of the cumulative database
func (s *Store) CumulativePath() string {
	return filepath.Join(s.dir, s.cumulative)
}

// StashPath returns where the prior cumulative database is parked during a merge
func (s *Store) StashPath() string {
	return s.CumulativePath() + stashSuffix
}

// HasCumulative reports whether a cumulative database exists
func (s *Store) HasCumulative() bool {
	return fileExists(s.CumulativePath())
}

// HasStash reports whether a stash is present
func (s *Store) HasStash() bool {
	return fileExists(s.StashPath())
}

// RunDatabases lists per-run coverage databases, sorted, excluding the cumulative one
func (s *Store) RunDatabases() ([]string, error) {
	names, err := s.list(func(name string) bool {
		return strings.HasSuffix(name, DatabaseExt) && name != s.cumulative
	})
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(s.dir, n)
	}
	return paths, nil
}

// Stash copies the cumulative database to the stash path. The original stays in
// place until the merge tool overwrites it. Returns false when there is nothing to stash.
func (s *Store) Stash() (bool, error) {
	if !s.HasCumulative() {
		return false, nil
	}
	if err := copyFile(s.CumulativePath(), s.StashPath()); err != nil {
		return false, fmt.Errorf("stashing %s: %w", s.cumulative, err)
	}
	return true, nil
}

// Restore moves the stash back over the cumulative database
func (s *Store) Restore() error {
	if err := os.Rename(s.StashPath(), s.CumulativePath()); err != nil {
		return fmt.Errorf("restoring %s from stash: %w", s.cumulative, err)
	}
	return nil
}

// DropStash removes the stash after a successful merge
func (s *Store) DropStash() error {
	err := os.Remove(s.StashPath())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// RecoverStash puts back a stash left over by an interrupted merge. A stash
// only survives when its merge never completed, so it wins over whatever
// sits at the cumulative path.
func (s *Store) RecoverStash() (bool, error) {
	if !s.HasStash() {
		return false, nil
	}
	if err := s.Restore(); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveCumulative deletes the cumulative database, used when a first-ever merge fails half way
func (s *Store) RemoveCumulative() error {
	err := os.Remove(s.CumulativePath())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Purge removes every trace and coverage database whose file name is not in
// keep. Returns the removed file names.
func (s *Store) Purge(keep ...string) ([]string, error) {
	exceptions := make(map[string]bool, len(keep))
	for _, k := range keep {
		exceptions[filepath.Base(k)] = true
	}

	names, err := s.list(func(name string) bool {
		return (strings.HasSuffix(name, DatabaseExt) || strings.HasSuffix(name, TraceExt)) && !exceptions[name]
	})
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, name := range names {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("removing %s: %w", name, err)
		}
		removed = append(removed, name)
	}
	return removed, nil
}

// Clean wipes all coverage artifacts, the cumulative database and any stash included
func (s *Store) Clean() ([]string, error) {
	removed, err := s.Purge()
	if err != nil {
		return removed, err
	}
	if s.HasStash() {
		if err := s.DropStash(); err != nil {
			return removed, err
		}
		removed = append(removed, filepath.Base(s.StashPath()))
	}
	return removed, nil
}

// Size returns the size in bytes of the cumulative database, 0 if absent
func (s *Store) Size() int64 {
	info, err := os.Stat(s.CumulativePath())
	if err != nil {
		return 0
	}
	return info.Size()
}

func (s *Store) list(match func(name string) bool) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !match(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// copyFile writes src to dst through a temp file so dst is never half written
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".stash-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
