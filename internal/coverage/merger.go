package coverage

import (
	"context"
	"fmt"
	"log"

	"github.com/hochfrequenz/hdl-regress/internal/artifacts"
	"github.com/hochfrequenz/hdl-regress/internal/domain"
)

// MergeResult describes what a merge consumed and produced
type MergeResult struct {
	Inputs        []string
	PriorIncluded bool
	Output        string
	Purged        []string
	Skipped       bool
	Recovered     bool
}

// Merger folds per-run databases into the cumulative database
type Merger struct {
	tool  *Tool
	store *artifacts.Store
}

// NewMerger creates a merger over the given artifact store
func NewMerger(tool *Tool, store *artifacts.Store) *Merger {
	return &Merger{tool: tool, store: store}
}

// MergeArgs builds the merge invocation. The stash, when present, is listed
// after the per-run inputs.
func (m *Merger) MergeArgs(inputs []string, stash string) []string {
	args := []string{"merge", "-d", m.store.Dir()}
	args = append(args, inputs...)
	if stash != "" {
		args = append(args, stash)
	}
	return append(args, "-o", m.store.CumulativePath())
}

// Merge runs one merge transaction: stash the prior cumulative database,
// merge it with every per-run database, then drop the stash and purge
// transient artifacts. On failure the prior database is restored.
func (m *Merger) Merge(ctx context.Context) (*MergeResult, error) {
	result := &MergeResult{Output: m.store.CumulativePath()}

	recovered, err := m.store.RecoverStash()
	if err != nil {
		return nil, &domain.MergeError{Err: err}
	}
	if recovered {
		log.Printf("[coverage] restored %s from an interrupted merge", m.store.CumulativeName())
		result.Recovered = true
	}

	stashed, err := m.store.Stash()
	if err != nil {
		return nil, &domain.MergeError{Err: err}
	}

	inputs, err := m.store.RunDatabases()
	if err != nil {
		return nil, m.abort(stashed, fmt.Errorf("listing run databases: %w", err))
	}
	result.Inputs = inputs

	if len(inputs) == 0 {
		if err := m.store.DropStash(); err != nil {
			return nil, &domain.MergeError{Err: err}
		}
		log.Printf("[coverage] no per-run databases, merge skipped")
		result.Skipped = true
		return result, nil
	}

	stash := ""
	if stashed {
		stash = m.store.StashPath()
		result.PriorIncluded = true
	}

	out, err := m.tool.run(ctx, m.MergeArgs(inputs, stash)...)
	if err != nil {
		if len(out) > 0 {
			err = fmt.Errorf("%w\n%s", err, out)
		}
		return nil, m.abort(stashed, err)
	}
	if !m.store.HasCumulative() {
		return nil, m.abort(stashed, fmt.Errorf("merge tool did not write %s", m.store.CumulativeName()))
	}

	if err := m.store.DropStash(); err != nil {
		return nil, &domain.MergeError{Err: fmt.Errorf("removing stash: %w", err)}
	}

	purged, err := m.store.Purge(m.store.CumulativeName())
	result.Purged = purged
	if err != nil {
		return result, &domain.MergeError{Err: fmt.Errorf("purging transient artifacts: %w", err)}
	}

	log.Printf("[coverage] merged %d run databases into %s", len(inputs), m.store.CumulativeName())
	return result, nil
}

// abort puts the prior cumulative database back, or removes a partial one
// when there was none before
func (m *Merger) abort(stashed bool, cause error) error {
	if stashed {
		if err := m.store.Restore(); err != nil {
			return &domain.MergeError{Err: fmt.Errorf("%v; %w", cause, err)}
		}
		return &domain.MergeError{Err: cause, Restored: true}
	}
	if err := m.store.RemoveCumulative(); err != nil {
		log.Printf("[coverage] removing partial %s: %v", m.store.CumulativeName(), err)
	}
	return &domain.MergeError{Err: cause}
}
