package history

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hochfrequenz/hdl-regress/internal/domain"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func result(unit string, order, run int, seed uint64, status domain.RunStatus) *domain.RunResult {
	r := &domain.RunResult{
		Task: domain.Task{
			Unit:       domain.NewTestUnit("/tests/" + unit),
			RunIndex:   run,
			Seed:       seed,
			OrderIndex: order,
		},
		Status:   status,
		Coverage: domain.CoverageSkipped,
		Duration: 1500 * time.Millisecond,
	}
	if status == domain.RunPassed {
		r.Succeeded = true
		r.Coverage = domain.CoverageCollected
	} else {
		r.ExitCode = 2
	}
	return r
}

func invocation(id string, started time.Time) *domain.Invocation {
	return &domain.Invocation{
		ID:         id,
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		Units:      []string{"alpha", "beta"},
		Runs:       1,
		Width:      2,
	}
}

func TestStore_RecordAndGetInvocation(t *testing.T) {
	store := newStore(t)

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inv := invocation("inv-1", started)
	results := []*domain.RunResult{
		result("alpha", 0, 1, 1111111111, domain.RunPassed),
		result("beta", 1, 1, 2222222222, domain.RunFailed),
	}
	inv.Tally(results)
	inv.Merged = true

	if err := store.RecordInvocation(inv, results); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetInvocation("inv-1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if got.Duration() != time.Minute {
		t.Errorf("Duration() = %v, want 1m", got.Duration())
	}
	if got.Passed != 1 || got.Failed != 1 || got.Collected != 1 || !got.Merged {
		t.Errorf("counters = %+v", got)
	}
	if len(got.Units) != 2 || got.Units[1] != "beta" {
		t.Errorf("Units = %v", got.Units)
	}
}

func TestStore_ListResultsInOrder(t *testing.T) {
	store := newStore(t)

	inv := invocation("inv-1", time.Now().UTC())
	results := []*domain.RunResult{
		result("alpha", 0, 1, 1111111111, domain.RunPassed),
		result("alpha", 1, 2, 2222222222, domain.RunPassed),
		result("beta", 2, 1, 3333333333, domain.RunFailed),
	}
	results[2].Err = errors.New("boom")
	if err := store.RecordInvocation(inv, results); err != nil {
		t.Fatal(err)
	}

	recs, err := store.ListResults("inv-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	for i, rec := range recs {
		if rec.OrderIndex != i {
			t.Errorf("record %d has order index %d", i, rec.OrderIndex)
		}
	}
	if recs[2].Seed != 3333333333 || recs[2].Status != domain.RunFailed || recs[2].Error != "boom" {
		t.Errorf("got %+v", recs[2])
	}
	if recs[0].Duration != 1500*time.Millisecond {
		t.Errorf("Duration = %v", recs[0].Duration)
	}
}

func TestStore_RecordIsIdempotent(t *testing.T) {
	store := newStore(t)

	inv := invocation("inv-1", time.Now().UTC())
	results := []*domain.RunResult{result("alpha", 0, 1, 1111111111, domain.RunPassed)}
	for i := 0; i < 2; i++ {
		if err := store.RecordInvocation(inv, results); err != nil {
			t.Fatal(err)
		}
	}

	recs, _ := store.ListResults("inv-1")
	if len(recs) != 1 {
		t.Errorf("got %d records after recording twice, want 1", len(recs))
	}
}

func TestStore_ListInvocationsNewestFirst(t *testing.T) {
	store := newStore(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "middle", "new"} {
		if err := store.RecordInvocation(invocation(id, base.Add(time.Duration(i)*time.Hour)), nil); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.ListInvocations(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "new" || all[2].ID != "old" {
		var ids []string
		for _, inv := range all {
			ids = append(ids, inv.ID)
		}
		t.Errorf("got %v, want [new middle old]", ids)
	}

	limited, _ := store.ListInvocations(2)
	if len(limited) != 2 {
		t.Errorf("got %d with limit 2", len(limited))
	}
}

func TestStore_FindSeed(t *testing.T) {
	store := newStore(t)

	inv := invocation("inv-1", time.Now().UTC())
	results := []*domain.RunResult{
		result("alpha", 0, 1, 1111111111, domain.RunPassed),
		result("beta", 1, 1, 2222222222, domain.RunFailed),
	}
	if err := store.RecordInvocation(inv, results); err != nil {
		t.Fatal(err)
	}

	recs, err := store.FindSeed(2222222222)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Unit != "beta" || recs[0].UnitPath != "/tests/beta" {
		t.Errorf("FindSeed() = %+v", recs)
	}

	recs, _ = store.FindSeed(9999999999)
	if len(recs) != 0 {
		t.Errorf("unknown seed returned %d records", len(recs))
	}
}

func TestStore_GetMissingInvocation(t *testing.T) {
	store := newStore(t)
	if _, err := store.GetInvocation("nope"); err == nil {
		t.Error("expected error for unknown invocation")
	}
}

func TestNew_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".regress", "history.db")
	store, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	store.Close()
}
