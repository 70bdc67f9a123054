package scheduler

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/hochfrequenz/hdl-regress/internal/discovery"
	"github.com/hochfrequenz/hdl-regress/internal/domain"
)

// PathSource derives per-task artifact paths from a seed
type PathSource interface {
	TracePath(seed uint64) string
	RunDatabasePath(seed uint64) string
}

// SeedGenerator draws stimulus seeds uniformly from [SeedMin, SeedMax).
// Seeds are unique within one generator; a collision is re-drawn.
type SeedGenerator struct {
	mu   sync.Mutex
	rng  *rand.Rand
	used map[uint64]struct{}
}

// NewSeedGenerator creates a generator. A nil rng uses a randomly seeded PCG.
func NewSeedGenerator(rng *rand.Rand) *SeedGenerator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &SeedGenerator{rng: rng, used: make(map[uint64]struct{})}
}

// Next returns a seed not previously handed out by this generator
func (g *SeedGenerator) Next() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		seed := domain.SeedMin + g.rng.Uint64N(domain.SeedMax-domain.SeedMin)
		if _, dup := g.used[seed]; dup {
			continue
		}
		g.used[seed] = struct{}{}
		return seed
	}
}

// BuildTasks expands units × runs into a flat task list. Units are ordered
// by path first, so equal inputs give equal orderings.
func BuildTasks(units []domain.TestUnit, runs int, seeds *SeedGenerator, paths PathSource) ([]domain.Task, error) {
	if runs < 1 {
		return nil, fmt.Errorf("runs must be >= 1, got %d", runs)
	}
	if seeds == nil {
		seeds = NewSeedGenerator(nil)
	}

	ordered := make([]domain.TestUnit, len(units))
	copy(ordered, units)
	discovery.SortUnits(ordered)

	tasks := make([]domain.Task, 0, len(ordered)*runs)
	for _, unit := range ordered {
		for run := 1; run <= runs; run++ {
			seed := seeds.Next()
			tasks = append(tasks, domain.Task{
				Unit:         unit,
				RunIndex:     run,
				Seed:         seed,
				TracePath:    paths.TracePath(seed),
				CoveragePath: paths.RunDatabasePath(seed),
				OrderIndex:   len(tasks),
			})
		}
	}
	return tasks, nil
}

// EffectiveWidth clamps the worker count to the task count, never below 1
func EffectiveWidth(width, tasks int) int {
	if width < 1 {
		width = 1
	}
	if tasks > 0 && width > tasks {
		return tasks
	}
	return width
}
