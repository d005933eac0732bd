package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/FranksOps/rankscout/internal/model"
	"github.com/FranksOps/rankscout/internal/storage"
)

var (
	_ storage.Backend   = (*Backend)(nil)
	_ storage.RunLoader = (*Backend)(nil)
)

// Backend keeps runs in a map keyed by run id. Saving a run id twice replaces
// the earlier run.
type Backend struct {
	mu   sync.RWMutex
	runs map[string]*model.RunResult
	// order of first save, for stable queries across runs
	order []string
}

// New returns an empty in-memory backend.
func New() *Backend {
	return &Backend{runs: make(map[string]*model.RunResult)}
}

func (b *Backend) SaveRun(ctx context.Context, run *model.RunResult) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("memory: run without id")
	}
	storage.Stamp(run)

	cp := *run
	cp.Observations = make([]*model.Observation, len(run.Observations))
	for i, o := range run.Observations {
		oc := *o
		cp.Observations[i] = &oc
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.runs[run.ID]; !ok {
		b.order = append(b.order, run.ID)
	}
	b.runs[run.ID] = &cp
	return nil
}

func (b *Backend) Query(ctx context.Context, filter storage.Filter) ([]*model.Observation, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var all []*model.Observation
	for _, id := range b.order {
		all = append(all, b.runs[id].Observations...)
	}
	return filter.Apply(all), nil
}

func (b *Backend) LoadRun(ctx context.Context, id string) (*model.RunResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	run, ok := b.runs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *run
	cp.Observations = append([]*model.Observation(nil), run.Observations...)
	return &cp, nil
}

// Runs returns the ids of stored runs in the order they were first saved.
func (b *Backend) Runs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.order...)
}

func (b *Backend) Close() error {
	return nil
}
