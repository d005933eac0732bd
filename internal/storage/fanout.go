package storage

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/FranksOps/rankscout/internal/model"
)

// Fanout saves every run to all of its backends concurrently. Queries are
// served by the first backend.
type Fanout []Backend

var _ Backend = Fanout(nil)

func (f Fanout) SaveRun(ctx context.Context, run *model.RunResult) error {
	Stamp(run)
	g, ctx := errgroup.WithContext(ctx)
	for i, b := range f {
		g.Go(func() error {
			if err := b.SaveRun(ctx, run); err != nil {
				return fmt.Errorf("storage: backend %d: %w", i, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (f Fanout) Query(ctx context.Context, filter Filter) ([]*model.Observation, error) {
	if len(f) == 0 {
		return []*model.Observation{}, nil
	}
	return f[0].Query(ctx, filter)
}

// LoadRun asks each backend that can load runs in order and returns the first hit.
func (f Fanout) LoadRun(ctx context.Context, id string) (*model.RunResult, error) {
	for _, b := range f {
		if l, ok := b.(RunLoader); ok {
			run, err := l.LoadRun(ctx, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return run, err
		}
	}
	return nil, ErrNotFound
}

func (f Fanout) Close() error {
	var errs []error
	for _, b := range f {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
