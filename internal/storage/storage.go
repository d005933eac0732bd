package storage

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/FranksOps/rankscout/internal/model"
)

// ErrNotFound is returned by LoadRun for an unknown run id.
var ErrNotFound = errors.New("storage: run not found")

// Filter selects stored observations. Zero fields match everything.
type Filter struct {
	RunID      string
	Keyword    string
	BrandMatch *bool
	Since      *time.Time
	Limit      int
	Offset     int
}

// Sink accepts finished runs. It is all the orchestrator needs.
type Sink interface {
	SaveRun(ctx context.Context, run *model.RunResult) error
}

// Backend defines the interface for storing and querying rank-check results.
// Query returns observations ordered by creation time, then by their sequence
// within the run.
type Backend interface {
	Sink
	Query(ctx context.Context, filter Filter) ([]*model.Observation, error)
	Close() error
}

// RunLoader is implemented by backends that keep run-level metadata and can
// rebuild a whole RunResult.
type RunLoader interface {
	LoadRun(ctx context.Context, id string) (*model.RunResult, error)
}

// Match reports whether o passes every set field of f except paging.
func (f Filter) Match(o *model.Observation) bool {
	if f.RunID != "" && o.RunID != f.RunID {
		return false
	}
	if f.Keyword != "" && o.Keyword != f.Keyword {
		return false
	}
	if f.BrandMatch != nil && o.BrandMatch != *f.BrandMatch {
		return false
	}
	if f.Since != nil && o.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

// Apply filters, orders and pages observations in memory, for backends that
// cannot push the filter down.
func (f Filter) Apply(all []*model.Observation) []*model.Observation {
	out := make([]*model.Observation, 0, len(all))
	for _, o := range all {
		if f.Match(o) {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Seq < out[j].Seq
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []*model.Observation{}
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out
}

// Stamp assigns the run id and a 1-based sequence to every observation that
// lacks them, so backends can persist results built outside the orchestrator.
func Stamp(run *model.RunResult) {
	for i, o := range run.Observations {
		if o.RunID == "" {
			o.RunID = run.ID
		}
		if o.Seq == 0 {
			o.Seq = i + 1
		}
	}
}
