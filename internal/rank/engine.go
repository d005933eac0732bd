package rank

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/FranksOps/rankscout/internal/metrics"
	"github.com/FranksOps/rankscout/internal/model"
	"github.com/FranksOps/rankscout/internal/normalize"
	"github.com/FranksOps/rankscout/internal/serp"
	"github.com/FranksOps/rankscout/pkg/ratelimit"
)

// DefaultPageDelay is the pause between consecutive page fetches.
const DefaultPageDelay = time.Second

// Config tunes an Engine. The zero value walks every page with the default
// pause and a rank counter that runs on across grid points.
type Config struct {
	Locale model.Locale
	// Pacer paces consecutive fetches. Nil means DefaultPageDelay.
	Pacer *ratelimit.Limiter
	// ResetRankPerPoint restarts rank numbering at 1 for every grid point
	// instead of continuing the task-wide stream.
	ResetRankPerPoint bool
	// MaxPages stops a grid point after this many pages. 0 walks until an
	// empty page.
	MaxPages int
	Logger   *slog.Logger
	// Now stamps CreatedAt. Defaults to time.Now.
	Now func() time.Time
}

// Fetch describes one completed call to the provider.
type Fetch struct {
	Task       model.Task
	Point      *model.GeoPoint
	PointIndex int
	Page       int
	Listings   int
	Err        error
}

// Engine checks where a task's brand ranks for its keyword. An Engine is not
// safe for concurrent use.
type Engine struct {
	provider serp.Provider
	cfg      Config
	pacer    *ratelimit.Limiter
	logger   *slog.Logger
	now      func() time.Time

	// OnFetch, if set, is called after every provider call, failed or not.
	OnFetch func(Fetch)
}

// New returns an Engine fetching from p.
func New(p serp.Provider, cfg Config) *Engine {
	cfg.Locale = cfg.Locale.WithDefaults()
	pacer := cfg.Pacer
	if pacer == nil {
		pacer = ratelimit.NewLimiter(DefaultPageDelay, 0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{provider: p, cfg: cfg, pacer: pacer, logger: logger, now: now}
}

// Check runs task against every point in order; an empty points slice means a
// single search without location bias. Observations come back in fetch order,
// followed by one not-found sentinel when nothing matched.
//
// A failed fetch aborts the task. The observations gathered before the failure
// are returned along with the error; no sentinel is added in that case.
func (e *Engine) Check(ctx context.Context, task model.Task, points []model.GeoPoint) ([]*model.Observation, error) {
	sig := normalize.NewSignature(task.BrandName, task.BranchName)

	targets := make([]*model.GeoPoint, 0, max(len(points), 1))
	if len(points) == 0 {
		targets = append(targets, nil)
	}
	for i := range points {
		targets = append(targets, &points[i])
	}

	var (
		observations []*model.Observation
		matched      bool
		rank         = 1
		pause        bool
	)

	for idx, point := range targets {
		if e.cfg.ResetRankPerPoint {
			rank = 1
		}

		for page := 1; e.cfg.MaxPages <= 0 || page <= e.cfg.MaxPages; page++ {
			if pause {
				if err := e.pacer.Wait(ctx); err != nil {
					return observations, err
				}
				pause = false
			}
			if err := ctx.Err(); err != nil {
				return observations, err
			}

			listings, err := e.provider.Search(ctx, serp.Request{
				Query:    task.Keyword,
				Country:  e.cfg.Locale.Country,
				Language: e.cfg.Locale.Language,
				Page:     page,
				Device:   e.cfg.Locale.Device,
				Point:    point,
			})
			if e.OnFetch != nil {
				e.OnFetch(Fetch{Task: task, Point: point, PointIndex: idx, Page: page, Listings: len(listings), Err: err})
			}
			if err != nil {
				return observations, fmt.Errorf("rank: fetch %q page %d: %w", task.Keyword, page, err)
			}
			if len(listings) == 0 {
				break
			}

			for _, l := range listings {
				o := e.observe(task, l, rank, page, point)
				o.BrandMatch = sig.Match(l.Title)
				if o.BrandMatch {
					matched = true
					e.logger.Debug("brand match",
						"keyword", task.Keyword,
						"title", l.Title,
						"rank", rank,
						"page", page,
					)
				}
				metrics.RecordObservation(o)
				observations = append(observations, o)
				rank++
			}
			pause = true
		}
	}

	if !matched {
		observations = append(observations, e.sentinel(task))
	}
	return observations, nil
}

func (e *Engine) observe(task model.Task, l serp.Listing, rank, page int, point *model.GeoPoint) *model.Observation {
	pos := rank
	o := &model.Observation{
		ID:           uuid.NewString(),
		Keyword:      task.Keyword,
		BrandName:    task.BrandName,
		BranchName:   task.BranchName,
		Title:        l.Title,
		Address:      l.Address,
		Rating:       l.Rating,
		RatingCount:  l.RatingCount,
		Category:     l.Category,
		Phone:        l.Phone,
		Website:      l.Website,
		CID:          l.CID,
		RankPosition: &pos,
		IsLocalPack:  pos <= model.LocalPackSize,
		DeviceType:   e.cfg.Locale.Device,
		Country:      e.cfg.Locale.Country,
		Language:     e.cfg.Locale.Language,
		Page:         page,
		CreatedAt:    e.now().UTC(),
	}
	if o.IsLocalPack {
		lp := pos
		o.LocalPackPosition = &lp
	}
	if point != nil {
		lat, lng := point.Latitude, point.Longitude
		o.SourceLatitude, o.SourceLongitude = &lat, &lng
	}
	return o
}

func (e *Engine) sentinel(task model.Task) *model.Observation {
	return &model.Observation{
		ID:         uuid.NewString(),
		Keyword:    task.Keyword,
		BrandName:  task.BrandName,
		BranchName: task.BranchName,
		Title:      model.NotFoundTitle,
		NotFound:   true,
		DeviceType: e.cfg.Locale.Device,
		Country:    e.cfg.Locale.Country,
		Language:   e.cfg.Locale.Language,
		CreatedAt:  e.now().UTC(),
	}
}
