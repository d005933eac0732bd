package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/FranksOps/rankscout/internal/geo"
	"github.com/FranksOps/rankscout/internal/metrics"
	"github.com/FranksOps/rankscout/internal/model"
	"github.com/FranksOps/rankscout/internal/rank"
	"github.com/FranksOps/rankscout/internal/serp"
	"github.com/FranksOps/rankscout/internal/storage"
	"github.com/FranksOps/rankscout/pkg/ratelimit"
	"github.com/FranksOps/rankscout/pkg/retry"
)

// Options configure one run.
type Options struct {
	Locale model.Locale
	// Grid enables geo-grid mode. Nil searches once per page without a
	// location bias.
	Grid *geo.GridSpec
	// Boundary, when non-empty, drops grid points outside it.
	Boundary orb.MultiPolygon

	ResetRankPerPoint bool
	MaxPages          int
	// Pacer paces page fetches. Nil means rank.DefaultPageDelay.
	Pacer *ratelimit.Limiter
	// Retry wraps the provider in a backoff for transient failures. A zero
	// MaxAttempts disables retries.
	Retry retry.Config

	// RetainPartial keeps the observations gathered before a failure on the
	// failed result.
	RetainPartial bool
	// Sink receives the finished result, completed or not.
	Sink storage.Sink
	// Progress receives snapshots during the run. Sends block until the
	// receiver is ready or ctx is done. The channel is never closed by Run.
	Progress chan<- model.Progress
}

// Pipeline runs rank checks for a list of tasks against one provider. Tasks,
// grid points and pages are processed strictly in sequence.
type Pipeline struct {
	Provider serp.Provider
	Logger   *slog.Logger
	// Now is the clock used for timestamps and throughput. Defaults to time.Now.
	Now func() time.Time
}

// New returns a Pipeline over provider.
func New(provider serp.Provider, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{Provider: provider, Logger: logger, Now: time.Now}
}

// RunRankCheck runs tasks with the default pacing and retry policy, keeping
// partial results on failure. A nil grid disables geo-grid mode; a nil
// progress channel disables progress events.
func RunRankCheck(ctx context.Context, provider serp.Provider, tasks []model.Task, locale model.Locale, grid *geo.GridSpec, progress chan<- model.Progress) (*model.RunResult, error) {
	return New(provider, nil).Run(ctx, tasks, Options{
		Locale:        locale,
		Grid:          grid,
		Retry:         retry.Default,
		RetainPartial: true,
		Progress:      progress,
	})
}

// ValidateTasks rejects an empty task list or a task with a blank field.
func ValidateTasks(tasks []model.Task) error {
	if len(tasks) == 0 {
		return &InputValidationError{Reason: "no tasks"}
	}
	for i, t := range tasks {
		if strings.TrimSpace(t.Keyword) == "" || strings.TrimSpace(t.BrandName) == "" || strings.TrimSpace(t.BranchName) == "" {
			return &InputValidationError{Reason: fmt.Sprintf("task %d has a blank keyword, brand or branch", i+1)}
		}
	}
	return nil
}

// Points expands the grid options into search points. Nil means a single
// search without location bias.
func (o Options) Points() ([]model.GeoPoint, error) {
	if o.Grid == nil {
		return nil, nil
	}
	points, err := geo.Generate(*o.Grid)
	if err != nil {
		return nil, &InputValidationError{Reason: "grid", Err: err}
	}
	if len(o.Boundary) > 0 {
		points = geo.Within(points, o.Boundary)
		if len(points) == 0 {
			return nil, &InputValidationError{Reason: "no grid point lies inside the boundary"}
		}
	}
	return points, nil
}

// Run checks every task in order and returns the aggregated result. Invalid
// input fails with an *InputValidationError and a nil result before any
// upstream call. Any later failure stops the run: the result is still
// returned, with a failed or canceled status, alongside the error.
func (p *Pipeline) Run(ctx context.Context, tasks []model.Task, opts Options) (*model.RunResult, error) {
	if p.Provider == nil {
		return nil, errors.New("pipeline: provider is nil")
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}

	if err := ValidateTasks(tasks); err != nil {
		return nil, err
	}
	points, err := opts.Points()
	if err != nil {
		return nil, err
	}

	started := now()
	res := &model.RunResult{
		ID:           uuid.NewString(),
		Locale:       opts.Locale.WithDefaults(),
		TotalQueries: len(tasks),
		StartedAt:    started.UTC(),
	}
	logger = logger.With("run_id", res.ID)

	// Count below the retry wrapper: every attempt is a paid upstream call.
	var provider serp.Provider = serp.ProviderFunc(func(ctx context.Context, req serp.Request) ([]serp.Listing, error) {
		res.APICallsMade++
		return p.Provider.Search(ctx, req)
	})
	if opts.Retry.MaxAttempts > 1 {
		provider = serp.WithRetry(provider, opts.Retry, logger)
	}

	st := &runState{res: res, progress: opts.Progress, started: started, now: now}

	engine := rank.New(provider, rank.Config{
		Locale:            res.Locale,
		Pacer:             opts.Pacer,
		ResetRankPerPoint: opts.ResetRankPerPoint,
		MaxPages:          opts.MaxPages,
		Logger:            logger,
		Now:               now,
	})
	engine.OnFetch = func(f rank.Fetch) {
		st.emit(ctx, model.EventPageFetched, f.Task.Keyword, f.Page)
	}

	pageDelay := rank.DefaultPageDelay
	if opts.Pacer != nil {
		pageDelay = opts.Pacer.Interval()
	}
	logger.Info("run started",
		"tasks", len(tasks),
		"grid_points", max(len(points), 1),
		"page_delay", pageDelay,
		"country", res.Locale.Country,
		"language", res.Locale.Language,
		"device", res.Locale.Device,
	)

	var runErr error
	for _, task := range tasks {
		st.emit(ctx, model.EventTaskStarted, task.Keyword, 0)

		obs, err := engine.Check(ctx, task, points)
		st.append(obs)
		if err != nil {
			runErr = err
			break
		}

		res.ProcessedQueries++
		st.emit(ctx, model.EventTaskFinished, task.Keyword, 0)
		logger.Debug("task finished",
			"keyword", task.Keyword,
			"brand", task.BrandName,
			"branch", task.BranchName,
			"processed", res.ProcessedQueries,
			"api_calls", res.APICallsMade,
		)
	}

	return p.finish(ctx, logger, st, runErr, opts)
}

func (p *Pipeline) finish(ctx context.Context, logger *slog.Logger, st *runState, runErr error, opts Options) (*model.RunResult, error) {
	res := st.res
	finished := st.now()
	res.FinishedAt = finished.UTC()
	res.ElapsedSeconds = finished.Sub(st.started).Seconds()
	res.Status = model.StatusCompleted

	if runErr != nil {
		res.Status = model.StatusFailed
		res.ErrorKind = ErrorKind(runErr)
		if ctx.Err() != nil {
			res.Status = model.StatusCanceled
			res.ErrorKind = KindCanceled
		}
		res.Error = runErr.Error()
		if !opts.RetainPartial {
			res.Observations = nil
		}
	}
	res.Tally()
	metrics.RecordRun(res)

	attrs := []any{
		"status", res.Status,
		"processed", res.ProcessedQueries,
		"total", res.TotalQueries,
		"results", res.TotalResults,
		"brand_matches", res.TotalBrandMatches,
		"local_pack_matches", res.TotalLocalPackMatches,
		"api_calls", res.APICallsMade,
		"elapsed", time.Duration(res.ElapsedSeconds * float64(time.Second)).Round(time.Millisecond),
	}
	if runErr != nil {
		logger.Error("run stopped", append(attrs, "error_kind", res.ErrorKind, "err", runErr)...)
	} else {
		logger.Info("run finished", attrs...)
	}

	if opts.Sink != nil {
		// A canceled run is still persisted.
		if err := opts.Sink.SaveRun(context.WithoutCancel(ctx), res); err != nil {
			logger.Error("saving run failed", "err", err)
			runErr = errors.Join(runErr, &StorageError{Err: err})
		}
	}
	return res, runErr
}

// runState is the run-scoped bookkeeping behind progress events.
type runState struct {
	res      *model.RunResult
	progress chan<- model.Progress
	started  time.Time
	now      func() time.Time
}

func (s *runState) append(obs []*model.Observation) {
	for _, o := range obs {
		o.RunID = s.res.ID
		o.Seq = len(s.res.Observations) + 1
		s.res.Observations = append(s.res.Observations, o)
	}
}

// snapshot computes throughput from completed tasks only. The rate is not
// smoothed, so it swings widely over the first few tasks.
func (s *runState) snapshot(event model.ProgressEvent, query string, page int) model.Progress {
	p := model.Progress{
		RunID:            s.res.ID,
		Event:            event,
		CurrentQuery:     query,
		TotalQueries:     s.res.TotalQueries,
		ProcessedQueries: s.res.ProcessedQueries,
		APICallsMade:     s.res.APICallsMade,
		CurrentPage:      page,
	}
	if elapsed := s.now().Sub(s.started).Seconds(); elapsed > 0 {
		p.QueriesPerSecond = float64(p.ProcessedQueries) / elapsed
	}
	if p.QueriesPerSecond > 0 {
		remaining := p.TotalQueries - p.ProcessedQueries
		p.EstimatedSecondsRemaining = int(math.Ceil(float64(remaining) / p.QueriesPerSecond))
	}
	return p
}

func (s *runState) emit(ctx context.Context, event model.ProgressEvent, query string, page int) {
	if s.progress == nil {
		return
	}
	select {
	case s.progress <- s.snapshot(event, query, page):
	case <-ctx.Done():
	}
}
