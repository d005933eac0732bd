package serp

import (
	"context"
	"log/slog"
	"time"

	"github.com/FranksOps/rankscout/internal/metrics"
	"github.com/FranksOps/rankscout/pkg/retry"
)

// Retrying wraps a Provider with a bounded backoff for transient failures.
// A Search on Retrying is still one logical call to its caller.
type Retrying struct {
	Provider Provider
	Config   retry.Config
	Logger   *slog.Logger
}

var _ Provider = (*Retrying)(nil)

// WithRetry wraps p using cfg. A zero cfg means retry.Default.
func WithRetry(p Provider, cfg retry.Config, logger *slog.Logger) *Retrying {
	if cfg.MaxAttempts == 0 {
		cfg = retry.Default
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{Provider: p, Config: cfg, Logger: logger}
}

func (r *Retrying) Search(ctx context.Context, req Request) ([]Listing, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg := r.Config
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.UpstreamRetriesTotal.Inc()
		logger.Warn("retrying upstream search",
			"query", req.Query,
			"page", req.Page,
			"attempt", attempt+1,
			"delay", delay,
			"err", err,
		)
	}

	return retry.Do(ctx, cfg, IsRetryable, func(ctx context.Context) ([]Listing, error) {
		return r.Provider.Search(ctx, req)
	})
}
