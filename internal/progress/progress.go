// Package progress delivers run progress events to subscribers: log lines, a
// terminal status line, or any func.
package progress

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/FranksOps/rankscout/internal/model"
)

// Func handles one progress event.
type Func func(model.Progress)

// Drain calls fn for every event until ch is closed or ctx is done.
func Drain(ctx context.Context, ch <-chan model.Progress, fn Func) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-ch:
			if !ok {
				return
			}
			fn(p)
		}
	}
}

// Tee fans one event out to several handlers, in order.
func Tee(fns ...Func) Func {
	return func(p model.Progress) {
		for _, fn := range fns {
			if fn != nil {
				fn(p)
			}
		}
	}
}

// Log logs task boundaries at info level and page fetches at debug level.
func Log(logger *slog.Logger) Func {
	if logger == nil {
		logger = slog.Default()
	}
	return func(p model.Progress) {
		level := slog.LevelInfo
		if p.Event == model.EventPageFetched {
			level = slog.LevelDebug
		}
		logger.Log(context.Background(), level, "progress",
			"event", p.Event,
			"query", p.CurrentQuery,
			"page", p.CurrentPage,
			"processed", p.ProcessedQueries,
			"total", p.TotalQueries,
			"api_calls", p.APICallsMade,
			"qps", fmt.Sprintf("%.2f", p.QueriesPerSecond),
			"eta_seconds", p.EstimatedSecondsRemaining,
		)
	}
}

// StatusLine redraws a single terminal line on every event.
type StatusLine struct {
	mu    sync.Mutex
	w     io.Writer
	start time.Time
	drawn bool
}

// NewStatusLine returns a StatusLine writing to w, usually os.Stderr.
func NewStatusLine(w io.Writer) *StatusLine {
	return &StatusLine{w: w, start: time.Now()}
}

// Update redraws the line for p.
func (s *StatusLine) Update(p model.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := time.Since(s.start).Truncate(time.Second)
	eta := "-"
	if p.EstimatedSecondsRemaining > 0 {
		eta = (time.Duration(p.EstimatedSecondsRemaining) * time.Second).String()
	}
	fmt.Fprintf(s.w, "\r[%d/%d queries] %q page %d | %d api calls | %.2f q/s | eta %s | %s\x1b[K",
		p.ProcessedQueries, p.TotalQueries, p.CurrentQuery, p.CurrentPage,
		p.APICallsMade, p.QueriesPerSecond, eta, elapsed)
	s.drawn = true
}

// Done ends the line so later output starts on a fresh one.
func (s *StatusLine) Done() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drawn {
		fmt.Fprintln(s.w)
		s.drawn = false
	}
}
