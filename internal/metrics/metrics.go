package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/FranksOps/rankscout/internal/model"
)

var (
	UpstreamCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rankscout_upstream_calls_total",
			Help: "Total number of upstream search requests, by outcome",
		},
		[]string{"status"},
	)

	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rankscout_upstream_duration_seconds",
			Help:    "Duration of upstream search requests in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"status"},
	)

	UpstreamRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rankscout_upstream_retries_total",
			Help: "Total number of retried upstream search requests",
		},
	)

	ListingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rankscout_listings_total",
			Help: "Total listings classified, by brand match",
		},
		[]string{"brand_match", "local_pack"},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rankscout_runs_total",
			Help: "Total rank-check runs, by terminal status",
		},
		[]string{"status"},
	)
)

// RecordUpstream records one upstream request. statusCode is 0 when no HTTP
// response was received.
func RecordUpstream(statusCode int, d time.Duration) {
	status := "error"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}
	UpstreamCallsTotal.WithLabelValues(status).Inc()
	UpstreamDuration.WithLabelValues(status).Observe(d.Seconds())
}

// RecordObservation counts a classified listing. Sentinels are not listings.
func RecordObservation(o *model.Observation) {
	if o == nil || o.NotFound {
		return
	}
	ListingsTotal.WithLabelValues(strconv.FormatBool(o.BrandMatch), strconv.FormatBool(o.IsLocalPack)).Inc()
}

// RecordRun counts a finished run by its status.
func RecordRun(res *model.RunResult) {
	if res == nil {
		return
	}
	RunsTotal.WithLabelValues(string(res.Status)).Inc()
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Start listens on addr (":9090", "127.0.0.1:0", ...) and exposes /metrics.
// The listener is bound before Start returns so callers can scrape at once.
func Start(addr string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics: listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "err", err)
		}
	}()

	return &Server{srv: srv, ln: ln}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s == nil || s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
