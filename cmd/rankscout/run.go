package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/paulmach/orb"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/FranksOps/rankscout/internal/fingerprint"
	"github.com/FranksOps/rankscout/internal/geo"
	"github.com/FranksOps/rankscout/internal/input"
	"github.com/FranksOps/rankscout/internal/metrics"
	"github.com/FranksOps/rankscout/internal/model"
	"github.com/FranksOps/rankscout/internal/pipeline"
	"github.com/FranksOps/rankscout/internal/progress"
	"github.com/FranksOps/rankscout/internal/rank"
	"github.com/FranksOps/rankscout/internal/report"
	"github.com/FranksOps/rankscout/internal/serp"
	"github.com/FranksOps/rankscout/internal/storage"
	"github.com/FranksOps/rankscout/internal/storage/csvbackend"
	"github.com/FranksOps/rankscout/internal/storage/jsonbackend"
	"github.com/FranksOps/rankscout/internal/storage/postgres"
	"github.com/FranksOps/rankscout/internal/storage/sqlite"
	"github.com/FranksOps/rankscout/pkg/proxy"
	"github.com/FranksOps/rankscout/pkg/ratelimit"
	"github.com/FranksOps/rankscout/pkg/retry"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Check where each brand ranks for its keyword",
		Example: `  rankscout run --input tasks.csv --sqlite runs.db
  rankscout run -i tasks.xlsx --grid-lat 51.5074 --grid-lng -0.1278 --grid-radius-km 5 --grid-size 3 --report html > report.html`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd)
		},
	}

	f := cmd.Flags()
	f.StringP("input", "i", "", "task file: .csv, .txt or .xlsx (required)")
	f.String("country", "gb", "upstream market (gl)")
	f.String("language", "en", "result language (hl)")
	f.String("device", model.DeviceDesktop, "device type recorded on observations: desktop or mobile")

	f.Float64("grid-lat", 0, "grid center latitude")
	f.Float64("grid-lng", 0, "grid center longitude")
	f.Float64("grid-radius-km", 0, "grid half-width in km; 0 disables the grid")
	f.Int("grid-size", 3, "grid points per axis")
	f.String("grid-boundary", "", `drop grid points outside this polygon: "lat,lng;lat,lng;lat,lng"`)

	f.Duration("page-delay", rank.DefaultPageDelay, "pause between page fetches")
	f.Float64("page-jitter", 0, "extra random pause, as a fraction of --page-delay")
	f.Int("max-pages", 0, "pages per grid point; 0 walks until an empty page")
	f.Bool("reset-rank-per-point", false, "restart rank numbering at every grid point")
	f.Bool("retain-partial", true, "keep observations gathered before a failure")
	f.Int("retries", retry.Default.MaxAttempts, "attempts per page fetch; 1 disables retries")

	f.String("endpoint", serp.DefaultEndpoint, "Serper places endpoint")
	f.Duration("timeout", 30*time.Second, "timeout of a single upstream call")
	f.String("tls-profile", string(fingerprint.ProfileGo), "TLS fingerprint: go, chrome, firefox or safari")
	f.String("proxy", "", "HTTP(S) proxy URL for upstream calls")
	f.String("proxy-file", "", "rotate upstream calls over the proxies listed in this file, one per line")

	addStoreFlags(f)
	f.String("csv-out", "", "append observations to this CSV file")
	f.String("json-out", "", "append observations to this NDJSON file")
	f.String("xlsx-out", "", "write an XLSX workbook of the run to this file")

	f.String("report", "text", "summary printed at the end: text, json, html or none")
	f.String("progress", "line", "progress display: line, log, none, or a comma list such as line,log")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address during the run, e.g. :9090")
	return cmd
}

// addStoreFlags registers the database flags shared by run and export.
func addStoreFlags(f *pflag.FlagSet) {
	f.String("sqlite", "", "SQLite database file")
	f.String("pg-dsn", "", "PostgreSQL connection string")
}

func (a *app) run(cmd *cobra.Command) error {
	v := a.v
	path := v.GetString("input")
	if path == "" {
		return errors.New("--input is required")
	}
	reportFormat := strings.ToLower(v.GetString("report"))
	if !validReport(reportFormat) {
		return fmt.Errorf("invalid --report %q (text, json, html or none)", reportFormat)
	}
	onProgress, done, err := a.progressFunc(cmd, v.GetString("progress"))
	if err != nil {
		return err
	}

	tasks, err := input.ReadFile(path)
	if err != nil {
		return err
	}

	locale := model.Locale{
		Country:  strings.ToLower(v.GetString("country")),
		Language: strings.ToLower(v.GetString("language")),
		Device:   strings.ToLower(v.GetString("device")),
	}.WithDefaults()
	if locale.Device != model.DeviceDesktop && locale.Device != model.DeviceMobile {
		return fmt.Errorf("invalid --device %q (desktop or mobile)", locale.Device)
	}

	opts := pipeline.Options{
		Locale:            locale,
		ResetRankPerPoint: v.GetBool("reset-rank-per-point"),
		MaxPages:          v.GetInt("max-pages"),
		Pacer:             ratelimit.NewLimiter(v.GetDuration("page-delay"), v.GetFloat64("page-jitter")),
		RetainPartial:     v.GetBool("retain-partial"),
	}
	if n := v.GetInt("retries"); n > 1 {
		opts.Retry = retry.Default
		opts.Retry.MaxAttempts = n
	}
	if radius := v.GetFloat64("grid-radius-km"); radius > 0 {
		opts.Grid = &geo.GridSpec{
			CenterLat: v.GetFloat64("grid-lat"),
			CenterLng: v.GetFloat64("grid-lng"),
			RadiusKm:  radius,
			Size:      v.GetInt("grid-size"),
		}
		if opts.Boundary, err = parseBoundary(v.GetString("grid-boundary")); err != nil {
			return err
		}
	}

	profile, err := fingerprint.ParseProfile(v.GetString("tls-profile"))
	if err != nil {
		return err
	}
	var proxies *proxy.Pool
	if path := v.GetString("proxy-file"); path != "" {
		proxies = proxy.NewPool(proxy.Config{})
		if err := proxies.LoadFile(path); err != nil {
			return err
		}
		if proxies.Len() == 0 {
			return fmt.Errorf("no proxies in %s", path)
		}
	}
	provider, err := serp.NewSerper(serp.SerperConfig{
		Endpoint:    v.GetString("endpoint"),
		Credential:  func() string { return v.GetString(keyCredential) },
		Timeout:     v.GetDuration("timeout"),
		Fingerprint: profile,
		ProxyURL:    v.GetString("proxy"),
		Proxies:     proxies,
		Logger:      a.logger.With("component", "serper"),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sinks, err := a.openBackends(ctx, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			a.logger.Error("closing storage failed", "err", err)
		}
	}()
	if len(sinks) > 0 {
		opts.Sink = sinks
	}

	if addr := v.GetString("metrics-addr"); addr != "" {
		srv, err := metrics.Start(addr, a.logger)
		if err != nil {
			return err
		}
		a.logger.Info("serving metrics", "addr", srv.Addr())
		defer srv.Stop(context.WithoutCancel(ctx))
	}

	a.logger.Info("run starting",
		"tasks", len(tasks),
		"country", locale.Country,
		"language", locale.Language,
		"device", locale.Device,
		"grid", opts.Grid != nil,
	)

	var (
		res    *model.RunResult
		runErr error
	)
	events := make(chan model.Progress)
	opts.Progress = events

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		progress.Drain(gctx, events, onProgress)
		return nil
	})
	g.Go(func() error {
		defer close(events)
		res, runErr = pipeline.New(provider, a.logger).Run(gctx, tasks, opts)
		return nil
	})
	_ = g.Wait()
	done()

	if res == nil {
		return runErr
	}

	summary := report.GenerateSummary(res)
	if out := v.GetString("xlsx-out"); out != "" {
		if err := writeFile(out, func(f *os.File) error { return report.WriteXLSX(f, summary, res.Observations) }); err != nil {
			runErr = errors.Join(runErr, err)
		} else {
			a.logger.Info("workbook written", "path", out)
		}
	}
	if err := writeReport(cmd.OutOrStdout(), reportFormat, summary); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return runErr
}

// openBackends opens every configured backend. withFiles adds the append-only
// CSV and NDJSON outputs, which cannot load runs back.
func (a *app) openBackends(ctx context.Context, withFiles bool) (storage.Fanout, error) {
	v := a.v
	var backends storage.Fanout
	open := func(name string, fn func() (storage.Backend, error)) error {
		b, err := fn()
		if err != nil {
			return errors.Join(fmt.Errorf("open %s: %w", name, err), backends.Close())
		}
		backends = append(backends, b)
		return nil
	}

	if dsn := v.GetString("sqlite"); dsn != "" {
		if err := open("sqlite", func() (storage.Backend, error) { return sqlite.New(dsn) }); err != nil {
			return nil, err
		}
	}
	if dsn := v.GetString("pg-dsn"); dsn != "" {
		if err := open("postgres", func() (storage.Backend, error) { return postgres.New(ctx, dsn) }); err != nil {
			return nil, err
		}
	}
	if !withFiles {
		return backends, nil
	}
	if out := v.GetString("csv-out"); out != "" {
		if err := open("csv", func() (storage.Backend, error) { return csvbackend.New(out) }); err != nil {
			return nil, err
		}
	}
	if out := v.GetString("json-out"); out != "" {
		if err := open("json", func() (storage.Backend, error) { return jsonbackend.New(out) }); err != nil {
			return nil, err
		}
	}
	return backends, nil
}

// progressFunc returns the progress handler for mode and a func to call once
// the run is over. mode is a comma separated list of line, log and none.
func (a *app) progressFunc(cmd *cobra.Command, mode string) (progress.Func, func(), error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = "line"
	}

	var (
		fns   []progress.Func
		dones []func()
	)
	for _, m := range strings.Split(mode, ",") {
		switch strings.TrimSpace(m) {
		case "line":
			line := progress.NewStatusLine(cmd.ErrOrStderr())
			fns = append(fns, line.Update)
			dones = append(dones, line.Done)
		case "log":
			fns = append(fns, progress.Log(a.logger))
		case "none":
		default:
			return nil, nil, fmt.Errorf("invalid --progress %q (line, log or none)", m)
		}
	}
	return progress.Tee(fns...), func() {
		for _, done := range dones {
			done()
		}
	}, nil
}

// parseBoundary parses "lat,lng;lat,lng;..." into a polygon. An empty string
// means no boundary.
func parseBoundary(s string) (orb.MultiPolygon, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var vertices []model.GeoPoint
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		lat, lng, ok := strings.Cut(pair, ",")
		if !ok {
			return nil, fmt.Errorf("invalid --grid-boundary vertex %q: want lat,lng", pair)
		}
		la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid --grid-boundary latitude %q: %w", lat, err)
		}
		ln, err := strconv.ParseFloat(strings.TrimSpace(lng), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid --grid-boundary longitude %q: %w", lng, err)
		}
		vertices = append(vertices, model.GeoPoint{Latitude: la, Longitude: ln})
	}
	if len(vertices) < 3 {
		return nil, fmt.Errorf("invalid --grid-boundary: need at least 3 vertices, got %d", len(vertices))
	}
	return geo.Ring(vertices), nil
}
