package rank

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/FranksOps/rankscout/internal/geo"
	"github.com/FranksOps/rankscout/internal/model"
	"github.com/FranksOps/rankscout/internal/serp"
	"github.com/FranksOps/rankscout/pkg/ratelimit"
)

// scripted serves pages keyed by page number; pages past the script are empty.
type scripted struct {
	pages    map[int][]serp.Listing
	failAt   int
	failWith error
	requests []serp.Request
}

func (s *scripted) Search(ctx context.Context, req serp.Request) ([]serp.Listing, error) {
	s.requests = append(s.requests, req)
	if s.failAt > 0 && len(s.requests) == s.failAt {
		return nil, s.failWith
	}
	return s.pages[req.Page], nil
}

func titles(ts ...string) []serp.Listing {
	out := make([]serp.Listing, len(ts))
	for i, t := range ts {
		out[i] = serp.Listing{Position: i + 1, Title: t}
	}
	return out
}

func newTestEngine(p serp.Provider, cfg Config) *Engine {
	cfg.Pacer = ratelimit.NewLimiter(0, 0)
	return New(p, cfg)
}

var brightSmile = model.Task{Keyword: "dentist london", BrandName: "Bright Smile", BranchName: "London"}

func TestCheck_MatchOnFirstPage(t *testing.T) {
	p := &scripted{pages: map[int][]serp.Listing{
		1: titles("Acme Dental", "Bright Smile Dental London", "Smile Clinic", "City Dentist", "Tooth Co"),
	}}
	e := newTestEngine(p, Config{})

	obs, err := e.Check(context.Background(), brightSmile, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(obs) != 5 {
		t.Fatalf("expected 5 observations, got %d", len(obs))
	}

	var matches int
	for _, o := range obs {
		if o.NotFound {
			t.Fatalf("unexpected sentinel: %+v", o)
		}
		if o.BrandMatch {
			matches++
		}
	}
	if matches != 1 {
		t.Errorf("expected exactly 1 match, got %d", matches)
	}

	m := obs[1]
	if !m.BrandMatch || *m.RankPosition != 2 || !m.IsLocalPack || m.LocalPackPosition == nil || *m.LocalPackPosition != 2 {
		t.Errorf("unexpected match observation: rank=%v local=%v lp=%v match=%v", *m.RankPosition, m.IsLocalPack, m.LocalPackPosition, m.BrandMatch)
	}
	if m.SourceLatitude != nil || m.SourceLongitude != nil {
		t.Error("expected no source coordinates without a grid")
	}
	if m.DeviceType != model.DeviceDesktop || m.Country != "gb" || m.Language != "en" {
		t.Errorf("expected default locale stamped, got %s/%s/%s", m.DeviceType, m.Country, m.Language)
	}
	if obs[3].IsLocalPack || obs[3].LocalPackPosition != nil {
		t.Error("rank 4 must not be in the local pack")
	}
	if len(p.requests) != 2 {
		t.Errorf("expected page 1 and an empty page 2, got %d requests", len(p.requests))
	}
}

func TestCheck_EmptyFromFirstPage(t *testing.T) {
	p := &scripted{}
	e := newTestEngine(p, Config{})

	obs, err := e.Check(context.Background(), brightSmile, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(obs) != 1 {
		t.Fatalf("expected a single sentinel, got %d observations", len(obs))
	}
	s := obs[0]
	if !s.NotFound || s.Title != model.NotFoundTitle || s.RankPosition != nil || s.BrandMatch {
		t.Errorf("unexpected sentinel: %+v", s)
	}
	if s.Keyword != brightSmile.Keyword || s.BranchName != "London" {
		t.Errorf("sentinel must carry the task, got %+v", s.Task())
	}
}

func TestCheck_NoMatchAcrossPages(t *testing.T) {
	p := &scripted{pages: map[int][]serp.Listing{
		1: titles("A", "B", "C"),
		2: titles("D", "E"),
	}}
	e := newTestEngine(p, Config{})

	obs, err := e.Check(context.Background(), brightSmile, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(obs) != 6 {
		t.Fatalf("expected 5 listings and a sentinel, got %d", len(obs))
	}
	var sentinels int
	for _, o := range obs {
		if o.NotFound {
			sentinels++
		}
	}
	if sentinels != 1 || !obs[5].NotFound {
		t.Errorf("expected exactly one trailing sentinel, got %d", sentinels)
	}
}

func TestCheck_RanksContinueAcrossPages(t *testing.T) {
	p := &scripted{pages: map[int][]serp.Listing{
		1: titles("A", "B", "C", "D"),
		2: titles("E", "F", "G"),
		3: titles("H"),
	}}
	e := newTestEngine(p, Config{})

	obs, _ := e.Check(context.Background(), brightSmile, nil)
	for i, o := range obs[:8] {
		if *o.RankPosition != i+1 {
			t.Fatalf("observation %d: expected rank %d, got %d", i, i+1, *o.RankPosition)
		}
	}
	if obs[4].Page != 2 || obs[7].Page != 3 {
		t.Errorf("expected page numbers to be recorded, got %d and %d", obs[4].Page, obs[7].Page)
	}
}

func TestCheck_GridPoints(t *testing.T) {
	points, err := geo.Generate(geo.GridSpec{CenterLat: 51.5074, CenterLng: -0.1278, RadiusKm: 5, Size: 2})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	p := &scripted{pages: map[int][]serp.Listing{
		1: titles("A", "Bright Smile London"),
	}}

	var fetches []Fetch
	e := newTestEngine(p, Config{Locale: model.Locale{Device: model.DeviceMobile}})
	e.OnFetch = func(f Fetch) { fetches = append(fetches, f) }

	obs, err := e.Check(context.Background(), brightSmile, points)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// One non-empty and one empty page per point.
	if len(p.requests) != 8 || len(fetches) != 8 {
		t.Fatalf("expected 8 fetches, got %d requests and %d hooks", len(p.requests), len(fetches))
	}
	for i, req := range p.requests {
		if req.Point == nil || *req.Point != points[i/2] {
			t.Errorf("request %d: expected point %v, got %v", i, points[i/2], req.Point)
		}
		if req.Device != model.DeviceMobile {
			t.Errorf("request %d: expected mobile device, got %q", i, req.Device)
		}
	}
	if fetches[7].PointIndex != 3 || fetches[7].Page != 2 || fetches[7].Listings != 0 {
		t.Errorf("unexpected last fetch: %+v", fetches[7])
	}

	if len(obs) != 8 {
		t.Fatalf("expected 8 observations without a sentinel, got %d", len(obs))
	}
	// The counter runs on across points.
	for i, o := range obs {
		if *o.RankPosition != i+1 {
			t.Errorf("observation %d: expected rank %d, got %d", i, i+1, *o.RankPosition)
		}
		if o.SourceLatitude == nil || *o.SourceLatitude != points[i/2].Latitude {
			t.Errorf("observation %d: wrong source latitude", i)
		}
	}
}

func TestCheck_ResetRankPerPoint(t *testing.T) {
	points := []model.GeoPoint{{Latitude: 51.5, Longitude: -0.1}, {Latitude: 51.6, Longitude: -0.1}}
	p := &scripted{pages: map[int][]serp.Listing{
		1: titles("A", "B"),
	}}
	e := newTestEngine(p, Config{ResetRankPerPoint: true})

	obs, err := e.Check(context.Background(), brightSmile, points)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int{1, 2, 1, 2}
	for i, w := range want {
		if *obs[i].RankPosition != w {
			t.Errorf("observation %d: expected rank %d, got %d", i, w, *obs[i].RankPosition)
		}
	}
	if !obs[4].NotFound || len(obs) != 5 {
		t.Errorf("expected one sentinel for the whole task, got %d observations", len(obs))
	}
}

func TestCheck_MaxPages(t *testing.T) {
	p := &scripted{pages: map[int][]serp.Listing{
		1: titles("A"),
		2: titles("B"),
		3: titles("C"),
	}}
	e := newTestEngine(p, Config{MaxPages: 2})

	obs, err := e.Check(context.Background(), brightSmile, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.requests) != 2 {
		t.Errorf("expected 2 requests, got %d", len(p.requests))
	}
	if len(obs) != 3 {
		t.Errorf("expected 2 listings and a sentinel, got %d", len(obs))
	}
}

func TestCheck_FetchErrorKeepsPartial(t *testing.T) {
	upErr := &serp.UpstreamError{StatusCode: http.StatusBadGateway}
	p := &scripted{
		pages:    map[int][]serp.Listing{1: titles("A", "B"), 2: titles("C")},
		failAt:   2,
		failWith: upErr,
	}
	var fetches []Fetch
	e := newTestEngine(p, Config{})
	e.OnFetch = func(f Fetch) { fetches = append(fetches, f) }

	obs, err := e.Check(context.Background(), brightSmile, nil)

	var got *serp.UpstreamError
	if !errors.As(err, &got) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if len(obs) != 2 {
		t.Errorf("expected the first page to be returned, got %d observations", len(obs))
	}
	for _, o := range obs {
		if o.NotFound {
			t.Error("no sentinel expected for an aborted task")
		}
	}
	if len(fetches) != 2 || fetches[1].Err == nil {
		t.Errorf("expected the failed fetch to reach the hook, got %+v", fetches)
	}
}

func TestCheck_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &scripted{}
	e := newTestEngine(p, Config{})
	_, err := e.Check(ctx, brightSmile, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(p.requests) != 0 {
		t.Errorf("expected no fetch after cancellation, got %d", len(p.requests))
	}
}

func TestCheck_PacesBetweenPages(t *testing.T) {
	p := &scripted{pages: map[int][]serp.Listing{
		1: titles("A"),
		2: titles("B"),
	}}
	e := New(p, Config{Pacer: ratelimit.NewLimiter(30*time.Millisecond, 0)})

	start := time.Now()
	if _, err := e.Check(context.Background(), brightSmile, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Two non-empty pages means two pauses before the final empty fetch.
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("expected at least 60ms of pacing, got %v", elapsed)
	}
}

func TestCheck_CanceledDuringPause(t *testing.T) {
	p := &scripted{pages: map[int][]serp.Listing{1: titles("A")}}
	e := New(p, Config{Pacer: ratelimit.NewLimiter(time.Hour, 0)})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	obs, err := e.Check(ctx, brightSmile, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if len(obs) != 1 || len(p.requests) != 1 {
		t.Errorf("expected the first page only, got %d observations and %d requests", len(obs), len(p.requests))
	}
}
