package model

import "time"

// NotFoundTitle is the title carried by the sentinel observation recorded for a
// task whose brand never appeared in any result page.
const NotFoundTitle = "Brand not found"

// LocalPackSize is the number of top-ranked listings that make up the local pack.
const LocalPackSize = 3

// Task is one (keyword, brand, branch) row of input.
type Task struct {
	Keyword    string `json:"keyword"`
	BrandName  string `json:"brand_name"`
	BranchName string `json:"branch_name"`
}

// GeoPoint is a sampling coordinate. A nil *GeoPoint means "no location bias".
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Locale selects the upstream market and device for every query in a run.
type Locale struct {
	Country  string `json:"country"`
	Language string `json:"language"`
	Device   string `json:"device"`
}

const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
)

// WithDefaults fills empty fields with the values used when nothing is configured.
func (l Locale) WithDefaults() Locale {
	if l.Country == "" {
		l.Country = "gb"
	}
	if l.Language == "" {
		l.Language = "en"
	}
	if l.Device == "" {
		l.Device = DeviceDesktop
	}
	return l
}

// Observation is one classified listing, or the not-found sentinel of a task.
type Observation struct {
	ID    string `json:"id"`
	RunID string `json:"run_id"`
	Seq   int    `json:"seq"`

	Keyword    string `json:"keyword"`
	BrandName  string `json:"brand_name"`
	BranchName string `json:"branch_name"`

	Title       string  `json:"title"`
	Address     string  `json:"address,omitempty"`
	Rating      float64 `json:"rating,omitempty"`
	RatingCount int     `json:"rating_count,omitempty"`
	Category    string  `json:"category,omitempty"`
	Phone       string  `json:"phone,omitempty"`
	Website     string  `json:"website,omitempty"`
	CID         string  `json:"cid,omitempty"`

	RankPosition      *int `json:"rank_position,omitempty"`
	IsLocalPack       bool `json:"is_local_pack"`
	LocalPackPosition *int `json:"local_pack_position,omitempty"`
	BrandMatch        bool `json:"brand_match"`
	NotFound          bool `json:"not_found"`

	DeviceType string `json:"device_type"`
	Country    string `json:"country"`
	Language   string `json:"language"`
	Page       int    `json:"page,omitempty"`

	SourceLatitude  *float64 `json:"source_latitude,omitempty"`
	SourceLongitude *float64 `json:"source_longitude,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Task returns the input row the observation belongs to.
func (o *Observation) Task() Task {
	return Task{Keyword: o.Keyword, BrandName: o.BrandName, BranchName: o.BranchName}
}

// RunStatus is the terminal state of a run.
type RunStatus string

const (
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCanceled  RunStatus = "canceled"
)

// RunResult is the aggregate of one run, handed to a storage backend at the end.
type RunResult struct {
	ID        string    `json:"id"`
	Status    RunStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`

	Locale       Locale         `json:"locale"`
	Observations []*Observation `json:"observations"`

	TotalQueries          int `json:"total_queries"`
	ProcessedQueries      int `json:"processed_queries"`
	TotalResults          int `json:"total_results"`
	TotalBrandMatches     int `json:"total_brand_matches"`
	TotalLocalPackMatches int `json:"total_local_pack_matches"`
	APICallsMade          int `json:"api_calls_made"`

	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
}

// Tally recomputes the result, match and local-pack counts from Observations.
func (r *RunResult) Tally() {
	r.TotalResults, r.TotalBrandMatches, r.TotalLocalPackMatches = 0, 0, 0
	for _, o := range r.Observations {
		if o.NotFound {
			continue
		}
		r.TotalResults++
		if o.BrandMatch {
			r.TotalBrandMatches++
			if o.IsLocalPack {
				r.TotalLocalPackMatches++
			}
		}
	}
}

// ProgressEvent names the point in a run at which a Progress was emitted.
type ProgressEvent string

const (
	EventTaskStarted  ProgressEvent = "task_started"
	EventPageFetched  ProgressEvent = "page_fetched"
	EventTaskFinished ProgressEvent = "task_finished"
)

// Progress is a transient snapshot of a running check. It is never persisted.
type Progress struct {
	RunID                     string        `json:"run_id"`
	Event                     ProgressEvent `json:"event"`
	CurrentQuery              string        `json:"current_query"`
	TotalQueries              int           `json:"total_queries"`
	ProcessedQueries          int           `json:"processed_queries"`
	QueriesPerSecond          float64       `json:"queries_per_second"`
	EstimatedSecondsRemaining int           `json:"estimated_seconds_remaining"`
	APICallsMade              int           `json:"api_calls_made"`
	CurrentPage               int           `json:"current_page"`
}
