package report

import (
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"io"
	"text/template"
	"time"

	"github.com/FranksOps/rankscout/internal/model"
)

// Row is the best-match view of one task: the brand match with the lowest
// rank position across all pages and grid points, or a not-found row.
type Row struct {
	Keyword    string `json:"keyword"`
	BrandName  string `json:"brand_name"`
	BranchName string `json:"branch_name"`

	Found             bool    `json:"found"`
	BestRank          *int    `json:"best_rank,omitempty"`
	LocalPackPosition *int    `json:"local_pack_position,omitempty"`
	Title             string  `json:"title"`
	Address           string  `json:"address,omitempty"`
	Rating            float64 `json:"rating,omitempty"`
	RatingCount       int     `json:"rating_count,omitempty"`
	Page              int     `json:"page,omitempty"`

	// Matches counts brand-matched listings; PointsMatched and PointsSearched
	// count distinct grid points and stay 0 without a grid.
	Matches        int `json:"matches"`
	PointsMatched  int `json:"points_matched"`
	PointsSearched int `json:"points_searched"`
}

// InLocalPack reports whether the best match made the local pack.
func (r Row) InLocalPack() bool {
	return r.LocalPackPosition != nil
}

type pointKey struct{ lat, lng float64 }

// Collapse reduces observations to one Row per task, in first-seen order.
// Observations of the same task from different grid points are merged, which
// is the dedupe the engine deliberately leaves to its consumers.
func Collapse(obs []*model.Observation) []Row {
	type acc struct {
		row     Row
		matched map[pointKey]bool
		seen    map[pointKey]bool
	}

	var order []model.Task
	byTask := make(map[model.Task]*acc)

	for _, o := range obs {
		task := o.Task()
		a, ok := byTask[task]
		if !ok {
			a = &acc{
				row:     Row{Keyword: task.Keyword, BrandName: task.BrandName, BranchName: task.BranchName, Title: model.NotFoundTitle},
				matched: make(map[pointKey]bool),
				seen:    make(map[pointKey]bool),
			}
			byTask[task] = a
			order = append(order, task)
		}
		if o.NotFound {
			continue
		}

		var pk *pointKey
		if o.SourceLatitude != nil && o.SourceLongitude != nil {
			pk = &pointKey{*o.SourceLatitude, *o.SourceLongitude}
			a.seen[*pk] = true
		}
		if !o.BrandMatch || o.RankPosition == nil {
			continue
		}

		a.row.Matches++
		if pk != nil {
			a.matched[*pk] = true
		}
		if a.row.BestRank == nil || *o.RankPosition < *a.row.BestRank {
			rank := *o.RankPosition
			a.row.Found = true
			a.row.BestRank = &rank
			a.row.LocalPackPosition = nil
			if o.IsLocalPack {
				lp := rank
				a.row.LocalPackPosition = &lp
			}
			a.row.Title = o.Title
			a.row.Address = o.Address
			a.row.Rating = o.Rating
			a.row.RatingCount = o.RatingCount
			a.row.Page = o.Page
		}
	}

	rows := make([]Row, 0, len(order))
	for _, task := range order {
		a := byTask[task]
		a.row.PointsMatched = len(a.matched)
		a.row.PointsSearched = len(a.seen)
		rows = append(rows, a.row)
	}
	return rows
}

// Summary is the report model of one run.
type Summary struct {
	RunID     string          `json:"run_id"`
	Status    model.RunStatus `json:"status"`
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Locale    model.Locale    `json:"locale"`

	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`

	TotalQueries          int `json:"total_queries"`
	ProcessedQueries      int `json:"processed_queries"`
	TotalResults          int `json:"total_results"`
	TotalBrandMatches     int `json:"total_brand_matches"`
	TotalLocalPackMatches int `json:"total_local_pack_matches"`
	APICallsMade          int `json:"api_calls_made"`

	TasksFound       int `json:"tasks_found"`
	TasksNotFound    int `json:"tasks_not_found"`
	TasksInLocalPack int `json:"tasks_in_local_pack"`

	Rows []Row `json:"rows"`
}

// GenerateSummary builds the report model of run.
func GenerateSummary(run *model.RunResult) Summary {
	s := Summary{
		RunID:                 run.ID,
		Status:                run.Status,
		Error:                 run.Error,
		ErrorKind:             run.ErrorKind,
		Locale:                run.Locale,
		StartTime:             run.StartedAt,
		EndTime:               run.FinishedAt,
		Duration:              time.Duration(run.ElapsedSeconds * float64(time.Second)).Round(time.Millisecond),
		TotalQueries:          run.TotalQueries,
		ProcessedQueries:      run.ProcessedQueries,
		TotalResults:          run.TotalResults,
		TotalBrandMatches:     run.TotalBrandMatches,
		TotalLocalPackMatches: run.TotalLocalPackMatches,
		APICallsMade:          run.APICallsMade,
		Rows:                  Collapse(run.Observations),
	}
	for _, r := range s.Rows {
		if !r.Found {
			s.TasksNotFound++
			continue
		}
		s.TasksFound++
		if r.InLocalPack() {
			s.TasksInLocalPack++
		}
	}
	return s
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("report: encode json: %w", err)
	}
	return nil
}

var funcs = map[string]any{
	"rank": func(p *int) string {
		if p == nil {
			return "-"
		}
		return fmt.Sprint(*p)
	},
	"points": func(r Row) string {
		if r.PointsSearched == 0 {
			return "-"
		}
		return fmt.Sprintf("%d/%d", r.PointsMatched, r.PointsSearched)
	},
}

const textTmpl = `Rankscout Report
----------------
Run:           {{.RunID}} ({{.Status}}{{if .ErrorKind}}, {{.ErrorKind}}{{end}})
{{- if .Error}}
Error:         {{.Error}}
{{- end}}
Locale:        {{.Locale.Country}}/{{.Locale.Language}} {{.Locale.Device}}
Time:          {{.StartTime.Format "2006-01-02 15:04:05"}} - {{.EndTime.Format "2006-01-02 15:04:05"}}
Duration:      {{.Duration}}
Queries:       {{.ProcessedQueries}}/{{.TotalQueries}}
API Calls:     {{.APICallsMade}}
Listings:      {{.TotalResults}}
Brand Matches: {{.TotalBrandMatches}} ({{.TotalLocalPackMatches}} in local pack)
Found:         {{.TasksFound}} found, {{.TasksNotFound}} not found, {{.TasksInLocalPack}} in local pack

Tasks:
{{- range .Rows}}
  {{.Keyword}} | {{.BrandName}} / {{.BranchName}}: {{if .Found}}#{{rank .BestRank}}{{if .InLocalPack}} (local pack){{end}} {{.Title}}{{else}}{{.Title}}{{end}} [points {{points .}}]
{{- else}}
  None
{{- end}}
`

const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>Rankscout Report</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
  tr.not-found td { color: #a00; }
  tr.local-pack td { background: #eef8ee; }
</style>
</head>
<body>
  <h1>Rankscout Report</h1>
  <p><strong>Run:</strong> <span id="run-id">{{.RunID}}</span> (<span id="status">{{.Status}}</span>)</p>
  {{- if .Error}}
  <p id="error"><strong>Error ({{.ErrorKind}}):</strong> {{.Error}}</p>
  {{- end}}
  <p><strong>Time:</strong> {{.StartTime.Format "2006-01-02 15:04:05"}} to {{.EndTime.Format "2006-01-02 15:04:05"}} ({{.Duration}})</p>

  <div class="stat-card">
    <div>Queries</div>
    <div class="stat-val" id="queries">{{.ProcessedQueries}}/{{.TotalQueries}}</div>
  </div>
  <div class="stat-card">
    <div>API Calls</div>
    <div class="stat-val" id="api-calls">{{.APICallsMade}}</div>
  </div>
  <div class="stat-card">
    <div>Brand Matches</div>
    <div class="stat-val" id="brand-matches">{{.TotalBrandMatches}}</div>
  </div>
  <div class="stat-card">
    <div>Not Found</div>
    <div class="stat-val" id="not-found" style="color: {{if gt .TasksNotFound 0}}red{{else}}green{{end}};">{{.TasksNotFound}}</div>
  </div>

  <h3>Tasks</h3>
  <table id="tasks">
    <tr><th>Keyword</th><th>Brand</th><th>Branch</th><th>Best Rank</th><th>Local Pack</th><th>Title</th><th>Points</th></tr>
    {{- range .Rows}}
    <tr class="{{if not .Found}}not-found{{else if .InLocalPack}}local-pack{{end}}"><td>{{.Keyword}}</td><td>{{.BrandName}}</td><td>{{.BranchName}}</td><td>{{rank .BestRank}}</td><td>{{rank .LocalPackPosition}}</td><td>{{.Title}}</td><td>{{points .}}</td></tr>
    {{- else}}
    <tr><td colspan="7">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	t, err := template.New("textReport").Funcs(funcs).Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("report: parse text template: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: render text: %w", err)
	}
	return nil
}

// WriteHTML writes an HTML report. Listing titles come from upstream, so the
// page is rendered with html/template.
func WriteHTML(w io.Writer, summary Summary) error {
	t, err := htmltemplate.New("htmlReport").Funcs(funcs).Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("report: parse html template: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: render html: %w", err)
	}
	return nil
}
