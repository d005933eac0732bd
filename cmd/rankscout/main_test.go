package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"
	"github.com/xuri/excelize/v2"

	"github.com/FranksOps/rankscout/internal/model"
	"github.com/FranksOps/rankscout/internal/report"
)

// newSerperServer serves one page of places per query, then an empty page.
func newSerperServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("X-API-KEY") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req struct {
			Page int `json:"page"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		if req.Page > 1 {
			_, _ = io.WriteString(w, `{"places": []}`)
			return
		}
		_, _ = io.WriteString(w, `{"places": [
			{"position": 1, "title": "Acme Dental", "address": "1 High St"},
			{"position": 2, "title": "Bright Smile Dental London", "address": "2 High St", "rating": 4.8, "ratingCount": 120}
		]}`)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func writeTasks(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "tasks.csv")
	data := "keyword,brand,branch\ndentist london,Bright Smile,London\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write tasks: %v", err)
	}
	return path
}

func TestRunAndExport(t *testing.T) {
	t.Setenv("SERPER_API_KEY", "test-key")
	var calls atomic.Int32
	ts := newSerperServer(t, &calls)
	dir := t.TempDir()
	db := filepath.Join(dir, "runs.db")
	csvOut := filepath.Join(dir, "observations.csv")
	xlsxOut := filepath.Join(dir, "run.xlsx")

	out, err := execute(t, "run",
		"--input", writeTasks(t, dir),
		"--endpoint", ts.URL,
		"--page-delay", "0s",
		"--progress", "none",
		"--log-level", "error",
		"--sqlite", db,
		"--csv-out", csvOut,
		"--xlsx-out", xlsxOut,
		"--report", "json",
	)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 upstream calls, got %d", got)
	}

	var summary report.Summary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode summary: %v\n%s", err, out)
	}
	if summary.Status != "completed" || summary.APICallsMade != 2 || summary.TasksFound != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(summary.Rows) != 1 || *summary.Rows[0].BestRank != 2 || !summary.Rows[0].InLocalPack() {
		t.Fatalf("unexpected rows: %+v", summary.Rows)
	}

	f, err := os.Open(csvOut)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	records, err := csv.NewReader(f).ReadAll()
	f.Close()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 || records[1][0] != summary.RunID {
		t.Errorf("expected header and 2 observations of run %s, got %v", summary.RunID, records)
	}

	wb, err := excelize.OpenFile(xlsxOut)
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	rows, err := wb.GetRows(report.SheetObservations)
	wb.Close()
	if err != nil || len(rows) != 3 {
		t.Errorf("expected 3 observation rows, got %d (err %v)", len(rows), err)
	}

	out, err = execute(t, "export", summary.RunID, "--sqlite", db, "--format", "csv", "--matches-only", "--log-level", "error")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	records, err = csv.NewReader(strings.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatalf("read exported csv: %v", err)
	}
	if len(records) != 2 || records[1][6] != "Bright Smile Dental London" {
		t.Errorf("expected only the brand match, got %v", records)
	}

	out, err = execute(t, "export", summary.RunID, "--sqlite", db, "--log-level", "error")
	if err != nil {
		t.Fatalf("export text failed: %v", err)
	}
	if !strings.Contains(out, "Run:           "+summary.RunID+" (completed)") {
		t.Errorf("unexpected text report:\n%s", out)
	}
}

func TestRun_MissingCredential(t *testing.T) {
	t.Setenv("SERPER_API_KEY", "")
	var calls atomic.Int32
	ts := newSerperServer(t, &calls)
	dir := t.TempDir()

	out, err := execute(t, "run",
		"--input", writeTasks(t, dir),
		"--endpoint", ts.URL,
		"--page-delay", "0s",
		"--progress", "none",
		"--log-level", "error",
	)
	if err == nil || !strings.Contains(err.Error(), "SERPER_API_KEY") {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("expected no upstream calls, got %d", calls.Load())
	}
	if !strings.Contains(out, "(failed, configuration)") {
		t.Errorf("expected failed report, got:\n%s", out)
	}
}

func TestRun_CredentialFromConfigFile(t *testing.T) {
	t.Setenv("SERPER_API_KEY", "")
	var calls atomic.Int32
	ts := newSerperServer(t, &calls)
	dir := t.TempDir()
	cfg := filepath.Join(dir, "rankscout.yaml")
	if err := os.WriteFile(cfg, []byte("serper-api-key: test-key\nreport: none\nprogress: none\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "run", "--config", cfg,
		"--input", writeTasks(t, dir),
		"--endpoint", ts.URL,
		"--page-delay", "0s",
		"--log-level", "error",
	)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if out != "" {
		t.Errorf("expected no report, got %q", out)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 upstream calls, got %d", calls.Load())
	}
}

func TestRun_InvalidFlags(t *testing.T) {
	dir := t.TempDir()
	tasks := writeTasks(t, dir)
	cases := map[string][]string{
		"missing input":     {"run"},
		"bad device":        {"run", "-i", tasks, "--device", "tablet"},
		"bad profile":       {"run", "-i", tasks, "--tls-profile", "netscape"},
		"bad boundary":      {"run", "-i", tasks, "--grid-radius-km", "5", "--grid-boundary", "51.5,-0.1;51.6"},
		"bad log level":     {"run", "-i", tasks, "--log-level", "loud"},
		"missing file":      {"run", "-i", filepath.Join(dir, "nope.csv")},
		"missing proxies":   {"run", "-i", tasks, "--proxy-file", filepath.Join(dir, "nope.txt")},
		"proxy and pool":    {"run", "-i", tasks, "--proxy", "http://127.0.0.1:3128", "--proxy-file", tasks},
		"export no store":   {"export", "abc"},
		"export xlsx no o":  {"export", "abc", "--sqlite", filepath.Join(dir, "x.db"), "--format", "xlsx"},
		"export bad format": {"export", "abc", "--sqlite", filepath.Join(dir, "x.db"), "--format", "pdf"},
		"bad progress":      {"run", "-i", tasks, "--progress", "line,bar"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := execute(t, args...); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRun_InvalidReportMakesNoCalls(t *testing.T) {
	t.Setenv("SERPER_API_KEY", "test-key")
	var calls atomic.Int32
	ts := newSerperServer(t, &calls)

	_, err := execute(t, "run",
		"--input", writeTasks(t, t.TempDir()),
		"--endpoint", ts.URL,
		"--page-delay", "0s",
		"--progress", "none",
		"--log-level", "error",
		"--report", "pdf",
	)
	if err == nil || !strings.Contains(err.Error(), "--report") {
		t.Fatalf("expected --report error, got %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("expected no upstream calls, got %d", calls.Load())
	}
}

func TestExport_InvalidFormatKeepsOutput(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "report.txt")
	if err := os.WriteFile(out, []byte("previous export"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := execute(t, "export", "abc",
		"--sqlite", filepath.Join(dir, "runs.db"),
		"--format", "pdf",
		"-o", out,
		"--log-level", "error",
	)
	if err == nil || !strings.Contains(err.Error(), "--format") {
		t.Fatalf("expected --format error, got %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "previous export" {
		t.Errorf("expected output untouched, got %q", data)
	}
}

func TestProgressFunc_LineAndLog(t *testing.T) {
	var line, logs bytes.Buffer
	a := &app{logger: slog.New(slog.NewTextHandler(&logs, nil))}
	cmd := &cobra.Command{}
	cmd.SetErr(&line)

	fn, done, err := a.progressFunc(cmd, "line, log")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fn(model.Progress{Event: model.EventTaskStarted, CurrentQuery: "dentist london", TotalQueries: 1})
	done()

	if !strings.Contains(line.String(), "dentist london") || !strings.HasSuffix(line.String(), "\n") {
		t.Errorf("expected a finished status line, got %q", line.String())
	}
	if !strings.Contains(logs.String(), "event=task_started") {
		t.Errorf("expected a progress log record, got %q", logs.String())
	}
}

func TestExport_NotFound(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")
	_, err := execute(t, "export", "missing-run", "--sqlite", db, "--log-level", "error")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestParseBoundary(t *testing.T) {
	mp, err := parseBoundary("51.4,-0.3; 51.6,-0.3; 51.6,0.1; 51.4,0.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mp) != 1 || len(mp[0][0]) != 5 {
		t.Fatalf("expected one closed ring of 5 points, got %v", mp)
	}
	if p := mp[0][0][0]; p[0] != -0.3 || p[1] != 51.4 {
		t.Errorf("expected [lng, lat] order, got %v", p)
	}

	if mp, err := parseBoundary("  "); err != nil || mp != nil {
		t.Errorf("expected no boundary, got %v, %v", mp, err)
	}
	if _, err := parseBoundary("51.4;51.6,0.1;51.5,0"); err == nil {
		t.Error("expected error for a vertex without longitude")
	}
	if _, err := parseBoundary("a,b;1,2;3,4"); err == nil {
		t.Error("expected error for a non-numeric vertex")
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "rankscout dev\n" {
		t.Errorf("unexpected output %q", out)
	}
}
