package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/FranksOps/rankscout/internal/report"
	"github.com/FranksOps/rankscout/internal/storage"
)

func newExportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export RUN_ID",
		Short: "Export a stored run",
		Example: `  rankscout export 6f1c2f9e-0d7b-4f55-9d1a-2b8f3c4e5a6b --sqlite runs.db --format html -o report.html
  rankscout export 6f1c2f9e-0d7b-4f55-9d1a-2b8f3c4e5a6b --pg-dsn postgres://localhost/rankscout --format csv --matches-only`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.export(cmd, args[0])
		},
	}

	f := cmd.Flags()
	addStoreFlags(f)
	f.String("format", "text", "export format: text, json, html, csv or xlsx")
	f.StringP("output", "o", "", "output file (default: stdout; required for xlsx)")
	f.Bool("matches-only", false, "csv and xlsx: only rows whose brand matched")
	return cmd
}

func (a *app) export(cmd *cobra.Command, runID string) error {
	v := a.v
	format := strings.ToLower(v.GetString("format"))
	out := v.GetString("output")
	switch {
	case format == "csv", format == "xlsx", format != "none" && validReport(format):
	default:
		return fmt.Errorf("invalid --format %q (text, json, html, csv or xlsx)", format)
	}
	if format == "xlsx" && out == "" {
		return errors.New("--output is required for xlsx")
	}

	ctx := cmd.Context()
	backends, err := a.openBackends(ctx, false)
	if err != nil {
		return err
	}
	defer backends.Close()
	if len(backends) == 0 {
		return errors.New("one of --sqlite or --pg-dsn is required")
	}

	run, err := backends.LoadRun(ctx, runID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return err
	}

	obs := run.Observations
	if v.GetBool("matches-only") {
		match := true
		if obs, err = backends.Query(ctx, storage.Filter{RunID: runID, BrandMatch: &match}); err != nil {
			return err
		}
	}

	write := func(w io.Writer) error {
		switch format {
		case "csv":
			return report.WriteCSV(w, obs)
		case "xlsx":
			return report.WriteXLSX(w, report.GenerateSummary(run), obs)
		default:
			return writeReport(w, format, report.GenerateSummary(run))
		}
	}

	if out == "" {
		return write(cmd.OutOrStdout())
	}
	if err := writeFile(out, func(f *os.File) error { return write(f) }); err != nil {
		return err
	}
	a.logger.Info("run exported", "run_id", runID, "format", format, "observations", len(obs), "path", out)
	return nil
}

// validReport reports whether writeReport accepts format.
func validReport(format string) bool {
	switch strings.ToLower(format) {
	case "", "text", "json", "html", "none":
		return true
	}
	return false
}

// writeReport renders the run summary in one of the report formats.
func writeReport(w io.Writer, format string, summary report.Summary) error {
	switch strings.ToLower(format) {
	case "", "text":
		return report.WriteText(w, summary)
	case "json":
		return report.WriteJSON(w, summary)
	case "html":
		return report.WriteHTML(w, summary)
	case "none":
		return nil
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

// writeFile creates path and hands it to fn, reporting close errors.
func writeFile(path string, fn func(*os.File) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	return fn(f)
}
