package report

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/FranksOps/rankscout/internal/model"
	"github.com/FranksOps/rankscout/internal/storage/csvbackend"
)

// WriteCSV writes one row per observation, sentinels included, with the same
// columns as the CSV storage backend.
func WriteCSV(w io.Writer, obs []*model.Observation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvbackend.Header); err != nil {
		return fmt.Errorf("report: write csv header: %w", err)
	}
	for _, o := range obs {
		if err := cw.Write(csvbackend.Record(o)); err != nil {
			return fmt.Errorf("report: write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("report: flush csv: %w", err)
	}
	return nil
}

const (
	SheetSummary      = "Summary"
	SheetObservations = "Observations"
)

var summaryHeader = []any{
	"Keyword", "Brand", "Branch", "Found", "Best Rank", "Local Pack Position",
	"Title", "Address", "Rating", "Rating Count", "Page", "Matches", "Points Matched", "Points Searched",
}

var observationHeader = []any{
	"Keyword", "Brand", "Branch", "Rank", "Local Pack", "Local Pack Position", "Brand Match",
	"Title", "Address", "Rating", "Rating Count", "Category", "Phone", "Website",
	"Device", "Country", "Language", "Page", "Latitude", "Longitude", "Created At",
}

// WriteXLSX writes a workbook with a per-task Summary sheet and a full
// Observations sheet.
func WriteXLSX(w io.Writer, summary Summary, obs []*model.Observation) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return fmt.Errorf("report: rename sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetObservations); err != nil {
		return fmt.Errorf("report: add sheet: %w", err)
	}

	rows := make([][]any, 0, len(summary.Rows))
	for _, r := range summary.Rows {
		rows = append(rows, []any{
			r.Keyword, r.BrandName, r.BranchName, r.Found, cell(r.BestRank), cell(r.LocalPackPosition),
			r.Title, r.Address, r.Rating, r.RatingCount, r.Page, r.Matches, r.PointsMatched, r.PointsSearched,
		})
	}
	if err := writeSheet(f, SheetSummary, summaryHeader, rows); err != nil {
		return err
	}

	rows = rows[:0]
	for _, o := range obs {
		rows = append(rows, []any{
			o.Keyword, o.BrandName, o.BranchName, cell(o.RankPosition), o.IsLocalPack, cell(o.LocalPackPosition), o.BrandMatch,
			o.Title, o.Address, o.Rating, o.RatingCount, o.Category, o.Phone, o.Website,
			o.DeviceType, o.Country, o.Language, o.Page, cell(o.SourceLatitude), cell(o.SourceLongitude), o.CreatedAt,
		})
	}
	if err := writeSheet(f, SheetObservations, observationHeader, rows); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("report: write xlsx: %w", err)
	}
	return nil
}

// writeSheet streams header and rows into sheet.
func writeSheet(f *excelize.File, sheet string, header []any, rows [][]any) error {
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("report: stream %s: %w", sheet, err)
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("report: %s header: %w", sheet, err)
	}
	for i, row := range rows {
		ref, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := sw.SetRow(ref, row); err != nil {
			return fmt.Errorf("report: %s row %d: %w", sheet, i+2, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("report: flush %s: %w", sheet, err)
	}
	return nil
}

// cell turns an absent value into an empty cell.
func cell[T int | float64](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
