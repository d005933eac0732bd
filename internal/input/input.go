// Package input reads rank-check tasks from CSV or XLSX files.
package input

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/FranksOps/rankscout/internal/model"
)

// ValidationError means the input holds no usable task or cannot be read as
// a task table at all.
type ValidationError struct {
	Source string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("input: %s: %s", e.Source, e.Reason)
	}
	return "input: " + e.Reason
}

// Column aliases accepted in a header row, compared case-insensitively.
var (
	keywordColumns = []string{"keyword", "keywords", "query"}
	brandColumns   = []string{"brand", "brand name", "brand_name", "brandname"}
	branchColumns  = []string{"branch", "branch name", "branch_name", "branchname"}
)

// ReadFile reads tasks from a .csv or .xlsx file.
func ReadFile(path string) ([]model.Task, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("input: open %s: %w", path, err)
	}
	defer f.Close()

	var tasks []model.Task
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv", ".txt":
		tasks, err = ReadCSV(f)
	case ".xlsx", ".xlsm":
		tasks, err = ReadXLSX(f)
	default:
		return nil, &ValidationError{Source: path, Reason: fmt.Sprintf("unsupported file type %q", ext)}
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) && vErr.Source == "" {
		vErr.Source = filepath.Base(path)
	}
	return tasks, err
}

// ReadCSV reads tasks from CSV data. A first row naming a keyword column is
// taken as a header; otherwise the first three columns are keyword, brand and
// branch. Rows with any blank field are dropped.
func ReadCSV(r io.Reader) ([]model.Task, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, &ValidationError{Reason: "read csv: " + err.Error()}
	}
	return parseRows(records)
}

// ReadXLSX reads tasks from the first sheet of a workbook, with the same
// header rules as ReadCSV.
func ReadXLSX(r io.Reader) ([]model.Task, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &ValidationError{Reason: "open workbook: " + err.Error()}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &ValidationError{Reason: "workbook has no sheets"}
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("input: read sheet %q: %w", sheets[0], err)
	}
	return parseRows(rows)
}

func parseRows(rows [][]string) ([]model.Task, error) {
	if len(rows) == 0 {
		return nil, &ValidationError{Reason: "no rows"}
	}

	colIdx := map[string]int{"keyword": 0, "brand": 1, "branch": 2}
	start := 0
	if header, ok := detectHeader(rows[0]); ok {
		if len(header) < 3 {
			return nil, &ValidationError{Reason: "header must name keyword, brand and branch columns"}
		}
		colIdx = header
		start = 1
	}

	var tasks []model.Task
	for _, row := range rows[start:] {
		t := model.Task{
			Keyword:    getCol(row, colIdx, "keyword"),
			BrandName:  getCol(row, colIdx, "brand"),
			BranchName: getCol(row, colIdx, "branch"),
		}
		if t.Keyword == "" || t.BrandName == "" || t.BranchName == "" {
			continue
		}
		tasks = append(tasks, t)
	}

	if len(tasks) == 0 {
		return nil, &ValidationError{Reason: "no rows with keyword, brand and branch"}
	}
	return tasks, nil
}

// detectHeader maps column roles to indexes when row looks like a header.
func detectHeader(row []string) (map[string]int, bool) {
	idx := make(map[string]int, 3)
	for i, cell := range row {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(cell, "\ufeff")))
		switch {
		case slices.Contains(keywordColumns, name):
			setOnce(idx, "keyword", i)
		case slices.Contains(brandColumns, name):
			setOnce(idx, "brand", i)
		case slices.Contains(branchColumns, name):
			setOnce(idx, "branch", i)
		}
	}
	if _, ok := idx["keyword"]; !ok {
		return nil, false
	}
	return idx, true
}

func setOnce(m map[string]int, key string, i int) {
	if _, ok := m[key]; !ok {
		m[key] = i
	}
}

// getCol safely retrieves a trimmed cell from a row.
func getCol(row []string, colIdx map[string]int, col string) string {
	idx, ok := colIdx[col]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
