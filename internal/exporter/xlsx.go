package exporter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"ipocli/internal/collector"
)

const (
	dataSheet    = "IPO"
	summarySheet = "Quality"
)

// column positions used by the quality summary
const (
	colDay0High  = 6
	colDay0Close = 8
	colDay1Close = 14
)

// WriteXLSX writes records to a workbook at path. With appendRows an existing
// workbook keeps its rows and the new ones are added below. The summary sheet
// is rebuilt from every data row after writing.
func WriteXLSX(path string, records []collector.Record, appendRows bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	f, next, err := openWorkbook(path, appendRows)
	if err != nil {
		return err
	}
	defer f.Close()

	if next == 1 {
		if err := setRow(f, dataSheet, 1, stringsToCells(Header)); err != nil {
			return err
		}
		next = 2
	}
	for _, r := range records {
		if err := setRow(f, dataSheet, next, xlsxRow(r)); err != nil {
			return err
		}
		next++
	}

	rows, err := f.GetRows(dataSheet)
	if err != nil {
		return fmt.Errorf("failed to read back rows: %w", err)
	}
	if err := writeSummary(f, qualityFromRows(rows)); err != nil {
		return err
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

// openWorkbook returns the workbook and the first free row of the data sheet
func openWorkbook(path string, appendRows bool) (*excelize.File, int, error) {
	if appendRows {
		f, err := excelize.OpenFile(path)
		switch {
		case err == nil:
			if idx, _ := f.GetSheetIndex(dataSheet); idx < 0 {
				if _, err := f.NewSheet(dataSheet); err != nil {
					f.Close()
					return nil, 0, fmt.Errorf("failed to add data sheet: %w", err)
				}
			}
			rows, err := f.GetRows(dataSheet)
			if err != nil {
				f.Close()
				return nil, 0, fmt.Errorf("failed to read existing rows: %w", err)
			}
			return f, len(rows) + 1, nil
		case !errors.Is(err, os.ErrNotExist):
			return nil, 0, fmt.Errorf("failed to open workbook: %w", err)
		}
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", dataSheet); err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to name data sheet: %w", err)
	}
	return f, 1, nil
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d: %w", row, err)
	}
	return nil
}

func stringsToCells(values []string) []interface{} {
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}

// xlsxRow keeps prices numeric so spreadsheet formulas work on them
func xlsxRow(r collector.Record) []interface{} {
	cells := stringsToCells(Row(r))
	for _, q := range []struct {
		quote  collector.DayQuote
		offset int
	}{{r.Day0, 5}, {r.Day1, 11}} {
		if q.quote.Missing {
			continue
		}
		cells[q.offset] = q.quote.Open
		cells[q.offset+1] = q.quote.High
		cells[q.offset+2] = q.quote.Low
		cells[q.offset+3] = q.quote.Close
		cells[q.offset+4] = q.quote.Volume
	}
	return cells
}

func writeSummary(f *excelize.File, q collector.Quality) error {
	if idx, _ := f.GetSheetIndex(summarySheet); idx >= 0 {
		if err := f.DeleteSheet(summarySheet); err != nil {
			return fmt.Errorf("failed to reset summary sheet: %w", err)
		}
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("failed to add summary sheet: %w", err)
	}

	lines := [][]interface{}{
		{"metric", "rows", "ratio"},
		{"total", q.Total, 1.0},
		{"day0_high", q.Day0High, ratio(q.Day0High, q.Total)},
		{"day0_close", q.Day0Close, ratio(q.Day0Close, q.Total)},
		{"day1_close", q.Day1Close, ratio(q.Day1Close, q.Total)},
	}
	for i, line := range lines {
		if err := setRow(f, summarySheet, i+1, line); err != nil {
			return err
		}
	}
	return nil
}

// qualityFromRows counts present fields in rendered rows, header included
func qualityFromRows(rows [][]string) collector.Quality {
	var q collector.Quality
	if len(rows) <= 1 {
		return q
	}
	present := func(row []string, col int) bool {
		return col < len(row) && row[col] != "" && row[col] != MissingValue
	}
	for _, row := range rows[1:] {
		q.Total++
		if present(row, colDay0High) {
			q.Day0High++
		}
		if present(row, colDay0Close) {
			q.Day0Close++
		}
		if present(row, colDay1Close) {
			q.Day1Close++
		}
	}
	return q
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}
