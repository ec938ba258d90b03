package exporter

import (
	"strconv"
	"time"

	"ipocli/internal/collector"
)

// MissingValue marks a field whose source data could not be collected
const MissingValue = "NA"

// DateLayout is the output form of every date column
const DateLayout = "2006-01-02"

// Header is the fixed column order of the output table
var Header = []string{
	"code", "name", "market", "listing_date",
	"day0_date", "day0_open", "day0_high", "day0_low", "day0_close", "day0_volume",
	"day1_date", "day1_open", "day1_high", "day1_low", "day1_close", "day1_volume",
}

// formatFloat formats a price with exactly 2 decimal places
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// formatInt formats an int64 value
func formatInt(i int64) string {
	return strconv.FormatInt(i, 10)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return MissingValue
	}
	return t.Format(DateLayout)
}

// quoteFields renders one day; the date is always present, prices only when
// the quote was found
func quoteFields(q collector.DayQuote) []string {
	if q.Missing {
		return []string{formatDate(q.Date), MissingValue, MissingValue, MissingValue, MissingValue, MissingValue}
	}
	return []string{
		formatDate(q.Date),
		formatFloat(q.Open),
		formatFloat(q.High),
		formatFloat(q.Low),
		formatFloat(q.Close),
		formatInt(q.Volume),
	}
}

// Row renders one record in Header order
func Row(r collector.Record) []string {
	row := make([]string, 0, len(Header))
	row = append(row, r.Code, r.Name, r.Market, formatDate(r.ListingDate))
	row = append(row, quoteFields(r.Day0)...)
	row = append(row, quoteFields(r.Day1)...)
	return row
}

// Rows renders records in order, one row each
func Rows(records []collector.Record) [][]string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, Row(r))
	}
	return rows
}
