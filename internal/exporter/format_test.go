package exporter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"ipocli/internal/collector"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sampleRecords() []collector.Record {
	return []collector.Record{
		{
			Entity: collector.Entity{Code: "100001", Name: "Alpha", Market: "KOSDAQ", ListingDate: day(2024, 1, 4)},
			Day0:   collector.DayQuote{Date: day(2024, 1, 4), Open: 10000, High: 13000, Low: 9500, Close: 12500, Volume: 1234},
			Day1:   collector.DayQuote{Date: day(2024, 1, 5), Open: 12500, High: 12900, Low: 11000, Close: 11200, Volume: 987},
		},
		{
			Entity: collector.Entity{Code: "100002", Name: "Beta", ListingDate: day(2024, 1, 8)},
			Day0:   collector.DayQuote{Date: day(2024, 1, 8), Missing: true},
			Day1:   collector.DayQuote{Date: day(2024, 1, 9), Open: 5000, High: 5100, Low: 4900, Close: 5050, Volume: 10},
		},
	}
}

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		name     string
		input    float64
		expected string
	}{
		{"zero value", 0, "0.00"},
		{"integer price", 12500, "12500.00"},
		{"one decimal", 13.4, "13.40"},
		{"rounding", 1.005, "1.00"},
		{"negative", -789.123, "-789.12"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatFloat(tt.input))
		})
	}
}

func TestRow_Complete(t *testing.T) {
	row := Row(sampleRecords()[0])

	assert.Len(t, row, len(Header))
	assert.Equal(t, []string{
		"100001", "Alpha", "KOSDAQ", "2024-01-04",
		"2024-01-04", "10000.00", "13000.00", "9500.00", "12500.00", "1234",
		"2024-01-05", "12500.00", "12900.00", "11000.00", "11200.00", "987",
	}, row)
}

func TestRow_MissingDayUsesSentinel(t *testing.T) {
	row := Row(sampleRecords()[1])

	assert.Len(t, row, len(Header))
	assert.Equal(t, "2024-01-08", row[4], "the date of a missing day is still known")
	assert.Equal(t, []string{MissingValue, MissingValue, MissingValue, MissingValue, MissingValue}, row[5:10])
	assert.Equal(t, "5050.00", row[14])
}

func TestRows_OneRowPerRecord(t *testing.T) {
	records := sampleRecords()
	rows := Rows(records)
	assert.Len(t, rows, len(records))
	assert.Equal(t, "100002", rows[1][0])
	assert.Empty(t, Rows(nil))
}
