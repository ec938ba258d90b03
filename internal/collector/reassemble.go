package collector

import (
	"time"

	"ipocli/internal/marketapi"
)

// Index maps snapshot date (YYYYMMDD) to short code to trade record
type Index map[string]map[string]marketapi.DailyTrade

func (idx Index) add(date string, trades []marketapi.DailyTrade) {
	byCode, ok := idx[date]
	if !ok {
		byCode = make(map[string]marketapi.DailyTrade, len(trades))
		idx[date] = byCode
	}
	for _, t := range trades {
		byCode[t.Code()] = t
	}
}

// markEmpty records a date whose fetch failed so lookups resolve to missing
func (idx Index) markEmpty(date string) {
	if _, ok := idx[date]; !ok {
		idx[date] = map[string]marketapi.DailyTrade{}
	}
}

// Lookup returns the trade for code on day
func (idx Index) Lookup(day time.Time, code string) (marketapi.DailyTrade, bool) {
	t, ok := idx[day.Format(KeyDateLayout)][code]
	return t, ok
}

// DayQuote holds one entity's prices on one day. Missing is set when the
// snapshot for the day could not be fetched or did not contain the entity;
// the numeric fields are then zero and must not be read as prices.
type DayQuote struct {
	Date    time.Time `json:"date"`
	Open    float64   `json:"open"`
	High    float64   `json:"high"`
	Low     float64   `json:"low"`
	Close   float64   `json:"close"`
	Volume  int64     `json:"volume"`
	Missing bool      `json:"missing"`
}

// Record is the one output row per entity
type Record struct {
	Entity
	Day0 DayQuote `json:"day0"`
	Day1 DayQuote `json:"day1"`
}

// Complete reports whether both days were found
func (r Record) Complete() bool {
	return !r.Day0.Missing && !r.Day1.Missing
}

// Reassemble builds exactly one record per entity, in input order. It never
// fails: unavailable days become missing quotes.
func Reassemble(entities []Entity, idx Index) []Record {
	records := make([]Record, 0, len(entities))
	for _, e := range entities {
		records = append(records, Record{
			Entity: e,
			Day0:   quote(idx, e.Day0(), e.Code),
			Day1:   quote(idx, e.Day1(), e.Code),
		})
	}
	return records
}

func quote(idx Index, day time.Time, code string) DayQuote {
	t, ok := idx.Lookup(day, code)
	if !ok {
		return DayQuote{Date: day, Missing: true}
	}
	return DayQuote{
		Date:   day,
		Open:   t.Open.Float64(),
		High:   t.High.Float64(),
		Low:    t.Low.Float64(),
		Close:  t.Close.Float64(),
		Volume: t.Volume.Int64(),
	}
}

// Quality counts how many rows carry the fields downstream modelling relies on
type Quality struct {
	Total     int `json:"total"`
	Day0High  int `json:"day0_high"`
	Day0Close int `json:"day0_close"`
	Day1Close int `json:"day1_close"`
}

// AssessQuality summarizes records
func AssessQuality(records []Record) Quality {
	q := Quality{Total: len(records)}
	for _, r := range records {
		if !r.Day0.Missing && r.Day0.High > 0 {
			q.Day0High++
		}
		if !r.Day0.Missing && r.Day0.Close > 0 {
			q.Day0Close++
		}
		if !r.Day1.Missing && r.Day1.Close > 0 {
			q.Day1Close++
		}
	}
	return q
}

// SplitDeferred separates records whose day1 falls on or after horizon. Those
// cannot be complete yet and are better exported by a later run.
func SplitDeferred(records []Record, horizon time.Time) (ready, deferred []Record) {
	for _, r := range records {
		if r.Day1.Date.Before(horizon) {
			ready = append(ready, r)
		} else {
			deferred = append(deferred, r)
		}
	}
	return ready, deferred
}
