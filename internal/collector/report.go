package collector

import (
	"sort"
	"time"
)

// Report summarizes one collection run for operators
type Report struct {
	Entities      int `json:"entities"`
	KeysPerEntity int `json:"required_keys"`
	PlannedKeys   int `json:"planned_keys"`
	ResumedKeys   int `json:"resumed_keys"`
	CachedKeys    int `json:"cached_keys"`
	FetchedKeys   int `json:"fetched_keys"`
	FailedKeys    int `json:"failed_keys"`
	DeferredKeys  int `json:"deferred_keys"`

	Enriched       int `json:"enriched"`
	SentinelFilled int `json:"sentinel_filled"`

	// EarliestDeferred is the earliest listing date among entities that still
	// wait on a deferred key. Zero when none do.
	EarliestDeferred time.Time `json:"earliest_deferred"`

	Failures    map[string]string `json:"failures,omitempty"`
	Aborted     bool              `json:"aborted"`
	AbortReason string            `json:"abort_reason,omitempty"`

	fatal error
}

func newReport(entities, planned int) *Report {
	return &Report{
		Entities:    entities,
		PlannedKeys: planned,
		Failures:    make(map[string]string),
	}
}

func (r *Report) fail(key string, err error) {
	r.FailedKeys++
	r.Failures[key] = err.Error()
}

func (r *Report) abort(err error) {
	r.Aborted = true
	r.AbortReason = err.Error()
	r.fatal = err
}

func (r *Report) countEntities(records []Record, horizon time.Time) {
	for _, rec := range records {
		if rec.Complete() {
			r.Enriched++
		} else {
			r.SentinelFilled++
		}
		if !rec.Day1.Date.Before(horizon) {
			if r.EarliestDeferred.IsZero() || rec.ListingDate.Before(r.EarliestDeferred) {
				r.EarliestDeferred = rec.ListingDate
			}
		}
	}
}

// FailedKeyNames returns failed keys in sorted order
func (r *Report) FailedKeyNames() []string {
	names := make([]string, 0, len(r.Failures))
	for k := range r.Failures {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// LogAttrs renders the counts as slog key/value pairs
func (r *Report) LogAttrs() []any {
	return []any{
		"entities", r.Entities,
		"planned_keys", r.PlannedKeys,
		"resumed_keys", r.ResumedKeys,
		"cached_keys", r.CachedKeys,
		"fetched_keys", r.FetchedKeys,
		"failed_keys", r.FailedKeys,
		"deferred_keys", r.DeferredKeys,
		"enriched", r.Enriched,
		"sentinel_filled", r.SentinelFilled,
	}
}
