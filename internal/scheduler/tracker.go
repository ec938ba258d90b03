// Package scheduler remembers, per job, the end of the last successfully
// processed date range so each run only requests data that is new since the
// previous one.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	apperrors "ipocli/internal/errors"
	"ipocli/internal/files"
)

// DateLayout is the persisted form of LastRunDate
const DateLayout = "2006-01-02"

// LastRun is the persisted record of one job
type LastRun struct {
	LastRunDate      string    `json:"last_run_date"`
	LastRunTimestamp time.Time `json:"last_run_timestamp"`
}

// Window is a half-open date range [Start, End)
type Window struct {
	Start time.Time
	End   time.Time
}

// Empty reports whether the window holds no days. An empty window means the
// job is up to date.
func (w Window) Empty() bool {
	return !w.Start.Before(w.End)
}

// Days returns every calendar day in the window
func (w Window) Days() []time.Time {
	var days []time.Time
	for d := w.Start; d.Before(w.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Contains reports whether day falls inside the window
func (w Window) Contains(day time.Time) bool {
	return !day.Before(w.Start) && day.Before(w.End)
}

// Tracker persists LastRun records in one JSON file keyed by job name
type Tracker struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock overrides the wall clock
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker backed by path
func NewTracker(path string, logger *slog.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		path:   path,
		logger: logger.With("component", "last_run_tracker"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Today returns the current day truncated to midnight in local time
func (t *Tracker) Today() time.Time {
	return truncateDay(t.now())
}

// ComputeWindow returns [start, today) where start is the job's last recorded
// date, or defaultStart when the job has never succeeded.
func (t *Tracker) ComputeWindow(ctx context.Context, job string, defaultStart time.Time) (Window, error) {
	runs, err := t.load()
	if err != nil {
		return Window{}, err
	}

	end := t.Today()
	start := truncateDay(defaultStart)
	if rec, ok := runs[job]; ok {
		parsed, err := time.ParseInLocation(DateLayout, rec.LastRunDate, end.Location())
		if err != nil {
			return Window{}, apperrors.NewStorageError("invalid last run date", err).WithContext("job", job)
		}
		start = parsed
	}

	w := Window{Start: start, End: end}
	t.logger.InfoContext(ctx, "collection window computed",
		"job", job,
		"start", start.Format(DateLayout),
		"end", end.Format(DateLayout),
		"empty", w.Empty())
	return w, nil
}

// RecordSuccess stores end as the job's new high-water mark. end is the
// logical end of the processed range, not the time of the call.
func (t *Tracker) RecordSuccess(ctx context.Context, job string, end time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	runs, err := t.load()
	if err != nil {
		return err
	}
	runs[job] = LastRun{
		LastRunDate:      end.Format(DateLayout),
		LastRunTimestamp: t.now(),
	}
	if err := files.WriteJSON(t.path, runs); err != nil {
		return apperrors.NewStorageError("failed to save last run", err).WithContext("job", job)
	}

	t.logger.InfoContext(ctx, "last run recorded", "job", job, "date", end.Format(DateLayout))
	return nil
}

// Get returns the record of one job
func (t *Tracker) Get(job string) (LastRun, bool, error) {
	runs, err := t.load()
	if err != nil {
		return LastRun{}, false, err
	}
	rec, ok := runs[job]
	return rec, ok, nil
}

// All returns every recorded job
func (t *Tracker) All() (map[string]LastRun, error) {
	return t.load()
}

// Jobs returns the recorded job names in sorted order
func (t *Tracker) Jobs() ([]string, error) {
	runs, err := t.load()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(runs))
	for name := range runs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Reset forgets one job, or every job when job is empty
func (t *Tracker) Reset(ctx context.Context, job string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if job == "" {
		if err := files.RemoveIfExists(t.path); err != nil {
			return apperrors.NewStorageError("failed to reset last runs", err)
		}
		t.logger.InfoContext(ctx, "all last runs reset")
		return nil
	}

	runs, err := t.load()
	if err != nil {
		return err
	}
	if _, ok := runs[job]; !ok {
		return apperrors.NewNotFoundError("job " + job)
	}
	delete(runs, job)
	if err := files.WriteJSON(t.path, runs); err != nil {
		return apperrors.NewStorageError("failed to save last runs", err)
	}
	t.logger.InfoContext(ctx, "last run reset", "job", job)
	return nil
}

func (t *Tracker) load() (map[string]LastRun, error) {
	runs := make(map[string]LastRun)
	if _, err := files.ReadJSON(t.path, &runs); err != nil {
		return nil, apperrors.NewStorageError("failed to read last runs", err)
	}
	if runs == nil {
		runs = make(map[string]LastRun)
	}
	return runs, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
