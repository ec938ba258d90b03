package scheduler

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "ipocli/internal/errors"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestTracker(t *testing.T, clock *fakeClock) *Tracker {
	t.Helper()
	return NewTracker(
		filepath.Join(t.TempDir(), ".last_run.json"),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(clock.Now),
	)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestComputeWindow_FirstRunUsesDefault(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC)}
	tr := newTestTracker(t, clock)

	w, err := tr.ComputeWindow(context.Background(), "ipo_prices", day(2025, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, day(2025, 1, 1), w.Start)
	assert.Equal(t, day(2025, 3, 10), w.End)
	assert.False(t, w.Empty())
}

func TestComputeWindow_ResumesFromLastRun(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)}
	tr := newTestTracker(t, clock)
	ctx := context.Background()

	require.NoError(t, tr.RecordSuccess(ctx, "ipo_prices", day(2025, 3, 1)))

	w, err := tr.ComputeWindow(ctx, "ipo_prices", day(2020, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, day(2025, 3, 1), w.Start)
	assert.Equal(t, day(2025, 3, 10), w.End)

	other, err := tr.ComputeWindow(ctx, "daily_indicators", day(2024, 6, 1))
	require.NoError(t, err)
	assert.Equal(t, day(2024, 6, 1), other.Start, "jobs are tracked independently")
}

func TestComputeWindow_Idempotence(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)}
	tr := newTestTracker(t, clock)
	ctx := context.Background()

	w, err := tr.ComputeWindow(ctx, "ipo_prices", day(2025, 3, 1))
	require.NoError(t, err)
	require.NoError(t, tr.RecordSuccess(ctx, "ipo_prices", w.End))

	before, err := os.ReadFile(tr.path)
	require.NoError(t, err)

	again, err := tr.ComputeWindow(ctx, "ipo_prices", day(2025, 3, 1))
	require.NoError(t, err)
	assert.True(t, again.Empty(), "re-run with no new data is a no-op")

	after, err := os.ReadFile(tr.path)
	require.NoError(t, err)
	assert.Equal(t, before, after, "computing a window never mutates state")
}

func TestRecordSuccess_UsesLogicalEnd(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 20, 23, 0, 0, 0, time.UTC)}
	tr := newTestTracker(t, clock)

	require.NoError(t, tr.RecordSuccess(context.Background(), "ipo_prices", day(2025, 3, 10)))

	rec, ok, err := tr.Get("ipo_prices")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2025-03-10", rec.LastRunDate)
	assert.Equal(t, clock.now, rec.LastRunTimestamp.UTC())
}

func TestWindow(t *testing.T) {
	w := Window{Start: day(2025, 1, 30), End: day(2025, 2, 2)}
	assert.Equal(t, []time.Time{day(2025, 1, 30), day(2025, 1, 31), day(2025, 2, 1)}, w.Days())
	assert.True(t, w.Contains(day(2025, 1, 30)))
	assert.False(t, w.Contains(day(2025, 2, 2)))

	assert.True(t, Window{Start: day(2025, 2, 2), End: day(2025, 2, 2)}.Empty())
	assert.True(t, Window{Start: day(2025, 2, 3), End: day(2025, 2, 2)}.Empty())
}

func TestReset(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)}
	tr := newTestTracker(t, clock)
	ctx := context.Background()

	require.NoError(t, tr.RecordSuccess(ctx, "a", day(2025, 3, 1)))
	require.NoError(t, tr.RecordSuccess(ctx, "b", day(2025, 3, 2)))

	jobs, err := tr.Jobs()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, jobs)

	require.NoError(t, tr.Reset(ctx, "a"))
	all, err := tr.All()
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Contains(t, all, "b")

	err = tr.Reset(ctx, "missing")
	assert.Equal(t, apperrors.ErrTypeNotFound, apperrors.TypeOf(err))

	require.NoError(t, tr.Reset(ctx, ""))
	all, err = tr.All()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCorruptFile(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	tr := newTestTracker(t, clock)
	require.NoError(t, os.WriteFile(tr.path, []byte("[]"), 0644))

	_, err := tr.ComputeWindow(context.Background(), "x", day(2025, 1, 1))
	assert.Error(t, err)
}
