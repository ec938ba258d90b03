package operations_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "ipocli/internal/errors"
	"ipocli/internal/operations"
	"ipocli/internal/operations/testutil"
	"ipocli/internal/scheduler"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testWindow() scheduler.Window {
	return scheduler.Window{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newTestManager(t *testing.T, hub operations.WebSocketHub, steps []operations.Step, opts ...operations.ManagerOption) *operations.Manager {
	t.Helper()
	registry := operations.NewRegistry()
	for _, s := range steps {
		require.NoError(t, registry.Register(s))
	}
	broadcaster := operations.NewStatusBroadcaster(hub, discard())
	t.Cleanup(broadcaster.Stop)
	return operations.NewManager(registry, broadcaster, discard(), opts...)
}

func stepStatus(t *testing.T, state *operations.OperationState, id string) operations.StepStatus {
	t.Helper()
	st := state.GetStep(id)
	require.NotNil(t, st, "step %s", id)
	return st.GetStatus()
}

func TestManagerExecuteSequential(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	record := func(id string) func(context.Context, *operations.OperationState) error {
		return func(context.Context, *operations.OperationState) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, id)
			return nil
		}
	}

	third := testutil.NewMockStep("third", "second")
	third.ExecuteFunc = record("third")
	first := testutil.NewMockStep("first")
	first.ExecuteFunc = record("first")
	second := testutil.NewMockStep("second", "first")
	second.ExecuteFunc = record("second")

	hub := &testutil.MockWebSocketHub{}
	m := newTestManager(t, hub, []operations.Step{third, first, second})

	state, err := m.Execute(context.Background(), operations.OperationRequest{ID: "op-seq", Job: "ipo", Window: testWindow()})
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second", "third"}, order)
	assert.Equal(t, operations.OperationStatusCompleted, state.GetStatus())
	for _, id := range []string{"first", "second", "third"} {
		assert.Equal(t, operations.StepStatusCompleted, stepStatus(t, state, id))
	}

	last := hub.Last()
	require.NotNil(t, last)
	assert.Equal(t, "completed", last.Status)
	assert.Equal(t, "ipo", last.Job)
	assert.Equal(t, 100, last.Progress)

	snap, ok := m.Broadcaster().GetSnapshot("op-seq")
	require.True(t, ok)
	assert.Equal(t, "completed", snap.Status)
}

func TestManagerGeneratesOperationID(t *testing.T) {
	m := newTestManager(t, nil, []operations.Step{testutil.NewMockStep("only")})

	state, err := m.Execute(context.Background(), operations.OperationRequest{Window: testWindow()})
	require.NoError(t, err)
	assert.NotEmpty(t, state.ID)
}

func TestManagerFailureSkipsDependents(t *testing.T) {
	boom := errors.New("boom")
	first := testutil.NewMockStep("first")
	failing := testutil.NewMockStep("failing", "first")
	failing.ExecuteFunc = func(context.Context, *operations.OperationState) error { return boom }
	dependent := testutil.NewMockStep("dependent", "failing")
	independent := testutil.NewMockStep("independent", "first")

	hub := &testutil.MockWebSocketHub{}
	m := newTestManager(t, hub, []operations.Step{first, failing, dependent, independent})

	state, err := m.Execute(context.Background(), operations.OperationRequest{ID: "op-fail", Window: testWindow()})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, operations.OperationStatusFailed, state.GetStatus())
	assert.Equal(t, operations.StepStatusFailed, stepStatus(t, state, "failing"))
	assert.Equal(t, operations.StepStatusSkipped, stepStatus(t, state, "dependent"))
	assert.Equal(t, operations.StepStatusPending, stepStatus(t, state, "independent"))
	assert.Zero(t, dependent.ExecuteCalls())
	assert.Contains(t, state.Error, "boom")

	last := hub.Last()
	require.NotNil(t, last)
	assert.Equal(t, "failed", last.Status)
}

func TestManagerContinueOnError(t *testing.T) {
	boom := errors.New("boom")
	failing := testutil.NewMockStep("failing")
	failing.ExecuteFunc = func(context.Context, *operations.OperationState) error { return boom }
	dependent := testutil.NewMockStep("dependent", "failing")
	independent := testutil.NewMockStep("independent")

	cfg := operations.NewConfig()
	cfg.ContinueOnError = true
	m := newTestManager(t, nil, []operations.Step{failing, dependent, independent}, operations.WithConfig(cfg))

	state, err := m.Execute(context.Background(), operations.OperationRequest{Window: testWindow()})
	require.Error(t, err)
	assert.Equal(t, operations.StepStatusSkipped, stepStatus(t, state, "dependent"))
	assert.Equal(t, operations.StepStatusCompleted, stepStatus(t, state, "independent"))
	assert.Equal(t, 1, independent.ExecuteCalls())
}

func TestManagerRetriesTransientErrors(t *testing.T) {
	attempts := 0
	flaky := testutil.NewMockStep("flaky")
	flaky.ExecuteFunc = func(context.Context, *operations.OperationState) error {
		attempts++
		if attempts < 3 {
			return apperrors.NewTransientError("connection reset", nil)
		}
		return nil
	}

	var delays []time.Duration
	cfg := operations.NewConfig()
	cfg.RetryConfig = operations.RetryConfig{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 90 * time.Second}
	m := newTestManager(t, nil, []operations.Step{flaky},
		operations.WithConfig(cfg),
		operations.WithSleeper(func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		}))

	state, err := m.Execute(context.Background(), operations.OperationRequest{Window: testWindow()})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
	assert.Equal(t, operations.StepStatusCompleted, stepStatus(t, state, "flaky"))
}

func TestManagerDoesNotRetryFatalErrors(t *testing.T) {
	quota := testutil.NewMockStep("quota")
	quota.ExecuteFunc = func(context.Context, *operations.OperationState) error {
		return apperrors.NewQuotaExceededError("daily_trade", 10000, 10000)
	}

	cfg := operations.NewConfig()
	cfg.RetryConfig = operations.RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	m := newTestManager(t, nil, []operations.Step{quota},
		operations.WithConfig(cfg),
		operations.WithSleeper(func(context.Context, time.Duration) error { return nil }))

	_, err := m.Execute(context.Background(), operations.OperationRequest{Window: testWindow()})
	require.Error(t, err)
	assert.Equal(t, 1, quota.ExecuteCalls())
	assert.ErrorIs(t, err, apperrors.ErrQuotaExceeded)
	assert.True(t, apperrors.IsFatal(err))
}

func TestManagerStepTimeout(t *testing.T) {
	slow := testutil.NewMockStep("slow")
	slow.ExecuteFunc = func(ctx context.Context, _ *operations.OperationState) error {
		<-ctx.Done()
		return ctx.Err()
	}

	cfg := operations.NewConfig()
	cfg.SetStepTimeout("slow", 20*time.Millisecond)
	m := newTestManager(t, nil, []operations.Step{slow}, operations.WithConfig(cfg))

	state, err := m.Execute(context.Background(), operations.OperationRequest{Window: testWindow()})
	require.Error(t, err)

	var opErr *operations.OperationError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, operations.ErrorTypeTimeout, opErr.Type)
	assert.Equal(t, operations.OperationStatusFailed, state.GetStatus())
}

func TestManagerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	first := testutil.NewMockStep("first")
	first.ExecuteFunc = func(context.Context, *operations.OperationState) error {
		cancel()
		return nil
	}
	second := testutil.NewMockStep("second", "first")

	hub := &testutil.MockWebSocketHub{}
	m := newTestManager(t, hub, []operations.Step{first, second})

	state, err := m.Execute(ctx, operations.OperationRequest{ID: "op-cancel", Window: testWindow()})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, operations.OperationStatusCancelled, state.GetStatus())
	assert.Zero(t, second.ExecuteCalls())
	assert.Equal(t, "cancelled", hub.Last().Status)
}

func TestManagerValidationFailure(t *testing.T) {
	invalid := testutil.NewMockStep("invalid")
	invalid.ValidateFunc = func(*operations.OperationState) error { return errors.New("missing input") }

	m := newTestManager(t, nil, []operations.Step{invalid})

	_, err := m.Execute(context.Background(), operations.OperationRequest{Window: testWindow()})
	require.Error(t, err)

	var opErr *operations.OperationError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, operations.ErrorTypeValidation, opErr.Type)
	assert.Zero(t, invalid.ExecuteCalls())
}

func TestManagerForwardsStepProgress(t *testing.T) {
	reporting := testutil.NewMockStep("reporting")
	reporting.ExecuteFunc = func(_ context.Context, state *operations.OperationState) error {
		state.ReportProgress("reporting", 40, "halfway", map[string]interface{}{"processed": 2})
		return nil
	}

	hub := &testutil.MockWebSocketHub{}
	m := newTestManager(t, hub, []operations.Step{reporting})

	_, err := m.Execute(context.Background(), operations.OperationRequest{ID: "op-progress", Window: testWindow()})
	require.NoError(t, err)

	var seen bool
	for _, s := range hub.Snapshots() {
		if len(s.Steps) == 1 && s.Steps[0].Progress == 40 {
			seen = true
			assert.Equal(t, "halfway", s.Steps[0].Message)
			assert.Equal(t, 2, s.Steps[0].Metadata["processed"])
		}
	}
	assert.True(t, seen, "progress update was not broadcast")
}

func TestManagerGetOperationWhileRunning(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	blocking := testutil.NewMockStep("blocking")
	blocking.ExecuteFunc = func(context.Context, *operations.OperationState) error {
		close(started)
		<-release
		return nil
	}

	m := newTestManager(t, nil, []operations.Step{blocking})

	done := make(chan error, 1)
	go func() {
		_, err := m.Execute(context.Background(), operations.OperationRequest{ID: "op-live", Window: testWindow()})
		done <- err
	}()

	<-started
	state, err := m.GetOperation("op-live")
	require.NoError(t, err)
	assert.Equal(t, operations.OperationStatusRunning, state.GetStatus())
	assert.Len(t, m.ListOperations(), 1)

	close(release)
	require.NoError(t, <-done)

	_, err = m.GetOperation("op-live")
	assert.ErrorIs(t, err, operations.ErrOperationNotFound)
}

func TestManagerRejectsCycles(t *testing.T) {
	a := testutil.NewMockStep("a", "b")
	b := testutil.NewMockStep("b", "a")
	m := newTestManager(t, nil, []operations.Step{a, b})

	state, err := m.Execute(context.Background(), operations.OperationRequest{Window: testWindow()})
	require.Error(t, err)
	assert.Equal(t, operations.OperationStatusFailed, state.GetStatus())
	assert.Zero(t, a.ExecuteCalls())
}
