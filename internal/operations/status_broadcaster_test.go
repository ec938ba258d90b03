package operations_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipocli/internal/operations"
	"ipocli/internal/operations/testutil"
)

func pipelineSteps() []operations.Step {
	return []operations.Step{
		testutil.NewMockStep(operations.StepIDDiscovery),
		testutil.NewMockStep(operations.StepIDCollection, operations.StepIDDiscovery),
		testutil.NewMockStep(operations.StepIDExport, operations.StepIDCollection),
	}
}

func TestStatusBroadcasterLifecycle(t *testing.T) {
	hub := &testutil.MockWebSocketHub{}
	sb := operations.NewStatusBroadcaster(hub, discard())
	defer sb.Stop()

	sb.CreateOperation("op", "ipo_prices", pipelineSteps())
	sb.StartOperation("op")
	sb.UpdateStepProgress("op", operations.StepIDDiscovery, 50, "half")
	sb.CompleteStep("op", operations.StepIDDiscovery, "done", map[string]interface{}{"entities": 3})

	snap, ok := sb.GetSnapshot("op")
	require.True(t, ok)
	assert.Equal(t, "running", snap.Status)
	assert.Equal(t, "ipo_prices", snap.Job)
	require.Len(t, snap.Steps, 3)
	assert.Equal(t, "completed", snap.Steps[0].Status)
	assert.Equal(t, 3, snap.Steps[0].Metadata["entities"])
	assert.Equal(t, 33, snap.Progress)

	sb.FailStep("op", operations.StepIDCollection, errors.New("quota exceeded"))
	sb.SkipStep("op", operations.StepIDExport, "dependency collection failed")
	sb.FailOperation("op", errors.New("quota exceeded"))

	snap, _ = sb.GetSnapshot("op")
	assert.Equal(t, "failed", snap.Status)
	assert.Equal(t, "quota exceeded", snap.Steps[1].Error)
	assert.Equal(t, "skipped", snap.Steps[2].Status)
	assert.NotNil(t, snap.CompletedAt)

	require.NotEmpty(t, hub.Messages)
	for _, msg := range hub.Messages {
		assert.Equal(t, operations.EventTypeSnapshot, msg.EventType)
		assert.Equal(t, "op", msg.Step)
	}
}

func TestStatusBroadcasterProgressIsMonotonic(t *testing.T) {
	sb := operations.NewStatusBroadcaster(nil, discard())
	defer sb.Stop()

	sb.CreateOperation("op", "job", pipelineSteps())
	sb.UpdateStepProgress("op", operations.StepIDCollection, 60, "")
	sb.UpdateStepProgress("op", operations.StepIDCollection, 40, "stale")
	sb.UpdateStepProgress("op", operations.StepIDCollection, 250, "")

	snap, _ := sb.GetSnapshot("op")
	step := snap.Steps[1]
	assert.Equal(t, 100, step.Progress)

	sb.UpdateStepProgress("op", operations.StepIDDiscovery, -5, "")
	snap, _ = sb.GetSnapshot("op")
	assert.Equal(t, 0, snap.Steps[0].Progress)
}

func TestStatusBroadcasterSnapshotsAreCopies(t *testing.T) {
	sb := operations.NewStatusBroadcaster(nil, discard())
	defer sb.Stop()

	sb.CreateOperation("op", "job", pipelineSteps())
	snap, _ := sb.GetSnapshot("op")
	snap.Steps[0].Status = "tampered"

	again, _ := sb.GetSnapshot("op")
	assert.Equal(t, "pending", again.Steps[0].Status)
}

func TestStatusBroadcasterCleanup(t *testing.T) {
	sb := operations.NewStatusBroadcaster(nil, discard())
	defer sb.Stop()

	sb.CreateOperation("done", "job", pipelineSteps())
	sb.CompleteOperation("done", "ok")
	sb.CreateOperation("live", "job", pipelineSteps())
	sb.StartOperation("live")

	assert.Len(t, sb.GetAllSnapshots(), 2)
	assert.Zero(t, sb.CleanupOldOperations(context.Background(), time.Hour))

	removed := sb.CleanupOldOperations(context.Background(), -time.Second)
	assert.Equal(t, 1, removed)

	_, ok := sb.GetSnapshot("live")
	assert.True(t, ok)
}

func TestStatusBroadcasterStop(t *testing.T) {
	sb := operations.NewStatusBroadcaster(nil, discard())
	sb.Stop()
	sb.Stop()

	done := make(chan struct{})
	go func() {
		sb.StartOperation("op")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("update after Stop blocked")
	}
}
