package operations

// WebSocketHub receives operation snapshots for connected clients
type WebSocketHub interface {
	BroadcastUpdate(eventType, step, status string, metadata interface{})
}

// ProgressFunc reports a step's progress (0-100) with optional details
type ProgressFunc func(stepID string, progress int, message string, metadata map[string]interface{})
