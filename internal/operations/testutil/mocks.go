package testutil

import (
	"context"
	"sync"

	"ipocli/internal/operations"
)

// MockStep is a configurable implementation of operations.Step
type MockStep struct {
	IDValue           string
	NameValue         string
	DependenciesValue []string

	ExecuteFunc  func(ctx context.Context, state *operations.OperationState) error
	ValidateFunc func(state *operations.OperationState) error

	mu           sync.Mutex
	executeCalls int
}

// NewMockStep creates a step that succeeds unless ExecuteFunc says otherwise
func NewMockStep(id string, deps ...string) *MockStep {
	return &MockStep{IDValue: id, NameValue: id, DependenciesValue: deps}
}

// ID returns the step ID
func (m *MockStep) ID() string { return m.IDValue }

// Name returns the step name
func (m *MockStep) Name() string { return m.NameValue }

// GetDependencies returns the step dependencies
func (m *MockStep) GetDependencies() []string { return m.DependenciesValue }

// Execute counts the call and runs ExecuteFunc
func (m *MockStep) Execute(ctx context.Context, state *operations.OperationState) error {
	m.mu.Lock()
	m.executeCalls++
	m.mu.Unlock()

	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, state)
	}
	return nil
}

// Validate runs ValidateFunc
func (m *MockStep) Validate(state *operations.OperationState) error {
	if m.ValidateFunc != nil {
		return m.ValidateFunc(state)
	}
	return nil
}

// ExecuteCalls returns how many times Execute ran
func (m *MockStep) ExecuteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executeCalls
}

// MockWebSocketHub captures broadcast updates
type MockWebSocketHub struct {
	mu       sync.Mutex
	Messages []WebSocketMessage
}

// WebSocketMessage is one captured broadcast
type WebSocketMessage struct {
	EventType string
	Step      string
	Status    string
	Metadata  interface{}
}

// BroadcastUpdate records the update
func (m *MockWebSocketHub) BroadcastUpdate(eventType, step, status string, metadata interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, WebSocketMessage{
		EventType: eventType,
		Step:      step,
		Status:    status,
		Metadata:  metadata,
	})
}

// Snapshots returns the broadcast operation snapshots in order
func (m *MockWebSocketHub) Snapshots() []*operations.OperationSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*operations.OperationSnapshot
	for _, msg := range m.Messages {
		if s, ok := msg.Metadata.(*operations.OperationSnapshot); ok {
			out = append(out, s)
		}
	}
	return out
}

// Last returns the most recent snapshot, or nil
func (m *MockWebSocketHub) Last() *operations.OperationSnapshot {
	snapshots := m.Snapshots()
	if len(snapshots) == 0 {
		return nil
	}
	return snapshots[len(snapshots)-1]
}
