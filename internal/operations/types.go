package operations

import (
	"time"

	"ipocli/internal/scheduler"
)

// Step identifiers
const (
	StepIDDiscovery  = "discovery"
	StepIDCollection = "collection"
	StepIDExport     = "export"
)

// Step names
const (
	StepNameDiscovery  = "Entity Discovery"
	StepNameCollection = "Price Collection"
	StepNameExport     = "Export"
)

// Keys of values passed between steps through OperationState
const (
	ContextKeyWindow   = "window"
	ContextKeyEntities = "entities"
	ContextKeyRecords  = "records"
	ContextKeyDeferred = "deferred"
	ContextKeyReport   = "report"
	ContextKeyExport   = "export"
)

// EventTypeSnapshot is the websocket event carrying an OperationSnapshot
const EventTypeSnapshot = "operation:snapshot"

// Default timeouts. Collection is bounded by the upstream's request rate, so
// it gets far more room than the other steps.
const (
	DefaultStepTimeout       = 10 * time.Minute
	DefaultCollectionTimeout = 12 * time.Hour
)

// RetryConfig defines step-level retry behavior. Only errors marked
// retryable are attempted again.
type RetryConfig struct {
	MaxAttempts  int           `json:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
}

// NewRetryConfig returns the default: a single attempt. Request-level retries
// already happen inside the API client.
func NewRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  1,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// OperationRequest asks the manager to run the pipeline over Window
type OperationRequest struct {
	ID     string           `json:"id"`
	Job    string           `json:"job"`
	Window scheduler.Window `json:"-"`
}

// OperationResponse summarizes a finished operation
type OperationResponse struct {
	ID       string                `json:"id"`
	Status   OperationStatusValue  `json:"status"`
	Duration time.Duration         `json:"duration"`
	Steps    map[string]*StepState `json:"steps"`
	Error    string                `json:"error,omitempty"`
}
