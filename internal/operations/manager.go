package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager orchestrates operation execution
type Manager struct {
	registry    *Registry
	config      *Config
	broadcaster *StatusBroadcaster
	tracer      *OperationTracer
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error

	mu         sync.RWMutex
	operations map[string]*OperationState
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithConfig replaces the default execution configuration
func WithConfig(cfg *Config) ManagerOption {
	return func(m *Manager) {
		if cfg != nil {
			m.config = cfg
		}
	}
}

// WithTracer instruments operations and steps
func WithTracer(t *OperationTracer) ManagerOption {
	return func(m *Manager) {
		if t != nil {
			m.tracer = t
		}
	}
}

// WithSleeper replaces the wait between step retries
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) ManagerOption {
	return func(m *Manager) { m.sleep = sleep }
}

// NewManager creates a manager over registry. A nil broadcaster keeps
// snapshots without publishing them.
func NewManager(registry *Registry, broadcaster *StatusBroadcaster, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if broadcaster == nil {
		broadcaster = NewStatusBroadcaster(nil, logger)
	}

	m := &Manager{
		registry:    registry,
		config:      NewConfig(),
		broadcaster: broadcaster,
		tracer:      NewOperationTracer(nil, nil),
		logger:      logger.With("component", "operation_manager"),
		sleep:       sleepContext,
		operations:  make(map[string]*OperationState),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry returns the step registry
func (m *Manager) Registry() *Registry { return m.registry }

// Broadcaster returns the status broadcaster
func (m *Manager) Broadcaster() *StatusBroadcaster { return m.broadcaster }

// Execute runs every registered step in dependency order. The returned state
// is final and carries the values steps exchanged.
func (m *Manager) Execute(ctx context.Context, req OperationRequest) (*OperationState, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	state := NewOperationState(req.ID)
	state.Job = req.Job
	state.SetContext(ContextKeyWindow, req.Window)
	state.progress = func(stepID string, progress int, message string, metadata map[string]interface{}) {
		m.broadcaster.UpdateStepWithMetadata(req.ID, stepID, progress, message, metadata)
	}

	m.storeOperation(state)
	defer m.removeOperation(req.ID)

	steps, err := m.registry.GetDependencyOrder()
	if err != nil {
		err = NewFatalError("invalid step graph", err)
		state.Fail(err)
		m.broadcaster.FailOperation(req.ID, err)
		return state, err
	}
	for _, step := range steps {
		state.SetStep(step.ID(), NewStepState(step.ID(), step.Name()))
	}

	m.broadcaster.CreateOperation(req.ID, req.Job, steps)

	ctx, span := m.tracer.TraceOperation(ctx, req.ID, req.Job)
	state.Start()
	m.broadcaster.StartOperation(req.ID)
	m.logger.InfoContext(ctx, "operation started",
		slog.String("operation_id", req.ID),
		slog.String("job", req.Job),
		slog.Int("steps", len(steps)))

	err = m.executeSequential(ctx, state, steps)

	switch {
	case err == nil:
		state.Complete()
		m.broadcaster.CompleteOperation(req.ID, "Operation completed successfully")
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		state.Cancel()
		m.broadcaster.CancelOperation(req.ID)
	default:
		state.Fail(err)
		m.broadcaster.FailOperation(req.ID, err)
	}

	m.tracer.EndOperation(ctx, span, state.GetStatus(), state.Duration(), err)
	m.logger.InfoContext(ctx, "operation finished",
		slog.String("operation_id", req.ID),
		slog.String("status", string(state.GetStatus())),
		slog.Duration("duration", state.Duration()))
	return state, err
}

// executeSequential runs steps one by one. A failing step stops the run
// unless ContinueOnError is set; its dependents are skipped either way.
func (m *Manager) executeSequential(ctx context.Context, state *OperationState, steps []Step) error {
	var firstErr error

	for i, step := range steps {
		if ctx.Err() != nil {
			m.logger.WarnContext(ctx, "operation cancelled",
				slog.String("operation_id", state.ID),
				slog.String("step", step.ID()))
			return fmt.Errorf("%w: %w", NewCancellationError(step.ID()), ctx.Err())
		}

		stepState := state.GetStep(step.ID())
		if stepState.GetStatus() == StepStatusSkipped {
			continue
		}

		if err := m.checkDependencies(state, step); err != nil {
			stepState.Skip(err.Error())
			m.broadcaster.SkipStep(state.ID, step.ID(), err.Error())
			continue
		}

		m.logger.InfoContext(ctx, "executing step",
			slog.String("operation_id", state.ID),
			slog.String("step", step.ID()),
			slog.Int("step_number", i+1),
			slog.Int("total_steps", len(steps)))

		if err := m.executeStep(ctx, state, step); err != nil {
			m.logger.ErrorContext(ctx, "step failed",
				slog.String("operation_id", state.ID),
				slog.String("step", step.ID()),
				slog.String("error", err.Error()))
			m.skipDependents(state, step.ID())
			if !m.config.ContinueOnError {
				return err
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// executeStep runs one step with its timeout and retry policy
func (m *Manager) executeStep(ctx context.Context, state *OperationState, step Step) error {
	stepState := state.GetStep(step.ID())

	if err := step.Validate(state); err != nil {
		verr := NewValidationError(step.ID(), err.Error())
		stepState.Fail(verr)
		m.broadcaster.FailStep(state.ID, step.ID(), verr)
		return verr
	}

	timeout := m.config.GetStepTimeout(step.ID())
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	retry := m.config.RetryConfig
	attempts := max(retry.MaxAttempts, 1)

	for attempt := 1; ; attempt++ {
		stepState.Start()
		m.broadcaster.UpdateStepProgress(state.ID, step.ID(), 0, "Step started")

		spanCtx, span := m.tracer.TraceStep(stepCtx, state.ID, step.ID())
		start := time.Now()
		err := step.Execute(spanCtx, state)
		duration := time.Since(start)
		m.tracer.EndStep(spanCtx, span, step.ID(), duration, err)

		if err == nil {
			stepState.Complete()
			m.broadcaster.CompleteStep(state.ID, step.ID(), "Step completed successfully", stepState.clone().Metadata)
			m.logger.InfoContext(ctx, "step completed",
				slog.String("operation_id", state.ID),
				slog.String("step", step.ID()),
				slog.Duration("duration", duration))
			return nil
		}

		if stepCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			err = NewTimeoutError(step.ID(), timeout.String())
		}

		if !IsRetryable(err) || attempt >= attempts {
			wrapped := WrapError(err, step.ID(), "step execution failed")
			stepState.Fail(wrapped)
			m.broadcaster.FailStep(state.ID, step.ID(), wrapped)
			return wrapped
		}

		delay := retryDelay(attempt, retry)
		m.logger.WarnContext(ctx, "retrying step",
			slog.String("operation_id", state.ID),
			slog.String("step", step.ID()),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))
		if serr := m.sleep(stepCtx, delay); serr != nil {
			wrapped := WrapError(err, step.ID(), "step execution failed")
			stepState.Fail(wrapped)
			m.broadcaster.FailStep(state.ID, step.ID(), wrapped)
			return wrapped
		}
	}
}

// skipDependents marks every pending step downstream of failed as skipped
func (m *Manager) skipDependents(state *OperationState, failed string) {
	for _, dependent := range m.registry.GetDependents(failed) {
		st := state.GetStep(dependent.ID())
		if st != nil && st.GetStatus() == StepStatusPending {
			reason := fmt.Sprintf("dependency %s failed", failed)
			st.Skip(reason)
			m.broadcaster.SkipStep(state.ID, dependent.ID(), reason)
			m.skipDependents(state, dependent.ID())
		}
	}
}

// checkDependencies verifies that all dependencies completed
func (m *Manager) checkDependencies(state *OperationState, step Step) error {
	for _, dep := range step.GetDependencies() {
		depState := state.GetStep(dep)
		if depState == nil || depState.GetStatus() != StepStatusCompleted {
			return NewDependencyError(step.ID(), dep)
		}
	}
	return nil
}

// retryDelay doubles InitialDelay per attempt, capped at MaxDelay
func retryDelay(attempt int, cfg RetryConfig) time.Duration {
	delay := cfg.InitialDelay
	for i := 1; i < attempt; i++ {
		if cfg.MaxDelay > 0 && delay >= cfg.MaxDelay {
			break
		}
		delay *= 2
	}
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetOperation returns a copy of a running operation's state
func (m *Manager) GetOperation(id string) (*OperationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, exists := m.operations[id]
	if !exists {
		return nil, ErrOperationNotFound
	}
	return state.Clone(), nil
}

// ListOperations returns copies of all running operations
func (m *Manager) ListOperations() []*OperationState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	operations := make([]*OperationState, 0, len(m.operations))
	for _, state := range m.operations {
		operations = append(operations, state.Clone())
	}
	return operations
}

func (m *Manager) storeOperation(state *OperationState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations[state.ID] = state
}

func (m *Manager) removeOperation(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.operations, id)
}

// Response summarizes a state for API clients
func (p *OperationState) Response() *OperationResponse {
	clone := p.Clone()
	return &OperationResponse{
		ID:       clone.ID,
		Status:   clone.Status,
		Duration: clone.Duration(),
		Steps:    clone.Steps,
		Error:    clone.Error,
	}
}
