package operations

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "ipocli/internal/errors"
)

// RunStatus represents the lifecycle of a submitted run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run tracks one submitted job run
type Run struct {
	ID          string     `json:"id"`
	Job         string     `json:"job"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Result      *RunResult `json:"result,omitempty"`
}

func (r *Run) copy() *Run {
	c := *r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

type activeRun struct {
	run    *Run
	cancel context.CancelFunc
	done   chan struct{}
}

// Runner executes jobs in the background. Each job has at most one run in
// flight.
type Runner struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	active map[string]*activeRun
	runs   map[string]*Run

	baseCtx context.Context
	wg      sync.WaitGroup
	closed  bool
	logger  *slog.Logger
	now     func() time.Time
}

// NewRunner creates a runner whose runs are cancelled with ctx
func NewRunner(ctx context.Context, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		jobs:    make(map[string]*Job),
		active:  make(map[string]*activeRun),
		runs:    make(map[string]*Run),
		baseCtx: ctx,
		logger:  logger.With(slog.String("component", "runner")),
		now:     time.Now,
	}
}

// Register adds a job
func (r *Runner) Register(job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.Name()] = job
}

// Job returns a registered job
func (r *Runner) Job(name string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[name]
	if !ok {
		return nil, apperrors.NewNotFoundError("job").WithContext("job", name)
	}
	return job, nil
}

// Jobs returns the registered job names in order
func (r *Runner) Jobs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Submit starts a run in the background and returns immediately
func (r *Runner) Submit(name string, opts RunOptions) (*Run, error) {
	ctx, active, job, err := r.begin(r.baseCtx, name, opts)
	if err != nil {
		return nil, err
	}

	submitted := active.run.copy()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer active.cancel()
		r.execute(ctx, job, active, opts)
	}()

	return submitted, nil
}

// RunSync runs a job in the caller's goroutine
func (r *Runner) RunSync(ctx context.Context, name string, opts RunOptions) (*RunResult, error) {
	ctx, active, job, err := r.begin(ctx, name, opts)
	if err != nil {
		return nil, err
	}
	defer active.cancel()

	return r.execute(ctx, job, active, opts)
}

// begin reserves the job's single run slot
func (r *Runner) begin(parent context.Context, name string, opts RunOptions) (context.Context, *activeRun, *Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, nil, nil, apperrors.ErrServiceUnavailable
	}
	job, ok := r.jobs[name]
	if !ok {
		return nil, nil, nil, apperrors.NewNotFoundError("job").WithContext("job", name)
	}
	if _, running := r.active[name]; running {
		return nil, nil, nil, apperrors.ErrJobRunning
	}

	id := opts.OperationID
	if id == "" {
		id = uuid.NewString()
	}
	run := &Run{ID: id, Job: name, Status: RunStatusRunning, StartedAt: r.now()}
	ctx, cancel := context.WithCancel(parent)
	active := &activeRun{run: run, cancel: cancel, done: make(chan struct{})}
	r.active[name] = active
	r.runs[id] = run
	return ctx, active, job, nil
}

func (r *Runner) execute(ctx context.Context, job *Job, active *activeRun, opts RunOptions) (result *RunResult, err error) {
	run := active.run
	opts.OperationID = run.ID
	logger := r.logger.With(slog.String("job", run.Job), slog.String("operation_id", run.ID))

	defer func() {
		if p := recover(); p != nil {
			logger.Error("run panicked", slog.Any("panic", p))
			err = apperrors.NewAppError(apperrors.ErrTypeInternal, fmt.Sprintf("run panicked: %v", p), nil)
		}
		r.finish(job.Name(), active, result, err)
	}()

	logger.InfoContext(ctx, "run started")
	result, err = job.Run(ctx, opts)
	return result, err
}

func (r *Runner) finish(name string, active *activeRun, result *RunResult, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run := active.run
	now := r.now()
	run.CompletedAt = &now
	run.Result = result
	switch {
	case err == nil:
		run.Status = RunStatusCompleted
	case result != nil && result.Status == OperationStatusCancelled:
		run.Status = RunStatusCancelled
		run.Error = err.Error()
	default:
		run.Status = RunStatusFailed
		run.Error = err.Error()
	}
	delete(r.active, name)
	close(active.done)

	r.logger.Info("run finished",
		slog.String("job", name),
		slog.String("operation_id", run.ID),
		slog.String("status", string(run.Status)))
}

// Get returns a run by operation ID
func (r *Runner) Get(id string) (*Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, ErrOperationNotFound
	}
	return run.copy(), nil
}

// List returns all known runs, newest first
func (r *Runner) List() []*Run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runs := make([]*Run, 0, len(r.runs))
	for _, run := range r.runs {
		runs = append(runs, run.copy())
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs
}

// Running reports whether the job has a run in flight
func (r *Runner) Running(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.active[name]
	return ok
}

// Cancel stops the job's active run
func (r *Runner) Cancel(name string) error {
	r.mu.RLock()
	active, ok := r.active[name]
	r.mu.RUnlock()
	if !ok {
		return apperrors.NewNotFoundError("active run").WithContext("job", name)
	}
	active.cancel()
	return nil
}

// Wait blocks until the run with id finishes or ctx is done
func (r *Runner) Wait(ctx context.Context, id string) (*Run, error) {
	r.mu.RLock()
	var done chan struct{}
	for _, active := range r.active {
		if active.run.ID == id {
			done = active.done
		}
	}
	r.mu.RUnlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.Get(id)
}

// Shutdown refuses new runs and waits for background runs to return
func (r *Runner) Shutdown(timeout time.Duration) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for runs to finish")
	}
}

// Cleanup forgets finished runs older than maxAge
func (r *Runner) Cleanup(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxAge)
	removed := 0
	for id, run := range r.runs {
		if run.CompletedAt != nil && run.CompletedAt.Before(cutoff) {
			delete(r.runs, id)
			removed++
		}
	}
	return removed
}
