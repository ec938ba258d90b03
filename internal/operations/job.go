package operations

import (
	"context"
	"log/slog"
	"time"

	"ipocli/internal/collector"
	"ipocli/internal/exporter"
	"ipocli/internal/marketapi"
	"ipocli/internal/scheduler"
)

// UsageReporter exposes per-endpoint request counts
type UsageReporter interface {
	Stats() map[string]marketapi.EndpointStats
}

// RunOptions override the incremental window of one run
type RunOptions struct {
	OperationID string
	// Start and End replace the computed window when set
	Start time.Time
	End   time.Time
	// Full ignores the job's last recorded date
	Full bool
}

// explicit reports whether the caller chose the window start
func (o RunOptions) explicit() bool {
	return !o.Start.IsZero() || o.Full
}

// RunResult summarizes one job run
type RunResult struct {
	OperationID     string                             `json:"operation_id"`
	Job             string                             `json:"job"`
	Status          OperationStatusValue               `json:"status"`
	Start           string                             `json:"start"`
	End             string                             `json:"end"`
	UpToDate        bool                               `json:"up_to_date"`
	Entities        int                                `json:"entities"`
	Deferred        int                                `json:"deferred"`
	Report          *collector.Report                  `json:"report,omitempty"`
	Export          *exporter.Result                   `json:"export,omitempty"`
	Usage           map[string]marketapi.EndpointStats `json:"usage,omitempty"`
	RecordedThrough string                             `json:"recorded_through,omitempty"`
	Error           string                             `json:"error,omitempty"`
}

// Job runs the pipeline incrementally, advancing its last-run mark after
// each successful operation
type Job struct {
	name         string
	tracker      *scheduler.Tracker
	manager      *Manager
	defaultStart time.Time
	usage        UsageReporter
	logger       *slog.Logger
}

// NewJob creates a job. usage may be nil.
func NewJob(name string, tracker *scheduler.Tracker, manager *Manager, defaultStart time.Time, usage UsageReporter, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		name:         name,
		tracker:      tracker,
		manager:      manager,
		defaultStart: defaultStart,
		usage:        usage,
		logger:       logger.With("job", name),
	}
}

// Name returns the job name
func (j *Job) Name() string { return j.name }

// Window returns the range the next run would cover
func (j *Job) Window(ctx context.Context, opts RunOptions) (scheduler.Window, error) {
	var w scheduler.Window
	if opts.explicit() {
		start := opts.Start
		if start.IsZero() {
			start = j.defaultStart
		}
		w = scheduler.Window{Start: start, End: j.tracker.Today()}
	} else {
		computed, err := j.tracker.ComputeWindow(ctx, j.name, j.defaultStart)
		if err != nil {
			return scheduler.Window{}, err
		}
		w = computed
	}
	if !opts.End.IsZero() && opts.End.Before(w.End) {
		w.End = opts.End
	}
	return w, nil
}

// Run executes one incremental run. An empty window returns immediately
// without touching the upstream.
func (j *Job) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	window, err := j.Window(ctx, opts)
	if err != nil {
		return nil, err
	}

	result := &RunResult{
		OperationID: opts.OperationID,
		Job:         j.name,
		Start:       window.Start.Format(scheduler.DateLayout),
		End:         window.End.Format(scheduler.DateLayout),
	}

	if window.Empty() {
		j.logger.InfoContext(ctx, "already up to date", "start", result.Start, "end", result.End)
		result.UpToDate = true
		result.Status = OperationStatusCompleted
		return result, nil
	}

	state, runErr := j.manager.Execute(ctx, OperationRequest{
		ID:     opts.OperationID,
		Job:    j.name,
		Window: window,
	})
	if state != nil {
		result.OperationID = state.ID
		result.Status = state.GetStatus()
		j.fill(result, state)
	}
	if j.usage != nil {
		result.Usage = j.usage.Stats()
	}
	if runErr != nil {
		result.Error = runErr.Error()
		return result, runErr
	}

	// A run with an explicit start would move the mark backwards.
	if !opts.Start.IsZero() {
		return result, nil
	}

	through := window.End
	if result.Report != nil && !result.Report.EarliestDeferred.IsZero() && result.Report.EarliestDeferred.Before(through) {
		through = result.Report.EarliestDeferred
	}
	if err := j.tracker.RecordSuccess(ctx, j.name, through); err != nil {
		result.Error = err.Error()
		return result, err
	}
	result.RecordedThrough = through.Format(scheduler.DateLayout)
	return result, nil
}

func (j *Job) fill(result *RunResult, state *OperationState) {
	if entities, ok := EntitiesOf(state); ok {
		result.Entities = len(entities)
	}
	if deferred, ok := DeferredOf(state); ok {
		result.Deferred = len(deferred)
	}
	if report, ok := ReportOf(state); ok {
		result.Report = report
	}
	if export, ok := ExportOf(state); ok {
		result.Export = export
	}
}
