package operations

import (
	"context"
	"fmt"
	"log/slog"

	"ipocli/internal/cache"
	"ipocli/internal/checkpoint"
	"ipocli/internal/collector"
	"ipocli/internal/discovery"
	"ipocli/internal/exporter"
	"ipocli/internal/scheduler"
)

// DiscoveryStep lists the entities listed inside the operation window
type DiscoveryStep struct {
	BaseStep
	source discovery.Source
	logger *slog.Logger
}

// NewDiscoveryStep creates the discovery step
func NewDiscoveryStep(source discovery.Source, logger *slog.Logger) *DiscoveryStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscoveryStep{
		BaseStep: NewBaseStep(StepIDDiscovery, StepNameDiscovery, nil),
		source:   source,
		logger:   logger.With("step", StepIDDiscovery),
	}
}

// Validate requires a window in the operation context
func (s *DiscoveryStep) Validate(state *OperationState) error {
	if _, ok := WindowOf(state); !ok {
		return fmt.Errorf("operation has no collection window")
	}
	return nil
}

// Execute stores the discovered entities in the operation context
func (s *DiscoveryStep) Execute(ctx context.Context, state *OperationState) error {
	window, _ := WindowOf(state)

	state.ReportProgress(s.ID(), 10, "Discovering listings", map[string]interface{}{
		"start": window.Start.Format(scheduler.DateLayout),
		"end":   window.End.Format(scheduler.DateLayout),
	})

	entities, err := s.source.Discover(ctx, window)
	if err != nil {
		return err
	}
	state.SetContext(ContextKeyEntities, entities)

	if st := state.GetStep(s.ID()); st != nil {
		st.SetMetadata("entities", len(entities))
	}
	s.logger.InfoContext(ctx, "discovery finished", "entities", len(entities))
	return nil
}

// CollectionStep fetches day-0 and day-1 quotes for the discovered entities
type CollectionStep struct {
	BaseStep
	api         collector.Fetcher
	cache       cache.Cache
	checkpoints *checkpoint.Store
	opts        []collector.Option
	logger      *slog.Logger
}

// NewCollectionStep creates the collection step. A fresh collector is built
// per run so progress reaches that run's operation.
func NewCollectionStep(api collector.Fetcher, respCache cache.Cache, checkpoints *checkpoint.Store, logger *slog.Logger, opts ...collector.Option) *CollectionStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &CollectionStep{
		BaseStep:    NewBaseStep(StepIDCollection, StepNameCollection, []string{StepIDDiscovery}),
		api:         api,
		cache:       respCache,
		checkpoints: checkpoints,
		opts:        opts,
		logger:      logger,
	}
}

// Validate requires the discovery output
func (s *CollectionStep) Validate(state *OperationState) error {
	if _, ok := WindowOf(state); !ok {
		return fmt.Errorf("operation has no collection window")
	}
	if _, ok := EntitiesOf(state); !ok {
		return fmt.Errorf("no entities from %s", StepIDDiscovery)
	}
	return nil
}

// Execute collects quotes and splits the records into ready and deferred sets
func (s *CollectionStep) Execute(ctx context.Context, state *OperationState) error {
	window, _ := WindowOf(state)
	entities, _ := EntitiesOf(state)

	tracker := NewProgressTracker(0)
	lastPercent := -1
	onProgress := func(p collector.Progress) {
		if tracker.total != p.Total {
			tracker = NewProgressTracker(p.Total)
		}
		tracker.Update(p.Processed)
		percent := tracker.Percent()
		if percent == lastPercent && p.Processed != p.Total {
			return
		}
		lastPercent = percent
		state.ReportProgress(s.ID(), percent,
			fmt.Sprintf("Processed %d of %d keys", p.Processed, p.Total),
			map[string]interface{}{
				"processed": p.Processed,
				"total":     p.Total,
				"key":       p.Key,
				"source":    p.Source,
				"eta":       tracker.ETA(),
			})
	}

	opts := append(append([]collector.Option(nil), s.opts...), collector.WithProgress(onProgress))
	c := collector.New(s.api, s.cache, s.checkpoints, s.logger, opts...)

	records, report, err := c.Collect(ctx, entities, window.End)
	if report != nil {
		state.SetContext(ContextKeyReport, report)
		if st := state.GetStep(s.ID()); st != nil {
			st.SetMetadata("fetched_keys", report.FetchedKeys)
			st.SetMetadata("cached_keys", report.CachedKeys)
			st.SetMetadata("failed_keys", report.FailedKeys)
			st.SetMetadata("deferred_keys", report.DeferredKeys)
		}
	}
	if err != nil {
		return err
	}

	ready, deferred := collector.SplitDeferred(records, window.End)
	state.SetContext(ContextKeyRecords, ready)
	state.SetContext(ContextKeyDeferred, deferred)
	return nil
}

// ExportStep writes the ready records
type ExportStep struct {
	BaseStep
	exporter *exporter.Exporter
}

// NewExportStep creates the export step
func NewExportStep(e *exporter.Exporter) *ExportStep {
	return &ExportStep{
		BaseStep: NewBaseStep(StepIDExport, StepNameExport, []string{StepIDCollection}),
		exporter: e,
	}
}

// Validate requires the collection output
func (s *ExportStep) Validate(state *OperationState) error {
	if _, ok := RecordsOf(state); !ok {
		return fmt.Errorf("no records from %s", StepIDCollection)
	}
	return nil
}

// Execute exports the records and stores the result
func (s *ExportStep) Execute(ctx context.Context, state *OperationState) error {
	records, _ := RecordsOf(state)
	result, err := s.exporter.Export(ctx, records)
	if result != nil {
		state.SetContext(ContextKeyExport, result)
		if st := state.GetStep(s.ID()); st != nil {
			st.SetMetadata("rows", result.Rows)
			st.SetMetadata("files", result.Files)
		}
	}
	return err
}

// WindowOf returns the operation's collection window
func WindowOf(state *OperationState) (scheduler.Window, bool) {
	return contextValue[scheduler.Window](state, ContextKeyWindow)
}

// EntitiesOf returns the discovered entities
func EntitiesOf(state *OperationState) ([]collector.Entity, bool) {
	return contextValue[[]collector.Entity](state, ContextKeyEntities)
}

// RecordsOf returns the records ready for export
func RecordsOf(state *OperationState) ([]collector.Record, bool) {
	return contextValue[[]collector.Record](state, ContextKeyRecords)
}

// DeferredOf returns the records held back until their day-1 snapshot exists
func DeferredOf(state *OperationState) ([]collector.Record, bool) {
	return contextValue[[]collector.Record](state, ContextKeyDeferred)
}

// ReportOf returns the collection report
func ReportOf(state *OperationState) (*collector.Report, bool) {
	return contextValue[*collector.Report](state, ContextKeyReport)
}

// ExportOf returns the export result
func ExportOf(state *OperationState) (*exporter.Result, bool) {
	return contextValue[*exporter.Result](state, ContextKeyExport)
}

func contextValue[T any](state *OperationState, key string) (T, bool) {
	var zero T
	if state == nil {
		return zero, false
	}
	v, ok := state.GetContext(key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}
