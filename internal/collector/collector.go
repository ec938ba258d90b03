// Package collector enriches a batch of newly listed issues with their first
// two days of prices while spending as few metered requests as possible.
//
// Every entity needs the daily trading snapshot for its listing day and the
// following trading day. The upstream returns one snapshot per date covering
// all issues, so the batch is reduced to its distinct dates, each fetched at
// most once, and the per-entity rows are cut out of the shared snapshots
// afterwards. Per-issue endpoints go through the same loop with one key per
// code and day.
package collector

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"ipocli/internal/cache"
	"ipocli/internal/checkpoint"
	apperrors "ipocli/internal/errors"
	"ipocli/internal/infrastructure"
	"ipocli/internal/marketapi"
)

// Fetcher performs one metered upstream request
type Fetcher interface {
	Request(ctx context.Context, endpoint marketapi.Endpoint, params url.Values) (*marketapi.Response, error)
}

// Progress is reported after each processed key
type Progress struct {
	Processed int
	Total     int
	Key       string
	Source    string
}

// Collector drives key reduction, the fetch loop, and reassembly
type Collector struct {
	api         Fetcher
	cache       cache.Cache
	checkpoints *checkpoint.Store
	endpoint    marketapi.Endpoint
	interval    int
	logger      *slog.Logger
	metrics     *infrastructure.CollectorMetrics
	onProgress  func(Progress)
}

// Option configures a Collector
type Option func(*Collector)

// WithEndpoint changes the price endpoint (daily_trade by default). A
// PerEntity endpoint is queried once per code and day.
func WithEndpoint(e marketapi.Endpoint) Option {
	return func(c *Collector) { c.endpoint = e }
}

// WithCheckpointInterval saves the checkpoint every n processed keys
func WithCheckpointInterval(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.interval = n
		}
	}
}

// WithMetrics records cache and failure metrics
func WithMetrics(m *infrastructure.CollectorMetrics) Option {
	return func(c *Collector) { c.metrics = m }
}

// WithProgress registers a progress callback
func WithProgress(fn func(Progress)) Option {
	return func(c *Collector) { c.onProgress = fn }
}

// New creates a collector
func New(api Fetcher, respCache cache.Cache, checkpoints *checkpoint.Store, logger *slog.Logger, opts ...Option) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Collector{
		api:         api,
		cache:       respCache,
		checkpoints: checkpoints,
		endpoint:    marketapi.EndpointDailyTrade,
		interval:    10,
		logger:      logger.With("component", "collector"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stage is the checkpoint stage name of the fetch phase
func (c *Collector) Stage() string {
	return "fetch:" + c.endpoint.Name
}

// Collect enriches entities. Keys dated on or after horizon are not fetched
// and leave their fields missing. A fatal upstream error (authentication or
// quota) stops the batch, keeps the checkpoint, and is returned with the
// partial report and no records.
func (c *Collector) Collect(ctx context.Context, entities []Entity, horizon time.Time) ([]Record, *Report, error) {
	required, reduce := RequiredKeys, ReduceKeys
	if c.endpoint.PerEntity {
		required, reduce = RequiredEntityKeys, ReduceEntityKeys
	}
	keys := reduce(entities, c.endpoint.Name)

	report := newReport(len(entities), len(keys))
	for _, e := range entities {
		report.KeysPerEntity += len(required(e, c.endpoint.Name))
	}

	c.logger.InfoContext(ctx, "key reduction complete",
		"entities", len(entities),
		"required_keys", report.KeysPerEntity,
		"distinct_keys", len(keys))

	idx, err := c.fetch(ctx, keys, horizon, report)
	if err != nil {
		return nil, report, err
	}

	records := Reassemble(entities, idx)
	report.countEntities(records, horizon)
	c.metrics.RecordEntities(ctx, report.Enriched, report.SentinelFilled)

	if err := c.checkpoints.Clear(ctx); err != nil {
		c.logger.WarnContext(ctx, "failed to clear checkpoint", "error", err)
	}

	c.logger.InfoContext(ctx, "collection complete", report.LogAttrs()...)
	return records, report, nil
}

// fetch visits keys in order, consulting checkpoint, then cache, then the API
func (c *Collector) fetch(ctx context.Context, keys []QueryKey, horizon time.Time, report *Report) (Index, error) {
	idx := make(Index)
	completed := c.loadCompleted(ctx, len(keys))
	horizonKey := horizon.Format(KeyDateLayout)

	save := func() {
		if err := c.checkpoints.Save(ctx, c.Stage(), completed, len(keys)); err != nil {
			c.logger.WarnContext(ctx, "failed to save checkpoint", "error", err)
		}
	}
	save()

	for i, key := range keys {
		if err := ctx.Err(); err != nil {
			save()
			return nil, err
		}

		name := key.String()
		source := c.fetchKey(ctx, key, name, horizonKey, completed, idx, report)
		if source == sourceFatal {
			save()
			return nil, report.fatal
		}

		if c.onProgress != nil {
			c.onProgress(Progress{Processed: i + 1, Total: len(keys), Key: name, Source: source})
		}
		if (i+1)%c.interval == 0 {
			save()
		}
	}

	save()
	return idx, nil
}

const (
	sourceCheckpoint = "checkpoint"
	sourceCache      = "cache"
	sourceNetwork    = "network"
	sourceDeferred   = "deferred"
	sourceFailed     = "failed"
	sourceFatal      = "fatal"
)

func (c *Collector) fetchKey(ctx context.Context, key QueryKey, name, horizonKey string, completed map[string]struct{}, idx Index, report *Report) string {
	if key.Date >= horizonKey {
		report.DeferredKeys++
		c.logger.DebugContext(ctx, "key deferred past collection horizon", "key", name)
		return sourceDeferred
	}

	if _, done := completed[name]; done {
		if records, ok := c.cache.Get(ctx, name); ok {
			report.ResumedKeys++
			c.index(ctx, idx, key, records)
			return sourceCheckpoint
		}
		c.logger.WarnContext(ctx, "checkpointed key missing from cache, refetching", "key", name)
		delete(completed, name)
	} else if records, ok := c.cache.Get(ctx, name); ok {
		c.metrics.RecordCacheLookup(ctx, true)
		report.CachedKeys++
		c.index(ctx, idx, key, records)
		completed[name] = struct{}{}
		return sourceCache
	} else {
		c.metrics.RecordCacheLookup(ctx, false)
	}

	resp, err := c.api.Request(ctx, c.endpointFor(key), requestParams(key))
	if err != nil {
		if apperrors.IsFatal(err) || ctx.Err() != nil {
			report.abort(err)
			c.logger.ErrorContext(ctx, "fatal upstream error, stopping batch", "key", name, "error", err)
			return sourceFatal
		}
		report.fail(name, err)
		c.metrics.RecordFetchFailure(ctx, kindOf(err))
		c.logger.WarnContext(ctx, "fetch failed, continuing", "key", name, "error", err)
		idx.markEmpty(key.Date)
		return sourceFailed
	}

	c.cache.Set(ctx, name, resp.Records)
	c.index(ctx, idx, key, resp.Records)
	report.FetchedKeys++
	completed[name] = struct{}{}
	return sourceNetwork
}

func (c *Collector) endpointFor(key QueryKey) marketapi.Endpoint {
	if key.Endpoint == c.endpoint.Name {
		return c.endpoint
	}
	return marketapi.Endpoint{Name: key.Endpoint}
}

func requestParams(key QueryKey) url.Values {
	if key.EntityID != "" {
		return marketapi.EntityDayParams(key.EntityID, key.Date)
	}
	return marketapi.SnapshotParams(key.Date)
}

func (c *Collector) index(ctx context.Context, idx Index, key QueryKey, records cache.Records) {
	var (
		trades []marketapi.DailyTrade
		errs   []error
	)
	if key.EntityID != "" {
		trades, errs = entityTrades(key, records)
	} else {
		trades, errs = marketapi.DecodeRecords[marketapi.DailyTrade](records)
	}
	if len(errs) > 0 {
		c.logger.WarnContext(ctx, "dropped invalid records", "key", key.String(), "dropped", len(errs), "first_error", errs[0])
	}
	idx.add(key.Date, trades)
}

// entityTrades decodes a per-issue chart and keeps the bar for the key's day
func entityTrades(key QueryKey, records cache.Records) ([]marketapi.DailyTrade, []error) {
	bars, errs := marketapi.DecodeRecords[marketapi.DailyBar](records)
	trades := make([]marketapi.DailyTrade, 0, 1)
	for _, b := range bars {
		if b.Date == key.Date {
			trades = append(trades, b.Trade(key.EntityID))
		}
	}
	return trades, errs
}

// loadCompleted returns the keys a matching checkpoint marks as done
func (c *Collector) loadCompleted(ctx context.Context, total int) map[string]struct{} {
	completed := make(map[string]struct{})

	cp, err := c.checkpoints.Load(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "ignoring unreadable checkpoint", "error", err)
		return completed
	}
	if cp == nil {
		return completed
	}
	if cp.Stage != c.Stage() {
		c.logger.WarnContext(ctx, "ignoring checkpoint of another stage", "stage", cp.Stage)
		return completed
	}

	c.logger.InfoContext(ctx, "resuming from checkpoint",
		"completed", len(cp.CompletedKeys),
		"checkpoint_total", cp.TotalKeys,
		"planned", total)
	return cp.Completed()
}

func kindOf(err error) string {
	if t := apperrors.TypeOf(err); t != "" {
		return string(t)
	}
	return "UNKNOWN"
}
