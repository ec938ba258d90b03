// Package discovery produces the batch of newly listed issues a collection
// run enriches.
package discovery

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"ipocli/internal/cache"
	"ipocli/internal/collector"
	"ipocli/internal/marketapi"
	"ipocli/internal/scheduler"
)

// Source lists the entities listed inside a window
type Source interface {
	Discover(ctx context.Context, window scheduler.Window) ([]collector.Entity, error)
}

// SnapshotSource reads one listed-issue snapshot and keeps the issues whose
// listing date falls inside the window
type SnapshotSource struct {
	api    collector.Fetcher
	cache  cache.Cache
	logger *slog.Logger
}

// NewSnapshotSource creates a snapshot source. respCache may be nil.
func NewSnapshotSource(api collector.Fetcher, respCache cache.Cache, logger *slog.Logger) *SnapshotSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotSource{
		api:    api,
		cache:  respCache,
		logger: logger.With("component", "snapshot_discovery"),
	}
}

// AsOfDate is the last weekday strictly before end
func AsOfDate(end time.Time) time.Time {
	d := end.AddDate(0, 0, -1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// Discover implements Source
func (s *SnapshotSource) Discover(ctx context.Context, window scheduler.Window) ([]collector.Entity, error) {
	if window.Empty() {
		return nil, nil
	}

	asOf := AsOfDate(window.End)
	key := collector.SnapshotKey(marketapi.EndpointStockInfo.Name, asOf)
	name := key.String()

	records, ok := s.lookup(ctx, name)
	if !ok {
		resp, err := s.api.Request(ctx, marketapi.EndpointStockInfo, marketapi.SnapshotParams(key.Date))
		if err != nil {
			return nil, err
		}
		records = resp.Records
		if s.cache != nil {
			s.cache.Set(ctx, name, records)
		}
	}

	issues, errs := marketapi.DecodeRecords[marketapi.StockInfo](records)
	if len(errs) > 0 {
		s.logger.WarnContext(ctx, "dropped invalid listing records", "dropped", len(errs), "first_error", errs[0])
	}

	loc := window.End.Location()
	var entities []collector.Entity
	for _, info := range issues {
		if info.ListingDate == "" {
			continue
		}
		listed, err := time.ParseInLocation(collector.KeyDateLayout, info.ListingDate, loc)
		if err != nil || !window.Contains(listed) {
			continue
		}
		entities = append(entities, collector.Entity{
			Code:        info.Code(),
			ISUCode:     info.ISUCode,
			Name:        firstNonEmpty(info.Abbrev, info.Name),
			Market:      info.Market,
			ListingDate: listed,
		})
	}
	SortEntities(entities)

	s.logger.InfoContext(ctx, "entities discovered",
		"as_of", key.Date,
		"snapshot_size", len(issues),
		"listed_in_window", len(entities))
	return entities, nil
}

func (s *SnapshotSource) lookup(ctx context.Context, key string) (cache.Records, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.Get(ctx, key)
}

// SortEntities orders entities by listing date then code
func SortEntities(entities []collector.Entity) {
	sort.SliceStable(entities, func(i, j int) bool {
		a, b := entities[i], entities[j]
		if !a.ListingDate.Equal(b.ListingDate) {
			return a.ListingDate.Before(b.ListingDate)
		}
		return a.Code < b.Code
	})
}

// Static serves a fixed entity list, filtered to the window
type Static []collector.Entity

// Discover implements Source
func (s Static) Discover(_ context.Context, window scheduler.Window) ([]collector.Entity, error) {
	var out []collector.Entity
	for _, e := range s {
		if window.Contains(e.ListingDate) {
			out = append(out, e)
		}
	}
	SortEntities(out)
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
