package http

import (
	"context"

	"ipocli/internal/cache"
	"ipocli/internal/marketapi"
	"ipocli/internal/operations"
	"ipocli/internal/scheduler"
)

// JobRunner starts and tracks collection runs
type JobRunner interface {
	Jobs() []string
	Submit(name string, opts operations.RunOptions) (*operations.Run, error)
	Cancel(name string) error
	Get(id string) (*operations.Run, error)
	List() []*operations.Run
}

// QuotaCounter reports and resets per-endpoint request counters
type QuotaCounter interface {
	Stats() map[string]marketapi.EndpointStats
	ResetCounters()
}

// RunTracker exposes the persisted last successful run per job
type RunTracker interface {
	All() (map[string]scheduler.LastRun, error)
	Reset(ctx context.Context, job string) error
}

// SnapshotStore holds live and recently finished operation snapshots
type SnapshotStore interface {
	GetSnapshot(operationID string) (*operations.OperationSnapshot, bool)
	GetAllSnapshots() []*operations.OperationSnapshot
}

var (
	_ JobRunner     = (*operations.Runner)(nil)
	_ QuotaCounter  = (*marketapi.Client)(nil)
	_ QuotaCounter  = marketapi.Clients(nil)
	_ RunTracker    = (*scheduler.Tracker)(nil)
	_ SnapshotStore = (*operations.StatusBroadcaster)(nil)
	_ cache.Cache   = (*cache.FileCache)(nil)
)
