// Package cache stores upstream bulk responses keyed by query key so a
// repeated logical request never reaches the network twice.
//
// The cache is an optimization. Write failures are logged and swallowed;
// unreadable or corrupted entries read as misses.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// Backends accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Records is the cached payload: the raw record list of one bulk response.
type Records = []json.RawMessage

// Cache is a durable key to payload store
type Cache interface {
	// Get returns the payload stored under key. ok is false on a miss.
	Get(ctx context.Context, key string) (records Records, ok bool)
	// Set stores records under key, replacing any previous entry.
	Set(ctx context.Context, key string, records Records)
	// Has reports whether Get would return a hit for key
	Has(ctx context.Context, key string) bool
	Delete(ctx context.Context, key string) error
	// ClearAll removes every entry and returns how many were removed.
	ClearAll(ctx context.Context) (int, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Stats summarizes cache contents
type Stats struct {
	Backend    string `json:"backend"`
	Entries    int    `json:"entries"`
	TotalBytes int64  `json:"total_bytes"`
	Location   string `json:"location"`
}

// GenerateKey builds the deterministic key for one upstream request:
// "namespace_date" for bulk snapshots, "namespace_entity_date" when an
// entity id is given. date is expected in YYYYMMDD form.
func GenerateKey(namespace, date string, entityID ...string) string {
	parts := []string{namespace}
	for _, id := range entityID {
		if id != "" {
			parts = append(parts, id)
		}
	}
	parts = append(parts, date)
	return strings.Join(parts, "_")
}

// Open builds the cache selected by backend. location is a directory for the
// file backend and a database path for sqlite.
func Open(backend, location string, logger *slog.Logger) (Cache, error) {
	switch backend {
	case BackendFile, "":
		return NewFileCache(location, logger)
	case BackendSQLite:
		return NewSQLiteCache(location, logger)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}
