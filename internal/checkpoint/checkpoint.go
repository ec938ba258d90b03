// Package checkpoint persists the progress of one long-running fetch stage so
// an interrupted batch resumes without repeating completed query keys.
//
// Only one checkpoint exists at a time. A missing checkpoint means either the
// stage never started or it finished and was cleared; callers tell these apart
// with their own completion signal.
package checkpoint

import (
	"context"
	"log/slog"
	"sort"
	"time"

	apperrors "ipocli/internal/errors"
	"ipocli/internal/files"
)

// Checkpoint records which query keys of a stage completed successfully
type Checkpoint struct {
	Stage         string    `json:"stage"`
	CompletedKeys []string  `json:"completed_keys"`
	TotalKeys     int       `json:"total_keys"`
	Timestamp     time.Time `json:"timestamp"`
}

// Completed returns the completed keys as a set
func (c *Checkpoint) Completed() map[string]struct{} {
	set := make(map[string]struct{}, len(c.CompletedKeys))
	for _, k := range c.CompletedKeys {
		set[k] = struct{}{}
	}
	return set
}

// Store keeps the checkpoint in a single JSON file, replaced atomically on save
type Store struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store backed by path
func NewStore(path string, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		path:   path,
		logger: logger.With("component", "checkpoint"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the checkpoint file location
func (s *Store) Path() string { return s.path }

// Save overwrites the checkpoint with the given progress
func (s *Store) Save(ctx context.Context, stage string, completed map[string]struct{}, totalKeys int) error {
	keys := make([]string, 0, len(completed))
	for k := range completed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cp := Checkpoint{
		Stage:         stage,
		CompletedKeys: keys,
		TotalKeys:     totalKeys,
		Timestamp:     s.now().UTC(),
	}
	if err := files.WriteJSON(s.path, cp); err != nil {
		return apperrors.NewStorageError("failed to save checkpoint", err).WithContext("stage", stage)
	}

	s.logger.DebugContext(ctx, "checkpoint saved",
		"stage", stage,
		"completed", len(keys),
		"total", totalKeys)
	return nil
}

// Load returns the stored checkpoint, or nil when none exists
func (s *Store) Load(ctx context.Context) (*Checkpoint, error) {
	var cp Checkpoint
	found, err := files.ReadJSON(s.path, &cp)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to load checkpoint", err)
	}
	if !found {
		return nil, nil
	}

	s.logger.InfoContext(ctx, "checkpoint loaded",
		"stage", cp.Stage,
		"completed", len(cp.CompletedKeys),
		"total", cp.TotalKeys,
		"saved_at", cp.Timestamp)
	return &cp, nil
}

// Clear removes the checkpoint. Clearing a missing checkpoint is not an error.
func (s *Store) Clear(ctx context.Context) error {
	if err := files.RemoveIfExists(s.path); err != nil {
		return apperrors.NewStorageError("failed to clear checkpoint", err)
	}
	s.logger.DebugContext(ctx, "checkpoint cleared")
	return nil
}
