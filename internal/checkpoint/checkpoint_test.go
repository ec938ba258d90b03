package checkpoint

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	fixed := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	return NewStore(
		filepath.Join(t.TempDir(), "checkpoint.json"),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(func() time.Time { return fixed }),
	)
}

func keySet(keys ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

func TestStore_LoadMissing(t *testing.T) {
	s := newTestStore(t)

	cp, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestStore_SaveLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "daily_trade", keySet("daily_trade_20240103", "daily_trade_20240102"), 5))

	cp, err := s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, cp)

	assert.Equal(t, "daily_trade", cp.Stage)
	assert.Equal(t, []string{"daily_trade_20240102", "daily_trade_20240103"}, cp.CompletedKeys)
	assert.Equal(t, 5, cp.TotalKeys)
	assert.Equal(t, time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC), cp.Timestamp)
	assert.Contains(t, cp.Completed(), "daily_trade_20240102")
}

func TestStore_SaveOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "daily_trade", keySet("a"), 3))
	require.NoError(t, s.Save(ctx, "daily_trade", keySet("a", "b"), 3))

	cp, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, cp.CompletedKeys)
}

func TestStore_Clear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Clear(ctx), "clearing a missing checkpoint")

	require.NoError(t, s.Save(ctx, "daily_trade", keySet("a"), 1))
	require.NoError(t, s.Clear(ctx))

	_, err := os.Stat(s.Path())
	assert.True(t, os.IsNotExist(err))

	cp, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestStore_CorruptFile(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("{"), 0644))

	_, err := s.Load(context.Background())
	assert.Error(t, err)
}
