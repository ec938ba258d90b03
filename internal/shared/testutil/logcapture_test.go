package testutil

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogCaptureKeepsBoundAttrs(t *testing.T) {
	logger, capture := NewTestLogger(nil)
	logger.With("component", "file_cache").WithGroup("req").Warn("cache read failed", "key", "k1")
	logger.Info("unrelated")

	records := capture.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "file_cache", records[0].Attrs["component"])
	assert.Equal(t, "k1", records[0].Attrs["req.key"])

	rec := AssertLogged(t, capture, slog.LevelWarn, "read failed")
	assert.Equal(t, slog.LevelWarn, rec.Level)
	assert.Len(t, capture.Matching(slog.LevelInfo, "unrelated"), 1)

	capture.Reset()
	assert.Empty(t, capture.Records())
}

func TestAssertNoErrors(t *testing.T) {
	logger, capture := NewTestLogger(t)
	logger.Warn("fine")
	AssertNoErrors(t, capture)
}
