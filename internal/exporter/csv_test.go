package exporter

import (
	"bytes"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readCSV(t *testing.T, path string) ([]byte, [][]string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	rows, err := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM))).ReadAll()
	require.NoError(t, err)
	return data, rows
}

func TestWriteCSV_WithBOM(t *testing.T) {
	dir := t.TempDir()
	w := NewCSVWriter(dir, discard())

	path, err := w.WriteCSV("out/test.csv", WriteOptions{
		Headers:   []string{"a", "b"},
		Records:   [][]string{{"1", "x,y"}, {"2", "z"}},
		BOMPrefix: true,
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out", "test.csv"), path)

	data, rows := readCSV(t, path)
	assert.True(t, bytes.HasPrefix(data, utf8BOM))
	assert.Equal(t, [][]string{{"a", "b"}, {"1", "x,y"}, {"2", "z"}}, rows)
}

func TestWriteCSV_TruncatesWithoutAppend(t *testing.T) {
	w := NewCSVWriter(t.TempDir(), discard())

	_, err := w.WriteCSV("t.csv", WriteOptions{Headers: []string{"h"}, Records: [][]string{{"old"}}})
	require.NoError(t, err)
	path, err := w.WriteCSV("t.csv", WriteOptions{Headers: []string{"h"}, Records: [][]string{{"new"}}})
	require.NoError(t, err)

	_, rows := readCSV(t, path)
	assert.Equal(t, [][]string{{"h"}, {"new"}}, rows)
}

func TestWriteCSV_AppendWritesHeaderOnce(t *testing.T) {
	w := NewCSVWriter(t.TempDir(), discard())
	opts := func(v string) WriteOptions {
		return WriteOptions{Headers: []string{"h"}, Records: [][]string{{v}}, Append: true, BOMPrefix: true}
	}

	_, err := w.WriteCSV("t.csv", opts("first"))
	require.NoError(t, err)
	path, err := w.WriteCSV("t.csv", opts("second"))
	require.NoError(t, err)

	data, rows := readCSV(t, path)
	assert.Equal(t, 1, bytes.Count(data, utf8BOM))
	assert.Equal(t, [][]string{{"h"}, {"first"}, {"second"}}, rows)
}

func TestWriteCSV_AbsolutePath(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "abs.csv")
	w := NewCSVWriter("/nonexistent-root", discard())

	path, err := w.WriteCSV(abs, WriteOptions{Records: [][]string{{"1"}}})
	require.NoError(t, err)
	assert.Equal(t, abs, path)
	assert.FileExists(t, abs)
}
