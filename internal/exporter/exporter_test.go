package exporter

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipocli/internal/config"
)

type recordingPublisher struct {
	rows   [][]string
	append bool
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, rows [][]string, appendRows bool) error {
	p.rows = rows
	p.append = appendRows
	return p.err
}

func exportConfig(format string) config.ExportConfig {
	return config.ExportConfig{Format: format, BaseName: "ipo_prices", BOM: true, Append: true}
}

func TestExporter_CSV(t *testing.T) {
	dir := t.TempDir()
	exp := New(exportConfig("csv"), dir, discard())

	result, err := exp.Export(context.Background(), sampleRecords())
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(dir, "ipo_prices.csv")}, result.Files)
	assert.Equal(t, 2, result.Rows)
	assert.Equal(t, 1, result.Quality.Day0High)
	assert.False(t, result.Published)

	_, rows := readCSV(t, result.Files[0])
	assert.Len(t, rows, 3)
}

func TestExporter_Both(t *testing.T) {
	dir := t.TempDir()
	pub := &recordingPublisher{}
	exp := New(exportConfig("both"), dir, discard(), WithPublisher(pub))

	result, err := exp.Export(context.Background(), sampleRecords())
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(dir, "ipo_prices.csv"),
		filepath.Join(dir, "ipo_prices.xlsx"),
	}, result.Files)
	assert.FileExists(t, result.Files[1])
	assert.True(t, result.Published)
	assert.Len(t, pub.rows, 2)
	assert.True(t, pub.append)
}

func TestExporter_NoRecordsWritesNothing(t *testing.T) {
	dir := t.TempDir()
	exp := New(exportConfig("csv"), dir, discard())

	result, err := exp.Export(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result.Files)
	assert.NoFileExists(t, filepath.Join(dir, "ipo_prices.csv"))
}

func TestExporter_PublishFailure(t *testing.T) {
	exp := New(exportConfig("csv"), t.TempDir(), discard(), WithPublisher(&recordingPublisher{err: errors.New("boom")}))

	_, err := exp.Export(context.Background(), sampleRecords())
	assert.Error(t, err)
}
