package exporter

import (
	"context"
	"log/slog"
	"path/filepath"

	"ipocli/internal/collector"
	"ipocli/internal/config"
	apperrors "ipocli/internal/errors"
)

// Result describes what one export wrote
type Result struct {
	Files     []string          `json:"files"`
	Rows      int               `json:"rows"`
	Quality   collector.Quality `json:"quality"`
	Published bool              `json:"published"`
}

// Exporter writes records in the configured formats
type Exporter struct {
	cfg       config.ExportConfig
	dir       string
	csv       *CSVWriter
	publisher Publisher
	logger    *slog.Logger
}

// Option configures an Exporter
type Option func(*Exporter)

// WithPublisher also publishes every export
func WithPublisher(p Publisher) Option {
	return func(e *Exporter) { e.publisher = p }
}

// New creates an exporter writing under outputDir
func New(cfg config.ExportConfig, outputDir string, logger *slog.Logger, opts ...Option) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "exporter")
	e := &Exporter{
		cfg:    cfg,
		dir:    outputDir,
		csv:    NewCSVWriter(outputDir, logger),
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export writes records and returns the files touched with a quality summary
// of this batch
func (e *Exporter) Export(ctx context.Context, records []collector.Record) (*Result, error) {
	result := &Result{Rows: len(records), Quality: collector.AssessQuality(records)}
	if len(records) == 0 {
		e.logger.InfoContext(ctx, "nothing to export")
		return result, nil
	}

	rows := Rows(records)

	if e.cfg.Format == "csv" || e.cfg.Format == "both" {
		path, err := e.csv.WriteCSV(e.cfg.BaseName+".csv", WriteOptions{
			Headers:   Header,
			Records:   rows,
			Append:    e.cfg.Append,
			BOMPrefix: e.cfg.BOM,
		})
		if err != nil {
			return nil, apperrors.NewStorageError("failed to write CSV", err)
		}
		result.Files = append(result.Files, path)
	}

	if e.cfg.Format == "xlsx" || e.cfg.Format == "both" {
		path := filepath.Join(e.dir, e.cfg.BaseName+".xlsx")
		if err := WriteXLSX(path, records, e.cfg.Append); err != nil {
			return nil, apperrors.NewStorageError("failed to write XLSX", err)
		}
		result.Files = append(result.Files, path)
	}

	if e.publisher != nil {
		if err := e.publisher.Publish(ctx, rows, e.cfg.Append); err != nil {
			return nil, apperrors.NewTransientError("failed to publish", err)
		}
		result.Published = true
	}

	q := result.Quality
	e.logger.InfoContext(ctx, "export complete",
		"rows", result.Rows,
		"files", result.Files,
		"published", result.Published,
		"day0_high", q.Day0High,
		"day0_close", q.Day0Close,
		"day1_close", q.Day1Close)
	return result, nil
}
