package exporter

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"ipocli/internal/config"
	apperrors "ipocli/internal/errors"
)

// Publisher pushes the rendered table to a shared destination
type Publisher interface {
	Publish(ctx context.Context, rows [][]string, appendRows bool) error
}

// SheetsPublisher writes the table into one Google Sheets tab
type SheetsPublisher struct {
	svc           *sheets.Service
	spreadsheetID string
	sheetName     string
	logger        *slog.Logger
}

// NewSheetsPublisher creates a publisher. Without client options the service
// account in cfg.CredentialsFile is used.
func NewSheetsPublisher(ctx context.Context, cfg config.SheetsConfig, logger *slog.Logger, opts ...option.ClientOption) (*SheetsPublisher, error) {
	if cfg.SpreadsheetID == "" {
		return nil, apperrors.NewConfigError("sheets.spreadsheet_id is required for publishing", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if len(opts) == 0 {
		opts = []option.ClientOption{
			option.WithCredentialsFile(cfg.CredentialsFile),
			option.WithScopes(sheets.SpreadsheetsScope),
		}
	}

	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, apperrors.NewConfigError("failed to create sheets service", err)
	}

	return &SheetsPublisher{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     cfg.SheetName,
		logger:        logger.With("component", "sheets_publisher"),
	}, nil
}

// Publish replaces the tab with header and rows, or appends rows below the
// existing ones. The header is written whenever the tab is empty.
func (p *SheetsPublisher) Publish(ctx context.Context, rows [][]string, appendRows bool) error {
	if !appendRows {
		if _, err := p.svc.Spreadsheets.Values.Clear(p.spreadsheetID, p.sheetName, &sheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
			return fmt.Errorf("failed to clear sheet: %w", err)
		}
		vr := &sheets.ValueRange{Values: toValues(Header, rows)}
		if _, err := p.svc.Spreadsheets.Values.Update(p.spreadsheetID, p.sheetName+"!A1", vr).
			ValueInputOption("RAW").Context(ctx).Do(); err != nil {
			return fmt.Errorf("failed to update sheet: %w", err)
		}
		p.logger.InfoContext(ctx, "sheet replaced", "rows", len(rows))
		return nil
	}

	existing, err := p.svc.Spreadsheets.Values.Get(p.spreadsheetID, p.sheetName+"!A1:A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to read sheet: %w", err)
	}
	var header []string
	if len(existing.Values) == 0 {
		header = Header
	}

	vr := &sheets.ValueRange{Values: toValues(header, rows)}
	if _, err := p.svc.Spreadsheets.Values.Append(p.spreadsheetID, p.sheetName+"!A1", vr).
		ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to append to sheet: %w", err)
	}
	p.logger.InfoContext(ctx, "rows appended to sheet", "rows", len(rows), "with_header", header != nil)
	return nil
}

func toValues(header []string, rows [][]string) [][]interface{} {
	values := make([][]interface{}, 0, len(rows)+1)
	if header != nil {
		values = append(values, stringsToCells(header))
	}
	for _, row := range rows {
		values = append(values, stringsToCells(row))
	}
	return values
}
