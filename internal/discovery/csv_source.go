package discovery

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"ipocli/internal/collector"
	apperrors "ipocli/internal/errors"
	"ipocli/internal/marketapi"
	"ipocli/internal/scheduler"
)

var listingDateLayouts = []string{"2006-01-02", "20060102", "2006/01/02"}

// CSVSource reads entities from a CSV file with a header row naming at least
// code, name and listing_date. An optional market column is carried through.
type CSVSource struct {
	path   string
	logger *slog.Logger
}

// NewCSVSource creates a CSV source for path
func NewCSVSource(path string, logger *slog.Logger) *CSVSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVSource{path: path, logger: logger.With("component", "csv_discovery")}
}

// Discover implements Source. Rows listed outside the window are skipped.
func (s *CSVSource) Discover(ctx context.Context, window scheduler.Window) ([]collector.Entity, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.NewNotFoundError("entity file").WithContext("path", s.path)
		}
		return nil, apperrors.NewStorageError("failed to open entity file", err).WithContext("path", s.path)
	}
	defer f.Close()

	all, err := ReadEntities(f, window.End.Location())
	if err != nil {
		return nil, err
	}

	entities := Static(all)
	out, _ := entities.Discover(ctx, window)
	s.logger.InfoContext(ctx, "entities loaded from file",
		"path", s.path,
		"rows", len(all),
		"listed_in_window", len(out))
	return out, nil
}

// ReadEntities parses entity rows from r. Dates without a zone are read in loc.
// Codes are normalized to the 6-character short form the snapshots are keyed
// by: standard codes are shortened and numeric codes that lost their leading
// zeros are padded.
func ReadEntities(r io.Reader, loc *time.Location) ([]collector.Entity, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, apperrors.NewAppValidationError("unreadable entity header: " + err.Error())
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, required := range []string{"code", "name", "listing_date"} {
		if _, ok := cols[required]; !ok {
			return nil, apperrors.NewAppValidationError("entity file is missing column " + required)
		}
	}
	marketCol, hasMarket := cols["market"]

	var entities []collector.Entity
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.NewAppValidationError(fmt.Sprintf("line %d: %v", line, err))
		}

		listed, err := parseListingDate(row[cols["listing_date"]], loc)
		if err != nil {
			return nil, apperrors.NewAppValidationError(fmt.Sprintf("line %d: %v", line, err))
		}
		raw := strings.TrimSpace(row[cols["code"]])
		e := collector.Entity{
			Code:        marketapi.NormalizeCode(raw),
			Name:        strings.TrimSpace(row[cols["name"]]),
			ListingDate: listed,
		}
		if e.Code == "" {
			return nil, apperrors.NewAppValidationError(fmt.Sprintf("line %d: empty code", line))
		}
		if e.Code != raw && len(raw) == 12 {
			e.ISUCode = raw
		}
		if hasMarket {
			e.Market = strings.TrimSpace(row[marketCol])
		}
		entities = append(entities, e)
	}
	return entities, nil
}

func parseListingDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range listingDateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid listing_date %q", s)
}
