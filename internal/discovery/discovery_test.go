package discovery

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipocli/internal/cache"
	"ipocli/internal/collector"
	apperrors "ipocli/internal/errors"
	"ipocli/internal/marketapi"
	"ipocli/internal/scheduler"
)

type stubFetcher struct {
	records cache.Records
	err     error
	params  []url.Values
}

func (s *stubFetcher) Request(_ context.Context, _ marketapi.Endpoint, params url.Values) (*marketapi.Response, error) {
	s.params = append(s.params, params)
	if s.err != nil {
		return nil, s.err
	}
	return &marketapi.Response{Endpoint: "stock_info", Records: s.records}, nil
}

func listing(t *testing.T, isu, short, name, listed string) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(map[string]string{
		"ISU_CD":     isu,
		"ISU_SRT_CD": short,
		"ISU_ABBRV":  name,
		"LIST_DD":    listed,
		"MKT_TP_NM":  "KOSDAQ",
	})
	require.NoError(t, err)
	return data
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAsOfDate(t *testing.T) {
	assert.Equal(t, day(2024, 1, 9), AsOfDate(day(2024, 1, 10)))
	assert.Equal(t, day(2024, 1, 5), AsOfDate(day(2024, 1, 8)), "Monday end reads Friday")
	assert.Equal(t, day(2024, 1, 5), AsOfDate(day(2024, 1, 7)))
}

func TestSnapshotSource_FiltersToWindow(t *testing.T) {
	fetcher := &stubFetcher{records: cache.Records{
		listing(t, "KR7100001008", "100001", "Early", "20231229"),
		listing(t, "KR7100002006", "100002", "Second", "20240105"),
		listing(t, "KR7100003004", "", "First", "20240103"),
		listing(t, "KR7100004002", "100004", "EndDay", "20240110"),
		listing(t, "KR7100005009", "100005", "Old", ""),
		json.RawMessage(`{"ISU_ABBRV":"no code","LIST_DD":"20240104"}`),
	}}
	src := NewSnapshotSource(fetcher, nil, discard())

	entities, err := src.Discover(context.Background(), scheduler.Window{Start: day(2024, 1, 1), End: day(2024, 1, 10)})
	require.NoError(t, err)

	require.Len(t, entities, 2)
	assert.Equal(t, "100003", entities[0].Code, "short code derived from ISU code")
	assert.Equal(t, "First", entities[0].Name)
	assert.Equal(t, day(2024, 1, 3), entities[0].ListingDate)
	assert.Equal(t, "100002", entities[1].Code)
	assert.Equal(t, "KOSDAQ", entities[1].Market)

	require.Len(t, fetcher.params, 1)
	assert.Equal(t, "20240109", fetcher.params[0].Get(marketapi.DateParam))
}

func TestSnapshotSource_UsesCache(t *testing.T) {
	c, err := cache.NewFileCache(t.TempDir(), discard())
	require.NoError(t, err)
	fetcher := &stubFetcher{records: cache.Records{listing(t, "KR7100002006", "100002", "A", "20240105")}}
	src := NewSnapshotSource(fetcher, c, discard())
	w := scheduler.Window{Start: day(2024, 1, 1), End: day(2024, 1, 10)}

	first, err := src.Discover(context.Background(), w)
	require.NoError(t, err)
	second, err := src.Discover(context.Background(), w)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, fetcher.params, 1)
	assert.True(t, c.Has(context.Background(), "stock_info_20240109"))
}

func TestSnapshotSource_EmptyWindowMakesNoRequest(t *testing.T) {
	fetcher := &stubFetcher{}
	src := NewSnapshotSource(fetcher, nil, discard())

	entities, err := src.Discover(context.Background(), scheduler.Window{Start: day(2024, 1, 10), End: day(2024, 1, 10)})
	require.NoError(t, err)
	assert.Empty(t, entities)
	assert.Empty(t, fetcher.params)
}

func TestSnapshotSource_PropagatesFatalErrors(t *testing.T) {
	fetcher := &stubFetcher{err: apperrors.NewQuotaExceededError("stock_info", 1, 1)}
	src := NewSnapshotSource(fetcher, nil, discard())

	_, err := src.Discover(context.Background(), scheduler.Window{Start: day(2024, 1, 1), End: day(2024, 1, 10)})
	assert.ErrorIs(t, err, apperrors.ErrQuotaExceeded)
}

func TestReadEntities(t *testing.T) {
	input := "\ufeffcode,name,listing_date,market\n" +
		"100001,Alpha,2024-01-04,KOSDAQ\n" +
		"100002, Beta ,20240108,KOSPI\n"

	entities, err := ReadEntities(strings.NewReader(input), time.UTC)
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, "Alpha", entities[0].Name)
	assert.Equal(t, day(2024, 1, 4), entities[0].ListingDate)
	assert.Equal(t, "Beta", entities[1].Name)
	assert.Equal(t, "KOSPI", entities[1].Market)
	assert.Equal(t, day(2024, 1, 8), entities[1].ListingDate)
}

func TestReadEntities_NormalizesCodes(t *testing.T) {
	input := "code,name,listing_date\n" +
		"5930,Samsung,2024-01-04\n" +
		"KR7000660001,Hynix,2024-01-04\n" +
		"035720,Kakao,2024-01-04\n"

	entities, err := ReadEntities(strings.NewReader(input), time.UTC)
	require.NoError(t, err)
	require.Len(t, entities, 3)

	assert.Equal(t, "005930", entities[0].Code, "leading zeros restored")
	assert.Empty(t, entities[0].ISUCode)
	assert.Equal(t, "000660", entities[1].Code, "standard code shortened")
	assert.Equal(t, "KR7000660001", entities[1].ISUCode)
	assert.Equal(t, "035720", entities[2].Code)

	trade := func(isu string) marketapi.DailyTrade {
		return marketapi.DailyTrade{ISUCode: isu, Close: 71000}
	}
	idx := collector.Index{
		"20240104": {"005930": trade("KR7005930003"), "000660": trade("KR7000660001"), "035720": trade("035720")},
		"20240105": {"005930": trade("KR7005930003"), "000660": trade("KR7000660001"), "035720": trade("035720")},
	}
	for _, r := range collector.Reassemble(entities, idx) {
		assert.True(t, r.Complete(), r.Name)
		assert.Equal(t, 71000.0, r.Day0.Close, r.Name)
	}
}

func TestReadEntities_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing column", "code,name\n1,a\n"},
		{"bad date", "code,name,listing_date\n1,a,yesterday\n"},
		{"empty code", "code,name,listing_date\n,a,2024-01-04\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadEntities(strings.NewReader(tt.input), time.UTC)
			require.Error(t, err)
			assert.Equal(t, apperrors.ErrTypeValidation, apperrors.TypeOf(err))
		})
	}
}

func TestCSVSource_Discover(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entities.csv")
	require.NoError(t, os.WriteFile(path, []byte("code,name,listing_date\n2,B,2024-01-08\n1,A,2024-01-04\n3,C,2024-02-01\n"), 0o644))

	src := NewCSVSource(path, discard())
	entities, err := src.Discover(context.Background(), scheduler.Window{Start: day(2024, 1, 1), End: day(2024, 1, 31)})
	require.NoError(t, err)

	require.Len(t, entities, 2)
	assert.Equal(t, "000001", entities[0].Code)
	assert.Equal(t, "000002", entities[1].Code)
}

func TestCSVSource_MissingFile(t *testing.T) {
	src := NewCSVSource(filepath.Join(t.TempDir(), "nope.csv"), discard())
	_, err := src.Discover(context.Background(), scheduler.Window{Start: day(2024, 1, 1), End: day(2024, 1, 31)})
	assert.Equal(t, apperrors.ErrTypeNotFound, apperrors.TypeOf(err))
}
