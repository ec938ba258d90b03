package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "ipocli/internal/errors"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
		check   func(t *testing.T, o *options)
	}{
		{
			name: "defaults",
			check: func(t *testing.T, o *options) {
				assert.False(t, o.full)
				assert.Empty(t, o.start)
			},
		},
		{
			name: "explicit range",
			args: []string{"-start", "2024-01-04", "-end", "2024-01-10", "-format", "xlsx"},
			check: func(t *testing.T, o *options) {
				assert.Equal(t, "2024-01-04", o.start)
				assert.Equal(t, "xlsx", o.format)
			},
		},
		{name: "full with start", args: []string{"-full", "-start", "2024-01-04"}, wantErr: true},
		{name: "unknown flag", args: []string{"-nope"}, wantErr: true},
		{name: "quota reset is a server operation", args: []string{"-reset-quota"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := parseFlags(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, o)
		})
	}
}

func TestRunOptions(t *testing.T) {
	o := &options{start: "2024-01-04", end: "2024-01-10"}
	ro, err := o.runOptions(time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC), ro.Start)
	assert.Equal(t, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), ro.End)

	_, err = (&options{start: "2024-01-10", end: "2024-01-04"}).runOptions(time.UTC)
	assert.Error(t, err)

	_, err = (&options{start: "04/01/2024"}).runOptions(time.UTC)
	assert.Error(t, err)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(flag.ErrHelp))
	assert.Equal(t, 3, exitCode(fmt.Errorf("run: %w", apperrors.NewQuotaExceededError("daily_trade", 10, 10))))
	assert.Equal(t, 130, exitCode(context.Canceled))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
}

func writeConfig(t *testing.T, baseURL string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`logging:
  level: error
paths:
  data_dir: %s
api:
  base_url: %s
  app_key: key
  min_interval: 0s
collector:
  default_start: "2024-01-01"
export:
  bom: false
telemetry:
  metrics_enabled: false
`, dir, baseURL)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))

	entities := filepath.Join(dir, "listings.csv")
	require.NoError(t, os.WriteFile(entities, []byte("code,name,listing_date\n200010,Alpha,2024-01-04\n"), 0644))
	return path, entities
}

func TestRunCollectsAndReportsRuns(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"OutBlock_1": []map[string]string{{
				"BAS_DD":     r.URL.Query().Get("basDd"),
				"ISU_CD":     "200010",
				"TDD_CLSPRC": "11,000",
			}},
		})
	}))
	defer srv.Close()
	cfgPath, entities := writeConfig(t, srv.URL)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, run(ctx, []string{"-config", cfgPath, "-entities", entities, "-json"}, &out))
	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.Equal(t, "completed", result["status"])
	assert.EqualValues(t, 1, result["entities"])
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))

	out.Reset()
	require.NoError(t, run(ctx, []string{"-config", cfgPath, "-show-runs"}, &out))
	assert.Contains(t, out.String(), "ipo_prices")
	assert.Contains(t, out.String(), time.Now().Format(dateLayout))

	out.Reset()
	require.NoError(t, run(ctx, []string{"-config", cfgPath, "-entities", entities}, &out))
	assert.Contains(t, out.String(), "already up to date")
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))

	out.Reset()
	require.NoError(t, run(ctx, []string{"-config", cfgPath, "-reset-runs"}, &out))
	out.Reset()
	require.NoError(t, run(ctx, []string{"-config", cfgPath, "-show-runs"}, &out))
	assert.Contains(t, out.String(), "No recorded runs")

	out.Reset()
	require.NoError(t, run(ctx, []string{"-config", cfgPath, "-clear-cache"}, &out))
	assert.Contains(t, out.String(), "Removed 2 cached responses")
}

func TestRunRejectsBadFormat(t *testing.T) {
	cfgPath, _ := writeConfig(t, "http://127.0.0.1:1")
	err := run(context.Background(), []string{"-config", cfgPath, "-format", "parquet"}, &bytes.Buffer{})
	assert.Error(t, err)
}
