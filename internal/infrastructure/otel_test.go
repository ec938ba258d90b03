package infrastructure

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipocli/internal/config"
)

func TestInitializeOTel_MetricsExposed(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	providers, err := InitializeOTel(config.TelemetryConfig{
		ServiceName:    "test",
		MetricsEnabled: true,
	}, logger)
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	metrics, err := NewCollectorMetrics(providers.Meter)
	require.NoError(t, err)
	require.NoError(t, RegisterQuotaGauge(providers.Meter, func() map[string]int {
		return map[string]int{"daily_trade": 7}
	}))

	ctx := context.Background()
	metrics.RecordAPIRequest(ctx, "daily_trade", "success", 150*time.Millisecond)
	metrics.RecordCacheLookup(ctx, true)
	metrics.RecordFetchFailure(ctx, "APPLICATION")
	metrics.RecordEntities(ctx, 4, 1)

	rec := httptest.NewRecorder()
	providers.PrometheusHTTP.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "ipo_api_requests_total")
	assert.Contains(t, body, "ipo_cache_lookups_total")
	assert.Contains(t, body, "ipo_quota_used")
}

func TestInitializeOTel_Disabled(t *testing.T) {
	providers, err := InitializeOTel(config.TelemetryConfig{ServiceName: "test"}, nil)
	require.NoError(t, err)

	assert.Nil(t, providers.MeterProvider)
	assert.Nil(t, providers.TracerProvider)
	assert.NotNil(t, providers.Meter)
	assert.NotNil(t, providers.Tracer)

	metrics, err := NewCollectorMetrics(providers.Meter)
	require.NoError(t, err)
	metrics.RecordStep(context.Background(), "collection", time.Second, true)

	assert.NoError(t, providers.Shutdown(context.Background()))
}

func TestCollectorMetrics_NilSafe(t *testing.T) {
	var m *CollectorMetrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordAPIRequest(ctx, "x", "success", time.Second)
		m.RecordCacheLookup(ctx, false)
		m.RecordFetchFailure(ctx, "x")
		m.RecordEntities(ctx, 1, 1)
		m.RecordOperation(ctx, "completed")
		m.RecordStep(ctx, "x", time.Second, false)
	})
}
