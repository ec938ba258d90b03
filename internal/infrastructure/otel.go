package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"

	"ipocli/internal/config"
)

const (
	ServiceVersion = "1.0.0"
	MeterName      = "ipocli"
)

// OTelProviders holds the OpenTelemetry providers
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	PrometheusHTTP http.Handler
	Logger         *slog.Logger
}

// InitializeOTel sets up tracing (stdout exporter) and metrics (Prometheus
// exporter on a private registry). Disabled halves fall back to no-op
// implementations so callers never nil-check.
func InitializeOTel(cfg config.TelemetryConfig, logger *slog.Logger) (*OTelProviders, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx := context.Background()

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(ServiceVersion),
		attribute.String("service.instance.id", generateInstanceID()),
	)

	providers := &OTelProviders{
		Logger:         logger,
		Tracer:         otel.Tracer(MeterName),
		Meter:          noop.NewMeterProvider().Meter(MeterName),
		PrometheusHTTP: http.NotFoundHandler(),
	}

	if cfg.TracingEnabled {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		providers.TracerProvider = tp
		providers.Tracer = tp.Tracer(MeterName, trace.WithInstrumentationVersion(ServiceVersion))
	}

	if cfg.MetricsEnabled {
		registry := promclient.NewRegistry()
		exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		)
		otel.SetMeterProvider(mp)
		providers.MeterProvider = mp
		providers.Meter = mp.Meter(MeterName, metric.WithInstrumentationVersion(ServiceVersion))
		providers.PrometheusHTTP = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	logger.InfoContext(ctx, "OpenTelemetry initialized",
		slog.String("service", cfg.ServiceName),
		slog.Bool("tracing_enabled", cfg.TracingEnabled),
		slog.Bool("metrics_enabled", cfg.MetricsEnabled))

	return providers, nil
}

// Shutdown gracefully shuts down OpenTelemetry providers
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	var errs []error

	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("opentelemetry shutdown errors: %v", errs)
	}
	return nil
}

// CollectorMetrics holds the instruments recorded by the collection pipeline.
// A nil *CollectorMetrics records nothing.
type CollectorMetrics struct {
	APIRequests        metric.Int64Counter
	APIRequestDuration metric.Float64Histogram
	CacheLookups       metric.Int64Counter
	FetchFailures      metric.Int64Counter
	Entities           metric.Int64Counter
	OperationRuns      metric.Int64Counter
	StepDuration       metric.Float64Histogram
}

// NewCollectorMetrics creates the pipeline instruments on meter
func NewCollectorMetrics(meter metric.Meter) (*CollectorMetrics, error) {
	apiRequests, err := meter.Int64Counter(
		"ipo_api_requests_total",
		metric.WithDescription("Upstream API requests by endpoint and outcome"),
	)
	if err != nil {
		return nil, err
	}

	apiDuration, err := meter.Float64Histogram(
		"ipo_api_request_duration_seconds",
		metric.WithDescription("Upstream API request duration including retries"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	cacheLookups, err := meter.Int64Counter(
		"ipo_cache_lookups_total",
		metric.WithDescription("Response cache lookups by result"),
	)
	if err != nil {
		return nil, err
	}

	fetchFailures, err := meter.Int64Counter(
		"ipo_fetch_failures_total",
		metric.WithDescription("Query keys that ended without data, by error kind"),
	)
	if err != nil {
		return nil, err
	}

	entities, err := meter.Int64Counter(
		"ipo_entities_total",
		metric.WithDescription("Reassembled entities by enrichment outcome"),
	)
	if err != nil {
		return nil, err
	}

	runs, err := meter.Int64Counter(
		"ipo_operation_runs_total",
		metric.WithDescription("Pipeline runs by status"),
	)
	if err != nil {
		return nil, err
	}

	stepDuration, err := meter.Float64Histogram(
		"ipo_operation_step_duration_seconds",
		metric.WithDescription("Pipeline step duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &CollectorMetrics{
		APIRequests:        apiRequests,
		APIRequestDuration: apiDuration,
		CacheLookups:       cacheLookups,
		FetchFailures:      fetchFailures,
		Entities:           entities,
		OperationRuns:      runs,
		StepDuration:       stepDuration,
	}, nil
}

// RegisterQuotaGauge exposes per-endpoint quota usage as an observable gauge.
func RegisterQuotaGauge(meter metric.Meter, usage func() map[string]int) error {
	_, err := meter.Int64ObservableGauge(
		"ipo_quota_used",
		metric.WithDescription("Requests counted against the daily quota per endpoint"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			for endpoint, count := range usage() {
				o.Observe(int64(count), metric.WithAttributes(attribute.String("endpoint", endpoint)))
			}
			return nil
		}),
	)
	return err
}

// RecordAPIRequest records one upstream call
func (m *CollectorMetrics) RecordAPIRequest(ctx context.Context, endpoint, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("outcome", outcome),
	)
	m.APIRequests.Add(ctx, 1, attrs)
	m.APIRequestDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordCacheLookup records a cache hit or miss
func (m *CollectorMetrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordFetchFailure records a query key that produced no data
func (m *CollectorMetrics) RecordFetchFailure(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.FetchFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordEntities records reassembly outcomes
func (m *CollectorMetrics) RecordEntities(ctx context.Context, enriched, sentinel int) {
	if m == nil {
		return
	}
	m.Entities.Add(ctx, int64(enriched), metric.WithAttributes(attribute.String("enrichment", "complete")))
	m.Entities.Add(ctx, int64(sentinel), metric.WithAttributes(attribute.String("enrichment", "sentinel")))
}

// RecordOperation records a finished pipeline run
func (m *CollectorMetrics) RecordOperation(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.OperationRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordStep records the duration of one pipeline step
func (m *CollectorMetrics) RecordStep(ctx context.Context, stepID string, d time.Duration, success bool) {
	if m == nil {
		return
	}
	m.StepDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("step.id", stepID),
		attribute.Bool("success", success),
	))
}

// RecordError records an error on the current span
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// generateInstanceID generates a unique instance identifier
func generateInstanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, time.Now().Unix())
}
