// Package telemetry wires up Prometheus + OpenTelemetry exporters used across
// the project.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"gaiwait/pkg/config"
	"gaiwait/pkg/logging"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// InstrumentationName names the meter and tracer of this module.
const InstrumentationName = "gaiwait"

// Telemetry holds telemetry providers and exporters
type Telemetry struct {
	cfg                *config.TelemetryConfig
	meterProvider      metric.MeterProvider
	tracerProvider     trace.TracerProvider
	prometheusExporter *prometheus.Exporter
	prometheusServer   *http.Server
	logger             *logging.Logger
}

// Metrics holds all application metrics
type Metrics struct {
	// Bounded-wait lookups
	LookupsTotal    metric.Int64Counter
	LookupDuration  metric.Float64Histogram
	LookupsInFlight metric.Int64UpDownCounter
	WorkersOrphaned metric.Int64UpDownCounter
	ResultsLate     metric.Int64Counter

	// Stub DNS server
	DNSQueriesTotal  metric.Int64Counter
	DNSQueryDuration metric.Float64Histogram

	// Storage metrics
	StorageLookupsDropped metric.Int64Counter
}

// New creates a new telemetry instance
func New(ctx context.Context, cfg *config.TelemetryConfig, logger *logging.Logger) (*Telemetry, error) {
	logger = logging.OrGlobal(logger)

	if !cfg.Enabled {
		logger.Info("Telemetry disabled")
		return &Telemetry{
			cfg:            cfg,
			meterProvider:  noop.NewMeterProvider(),
			tracerProvider: tracenoop.NewTracerProvider(),
			logger:         logger,
		}, nil
	}

	t := &Telemetry{
		cfg:    cfg,
		logger: logger,
	}

	// Create resource with service information
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := t.setupMetrics(res); err != nil {
		return nil, fmt.Errorf("failed to setup metrics: %w", err)
	}

	// No span exporter is configured; spans stay in-process.
	t.tracerProvider = tracenoop.NewTracerProvider()
	if cfg.TracingEnabled {
		otel.SetTracerProvider(t.tracerProvider)
		logger.Info("Tracing enabled")
	}

	logger.Info("Telemetry initialized",
		"service", cfg.ServiceName,
		"version", cfg.ServiceVersion,
		"prometheus", cfg.PrometheusEnabled,
		"tracing", cfg.TracingEnabled,
	)

	return t, nil
}

// NewWithMeterProvider creates a Telemetry around an existing provider,
// without exporters or an HTTP server.
func NewWithMeterProvider(mp metric.MeterProvider, logger *logging.Logger) *Telemetry {
	return &Telemetry{
		cfg:            &config.TelemetryConfig{Enabled: true, ServiceName: InstrumentationName},
		meterProvider:  mp,
		tracerProvider: tracenoop.NewTracerProvider(),
		logger:         logging.OrGlobal(logger),
	}
}

// setupMetrics initializes the metrics provider
func (t *Telemetry) setupMetrics(res *resource.Resource) error {
	if !t.cfg.PrometheusEnabled {
		t.meterProvider = noop.NewMeterProvider()
		return nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	t.prometheusExporter = exporter

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	t.meterProvider = provider
	otel.SetMeterProvider(provider)

	t.startPrometheusServer()
	t.logger.Info("Prometheus metrics enabled", "port", t.cfg.PrometheusPort)
	return nil
}

// Handler serves the Prometheus metrics collected by the exporter.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.Handler()
}

// startPrometheusServer starts the Prometheus metrics HTTP server
func (t *Telemetry) startPrometheusServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", t.Handler())

	t.prometheusServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.cfg.PrometheusPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := t.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.logger.Error("Prometheus server failed", "error", err)
		}
	}()
}

// InitMetrics initializes and returns all application metrics
func (t *Telemetry) InitMetrics() (*Metrics, error) {
	meter := t.meterProvider.Meter(InstrumentationName)

	lookupsTotal, err := meter.Int64Counter(
		"gai.lookups.total",
		metric.WithDescription("Bounded-wait lookups by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create lookups counter: %w", err)
	}

	lookupDuration, err := meter.Float64Histogram(
		"gai.lookup.duration",
		metric.WithDescription("Time callers spent waiting for a lookup in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create lookup duration histogram: %w", err)
	}

	inFlight, err := meter.Int64UpDownCounter(
		"gai.lookups.inflight",
		metric.WithDescription("Callers currently waiting for a lookup"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-flight gauge: %w", err)
	}

	orphaned, err := meter.Int64UpDownCounter(
		"gai.workers.orphaned",
		metric.WithDescription("Resolution workers still running after their caller gave up"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create orphaned workers gauge: %w", err)
	}

	late, err := meter.Int64Counter(
		"gai.results.late",
		metric.WithDescription("Resolution outcomes discarded because their caller had gone"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create late results counter: %w", err)
	}

	queriesTotal, err := meter.Int64Counter(
		"dns.queries.total",
		metric.WithDescription("Total number of DNS queries received"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queries counter: %w", err)
	}

	queryDuration, err := meter.Float64Histogram(
		"dns.query.duration",
		metric.WithDescription("DNS query processing duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query duration histogram: %w", err)
	}

	dropped, err := meter.Int64Counter(
		"storage.lookups.dropped",
		metric.WithDescription("Number of lookup records dropped due to full buffer"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage dropped counter: %w", err)
	}

	return &Metrics{
		LookupsTotal:          lookupsTotal,
		LookupDuration:        lookupDuration,
		LookupsInFlight:       inFlight,
		WorkersOrphaned:       orphaned,
		ResultsLate:           late,
		DNSQueriesTotal:       queriesTotal,
		DNSQueryDuration:      queryDuration,
		StorageLookupsDropped: dropped,
	}, nil
}

// MeterProvider returns the meter provider
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.meterProvider
}

// TracerProvider returns the tracer provider
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	return t.tracerProvider
}

// Tracer returns the tracer used for lookup spans.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracerProvider.Tracer(InstrumentationName)
}

// The methods below let Metrics be handed to gai, dns and storage without
// those packages importing the OpenTelemetry API. All are safe on nil.

// RecordLookup counts a finished lookup and the time its caller waited.
func (m *Metrics) RecordLookup(ctx context.Context, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	if m.LookupsTotal != nil {
		m.LookupsTotal.Add(ctx, 1, attrs)
	}
	if m.LookupDuration != nil {
		m.LookupDuration.Record(ctx, float64(d.Microseconds())/1000, attrs)
	}
}

// AddInFlight adjusts the number of waiting callers.
func (m *Metrics) AddInFlight(ctx context.Context, delta int64) {
	if m != nil && m.LookupsInFlight != nil {
		m.LookupsInFlight.Add(ctx, delta)
	}
}

// AddOrphaned adjusts the number of orphaned workers.
func (m *Metrics) AddOrphaned(ctx context.Context, delta int64) {
	if m != nil && m.WorkersOrphaned != nil {
		m.WorkersOrphaned.Add(ctx, delta)
	}
}

// AddLateResult counts an outcome nobody was waiting for.
func (m *Metrics) AddLateResult(ctx context.Context, outcome string) {
	if m != nil && m.ResultsLate != nil {
		m.ResultsLate.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

// RecordDNSQuery counts a query answered by the stub server.
func (m *Metrics) RecordDNSQuery(ctx context.Context, qtype, rcode string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("qtype", qtype),
		attribute.String("rcode", rcode),
	)
	if m.DNSQueriesTotal != nil {
		m.DNSQueriesTotal.Add(ctx, 1, attrs)
	}
	if m.DNSQueryDuration != nil {
		m.DNSQueryDuration.Record(ctx, float64(d.Microseconds())/1000, attrs)
	}
}

// AddDroppedLookup counts journal records lost to a full buffer.
func (m *Metrics) AddDroppedLookup(ctx context.Context, count int64) {
	if m != nil && m.StorageLookupsDropped != nil {
		m.StorageLookupsDropped.Add(ctx, count)
	}
}

// Shutdown gracefully shuts down telemetry
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error

	if t.prometheusServer != nil {
		if err := t.prometheusServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("prometheus server shutdown: %w", err))
		}
	}

	// Shutdown meter provider if it's the SDK implementation
	if provider, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		if err := provider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("telemetry shutdown errors: %v", errs)
	}

	t.logger.Info("Telemetry shut down")
	return nil
}
