package pageblob

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"pkt.systems/pslog"

	"pkt.systems/pageblob/internal/loggingutil"
	"pkt.systems/pageblob/internal/version"
)

const otlpExportTimeout = 10 * time.Second

// Telemetry holds the providers and the /metrics listener installed by
// StartTelemetry for the lifetime of one process.
type Telemetry struct {
	traces  *sdktrace.TracerProvider
	metrics *sdkmetric.MeterProvider
	server  *http.Server
	ln      net.Listener
	logger  pslog.Logger
}

// Runtime instrumentation is started at most once per process.
var (
	runtimeMetricsOnce sync.Once
	runtimeMetricsErr  error
)

// StartTelemetry installs global tracer and meter providers for
// cfg.OTLPEndpoint, cfg.MetricsListen and cfg.EnableRuntimeMetrics. It
// returns nil when none of them is set.
func StartTelemetry(ctx context.Context, cfg Config, logger pslog.Logger) (*Telemetry, error) {
	endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
	listen := strings.TrimSpace(cfg.MetricsListen)
	switch {
	case endpoint == "" && listen == "" && !cfg.EnableRuntimeMetrics:
		return nil, nil
	case cfg.EnableRuntimeMetrics && listen == "":
		return nil, fmt.Errorf("telemetry: runtime metrics require a metrics listen address")
	}
	logger = loggingutil.EnsureLogger(logger)
	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(
			semconv.ServiceName("pageblob"),
			semconv.ServiceVersion(version.Current()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	t := &Telemetry{logger: logger}
	if endpoint != "" {
		if err := t.startTracing(ctx, endpoint, res); err != nil {
			return nil, err
		}
	}
	if listen != "" {
		if err := t.startMetrics(listen, cfg.EnableRuntimeMetrics, res); err != nil {
			_ = t.Shutdown(ctx)
			return nil, err
		}
	}
	otel.SetTextMapPropagator(propagation.TraceContext{})
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		logger.Warn("telemetry.error", "error", err)
	}))
	return t, nil
}

// MetricsAddr reports the bound Prometheus address, or "" when metrics are off.
func (t *Telemetry) MetricsAddr() string {
	if t == nil || t.ln == nil {
		return ""
	}
	return t.ln.Addr().String()
}

// Shutdown stops the metrics listener and flushes both providers. Spans are
// flushed last so the ones of the finishing command are exported. Safe on a
// nil receiver.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	if t.server != nil {
		if err := t.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}
	if t.metrics != nil {
		if err := t.metrics.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metric shutdown: %w", err))
		}
	}
	if t.traces != nil {
		if err := t.traces.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace shutdown: %w", err))
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		t.logger.Warn("telemetry.shutdown.error", "error", err)
		return err
	}
	t.logger.Debug("telemetry.shutdown.complete")
	return nil
}

func (t *Telemetry) startTracing(ctx context.Context, endpoint string, res *resource.Resource) error {
	target, err := resolveOTLPTarget(endpoint)
	if err != nil {
		return err
	}
	exporter, err := newSpanExporter(ctx, target)
	if err != nil {
		return fmt.Errorf("telemetry: start %s trace exporter: %w", target.protocol, err)
	}
	t.traces = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(t.traces)
	t.logger.Info("telemetry.tracing.enabled", "protocol", target.protocol, "endpoint", target.endpoint, "insecure", target.insecure)
	return nil
}

func newSpanExporter(ctx context.Context, target otlpTarget) (sdktrace.SpanExporter, error) {
	if target.protocol == "http" {
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(target.endpoint),
			otlptracehttp.WithTimeout(otlpExportTimeout),
		}
		if target.insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if target.path != "" {
			opts = append(opts, otlptracehttp.WithURLPath(target.path))
		}
		return otlptracehttp.New(ctx, opts...)
	}
	creds := credentials.NewClientTLSFromCert(nil, "")
	if target.insecure {
		creds = insecure.NewCredentials()
	}
	return otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(target.endpoint),
		otlptracegrpc.WithTimeout(otlpExportTimeout),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(creds)),
	)
}

// startMetrics serves the storage decorator counters (and optionally Go
// runtime metrics) as Prometheus text on listen + "/metrics".
func (t *Telemetry) startMetrics(listen string, runtimeMetrics bool, res *resource.Resource) error {
	registry := prometheus.NewRegistry()
	opts := []otelprometheus.Option{otelprometheus.WithRegisterer(registry)}
	if runtimeMetrics {
		opts = append(opts, otelprometheus.WithProducer(otelruntime.NewProducer()))
	}
	exporter, err := otelprometheus.New(opts...)
	if err != nil {
		return fmt.Errorf("telemetry: start prometheus exporter: %w", err)
	}
	t.metrics = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(t.metrics)
	if runtimeMetrics {
		provider := t.metrics
		runtimeMetricsOnce.Do(func() {
			runtimeMetricsErr = otelruntime.Start(otelruntime.WithMeterProvider(provider))
		})
		if runtimeMetricsErr != nil {
			return fmt.Errorf("telemetry: start runtime metrics: %w", runtimeMetricsErr)
		}
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("telemetry: metrics listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	t.ln = ln
	t.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Warn("telemetry.metrics.serve_error", "error", err)
		}
	}(t.server)
	t.logger.Info("telemetry.metrics.enabled", "listen", ln.Addr().String(), "runtime", runtimeMetrics)
	return nil
}

type otlpTarget struct {
	protocol string // "grpc" or "http"
	endpoint string // host:port
	path     string
	insecure bool
}

var otlpSchemes = map[string]otlpTarget{
	"grpc":  {protocol: "grpc", insecure: true},
	"grpcs": {protocol: "grpc"},
	"http":  {protocol: "http", insecure: true},
	"https": {protocol: "http"},
}

// resolveOTLPTarget accepts host[:port] (plaintext gRPC) or a
// grpc/grpcs/http/https URL. Missing ports default to 4317 for gRPC and
// 4318 for HTTP.
func resolveOTLPTarget(raw string) (otlpTarget, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return otlpTarget{}, fmt.Errorf("telemetry: empty endpoint")
	}
	if !strings.Contains(raw, "://") {
		raw = "grpc://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return otlpTarget{}, fmt.Errorf("telemetry: parse endpoint: %w", err)
	}
	target, ok := otlpSchemes[strings.ToLower(u.Scheme)]
	if !ok {
		return otlpTarget{}, fmt.Errorf("telemetry: unknown scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return otlpTarget{}, fmt.Errorf("telemetry: missing endpoint host")
	}
	target.endpoint = u.Host
	if u.Port() == "" {
		port := "4317"
		if target.protocol == "http" {
			port = "4318"
		}
		target.endpoint = net.JoinHostPort(u.Hostname(), port)
	}
	if target.protocol == "http" {
		target.path = strings.TrimSuffix(u.Path, "/")
	}
	return target, nil
}
