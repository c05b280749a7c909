package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/groundtrack-simulator/internal/logging"
)

// Resource attribute keys identifying one simulator run.
const (
	RunIDKey    = attribute.Key("groundtrack.run_id")
	ScenarioKey = attribute.Key("groundtrack.scenario")
)

const (
	defaultServiceName  = "groundtrack-simulator"
	defaultOTLPEndpoint = "localhost:4317"
)

// TracingConfig governs how simulator tracing is initialised.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string // stdout | otlp
	Endpoint    string // used when Exporter == otlp
	SampleRatio float64
	// Scenario is stamped on the resource of every exported span.
	Scenario string
	// Output receives stdout exporter spans; nil writes to os.Stdout.
	Output io.Writer
}

// TracingConfigFromSettings builds a TracingConfig from loaded scenario
// settings. An out-of-range ratio samples every trace.
func TracingConfigFromSettings(enabled bool, exporter, endpoint, service, scenario string, ratio float64) TracingConfig {
	if exporter == "" {
		exporter = "stdout"
	}
	if service == "" {
		service = defaultServiceName
	}
	if ratio < 0 || ratio > 1 {
		ratio = 1
	}
	return TracingConfig{
		Enabled:     enabled,
		ServiceName: service,
		Exporter:    strings.ToLower(exporter),
		Endpoint:    endpoint,
		SampleRatio: ratio,
		Scenario:    scenario,
	}
}

// InitTracing installs the global tracer provider for one simulator run. Spans
// carry the run id found on ctx and the configured scenario name. The returned
// function flushes pending spans.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Debug(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", cfg.ServiceName),
		logging.String("scenario", cfg.Scenario),
		logging.Float64("sample_ratio", cfg.SampleRatio),
	)
	return tp.Shutdown, nil
}

// newResource describes the simulator process: service identity plus the run
// and scenario it is executing.
func newResource(ctx context.Context, cfg TracingConfig) (*resource.Resource, error) {
	service := cfg.ServiceName
	if service == "" {
		service = defaultServiceName
	}
	attrs := []attribute.KeyValue{
		attribute.String("service.name", service),
		attribute.String("service.namespace", "groundtrack"),
	}
	if runID := logging.RunIDFromContext(ctx); runID != "" {
		attrs = append(attrs, RunIDKey.String(runID))
	}
	if cfg.Scenario != "" {
		attrs = append(attrs, ScenarioKey.String(cfg.Scenario))
	}
	return resource.New(ctx, resource.WithAttributes(attrs...))
}

func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "stdout", "":
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		return stdouttrace.New(
			stdouttrace.WithWriter(out),
			stdouttrace.WithoutTimestamps(),
		)
	case "otlp":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLPEndpoint
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	default:
		return nil, fmt.Errorf("unsupported tracing exporter: %s", cfg.Exporter)
	}
}

// ShutdownWithTimeout flushes tracing within a bounded time, logging rather
// than returning a failed flush.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}
