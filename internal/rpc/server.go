package rpc

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/groundtrack-simulator/internal/logging"
	"github.com/signalsfoundry/groundtrack-simulator/internal/observability"
)

type serverConfig struct {
	log       logging.Logger
	collector *observability.Collector
	extra     []grpc.ServerOption
}

// ServerOption customises NewServer.
type ServerOption func(*serverConfig)

// WithLogger sets the base logger for per-request loggers.
func WithLogger(l logging.Logger) ServerOption {
	return func(c *serverConfig) { c.log = l }
}

// WithCollector records RPC metrics on collector.
func WithCollector(collector *observability.Collector) ServerOption {
	return func(c *serverConfig) { c.collector = collector }
}

// WithServerOptions appends raw gRPC server options.
func WithServerOptions(opts ...grpc.ServerOption) ServerOption {
	return func(c *serverConfig) { c.extra = append(c.extra, opts...) }
}

// NewServer builds a gRPC server exposing svc and the standard health service.
// The returned health server reports SERVING for ServiceName; flip it to
// NOT_SERVING before a graceful stop.
func NewServer(svc GroundTrackServer, opts ...ServerOption) (*grpc.Server, *health.Server) {
	cfg := serverConfig{log: logging.Noop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	interceptors := []grpc.UnaryServerInterceptor{
		RequestIDUnaryServerInterceptor(cfg.log),
		TracingUnaryServerInterceptor(),
	}
	if cfg.collector != nil {
		interceptors = append(interceptors, cfg.collector.UnaryServerInterceptor())
	}

	serverOpts := append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors...),
	}, cfg.extra...)

	server := grpc.NewServer(serverOpts...)
	RegisterGroundTrackServer(server, svc)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, hs)

	return server, hs
}
