package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/groundtrack-simulator/groundtrack"
	"github.com/signalsfoundry/groundtrack-simulator/model"
)

// Collector bundles the simulator's Prometheus metrics: ground-track
// propagation outcomes, per-platform state, station visibility and the gRPC
// surface.
type Collector struct {
	gatherer prometheus.Gatherer

	Propagations        *prometheus.CounterVec
	PropagationDuration prometheus.Histogram

	PlatformLatitude  *prometheus.GaugeVec
	PlatformLongitude *prometheus.GaugeVec
	PlatformBearing   *prometheus.GaugeVec
	StationElevation  *prometheus.GaugeVec

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec
}

// NewCollector registers the metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	if c.Propagations, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "groundtrack_propagations_total",
		Help: "Ground-track propagation steps, labeled by result.",
	}, []string{"result"}), "groundtrack_propagations_total"); err != nil {
		return nil, err
	}
	if c.PropagationDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "groundtrack_propagation_duration_seconds",
		Help:    "Time spent advancing a single platform by one tick.",
		Buckets: []float64{1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 5e-4, 1e-3, 5e-3, 1e-2},
	}), "groundtrack_propagation_duration_seconds"); err != nil {
		return nil, err
	}
	if c.PlatformLatitude, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "groundtrack_platform_latitude_degrees",
		Help: "Latest sub-satellite latitude.",
	}, []string{"platform"}), "groundtrack_platform_latitude_degrees"); err != nil {
		return nil, err
	}
	if c.PlatformLongitude, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "groundtrack_platform_longitude_degrees",
		Help: "Latest sub-satellite longitude.",
	}, []string{"platform"}), "groundtrack_platform_longitude_degrees"); err != nil {
		return nil, err
	}
	if c.PlatformBearing, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "groundtrack_platform_bearing_degrees",
		Help: "Latest ground-track heading, clockwise from true north.",
	}, []string{"platform"}), "groundtrack_platform_bearing_degrees"); err != nil {
		return nil, err
	}
	if c.StationElevation, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "groundtrack_station_elevation_degrees",
		Help: "Elevation of a platform as seen from a ground station.",
	}, []string{"station", "platform"}), "groundtrack_station_elevation_degrees"); err != nil {
		return nil, err
	}
	if c.RPCRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "groundtrack_rpc_requests_total",
		Help: "Total number of handled RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "groundtrack_rpc_requests_total"); err != nil {
		return nil, err
	}
	if c.RPCDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "groundtrack_rpc_duration_seconds",
		Help:    "RPC latency in seconds.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"service", "method"}), "groundtrack_rpc_duration_seconds"); err != nil {
		return nil, err
	}

	return c, nil
}

// ObservePropagation records one platform update.
func (c *Collector) ObservePropagation(_ string, elapsed time.Duration, err error) {
	if c == nil {
		return
	}
	c.Propagations.WithLabelValues(Result(err)).Inc()
	c.PropagationDuration.Observe(elapsed.Seconds())
}

// SetPlatformTrack publishes the latest ground-track state of a platform.
func (c *Collector) SetPlatformTrack(platformID string, track model.GroundTrack) {
	if c == nil {
		return
	}
	c.PlatformLatitude.WithLabelValues(platformID).Set(track.Position.Latitude)
	c.PlatformLongitude.WithLabelValues(platformID).Set(track.Position.Longitude)
	c.PlatformBearing.WithLabelValues(platformID).Set(track.Bearing)
}

// SetStationElevation publishes the elevation of platformID over stationID.
func (c *Collector) SetStationElevation(stationID, platformID string, elevationDeg float64) {
	if c == nil {
		return
	}
	c.StationElevation.WithLabelValues(stationID, platformID).Set(elevationDeg)
}

// DeletePlatform drops every series labeled with platformID.
func (c *Collector) DeletePlatform(platformID string) {
	if c == nil {
		return
	}
	c.PlatformLatitude.DeleteLabelValues(platformID)
	c.PlatformLongitude.DeleteLabelValues(platformID)
	c.PlatformBearing.DeleteLabelValues(platformID)
	c.StationElevation.DeletePartialMatch(prometheus.Labels{"platform": platformID})
}

// Result maps a propagation error onto a low-cardinality label value.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, groundtrack.ErrInvalidAltitude):
		return "invalid_altitude"
	case errors.Is(err, groundtrack.ErrInvalidInterval):
		return "invalid_interval"
	case errors.Is(err, groundtrack.ErrInvalidPosition):
		return "invalid_position"
	case errors.Is(err, groundtrack.ErrNumericDomain):
		return "numeric_domain"
	default:
		return "error"
	}
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *Collector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		c.RPCRequests.WithLabelValues(service, method, code).Inc()
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())

		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

// register adds collector to reg, reusing an identical collector that is
// already registered under the same name.
func register[T prometheus.Collector](reg prometheus.Registerer, collector T, name string) (T, error) {
	if err := reg.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return collector, nil
}
