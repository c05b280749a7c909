package rpc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/groundtrack-simulator/groundtrack"
	"github.com/signalsfoundry/groundtrack-simulator/internal/logging"
	"github.com/signalsfoundry/groundtrack-simulator/internal/observability"
	"github.com/signalsfoundry/groundtrack-simulator/kb"
	"github.com/signalsfoundry/groundtrack-simulator/model"
	"github.com/signalsfoundry/groundtrack-simulator/timectrl"
)

type fixture struct {
	kb        *kb.KnowledgeBase
	client    *Client
	conn      *grpc.ClientConn
	collector *observability.Collector
}

func startServer(t *testing.T) *fixture {
	t.Helper()

	store := kb.NewKnowledgeBase()
	clock := timectrl.NewTimeController(time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC), time.Second, timectrl.Accelerated)
	collector, err := observability.NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	server, _ := NewServer(NewService(store, clock, nil), WithCollector(collector))
	lis := bufconn.Listen(1 << 20)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	client, err := Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return &fixture{kb: store, client: client, conn: client.conn, collector: collector}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestPropagateMatchesLocalStep(t *testing.T) {
	f := startServer(t)
	in := groundtrack.Input{
		Position:           groundtrack.GeoPosition{Latitude: 51.5, Longitude: -0.12},
		Bearing:            45,
		AltitudeM:          550000,
		DistanceM:          7600,
		UpdateSpeed:        1,
		CompensateRotation: true,
	}
	want, err := groundtrack.Propagate(in)
	if err != nil {
		t.Fatalf("local Propagate: %v", err)
	}

	got, err := f.client.Propagate(context.Background(), in)
	if err != nil {
		t.Fatalf("Propagate RPC: %v", err)
	}
	if !near(got.Position.Latitude, want.Position.Latitude) ||
		!near(got.Position.Longitude, want.Position.Longitude) ||
		!near(got.Bearing, want.Bearing) {
		t.Fatalf("Propagate = %+v, want %+v", got, want)
	}

	if n := testutil.ToFloat64(f.collector.RPCRequests.WithLabelValues("GroundTrackService", "Propagate", "OK")); n != 1 {
		t.Fatalf("rpc counter = %v, want 1", n)
	}
}

func TestPropagateTrackReturnsEveryTick(t *testing.T) {
	f := startServer(t)
	in := groundtrack.Input{
		Position:    groundtrack.GeoPosition{Latitude: 0, Longitude: 0},
		Bearing:     90,
		AltitudeM:   500000,
		DistanceM:   7600,
		UpdateSpeed: 1,
	}
	want, err := groundtrack.Propagator{AltitudeM: 500000, DistanceM: 7600, UpdateSpeed: 1}.Track(in.Position, in.Bearing, 5)
	if err != nil {
		t.Fatalf("local Track: %v", err)
	}

	got, err := f.client.PropagateTrack(context.Background(), in, 5)
	if err != nil {
		t.Fatalf("PropagateTrack: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("len(track) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !near(got[i].Position.Longitude, want[i].Position.Longitude) {
			t.Fatalf("tick %d longitude = %v, want %v", i, got[i].Position.Longitude, want[i].Position.Longitude)
		}
	}
}

func TestPropagateRejectsInvalidInput(t *testing.T) {
	f := startServer(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   groundtrack.Input
	}{
		{"altitude below centre", groundtrack.Input{AltitudeM: -groundtrack.EarthRadiusM, UpdateSpeed: 1}},
		{"zero update speed", groundtrack.Input{AltitudeM: 500000, UpdateSpeed: 0}},
		{"latitude out of range", groundtrack.Input{Position: groundtrack.GeoPosition{Latitude: 91}, UpdateSpeed: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.client.Propagate(ctx, tc.in)
			if status.Code(err) != codes.InvalidArgument {
				t.Fatalf("Propagate error code = %v, want InvalidArgument (err=%v)", status.Code(err), err)
			}
		})
	}
}

func TestPropagateRejectsMalformedPayload(t *testing.T) {
	f := startServer(t)
	ctx := context.Background()

	for name, fields := range map[string]map[string]*structpb.Value{
		"string latitude": {keyLatitude: structpb.NewStringValue("north")},
		"number flag":     {keyCompensateRotation: structpb.NewNumberValue(1)},
		"fractional tick": {keyTicks: structpb.NewNumberValue(1.5)},
		"too many ticks":  {keyTicks: structpb.NewNumberValue(MaxTicks + 1)},
	} {
		out := new(structpb.Struct)
		err := f.conn.Invoke(ctx, methodPropagate, &structpb.Struct{Fields: fields}, out)
		if status.Code(err) != codes.InvalidArgument {
			t.Errorf("%s: code = %v, want InvalidArgument", name, status.Code(err))
		}
	}
}

func TestPlatformQueries(t *testing.T) {
	f := startServer(t)
	ctx := context.Background()

	for _, id := range []string{"leo-2", "leo-1"} {
		err := f.kb.AddPlatform(&model.PlatformDefinition{
			ID:           id,
			Name:         id,
			Type:         "SATELLITE",
			MotionSource: model.MotionSourceGroundTrack,
			Track: model.GroundTrack{
				Position:  groundtrack.GeoPosition{Latitude: 10, Longitude: 20},
				Bearing:   30,
				AltitudeM: 550000,
				SpeedMps:  7600,
			},
			Coordinates: model.Motion{X: 1, Y: 2, Z: 3},
		})
		if err != nil {
			t.Fatalf("AddPlatform %s: %v", id, err)
		}
	}

	p, err := f.client.GetPlatform(ctx, "leo-1")
	if err != nil {
		t.Fatalf("GetPlatform: %v", err)
	}
	if p.ID != "leo-1" || p.MotionSource != model.MotionSourceGroundTrack || p.Track.Bearing != 30 || p.Coordinates.Z != 3 {
		t.Fatalf("unexpected platform: %+v", p)
	}

	all, err := f.client.ListPlatforms(ctx)
	if err != nil {
		t.Fatalf("ListPlatforms: %v", err)
	}
	if len(all) != 2 || all[0].ID != "leo-1" || all[1].ID != "leo-2" {
		t.Fatalf("ListPlatforms = %+v, want leo-1, leo-2", all)
	}

	if _, err := f.client.GetPlatform(ctx, "missing"); status.Code(err) != codes.NotFound {
		t.Fatalf("GetPlatform(missing) code = %v, want NotFound", status.Code(err))
	}
	if _, err := f.client.GetPlatform(ctx, ""); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("GetPlatform(\"\") code = %v, want InvalidArgument", status.Code(err))
	}
}

func TestRemovePlatform(t *testing.T) {
	f := startServer(t)
	ctx := context.Background()

	err := f.kb.AddPlatform(&model.PlatformDefinition{
		ID:           "iss",
		Type:         "SATELLITE",
		MotionSource: model.MotionSourceSpacetrack,
		NoradID:      25544,
	})
	if err != nil {
		t.Fatalf("AddPlatform: %v", err)
	}
	var removed []string
	unsubscribe := f.kb.Subscribe(func(ev kb.Event) {
		if ev.Type == kb.EventPlatformRemoved {
			removed = append(removed, ev.Platform.ID)
		}
	})
	defer unsubscribe()

	p, err := f.client.GetPlatform(ctx, "iss")
	if err != nil {
		t.Fatalf("GetPlatform: %v", err)
	}
	if p.NoradID != 25544 {
		t.Fatalf("NoradID = %d, want 25544", p.NoradID)
	}

	if err := f.client.RemovePlatform(ctx, "iss"); err != nil {
		t.Fatalf("RemovePlatform: %v", err)
	}
	if len(removed) != 1 || removed[0] != "iss" {
		t.Fatalf("removal events = %v, want [iss]", removed)
	}
	if _, err := f.client.GetPlatform(ctx, "iss"); status.Code(err) != codes.NotFound {
		t.Fatalf("GetPlatform after removal code = %v, want NotFound", status.Code(err))
	}
	if err := f.client.RemovePlatform(ctx, "iss"); status.Code(err) != codes.NotFound {
		t.Fatalf("second RemovePlatform code = %v, want NotFound", status.Code(err))
	}
	if err := f.client.RemovePlatform(ctx, ""); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("RemovePlatform(\"\") code = %v, want InvalidArgument", status.Code(err))
	}
}

func TestListPlatformsStampsSimTime(t *testing.T) {
	f := startServer(t)
	out := new(structpb.Struct)
	if err := f.conn.Invoke(context.Background(), methodListPlatforms, &structpb.Struct{}, out); err != nil {
		t.Fatalf("ListPlatforms: %v", err)
	}
	if got := out.GetFields()[keySimTime].GetStringValue(); got != "2025-03-01T12:00:00Z" {
		t.Fatalf("sim_time = %q, want 2025-03-01T12:00:00Z", got)
	}
}

func TestHealthServing(t *testing.T) {
	f := startServer(t)
	resp, err := healthpb.NewHealthClient(f.conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("health Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("health status = %v, want SERVING", resp.GetStatus())
	}
}

func TestToStatusError(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{fmt.Errorf("x: %w", kb.ErrPlatformNotFound), codes.NotFound},
		{kb.ErrPlatformExists, codes.AlreadyExists},
		{groundtrack.ErrInvalidInterval, codes.InvalidArgument},
		{ErrInvalidRequest, codes.InvalidArgument},
		{groundtrack.ErrNumericDomain, codes.InvalidArgument},
		{status.Error(codes.Canceled, "gone"), codes.Canceled},
		{errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		if got := status.Code(ToStatusError(tc.err)); got != tc.want {
			t.Errorf("ToStatusError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
	if ToStatusError(nil) != nil {
		t.Errorf("ToStatusError(nil) should be nil")
	}
}

func TestRequestIDInterceptorUsesMetadata(t *testing.T) {
	interceptor := RequestIDUnaryServerInterceptor(nil)
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(requestIDMetadataKey, "req-42"))
	info := &grpc.UnaryServerInfo{FullMethod: methodPropagate}

	var gotID string
	var gotLogger logging.Logger
	_, err := interceptor(ctx, nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		gotID = logging.RequestIDFromContext(ctx)
		gotLogger = logging.LoggerFromContext(ctx)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if gotID != "req-42" {
		t.Fatalf("request id = %q, want req-42", gotID)
	}
	if gotLogger == nil {
		t.Fatalf("expected request logger on context")
	}
}

func TestTracingInterceptorCreatesServerSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	interceptor := TracingUnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: methodGetPlatform}
	_, _ = interceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "missing")
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "RPC/GroundTrackService/GetPlatform" {
		t.Fatalf("span name = %q", spans[0].Name)
	}
	if len(spans[0].Events) == 0 {
		t.Fatalf("expected error event on span")
	}
}
