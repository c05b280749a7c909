package rpc

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/groundtrack-simulator/groundtrack"
	"github.com/signalsfoundry/groundtrack-simulator/internal/logging"
	"github.com/signalsfoundry/groundtrack-simulator/model"
	"github.com/signalsfoundry/groundtrack-simulator/timectrl"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "groundtrack.v1.GroundTrackService"

const (
	methodPropagate      = "/" + ServiceName + "/Propagate"
	methodGetPlatform    = "/" + ServiceName + "/GetPlatform"
	methodListPlatforms  = "/" + ServiceName + "/ListPlatforms"
	methodRemovePlatform = "/" + ServiceName + "/RemovePlatform"
)

// GroundTrackServer is the server API for the ground-track service.
type GroundTrackServer interface {
	Propagate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPlatform(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPlatforms(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemovePlatform(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// PlatformStore is the slice of the knowledge base the service needs.
type PlatformStore interface {
	GetPlatform(id string) (model.PlatformDefinition, error)
	ListPlatforms() []model.PlatformDefinition
	RemovePlatform(id string) error
}

// Service implements GroundTrackServer. Propagate is stateless; the platform
// queries read the simulator's live state.
type Service struct {
	store PlatformStore
	clock timectrl.SimClock
	log   logging.Logger
}

// NewService wires a Service to a platform store. clock may be nil.
func NewService(store PlatformStore, clock timectrl.SimClock, log logging.Logger) *Service {
	if log == nil {
		log = logging.Noop()
	}
	return &Service{store: store, clock: clock, log: log}
}

// Propagate runs one or more ground-track ticks from the request payload.
func (s *Service) Propagate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodePropagate(in)
	if err != nil {
		return nil, ToStatusError(err)
	}

	ctx, span := StartChildSpan(ctx, "groundtrack.Track", "",
		attribute.Int("ticks", req.Ticks),
		attribute.Bool("compensate_rotation", req.Input.CompensateRotation),
	)
	defer span.End()

	prop := groundtrack.Propagator{
		AltitudeM:          req.Input.AltitudeM,
		DistanceM:          req.Input.DistanceM,
		UpdateSpeed:        req.Input.UpdateSpeed,
		CompensateRotation: req.Input.CompensateRotation,
	}
	track, err := prop.Track(req.Input.Position, req.Input.Bearing, req.Ticks)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger(ctx).Warn(ctx, "propagation rejected", logging.Err(err))
		return nil, ToStatusError(err)
	}

	last := track[len(track)-1]
	s.logger(ctx).Debug(ctx, "propagated ground track",
		logging.Int("ticks", req.Ticks),
		logging.Float64("latitude", last.Position.Latitude),
		logging.Float64("longitude", last.Position.Longitude),
		logging.Float64("bearing", last.Bearing),
	)
	return encodeTrack(track), nil
}

// GetPlatform returns one platform by "id".
func (s *Service) GetPlatform(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	id, err := platformID(in)
	if err != nil {
		return nil, err
	}

	_, span := StartChildSpan(ctx, "kb.GetPlatform", id)
	defer span.End()

	p, err := s.store.GetPlatform(id)
	if err != nil {
		span.RecordError(err)
		return nil, ToStatusError(err)
	}
	out := encodePlatform(p)
	s.stamp(out)
	return out, nil
}

// ListPlatforms returns every platform sorted by ID.
func (s *Service) ListPlatforms(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	platforms := s.store.ListPlatforms()
	values := make([]*structpb.Value, 0, len(platforms))
	for _, p := range platforms {
		values = append(values, structpb.NewStructValue(encodePlatform(p)))
	}
	out := &structpb.Struct{Fields: map[string]*structpb.Value{
		keyPlatforms: structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}
	s.stamp(out)
	s.logger(ctx).Debug(ctx, "listed platforms", logging.Int("count", len(platforms)))
	return out, nil
}

// RemovePlatform drops the platform named by "id" from the running
// simulation.
func (s *Service) RemovePlatform(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	id, err := platformID(in)
	if err != nil {
		return nil, err
	}

	_, span := StartChildSpan(ctx, "kb.RemovePlatform", id)
	defer span.End()

	if err := s.store.RemovePlatform(id); err != nil {
		span.RecordError(err)
		return nil, ToStatusError(err)
	}
	s.logger(ctx).Info(ctx, "platform removed", logging.String("platform", id))

	out := &structpb.Struct{Fields: map[string]*structpb.Value{keyID: structpb.NewStringValue(id)}}
	s.stamp(out)
	return out, nil
}

func platformID(in *structpb.Struct) (string, error) {
	id := in.GetFields()[keyID].GetStringValue()
	if id == "" {
		return "", ToStatusError(fmt.Errorf("%w: platform id is required", ErrInvalidRequest))
	}
	return id, nil
}

func (s *Service) ensureReady() error {
	if s == nil || s.store == nil {
		return status.Error(grpccodes.Unavailable, "platform store is not configured")
	}
	return nil
}

func (s *Service) stamp(out *structpb.Struct) {
	if s.clock == nil {
		return
	}
	out.Fields[keySimTime] = structpb.NewStringValue(s.clock.Now().UTC().Format(time.RFC3339Nano))
}

func (s *Service) logger(ctx context.Context) logging.Logger {
	if l := logging.LoggerFromContext(ctx); l != nil {
		return l
	}
	return s.log
}

// RegisterGroundTrackServer registers srv on a gRPC service registrar.
func RegisterGroundTrackServer(r grpc.ServiceRegistrar, srv GroundTrackServer) {
	r.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GroundTrackServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Propagate", Handler: unaryHandler(methodPropagate, GroundTrackServer.Propagate)},
		{MethodName: "GetPlatform", Handler: unaryHandler(methodGetPlatform, GroundTrackServer.GetPlatform)},
		{MethodName: "ListPlatforms", Handler: unaryHandler(methodListPlatforms, GroundTrackServer.ListPlatforms)},
		{MethodName: "RemovePlatform", Handler: unaryHandler(methodRemovePlatform, GroundTrackServer.RemovePlatform)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "groundtrack/v1/groundtrack.proto",
}

type unaryMethod func(GroundTrackServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(GroundTrackServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(GroundTrackServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
