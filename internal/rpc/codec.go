package rpc

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/groundtrack-simulator/groundtrack"
	"github.com/signalsfoundry/groundtrack-simulator/model"
)

// Payload keys shared by requests and responses.
const (
	keyLatitude           = "latitude"
	keyLongitude          = "longitude"
	keyBearing            = "bearing"
	keyAltitude           = "altitude_m"
	keyDistance           = "distance_m"
	keyUpdateSpeed        = "update_speed"
	keyCompensateRotation = "compensate_rotation"
	keyTicks              = "ticks"
	keyTrack              = "track"
	keyID                 = "id"
	keyPlatforms          = "platforms"
	keySimTime            = "sim_time"
	keyNoradID            = "norad_id"
)

// MaxTicks bounds a single Propagate request.
const MaxTicks = 86400

// PropagateRequest is the decoded form of a Propagate payload.
type PropagateRequest struct {
	Input groundtrack.Input
	Ticks int
}

func decodePropagate(s *structpb.Struct) (PropagateRequest, error) {
	var (
		req PropagateRequest
		err error
	)
	if s == nil {
		return req, fmt.Errorf("%w: empty payload", ErrInvalidRequest)
	}
	in := &req.Input
	if in.Position.Latitude, err = number(s, keyLatitude, 0); err != nil {
		return req, err
	}
	if in.Position.Longitude, err = number(s, keyLongitude, 0); err != nil {
		return req, err
	}
	if in.Bearing, err = number(s, keyBearing, 0); err != nil {
		return req, err
	}
	if in.AltitudeM, err = number(s, keyAltitude, 0); err != nil {
		return req, err
	}
	if in.DistanceM, err = number(s, keyDistance, 0); err != nil {
		return req, err
	}
	if in.UpdateSpeed, err = number(s, keyUpdateSpeed, 1); err != nil {
		return req, err
	}
	if in.CompensateRotation, err = boolean(s, keyCompensateRotation); err != nil {
		return req, err
	}
	ticks, err := number(s, keyTicks, 1)
	if err != nil {
		return req, err
	}
	if ticks != math.Trunc(ticks) || ticks < 1 || ticks > MaxTicks {
		return req, fmt.Errorf("%w: ticks must be an integer in [1, %d], got %g", ErrInvalidRequest, MaxTicks, ticks)
	}
	req.Ticks = int(ticks)
	return req, nil
}

func encodePropagate(req PropagateRequest) *structpb.Struct {
	in := req.Input
	fields := map[string]*structpb.Value{
		keyLatitude:           structpb.NewNumberValue(in.Position.Latitude),
		keyLongitude:          structpb.NewNumberValue(in.Position.Longitude),
		keyBearing:            structpb.NewNumberValue(in.Bearing),
		keyAltitude:           structpb.NewNumberValue(in.AltitudeM),
		keyDistance:           structpb.NewNumberValue(in.DistanceM),
		keyUpdateSpeed:        structpb.NewNumberValue(in.UpdateSpeed),
		keyCompensateRotation: structpb.NewBoolValue(in.CompensateRotation),
	}
	if req.Ticks > 1 {
		fields[keyTicks] = structpb.NewNumberValue(float64(req.Ticks))
	}
	return &structpb.Struct{Fields: fields}
}

func resultFields(r groundtrack.Result) map[string]*structpb.Value {
	return map[string]*structpb.Value{
		keyLatitude:  structpb.NewNumberValue(r.Position.Latitude),
		keyLongitude: structpb.NewNumberValue(r.Position.Longitude),
		keyBearing:   structpb.NewNumberValue(r.Bearing),
	}
}

// encodeTrack puts the last result at the top level and, for multi-tick
// requests, every intermediate result under "track".
func encodeTrack(results []groundtrack.Result) *structpb.Struct {
	if len(results) == 0 {
		return &structpb.Struct{Fields: map[string]*structpb.Value{}}
	}
	fields := resultFields(results[len(results)-1])
	if len(results) > 1 {
		values := make([]*structpb.Value, 0, len(results))
		for _, r := range results {
			values = append(values, structpb.NewStructValue(&structpb.Struct{Fields: resultFields(r)}))
		}
		fields[keyTrack] = structpb.NewListValue(&structpb.ListValue{Values: values})
	}
	return &structpb.Struct{Fields: fields}
}

func decodeResult(s *structpb.Struct) (groundtrack.Result, error) {
	var (
		r   groundtrack.Result
		err error
	)
	if r.Position.Latitude, err = number(s, keyLatitude, 0); err != nil {
		return r, err
	}
	if r.Position.Longitude, err = number(s, keyLongitude, 0); err != nil {
		return r, err
	}
	if r.Bearing, err = number(s, keyBearing, 0); err != nil {
		return r, err
	}
	return r, nil
}

func decodeTrack(s *structpb.Struct) ([]groundtrack.Result, error) {
	list, ok := s.GetFields()[keyTrack]
	if !ok {
		r, err := decodeResult(s)
		if err != nil {
			return nil, err
		}
		return []groundtrack.Result{r}, nil
	}
	values := list.GetListValue().GetValues()
	out := make([]groundtrack.Result, 0, len(values))
	for i, v := range values {
		r, err := decodeResult(v.GetStructValue())
		if err != nil {
			return nil, fmt.Errorf("track[%d]: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func encodePlatform(p model.PlatformDefinition) *structpb.Struct {
	t := p.Track
	out := &structpb.Struct{Fields: map[string]*structpb.Value{
		keyID:                 structpb.NewStringValue(p.ID),
		"name":                structpb.NewStringValue(p.Name),
		"type":                structpb.NewStringValue(p.Type),
		"motion_source":       structpb.NewStringValue(p.MotionSource.String()),
		keyLatitude:           structpb.NewNumberValue(t.Position.Latitude),
		keyLongitude:          structpb.NewNumberValue(t.Position.Longitude),
		keyBearing:            structpb.NewNumberValue(t.Bearing),
		keyAltitude:           structpb.NewNumberValue(t.AltitudeM),
		"speed_mps":           structpb.NewNumberValue(t.SpeedMps),
		keyCompensateRotation: structpb.NewBoolValue(t.CompensateRotation),
		"ecef": structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"x": structpb.NewNumberValue(p.Coordinates.X),
			"y": structpb.NewNumberValue(p.Coordinates.Y),
			"z": structpb.NewNumberValue(p.Coordinates.Z),
		}}),
	}}
	if p.NoradID != 0 {
		out.Fields[keyNoradID] = structpb.NewNumberValue(float64(p.NoradID))
	}
	return out
}

func decodePlatform(s *structpb.Struct) (model.PlatformDefinition, error) {
	var (
		p   model.PlatformDefinition
		err error
	)
	f := s.GetFields()
	p.ID = f[keyID].GetStringValue()
	p.Name = f["name"].GetStringValue()
	p.Type = f["type"].GetStringValue()
	p.MotionSource = motionSourceFromString(f["motion_source"].GetStringValue())
	p.NoradID = uint32(f[keyNoradID].GetNumberValue())

	t := &p.Track
	if t.Position.Latitude, err = number(s, keyLatitude, 0); err != nil {
		return p, err
	}
	if t.Position.Longitude, err = number(s, keyLongitude, 0); err != nil {
		return p, err
	}
	if t.Bearing, err = number(s, keyBearing, 0); err != nil {
		return p, err
	}
	if t.AltitudeM, err = number(s, keyAltitude, 0); err != nil {
		return p, err
	}
	if t.SpeedMps, err = number(s, "speed_mps", 0); err != nil {
		return p, err
	}
	if t.CompensateRotation, err = boolean(s, keyCompensateRotation); err != nil {
		return p, err
	}
	if ecef := f["ecef"].GetStructValue(); ecef != nil {
		p.Coordinates = model.Motion{
			X: ecef.GetFields()["x"].GetNumberValue(),
			Y: ecef.GetFields()["y"].GetNumberValue(),
			Z: ecef.GetFields()["z"].GetNumberValue(),
		}
	}
	return p, nil
}

func motionSourceFromString(s string) model.MotionSource {
	switch s {
	case model.MotionSourceSpacetrack.String():
		return model.MotionSourceSpacetrack
	case model.MotionSourceGroundTrack.String():
		return model.MotionSourceGroundTrack
	default:
		return model.MotionSourceUnknown
	}
}

func number(s *structpb.Struct, key string, def float64) (float64, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return def, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%w: field %q must be a number", ErrInvalidRequest, key)
	}
	return n.NumberValue, nil
}

func boolean(s *structpb.Struct, key string) (bool, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return false, nil
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, fmt.Errorf("%w: field %q must be a bool", ErrInvalidRequest, key)
	}
	return b.BoolValue, nil
}
