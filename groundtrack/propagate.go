// Package groundtrack propagates a satellite ground track across one tick on
// a spherical Earth.
//
// A tick is composed of two displacements that share the same direct and
// inverse great-circle helpers: an optional compensation for Earth's
// rotation, followed by the orbital displacement scaled down to the surface.
package groundtrack

import (
	"fmt"
	"math"
	"time"
)

const (
	// EarthSurfaceSpeedMps is the equatorial surface speed due to rotation.
	EarthSurfaceSpeedMps = 460.0
	// AxialTiltDeg is the tilt of the rotation circle used for compensation.
	AxialTiltDeg = 23.5
)

// Input describes a single propagation tick.
type Input struct {
	Position GeoPosition
	// Bearing is the heading in degrees clockwise from true north.
	Bearing float64
	// AltitudeM is the orbit height above the reference sphere.
	AltitudeM float64
	// DistanceM is the distance travelled along the orbit during the tick.
	DistanceM float64
	// UpdateSpeed scales the tick in seconds: 0.5 for two updates per
	// second, 2 for one update every two seconds.
	UpdateSpeed        float64
	CompensateRotation bool
}

// Result is the ground-track point and heading after a tick.
type Result struct {
	Position GeoPosition `json:"position"`
	Bearing  float64     `json:"bearing"`
}

// Propagate advances in by one tick.
func Propagate(in Input) (Result, error) {
	if err := in.validate(); err != nil {
		return Result{}, err
	}

	delta1 := surfaceDistance(in.DistanceM, in.AltitudeM) / EarthRadiusM
	if !in.CompensateRotation && delta1 == 0 {
		return Result{Position: in.Position, Bearing: WrapBearing(in.Bearing)}, nil
	}

	start := toPoint(in.Position)
	theta := deg2rad(in.Bearing)

	if in.CompensateRotation {
		delta0 := RotationDistance(in.UpdateSpeed) / EarthRadiusM
		next, err := destination(start, delta0, theta)
		if err != nil {
			return Result{}, fmt.Errorf("rotation compensation: %w", err)
		}
		theta = reverseBearing(start, next) + math.Pi
		start = next
	}

	if delta1 == 0 {
		return finish(start, WrapBearing(rad2deg(theta)))
	}

	end, err := destination(start, delta1, theta)
	if err != nil {
		return Result{}, fmt.Errorf("orbital displacement: %w", err)
	}
	return finish(end, NormalizeBearing(rad2deg(reverseBearing(start, end))))
}

func finish(p point, bearing float64) (Result, error) {
	res := Result{
		Position: GeoPosition{
			Latitude:  NormalizeLatitude(rad2deg(p.phi)),
			Longitude: NormalizeLongitude(rad2deg(p.lambda)),
		},
		Bearing: bearing,
	}
	if !finite(res.Position.Latitude, res.Position.Longitude, res.Bearing) {
		return Result{}, ErrNumericDomain
	}
	return res, nil
}

func (in Input) validate() error {
	if !finite(in.Position.Latitude, in.Position.Longitude, in.Bearing, in.AltitudeM, in.DistanceM, in.UpdateSpeed) {
		return fmt.Errorf("%w: non-finite input", ErrNumericDomain)
	}
	if in.AltitudeM <= -EarthRadiusM {
		return fmt.Errorf("%w: %.1f m", ErrInvalidAltitude, in.AltitudeM)
	}
	if in.UpdateSpeed <= 0 {
		return fmt.Errorf("%w: %g", ErrInvalidInterval, in.UpdateSpeed)
	}
	if math.Abs(in.Position.Latitude) > 90 || math.Abs(in.Position.Longitude) > 180 {
		return fmt.Errorf("%w: (%g, %g)", ErrInvalidPosition, in.Position.Latitude, in.Position.Longitude)
	}
	return nil
}

// surfaceDistance scales an orbital arc length down to the reference sphere.
func surfaceDistance(distanceOrbit, altitude float64) float64 {
	circumferenceEarth := 2 * EarthRadiusM * math.Pi
	circumferenceOrbit := 2 * (EarthRadiusM + altitude) * math.Pi
	return distanceOrbit / circumferenceOrbit * circumferenceEarth
}

// RotationDistance is the surface distance Earth's rotation contributes over
// updateSpeed seconds.
func RotationDistance(updateSpeed float64) float64 {
	return (updateSpeed * EarthSurfaceSpeedMps) / math.Cos(deg2rad(AxialTiltDeg))
}

// DistancePerTick converts an orbital speed into the distance covered in one
// tick of the given length.
func DistancePerTick(speedMps float64, tick time.Duration) float64 {
	return speedMps * tick.Seconds()
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Propagator chains ticks for callers that want a trajectory. It holds only
// the per-tick parameters; every call is independent.
type Propagator struct {
	AltitudeM          float64
	DistanceM          float64
	UpdateSpeed        float64
	CompensateRotation bool
}

// Step propagates one tick from pos heading along bearing.
func (p Propagator) Step(pos GeoPosition, bearing float64) (Result, error) {
	return Propagate(Input{
		Position:           pos,
		Bearing:            bearing,
		AltitudeM:          p.AltitudeM,
		DistanceM:          p.DistanceM,
		UpdateSpeed:        p.UpdateSpeed,
		CompensateRotation: p.CompensateRotation,
	})
}

// Track returns the results of ticks consecutive steps, each fed from the
// previous result. On error the steps computed so far are returned.
func (p Propagator) Track(pos GeoPosition, bearing float64, ticks int) ([]Result, error) {
	out := make([]Result, 0, max(ticks, 0))
	for i := 0; i < ticks; i++ {
		res, err := p.Step(pos, bearing)
		if err != nil {
			return out, fmt.Errorf("tick %d: %w", i, err)
		}
		out = append(out, res)
		pos, bearing = res.Position, res.Bearing
	}
	return out, nil
}
