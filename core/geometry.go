package core

import (
	"math"

	"github.com/signalsfoundry/groundtrack-simulator/groundtrack"
	"github.com/signalsfoundry/groundtrack-simulator/model"
)

// Vec3 is an ECEF-style vector in metres on the reference sphere.
type Vec3 struct {
	X, Y, Z float64
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	return v.Sub(other).Norm()
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// Motion converts v into the model representation.
func (v Vec3) Motion() model.Motion {
	return model.Motion{X: v.X, Y: v.Y, Z: v.Z}
}

// GeodeticToECEF places a point at altitude above the reference sphere.
// The sphere is the same one the ground track is propagated on, so no datum
// conversion takes place.
func GeodeticToECEF(pos groundtrack.GeoPosition, altitude float64) Vec3 {
	phi := pos.Latitude * math.Pi / 180
	lambda := pos.Longitude * math.Pi / 180
	r := groundtrack.EarthRadiusM + altitude
	return Vec3{
		X: r * math.Cos(phi) * math.Cos(lambda),
		Y: r * math.Cos(phi) * math.Sin(lambda),
		Z: r * math.Sin(phi),
	}
}

// HasLineOfSight checks whether the straight segment between p1 and p2
// clears the Earth sphere.
func HasLineOfSight(p1, p2 Vec3) bool {
	const r2 = groundtrack.EarthRadiusM * groundtrack.EarthRadiusM

	v := p2.Sub(p1)
	a := v.Dot(v)
	if a == 0 {
		// Same point: visible only if it is outside the Earth.
		return p1.Dot(p1) > r2
	}

	// Closest point on the segment to the Earth's centre.
	t := -p1.Dot(v) / a
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}

	closest := Vec3{
		X: p1.X + v.X*t,
		Y: p1.Y + v.Y*t,
		Z: p1.Z + v.Z*t,
	}

	// A segment that merely touches the surface is blocked. Observers sit on
	// the surface, so shrink the sphere a hair to keep their own position clear.
	return closest.Dot(closest) >= r2*(1-1e-9)
}

// ElevationDegrees returns the elevation angle of the target as seen from
// the observer, in degrees. 0° = geometric horizon, 90° = overhead.
func ElevationDegrees(observer, target Vec3) float64 {
	v := target.Sub(observer)
	vNorm := v.Norm()
	if vNorm == 0 {
		return 90
	}

	r := observer.Norm()
	if r == 0 {
		return 90
	}
	zenith := Vec3{X: observer.X / r, Y: observer.Y / r, Z: observer.Z / r}

	cosGamma := v.Dot(zenith) / vNorm
	if cosGamma > 1 {
		cosGamma = 1
	} else if cosGamma < -1 {
		cosGamma = -1
	}
	return 90.0 - math.Acos(cosGamma)*180.0/math.Pi
}

// Visibility describes how a ground station sees a platform.
type Visibility struct {
	StationID    string
	PlatformID   string
	ElevationDeg float64
	RangeM       float64
	Visible      bool
}

// Observe computes the visibility of p from gs.
func Observe(gs model.GroundStation, p model.PlatformDefinition) Visibility {
	observer := GeodeticToECEF(gs.Position, gs.AltitudeM)
	target := Vec3{X: p.Coordinates.X, Y: p.Coordinates.Y, Z: p.Coordinates.Z}
	elev := ElevationDegrees(observer, target)
	return Visibility{
		StationID:    gs.ID,
		PlatformID:   p.ID,
		ElevationDeg: elev,
		RangeM:       observer.DistanceTo(target),
		Visible:      elev >= gs.MinElevationDeg && HasLineOfSight(observer, target),
	}
}
