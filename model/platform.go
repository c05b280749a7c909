package model

import "github.com/signalsfoundry/groundtrack-simulator/groundtrack"

// MotionSource indicates how a platform's motion is determined.
type MotionSource int

const (
	MotionSourceUnknown     MotionSource = iota
	MotionSourceSpacetrack               // TLE-based orbit propagation
	MotionSourceGroundTrack              // tick-by-tick great-circle propagation
)

// String implements fmt.Stringer.
func (s MotionSource) String() string {
	switch s {
	case MotionSourceSpacetrack:
		return "spacetrack"
	case MotionSourceGroundTrack:
		return "groundtrack"
	default:
		return "unknown"
	}
}

// Motion represents a position in ECEF metres.
type Motion struct {
	X float64
	Y float64
	Z float64
}

// GroundTrack is the sub-satellite state advanced on every tick.
type GroundTrack struct {
	Position groundtrack.GeoPosition
	// Bearing in degrees clockwise from true north.
	Bearing            float64
	AltitudeM          float64
	SpeedMps           float64 // orbital speed along the orbit
	CompensateRotation bool
}

// PlatformDefinition represents a physical asset (satellite, ground station, etc.).
type PlatformDefinition struct {
	ID   string
	Name string
	Type string // e.g. "SATELLITE", "GROUND_STATION"

	Coordinates  Motion
	MotionSource MotionSource
	Track        GroundTrack

	NoradID uint32 // catalog number when the platform was configured from a TLE
}
