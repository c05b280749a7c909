package core

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/groundtrack-simulator/groundtrack"
	"github.com/signalsfoundry/groundtrack-simulator/model"
)

// MotionModel updates a platform's position for a given simulation time.
type MotionModel interface {
	UpdatePosition(simTime time.Time, p *model.PlatformDefinition) error
}

// StaticMotionModel leaves the platform's position unchanged.
type StaticMotionModel struct{}

// UpdatePosition for static motion does nothing.
func (m *StaticMotionModel) UpdatePosition(simTime time.Time, p *model.PlatformDefinition) error {
	return nil
}

// GroundTrackMotionModel advances p.Track along its great circle by the
// simulation time elapsed since the previous update.
type GroundTrackMotionModel struct {
	last time.Time
}

// NewGroundTrackMotionModel returns a model that starts moving on its second
// update; the first one only anchors the clock and the ECEF coordinates.
func NewGroundTrackMotionModel() *GroundTrackMotionModel {
	return &GroundTrackMotionModel{}
}

// UpdatePosition propagates the ground track and refreshes p.Coordinates.
func (m *GroundTrackMotionModel) UpdatePosition(simTime time.Time, p *model.PlatformDefinition) error {
	if m.last.IsZero() || !simTime.After(m.last) {
		if m.last.IsZero() {
			m.last = simTime
		}
		p.Coordinates = GeodeticToECEF(p.Track.Position, p.Track.AltitudeM).Motion()
		return nil
	}

	dt := simTime.Sub(m.last)
	res, err := groundtrack.Propagate(groundtrack.Input{
		Position:           p.Track.Position,
		Bearing:            p.Track.Bearing,
		AltitudeM:          p.Track.AltitudeM,
		DistanceM:          groundtrack.DistancePerTick(p.Track.SpeedMps, dt),
		UpdateSpeed:        dt.Seconds(),
		CompensateRotation: p.Track.CompensateRotation,
	})
	if err != nil {
		return fmt.Errorf("propagate %s: %w", p.ID, err)
	}

	m.last = simTime
	p.Track.Position = res.Position
	p.Track.Bearing = res.Bearing
	p.Coordinates = GeodeticToECEF(res.Position, p.Track.AltitudeM).Motion()
	return nil
}

// OrbitalSGP4MotionModel uses a TLE and SGP4 to update platform position.
type OrbitalSGP4MotionModel struct {
	sat satellite.Satellite
}

// NewOrbitalModelFromTLE constructs an orbital model from TLE lines.
func NewOrbitalModelFromTLE(line1, line2 string) (*OrbitalSGP4MotionModel, error) {
	if err := validateTLELines(line1, line2); err != nil {
		return nil, err
	}
	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	if sat.Error != 0 {
		return nil, fmt.Errorf("sgp4 init failed: code=%d %s", sat.Error, sat.ErrorStr)
	}
	return &OrbitalSGP4MotionModel{sat: sat}, nil
}

// UpdatePosition propagates the satellite to the given simulation time and
// updates both p.Coordinates and the sub-satellite point in p.Track.
// go-satellite works in kilometres; we store metres in the model.
func (m *OrbitalSGP4MotionModel) UpdatePosition(simTime time.Time, p *model.PlatformDefinition) error {
	s, err := m.sample(simTime)
	if err != nil {
		return fmt.Errorf("sgp4 %s: %w", p.ID, err)
	}
	p.Coordinates = s.ecef
	p.Track.Position = s.position
	p.Track.AltitudeM = s.altitudeM
	p.Track.SpeedMps = s.speedMps
	return nil
}

type sgp4Sample struct {
	ecef      model.Motion
	position  groundtrack.GeoPosition
	altitudeM float64
	speedMps  float64
}

func (m *OrbitalSGP4MotionModel) sample(t time.Time) (sgp4Sample, error) {
	const kmToM = 1000.0

	t = t.UTC()
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	posECI, velECI := satellite.Propagate(m.sat, year, int(month), day, hour, minute, sec)
	if !finiteVec(posECI) || !finiteVec(velECI) {
		return sgp4Sample{}, fmt.Errorf("propagation output is NaN/Inf")
	}

	jd := satellite.JDay(year, int(month), day, hour, minute, sec)
	gmst := satellite.ThetaG_JD(jd)
	posECEF := satellite.ECIToECEF(posECI, gmst)
	altKm, _, ll := satellite.ECIToLLA(posECI, gmst)

	return sgp4Sample{
		ecef: model.Motion{
			X: posECEF.X * kmToM,
			Y: posECEF.Y * kmToM,
			Z: posECEF.Z * kmToM,
		},
		position: groundtrack.GeoPosition{
			Latitude:  ll.Latitude * 180 / math.Pi,
			Longitude: groundtrack.NormalizeLongitude(ll.Longitude * 180 / math.Pi),
		},
		altitudeM: altKm * kmToM,
		speedMps:  math.Sqrt(velECI.X*velECI.X+velECI.Y*velECI.Y+velECI.Z*velECI.Z) * kmToM,
	}, nil
}

// SeedFromTLE derives a ground-track starting state from a TLE at the given
// time: position, altitude and orbital speed from SGP4, and the heading from
// the sub-satellite point one second later.
func SeedFromTLE(line1, line2 string, at time.Time) (model.GroundTrack, error) {
	m, err := NewOrbitalModelFromTLE(line1, line2)
	if err != nil {
		return model.GroundTrack{}, err
	}
	now, err := m.sample(at)
	if err != nil {
		return model.GroundTrack{}, err
	}
	next, err := m.sample(at.Add(time.Second))
	if err != nil {
		return model.GroundTrack{}, err
	}
	return model.GroundTrack{
		Position:  now.position,
		Bearing:   groundtrack.InitialBearing(now.position, next.position),
		AltitudeM: now.altitudeM,
		SpeedMps:  now.speedMps,
	}, nil
}

// validateTLELines performs basic format validation on TLE lines.
// go-satellite calls log.Fatal on parse errors, so garbage must never reach it.
func validateTLELines(line1, line2 string) error {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)

	if len(line1) != 69 {
		return fmt.Errorf("invalid TLE: line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("invalid TLE: line2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("invalid TLE: line1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("invalid TLE: line2 must start with '2', got '%c'", line2[0])
	}
	return nil
}

// NoradIDFromTLE reads the satellite catalog number from columns 3-7 of a
// TLE's first line.
func NoradIDFromTLE(line1 string) (uint32, error) {
	line1 = strings.TrimSpace(line1)
	if len(line1) < 7 || line1[0] != '1' {
		return 0, fmt.Errorf("invalid TLE: line1 %q has no catalog number", line1)
	}
	id, err := strconv.ParseUint(strings.TrimSpace(line1[2:7]), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid TLE: catalog number: %w", err)
	}
	return uint32(id), nil
}

func finiteVec(v satellite.Vector3) bool {
	for _, c := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// NewMotionModel chooses an appropriate MotionModel for the platform.
// MotionSourceSpacetrack with a usable TLE uses SGP4, MotionSourceGroundTrack
// uses the great-circle propagator, anything else is static.
func NewMotionModel(p *model.PlatformDefinition, tle1, tle2 string) (MotionModel, error) {
	switch p.MotionSource {
	case model.MotionSourceGroundTrack:
		return NewGroundTrackMotionModel(), nil
	case model.MotionSourceSpacetrack:
		if tle1 == "" || tle2 == "" {
			return &StaticMotionModel{}, nil
		}
		m, err := NewOrbitalModelFromTLE(tle1, tle2)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return &StaticMotionModel{}, nil
	}
}
