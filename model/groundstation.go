package model

import "github.com/signalsfoundry/groundtrack-simulator/groundtrack"

// GroundStation is a fixed observer on the reference sphere.
type GroundStation struct {
	ID              string
	Name            string
	Position        groundtrack.GeoPosition
	AltitudeM       float64
	MinElevationDeg float64
}
