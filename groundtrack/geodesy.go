package groundtrack

import (
	"fmt"
	"math"
)

// EarthRadiusM is the radius of the reference sphere in metres.
const EarthRadiusM = 6371010.0

// asinSlack is the floating-point overshoot tolerated on asin arguments.
const asinSlack = 1e-12

// GeoPosition is a ground-track point in degrees.
type GeoPosition struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// point is a GeoPosition in radians.
type point struct {
	phi, lambda float64
}

func toPoint(p GeoPosition) point {
	return point{phi: deg2rad(p.Latitude), lambda: deg2rad(p.Longitude)}
}

func deg2rad(a float64) float64 { return a * math.Pi / 180 }
func rad2deg(a float64) float64 { return a * 180 / math.Pi }

// destination solves the direct problem on the sphere: starting at from and
// travelling the angular distance delta along bearing theta (radians).
func destination(from point, delta, theta float64) (point, error) {
	arg := math.Sin(from.phi)*math.Cos(delta) + math.Cos(from.phi)*math.Sin(delta)*math.Cos(theta)
	arg, err := asinArg(arg)
	if err != nil {
		return point{}, err
	}
	phi := math.Asin(arg)
	lambda := from.lambda + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(from.phi),
		math.Cos(delta)-math.Sin(from.phi)*math.Sin(phi),
	)
	return point{phi: phi, lambda: lambda}, nil
}

// reverseBearing returns the bearing of the great circle from b back to a,
// in radians. The argument order is intentional: a is the earlier point.
func reverseBearing(a, b point) float64 {
	dLambda := a.lambda - b.lambda
	return math.Atan2(
		math.Sin(dLambda)*math.Cos(a.phi),
		math.Cos(b.phi)*math.Sin(a.phi)-math.Sin(b.phi)*math.Cos(a.phi)*math.Cos(dLambda),
	)
}

func asinArg(x float64) (float64, error) {
	switch {
	case math.IsNaN(x), x > 1+asinSlack, x < -1-asinSlack:
		return 0, fmt.Errorf("%w: asin(%g)", ErrNumericDomain, x)
	case x > 1:
		return 1, nil
	case x < -1:
		return -1, nil
	}
	return x, nil
}

// Destination returns the point reached from start after travelling the
// angular distance delta (radians) along bearing (degrees).
func Destination(start GeoPosition, delta, bearing float64) (GeoPosition, error) {
	p, err := destination(toPoint(start), delta, deg2rad(bearing))
	if err != nil {
		return GeoPosition{}, err
	}
	return GeoPosition{Latitude: rad2deg(p.phi), Longitude: rad2deg(p.lambda)}, nil
}

// ReverseBearing returns the bearing in degrees, in (-180, 180], of the great
// circle leaving b towards a.
func ReverseBearing(a, b GeoPosition) float64 {
	return rad2deg(reverseBearing(toPoint(a), toPoint(b)))
}

// InitialBearing returns the bearing in [0, 360) leaving from towards to.
func InitialBearing(from, to GeoPosition) float64 {
	return WrapBearing(ReverseBearing(to, from))
}

// Distance returns the haversine great-circle distance between a and b in
// metres on the reference sphere.
func Distance(a, b GeoPosition) float64 {
	pa, pb := toPoint(a), toPoint(b)
	dPhi := pb.phi - pa.phi
	dLambda := pb.lambda - pa.lambda
	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(pa.phi)*math.Cos(pb.phi)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * EarthRadiusM * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// NormalizeBearing applies the flip convention to a reverse bearing in
// degrees, yielding the forward heading in [0, 360).
func NormalizeBearing(deg float64) float64 {
	return math.Mod(deg+180, 360)
}

// NormalizeLatitude reduces deg with ((deg + 270) mod 180) - 90.
func NormalizeLatitude(deg float64) float64 {
	return math.Mod(deg+270, 180) - 90
}

// NormalizeLongitude reduces deg with ((deg + 540) mod 360) - 180.
func NormalizeLongitude(deg float64) float64 {
	return math.Mod(deg+540, 360) - 180
}

// WrapBearing reduces any finite bearing to [0, 360).
func WrapBearing(deg float64) float64 {
	b := math.Mod(deg, 360)
	if b < 0 {
		b += 360
	}
	if b >= 360 {
		b = 0
	}
	return b
}
