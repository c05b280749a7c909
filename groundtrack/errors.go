package groundtrack

import "errors"

var (
	// ErrInvalidAltitude is returned when the orbit circumference would be
	// zero or negative.
	ErrInvalidAltitude = errors.New("groundtrack: invalid altitude")
	// ErrInvalidInterval is returned for a non-positive update speed.
	ErrInvalidInterval = errors.New("groundtrack: invalid update interval")
	// ErrInvalidPosition is returned for a latitude or longitude outside its
	// canonical range.
	ErrInvalidPosition = errors.New("groundtrack: invalid position")
	// ErrNumericDomain is returned when an input or intermediate value leaves
	// the domain of the trigonometric functions.
	ErrNumericDomain = errors.New("groundtrack: numeric domain error")
)
