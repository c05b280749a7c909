package rpc

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/groundtrack-simulator/groundtrack"
	"github.com/signalsfoundry/groundtrack-simulator/kb"
)

// ErrInvalidRequest is returned when a request payload is malformed.
var ErrInvalidRequest = errors.New("invalid request")

// ToStatusError maps simulator errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, kb.ErrPlatformNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, groundtrack.ErrInvalidAltitude),
		errors.Is(err, groundtrack.ErrInvalidInterval),
		errors.Is(err, groundtrack.ErrInvalidPosition),
		errors.Is(err, groundtrack.ErrNumericDomain):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, kb.ErrPlatformExists):
		return status.Error(codes.AlreadyExists, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
