// ABOUTME: Error taxonomy helpers for the gateway's grpc-style statuses
// ABOUTME: Separates retryable transport failures from fatal protocol errors

package transport

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Protocol errors are fatal and never retried.
var (
	// ErrMalformedSnapshot indicates a push frame that could not be decoded.
	ErrMalformedSnapshot = errors.New("malformed subscription snapshot")
	// ErrUnknownFrame indicates a push frame with an unrecognized type tag.
	ErrUnknownFrame = errors.New("unknown subscription frame type")
)

// IsTransport reports whether err is a transport-level failure: the kind
// surfaced as a per-task status flag rather than propagated across
// component boundaries. Covers grpc status codes the gateway uses for
// connectivity failures plus context cancellation.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	}
	return false
}

// IsProtocol reports whether err is a fatal protocol error.
func IsProtocol(err error) bool {
	if errors.Is(err, ErrMalformedSnapshot) || errors.Is(err, ErrUnknownFrame) {
		return true
	}
	switch status.Code(err) {
	case codes.InvalidArgument, codes.Unimplemented, codes.FailedPrecondition:
		return true
	}
	return false
}
