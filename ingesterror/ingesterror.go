// Package ingesterror defines the error kinds surfaced by the ingester's
// RPC-shaped operations, following the teacher's practice (see
// broker/client's mapping of gRPC statuses onto named sentinel errors) of
// tagging application errors with a gRPC status code without requiring an
// actual gRPC transport.
package ingesterror

import (
	"fmt"

	"google.golang.org/grpc/codes"
)

// Kind discriminates the handful of top-level error kinds the ingester's
// RPC surface can return. ShardClosed is deliberately excluded: it is a
// per-subrequest failure reason, not a top-level transport error (spec
// §7), and is modeled separately by the ingester package.
type Kind int

const (
	// KindInternal signals a programming or routing error (e.g. a request
	// addressed to the wrong node).
	KindInternal Kind = iota
	// KindIngesterUnavailable signals that a named peer could not be
	// resolved in the peer pool.
	KindIngesterUnavailable
	// KindTimeout signals that a request exceeded its deadline.
	KindTimeout
)

// Error is the concrete error type returned by ingester operations.
type Error struct {
	Kind    Kind
	Message string
	// PeerID is set only for KindIngesterUnavailable.
	PeerID string
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindIngesterUnavailable:
		return fmt.Sprintf("ingester unavailable: %s", e.PeerID)
	case KindTimeout:
		if e.Message != "" {
			return fmt.Sprintf("timeout: %s", e.Message)
		}
		return "timeout"
	default:
		return fmt.Sprintf("internal: %s", e.Message)
	}
}

// Code maps the error Kind onto the gRPC status code a real transport
// would use, the way the teacher maps pb.Status values onto codes.Code.
func (e *Error) Code() codes.Code {
	switch e.Kind {
	case KindIngesterUnavailable:
		return codes.Unavailable
	case KindTimeout:
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

// Internal constructs a KindInternal error, e.g. for routing mismatches.
func Internal(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...)}
}

// Unavailable constructs a KindIngesterUnavailable error for the named peer.
func Unavailable(peerID string) *Error {
	return &Error{Kind: KindIngesterUnavailable, PeerID: peerID}
}

// Timeout constructs a KindTimeout error.
func Timeout(format string, args ...interface{}) *Error {
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is an *Error of the given Kind.
func IsKind(err error, k Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == k
}
