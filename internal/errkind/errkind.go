// Package errkind defines the error kinds from spec §7 as sentinel
// errors, tested with errors.Is rather than a type hierarchy.
package errkind

import "errors"

var (
	// TransientNetwork covers probe/webfront/push timeouts and transport
	// errors. Callers treat it as "try again later", never as fatal.
	TransientNetwork = errors.New("transient network error")

	// ClientProtocolViolation covers a duplicate session on the same
	// identity or a request referencing an unknown connection id.
	ClientProtocolViolation = errors.New("client protocol violation")

	// InvalidState covers operations attempted from a state that doesn't
	// permit them, e.g. JoinAck from a non-Joining player.
	InvalidState = errors.New("invalid state")

	// CapacityExceeded covers a queue at its hard cap.
	CapacityExceeded = errors.New("capacity exceeded")

	// Internal covers unexpected errors that don't fit another kind.
	Internal = errors.New("internal error")
)
