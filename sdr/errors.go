package sdr

import "errors"

// Error taxonomy. All failures returned by this package wrap one of these
// sentinels so callers can classify with errors.Is.
var (
	// ErrInvalidConfig marks a malformed or out-of-range request that was
	// rejected before any hardware state changed.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidOperation marks an operation not permitted in the current
	// state, such as writing a read-only clock.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrOutOfRange marks a value outside the hardware capability; the
	// previous value stays in effect.
	ErrOutOfRange = errors.New("value out of range")

	// ErrNotStreaming marks a data-path call on a session that is not
	// running.
	ErrNotStreaming = errors.New("stream not running")

	// ErrTransport marks a fatal link failure. The session is unusable
	// until StreamStop and a fresh StreamSetup.
	ErrTransport = errors.New("transport failure")

	// ErrTimeout marks a blocking call that exceeded its wait with
	// partial or zero progress. Recoverable.
	ErrTimeout = errors.New("timed out")
)
