package message

import "errors"

// Status mirrors the small set of outcomes the transport can report back
// to a caller. Most of the transport surface returns a plain Go error;
// these sentinels let callers use errors.Is to recover the original
// status_t categories from Android's InputTransport.
var (
	// ErrWouldBlock means the socket had nothing to read, or was full on
	// write. The caller should retry on its next loop tick.
	ErrWouldBlock = errors.New("message: would block")

	// ErrDeadObject means the peer is gone: EOF, a short/partial write on
	// a datagram socket, or one of EPIPE/ENOTCONN/ECONNREFUSED/ECONNRESET.
	ErrDeadObject = errors.New("message: dead object")

	// ErrBadValue means a message failed validation: a received datagram
	// of the wrong size for its type, or a variant-specific invariant
	// violation on either direction (pointerCount out of range,
	// presentTime <= gpuCompletedTime).
	ErrBadValue = errors.New("message: bad value")

	// ErrNoMemory means the event factory failed to allocate an event.
	ErrNoMemory = errors.New("message: no memory")

	// ErrUnknown covers protocol violations that don't fit the other
	// categories, e.g. a message other than FINISHED or TIMELINE arriving
	// on the publisher's receive direction. (The consumer treats a
	// FINISHED or TIMELINE arriving on its side as fatal instead.)
	ErrUnknown = errors.New("message: unknown error")
)
