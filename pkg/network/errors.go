package network

import "errors"

// The error taxonomy from spec.md §7. Sentinel values so callers can use
// errors.Is; wrapped errors carry the offending address via fmt.Errorf
// ("%w") at the call site.
var (
	// ErrConfig reports an invalid Config (e.g. DesiredPort unavailable
	// with AllowRandomPort false).
	ErrConfig = errors.New("network: invalid configuration")

	// ErrAlreadyConnected is returned by Connect when addr is already
	// present in either the connecting or connected table.
	ErrAlreadyConnected = errors.New("network: already connected")

	// ErrHandshakeFailed is returned when the user-supplied Handshake
	// function returns an error.
	ErrHandshakeFailed = errors.New("network: handshake failed")

	// ErrInvalidData is returned by a Reading codec that rejects the
	// bytes it was given; triggers the reader's penalty sleep.
	ErrInvalidData = errors.New("network: invalid data")

	// ErrNotConnected is returned when an operation targets an address
	// present in neither the connecting nor the connected table.
	ErrNotConnected = errors.New("network: not connected")

	// ErrQueueFull is returned by a non-blocking SendDirectMessage when
	// the outbound channel is saturated.
	ErrQueueFull = errors.New("network: outbound queue full")

	// ErrIo wraps any other OS/socket error surfaced by a reader or
	// writer task. Terminal for that connection (triggers teardown) but
	// never for the node as a whole.
	ErrIo = errors.New("network: i/o error")

	// ErrShutdown is returned by operations attempted during or after
	// ShutDown.
	ErrShutdown = errors.New("network: node is shutting down")
)
