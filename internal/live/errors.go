package live

import "errors"

// Error taxonomy for a live conversation. Errors returned by [Controller] and
// reported through [WithErrorHandler] wrap one of these; use errors.Is.
var (
	// ErrPermission reports that microphone access was denied or no capture
	// device is available. The controller stays Idle and does not connect.
	ErrPermission = errors.New("live: microphone permission denied")

	// ErrConnection reports that the remote session could not be
	// established. No automatic retry is attempted.
	ErrConnection = errors.New("live: connection failed")

	// ErrTransportSend reports that a single capture chunk could not be sent.
	// It is logged and counted, never returned to the caller.
	ErrTransportSend = errors.New("live: transport send failed")

	// ErrSessionTerminated reports a remote-initiated error or close.
	ErrSessionTerminated = errors.New("live: session terminated")

	// ErrStopped is returned by Start when the conversation was closed
	// while its connection attempt was pending. The pending attempt is
	// cancelled.
	ErrStopped = errors.New("live: stopped while connecting")

	// ErrInvalidState reports a Start while a session is connecting or open.
	ErrInvalidState = errors.New("live: invalid state")
)
