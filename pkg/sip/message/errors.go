package message

import "errors"

var (
	// ErrMalformedMessage is returned when a SIP message or SDP body
	// cannot be parsed; callers drop the message and let the
	// transaction/dialog timers handle the non-response.
	ErrMalformedMessage = errors.New("malformed SIP message")

	// ErrMessageTooLarge guards against unbounded allocation from a
	// hostile or broken peer.
	ErrMessageTooLarge = errors.New("SIP message exceeds maximum size")

	// ErrMissingContentLength is returned when a message claims a body
	// but Content-Length is absent.
	ErrMissingContentLength = errors.New("missing Content-Length header")
)
