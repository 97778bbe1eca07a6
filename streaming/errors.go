package streaming

import "errors"

// Errors returned by the streaming package.
var (
	// ErrStreamAlreadyOpen is returned when a StartEvent arrives while a
	// message is still streaming. This indicates a bug in the event
	// delivery layer, not a recoverable condition.
	ErrStreamAlreadyOpen = errors.New("stream already open")

	// ErrInvalidTruncation is returned when a truncation index is outside
	// the current log bounds.
	ErrInvalidTruncation = errors.New("invalid truncation index")
)
