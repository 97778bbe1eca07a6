package transport

import "errors"

var (
	// ErrTransportFailure covers non-2xx responses and undecodable
	// bodies. It rejects exactly the call that produced it.
	ErrTransportFailure = errors.New("transport failure")

	// ErrUnclassified covers string error payloads. Only structured
	// error objects are expected outcomes; a bare string is not.
	ErrUnclassified = errors.New("unclassified remote error")
)
