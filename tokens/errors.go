package tokens

import "errors"

// Errors returned by the tokens package.
var (
	// ErrSuperseded rejects a pending tokenization request that was
	// displaced by a newer one. Callers can match on it to distinguish
	// "cancelled" from "failed".
	ErrSuperseded = errors.New("tokenization cancelled by newer request")

	// ErrChannelFailure is returned when the tokenization channel itself
	// fails (worker not running, queue unavailable), as opposed to a
	// tokenizer calculation failure. It rejects exactly the in-flight
	// request and does not affect future requests.
	ErrChannelFailure = errors.New("tokenization channel failure")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("token worker already started")

	// ErrNotStarted is returned when the worker has not been started.
	ErrNotStarted = errors.New("token worker not started")
)
