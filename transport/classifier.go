// Package transport normalizes remote-call outcomes into typed results.
//
// Remote calls answer with an envelope `{success, data?, error?}`. The
// classifier splits the outcomes along one deliberate asymmetry: a
// structured error object is an expected, recoverable outcome and is
// handed back as data so callers can branch on its kind discriminator,
// while string errors and transport failures are genuinely exceptional
// and surface as Go errors.
package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope is the wire shape of every remote-call response.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// ErrorKind discriminates structured domain errors.
type ErrorKind string

const (
	ErrorKindAPIKeyNotFound       ErrorKind = "api_key_not_found"
	ErrorKindProviderNotSupported ErrorKind = "provider_not_supported"
	ErrorKindModelStringInvalid   ErrorKind = "model_string_invalid"
)

// DomainError is a structured, expected failure from the remote side.
// It is carried in Result as data, never as a Go error, because callers
// pattern-match on Type to show a specific remedy.
type DomainError struct {
	Type     ErrorKind       `json:"type"`
	Provider string          `json:"provider,omitempty"`
	Model    string          `json:"model,omitempty"`
	Message  string          `json:"message,omitempty"`
	Raw      json.RawMessage `json:"-"`
}

// Result is a classified remote-call outcome. Exactly one of Data and
// DomainErr is set.
type Result struct {
	Data      json.RawMessage
	DomainErr *DomainError
}

// Failed reports whether the call ended in a domain error.
func (r Result) Failed() bool {
	return r.DomainErr != nil
}

// Classify turns an HTTP status and response body into a Result.
//
//   - non-2xx status: ErrTransportFailure
//   - success envelope: Result carrying the data payload
//   - structured error object: Result carrying a DomainError
//   - string error: ErrUnclassified, since only structured errors are
//     expected outcomes
func Classify(status int, body []byte) (Result, error) {
	if status < 200 || status > 299 {
		return Result{}, fmt.Errorf("%w: status %d: %s", ErrTransportFailure, status, truncateForError(body))
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Result{}, fmt.Errorf("%w: malformed envelope: %v", ErrTransportFailure, err)
	}

	if env.Success {
		return Result{Data: env.Data}, nil
	}
	trimmed := bytes.TrimSpace(env.Error)
	// A JSON null decodes into Envelope.Error as the literal "null"; treat
	// it the same as an absent payload.
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Result{}, fmt.Errorf("%w: failure envelope without error payload", ErrUnclassified)
	}
	if trimmed[0] == '"' {
		var msg string
		if err := json.Unmarshal(trimmed, &msg); err != nil {
			return Result{}, fmt.Errorf("%w: %s", ErrUnclassified, trimmed)
		}
		return Result{}, fmt.Errorf("%w: %s", ErrUnclassified, msg)
	}

	var domainErr DomainError
	if err := json.Unmarshal(trimmed, &domainErr); err != nil {
		return Result{}, fmt.Errorf("%w: undecodable error object: %v", ErrUnclassified, err)
	}
	domainErr.Raw = append(json.RawMessage(nil), trimmed...)
	return Result{DomainErr: &domainErr}, nil
}

func truncateForError(body []byte) string {
	const max = 256
	s := string(bytes.TrimSpace(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
