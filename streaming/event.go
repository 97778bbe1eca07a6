package streaming

import (
	"github.com/coder/cmux-sub012/types"
)

// DeltaKind identifies which channel of content a delta carries.
type DeltaKind string

const (
	// DeltaText is assistant output text.
	DeltaText DeltaKind = "text"

	// DeltaReasoning is model reasoning text.
	DeltaReasoning DeltaKind = "reasoning"

	// DeltaToolArgs is a fragment of a tool call's JSON input.
	DeltaToolArgs DeltaKind = "tool-args"
)

// Event is one incremental unit of a workspace's stream protocol.
// It is a closed union; the concrete types are StartEvent, DeltaEvent,
// EndEvent and AbortEvent. Events for one workspace are totally ordered
// by delivery.
type Event interface {
	streamEvent()
}

// StartEvent opens a new assistant message.
type StartEvent struct {
	// MessageID is the provider-assigned id of the message being streamed.
	MessageID string

	// Model is the model generating the message.
	Model string
}

func (*StartEvent) streamEvent() {}

// DeltaEvent appends incremental content to the currently open message.
// Consecutive deltas of the same kind merge into one part; a delta of a
// different kind opens a new part.
type DeltaEvent struct {
	// Kind selects the content channel.
	Kind DeltaKind

	// Text is the incremental text, or the JSON fragment for DeltaToolArgs.
	Text string
}

func (*DeltaEvent) streamEvent() {}

// EndEvent commits the open message. Parts is the authoritative final
// payload from the source and fully replaces the incrementally built
// parts; the source may reformat part boundaries differently from the
// deltas it sent.
type EndEvent struct {
	Parts    []types.Part
	Model    string
	Usage    types.Usage
	Metadata map[string]any
}

func (*EndEvent) streamEvent() {}

// AbortEvent commits whatever partial content exists and marks the
// message truncated. No further content is accepted for the message.
type AbortEvent struct {
	// PartialParts, when non-nil, replaces the incrementally built parts.
	PartialParts []types.Part
}

func (*AbortEvent) streamEvent() {}
