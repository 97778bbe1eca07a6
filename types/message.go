// Package types defines the shared message model for cmux workspaces.
//
// A workspace's conversation is an ordered log of Messages. Each Message is
// a list of Parts: text, reasoning, tool calls, or file attachments. Parts
// form a closed union; code that switches over them must handle every kind
// and fail loudly on anything else.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role represents the message role.
type Role string

const (
	// RoleUser represents a user message.
	RoleUser Role = "user"

	// RoleAssistant represents an assistant message.
	RoleAssistant Role = "assistant"
)

// PartKind identifies the variant of a Part.
type PartKind string

const (
	// PartKindText is plain assistant or user text.
	PartKindText PartKind = "text"

	// PartKindReasoning is model reasoning text, rendered separately from output.
	PartKindReasoning PartKind = "reasoning"

	// PartKindTool is a tool invocation with its input and, once available, output.
	PartKindTool PartKind = "tool"

	// PartKindFile is a file attachment reference.
	PartKindFile PartKind = "file"
)

// ToolState tracks how much of a tool part has arrived.
type ToolState string

const (
	// ToolStateInputAvailable means the tool call input has been received.
	ToolStateInputAvailable ToolState = "input-available"

	// ToolStateOutputAvailable means the tool has produced output.
	ToolStateOutputAvailable ToolState = "output-available"
)

// Part is one accumulated unit of message content. It is a closed union;
// the concrete types are TextPart, ReasoningPart, ToolPart and FilePart.
type Part interface {
	// Kind returns the variant discriminator.
	Kind() PartKind
}

// TextPart is a plain text part.
type TextPart struct {
	Text string `json:"text"`
}

// Kind implements Part.
func (TextPart) Kind() PartKind { return PartKindText }

// ReasoningPart is a model reasoning part.
type ReasoningPart struct {
	Text string `json:"text"`
}

// Kind implements Part.
func (ReasoningPart) Kind() PartKind { return PartKindReasoning }

// ToolPart is a tool invocation part.
type ToolPart struct {
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	State      ToolState       `json:"state"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
}

// Kind implements Part.
func (ToolPart) Kind() PartKind { return PartKindTool }

// FilePart references an attached file.
type FilePart struct {
	MediaType string `json:"media_type"`
	URL       string `json:"url"`
	Filename  string `json:"filename,omitempty"`
}

// Kind implements Part.
func (FilePart) Kind() PartKind { return PartKindFile }

// ClonePart returns a copy of p that shares no mutable state with the
// original. It panics on an unhandled variant.
func ClonePart(p Part) Part {
	switch v := p.(type) {
	case TextPart:
		return v
	case ReasoningPart:
		return v
	case ToolPart:
		v.Input = cloneRaw(v.Input)
		v.Output = cloneRaw(v.Output)
		return v
	case FilePart:
		return v
	default:
		panic(fmt.Sprintf("types: unhandled part variant %T", p))
	}
}

// CloneParts returns a deep copy of the given part list.
func CloneParts(parts []Part) []Part {
	if parts == nil {
		return nil
	}
	out := make([]Part, len(parts))
	for i, p := range parts {
		out[i] = ClonePart(p)
	}
	return out
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	out := make(json.RawMessage, len(r))
	copy(out, r)
	return out
}

// Usage contains token usage statistics attached to a committed message.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add combines two Usage values.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

// Total returns the total number of tokens (input + output).
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Message represents one conversation message in a workspace log.
// Once committed a message is immutable; only the currently streaming
// assistant message is mutated, and only by its aggregator.
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Parts     []Part         `json:"parts"`
	Model     string         `json:"model,omitempty"`
	Usage     Usage          `json:"usage"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Truncated bool           `json:"truncated,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewUserMessage creates a user message with a single text part and a
// freshly generated id.
func NewUserMessage(text string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      RoleUser,
		Parts:     []Part{TextPart{Text: text}},
		CreatedAt: time.Now(),
	}
}

// Clone returns a copy of the message that shares no mutable state with
// the original. Snapshots handed to observers are built from clones.
func (m Message) Clone() Message {
	out := m
	out.Parts = CloneParts(m.Parts)
	if m.Metadata != nil {
		out.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Text returns the concatenated text of all text parts.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if t, ok := p.(TextPart); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

// partEnvelope is the wire form of a Part: the variant payload plus a
// kind discriminator.
type partEnvelope struct {
	Kind PartKind        `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// MarshalJSON encodes the message with tagged part envelopes so the part
// union survives serialization.
func (m Message) MarshalJSON() ([]byte, error) {
	envelopes := make([]partEnvelope, 0, len(m.Parts))
	for _, p := range m.Parts {
		body, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, partEnvelope{Kind: p.Kind(), Body: body})
	}

	type alias Message
	return json.Marshal(struct {
		alias
		Parts []partEnvelope `json:"parts"`
	}{alias: alias(m), Parts: envelopes})
}

// UnmarshalJSON decodes a message produced by MarshalJSON.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	var raw struct {
		alias
		Parts []partEnvelope `json:"parts"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	parts := make([]Part, 0, len(raw.Parts))
	for _, env := range raw.Parts {
		p, err := decodePart(env)
		if err != nil {
			return err
		}
		parts = append(parts, p)
	}

	*m = Message(raw.alias)
	m.Parts = parts
	return nil
}

func decodePart(env partEnvelope) (Part, error) {
	switch env.Kind {
	case PartKindText:
		var p TextPart
		return p, json.Unmarshal(env.Body, &p)
	case PartKindReasoning:
		var p ReasoningPart
		return p, json.Unmarshal(env.Body, &p)
	case PartKindTool:
		var p ToolPart
		return p, json.Unmarshal(env.Body, &p)
	case PartKindFile:
		var p FilePart
		return p, json.Unmarshal(env.Body, &p)
	default:
		return nil, fmt.Errorf("types: unknown part kind %q", env.Kind)
	}
}
