package compaction

import "github.com/coder/cmux-sub012/types"

// Metadata keys used to mark compaction-related messages in a
// conversation. Request markers ride on the user message that asked for
// compaction; summary markers ride on the assistant message that holds
// the compacted transcript.
const (
	// MetadataTypeKey holds the marker type on a message.
	MetadataTypeKey = "type"

	// TypeCompactionRequest marks a user message that triggers
	// compaction of the preceding conversation.
	TypeCompactionRequest = "compaction-request"

	// TypeCompactionSummary marks an assistant message produced by a
	// compaction, full or accepted early.
	TypeCompactionSummary = "compaction-summary"

	// MetadataRawCommandKey holds the verbatim text the user typed to
	// request compaction, so cancelling can restore it to the editor.
	MetadataRawCommandKey = "rawCommand"
)

// NewRequestMessage builds the user message that requests compaction.
// rawCommand is the text as typed, preserved for restoration on cancel.
func NewRequestMessage(text, rawCommand string) types.Message {
	msg := types.NewUserMessage(text)
	msg.Metadata = map[string]any{
		MetadataTypeKey:       TypeCompactionRequest,
		MetadataRawCommandKey: rawCommand,
	}
	return msg
}

// IsRequest reports whether msg is a compaction request marker.
func IsRequest(msg types.Message) bool {
	if msg.Role != types.RoleUser || msg.Metadata == nil {
		return false
	}
	t, _ := msg.Metadata[MetadataTypeKey].(string)
	return t == TypeCompactionRequest
}

// RawCommand returns the verbatim command text stored on a compaction
// request, or "" when msg carries none.
func RawCommand(msg types.Message) string {
	if msg.Metadata == nil {
		return ""
	}
	raw, _ := msg.Metadata[MetadataRawCommandKey].(string)
	return raw
}

// IsSummary reports whether msg is a compaction summary.
func IsSummary(msg types.Message) bool {
	if msg.Metadata == nil {
		return false
	}
	t, _ := msg.Metadata[MetadataTypeKey].(string)
	return t == TypeCompactionSummary
}
