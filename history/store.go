// Package history persists workspace transcripts and compaction events.
//
// The in-memory workspace store is the source of truth while a process
// runs; history mirrors it so conversations survive restarts and so
// compaction can trim the durable copy alongside the live one.
package history

import (
	"context"
	"time"

	"github.com/coder/cmux-sub012/types"
)

// CompactionEvent records one accepted compaction of a workspace.
type CompactionEvent struct {
	ID             string    `json:"id"`
	WorkspaceID    string    `json:"workspace_id"`
	MessagesBefore int       `json:"messages_before"`
	MessagesAfter  int       `json:"messages_after"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store defines durable transcript storage for workspaces.
type Store interface {
	// AppendMessage appends one message to a workspace's transcript.
	AppendMessage(ctx context.Context, workspaceID string, msg types.Message) error

	// Messages returns a workspace's transcript in append order.
	Messages(ctx context.Context, workspaceID string) ([]types.Message, error)

	// MessageCount returns the number of persisted messages.
	MessageCount(ctx context.Context, workspaceID string) (int, error)

	// TruncateToCount keeps the first keep messages and discards the
	// rest.
	TruncateToCount(ctx context.Context, workspaceID string, keep int) error

	// TruncateFraction keeps the leading keepFraction of the transcript,
	// rounded to the nearest message count.
	TruncateFraction(ctx context.Context, workspaceID string, keepFraction float64) error

	// RecordCompaction stores an accepted compaction's before/after
	// message counts.
	RecordCompaction(ctx context.Context, workspaceID string, messagesBefore, messagesAfter int) error

	// CompactionHistory returns a workspace's compactions, newest first.
	CompactionHistory(ctx context.Context, workspaceID string) ([]CompactionEvent, error)

	// DeleteWorkspace removes a workspace's transcript and compaction
	// events.
	DeleteWorkspace(ctx context.Context, workspaceID string) error
}
