package history

import (
	"context"
	"testing"

	"github.com/coder/cmux-sub012/internal/testutil"
	"github.com/coder/cmux-sub012/types"
)

func TestIntegration_PostgresStore_TranscriptLifecycle(t *testing.T) {
	testutil.RequireIntegration(t)

	db := testutil.NewTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()

	ctx := context.Background()
	store := NewPostgresStore(db.Pool)
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if err := db.CleanTables(ctx); err != nil {
		t.Fatalf("Failed to clean tables: %v", err)
	}

	const ws = "ws-lifecycle"
	texts := []string{"u1", "a1", "u2", "a2"}
	for i, text := range texts {
		msg := types.NewUserMessage(text)
		if i%2 == 1 {
			msg.Role = types.RoleAssistant
		}
		if err := store.AppendMessage(ctx, ws, msg); err != nil {
			t.Fatalf("AppendMessage(%q) failed: %v", text, err)
		}
	}

	count, err := store.MessageCount(ctx, ws)
	if err != nil {
		t.Fatalf("MessageCount failed: %v", err)
	}
	if count != 4 {
		t.Fatalf("MessageCount = %d, want 4", count)
	}

	msgs, err := store.Messages(ctx, ws)
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	for i, msg := range msgs {
		if msg.Text() != texts[i] {
			t.Errorf("message %d = %q, want %q", i, msg.Text(), texts[i])
		}
	}

	// Truncate to the first two messages, the shape of a cancelled
	// compaction rollback.
	if err := store.TruncateToCount(ctx, ws, 2); err != nil {
		t.Fatalf("TruncateToCount failed: %v", err)
	}
	msgs, err = store.Messages(ctx, ws)
	if err != nil {
		t.Fatalf("Messages after truncate failed: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Text() != "u1" || msgs[1].Text() != "a1" {
		t.Fatalf("after truncate: %d messages", len(msgs))
	}

	// Fraction truncation rounds to the nearest count: 2 * 0.5 = 1.
	if err := store.TruncateFraction(ctx, ws, 0.5); err != nil {
		t.Fatalf("TruncateFraction failed: %v", err)
	}
	count, err = store.MessageCount(ctx, ws)
	if err != nil {
		t.Fatalf("MessageCount failed: %v", err)
	}
	if count != 1 {
		t.Errorf("after fraction truncate: %d messages, want 1", count)
	}

	if err := store.RecordCompaction(ctx, ws, 4, 3); err != nil {
		t.Fatalf("RecordCompaction failed: %v", err)
	}
	events, err := store.CompactionHistory(ctx, ws)
	if err != nil {
		t.Fatalf("CompactionHistory failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("CompactionHistory returned %d events, want 1", len(events))
	}
	if events[0].MessagesBefore != 4 || events[0].MessagesAfter != 3 {
		t.Errorf("event = %+v", events[0])
	}

	if err := store.DeleteWorkspace(ctx, ws); err != nil {
		t.Fatalf("DeleteWorkspace failed: %v", err)
	}
	count, err = store.MessageCount(ctx, ws)
	if err != nil {
		t.Fatalf("MessageCount failed: %v", err)
	}
	if count != 0 {
		t.Errorf("after delete: %d messages, want 0", count)
	}
}

func TestIntegration_PostgresStore_PartsSurviveRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)

	db := testutil.NewTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()

	ctx := context.Background()
	store := NewPostgresStore(db.Pool)
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if err := db.CleanTables(ctx); err != nil {
		t.Fatalf("Failed to clean tables: %v", err)
	}

	const ws = "ws-parts"
	msg := types.Message{
		ID:   "m1",
		Role: types.RoleAssistant,
		Parts: []types.Part{
			types.ReasoningPart{Text: "thinking"},
			types.TextPart{Text: "answer"},
			types.ToolPart{
				ToolCallID: "tc1",
				ToolName:   "bash",
				State:      types.ToolStateOutputAvailable,
				Input:      []byte(`{"cmd":"ls"}`),
				Output:     []byte(`"ok"`),
			},
		},
	}
	if err := store.AppendMessage(ctx, ws, msg); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	msgs, err := store.Messages(ctx, ws)
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(msgs) != 1 || len(msgs[0].Parts) != 3 {
		t.Fatalf("got %d messages", len(msgs))
	}
	tool, ok := msgs[0].Parts[2].(types.ToolPart)
	if !ok {
		t.Fatalf("part 2 is %T, want ToolPart", msgs[0].Parts[2])
	}
	if tool.ToolName != "bash" || tool.State != types.ToolStateOutputAvailable {
		t.Errorf("tool part = %+v", tool)
	}
}
