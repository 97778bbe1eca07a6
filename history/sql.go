package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/coder/cmux-sub012/types"
)

// SQLStore implements Store on database/sql for applications that share
// an existing *sql.DB instead of a pgx pool. The SQL uses PostgreSQL
// placeholders; pair it with a Postgres driver such as lib/pq.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a Store backed by db.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Migrate creates the history tables if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate history schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) AppendMessage(ctx context.Context, workspaceID string, msg types.Message) error {
	if workspaceID == "" {
		return fmt.Errorf("workspace_id is required")
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cmux_messages (workspace_id, message_id, payload, created_at)
		VALUES ($1, $2, $3, NOW())
	`, workspaceID, msg.ID, payload)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (s *SQLStore) Messages(ctx context.Context, workspaceID string) ([]types.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload
		FROM cmux_messages
		WHERE workspace_id = $1
		ORDER BY seq ASC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []types.Message
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		var msg types.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

func (s *SQLStore) MessageCount(ctx context.Context, workspaceID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cmux_messages WHERE workspace_id = $1`,
		workspaceID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

func (s *SQLStore) TruncateToCount(ctx context.Context, workspaceID string, keep int) error {
	if keep < 0 {
		return fmt.Errorf("keep must be non-negative, got %d", keep)
	}

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM cmux_messages
		WHERE workspace_id = $1
		AND seq NOT IN (
			SELECT seq FROM cmux_messages
			WHERE workspace_id = $1
			ORDER BY seq ASC
			LIMIT $2
		)
	`, workspaceID, keep)
	if err != nil {
		return fmt.Errorf("failed to truncate messages: %w", err)
	}
	return nil
}

func (s *SQLStore) TruncateFraction(ctx context.Context, workspaceID string, keepFraction float64) error {
	if keepFraction < 0 || keepFraction > 1 {
		return fmt.Errorf("keep fraction must be in [0,1], got %v", keepFraction)
	}

	total, err := s.MessageCount(ctx, workspaceID)
	if err != nil {
		return err
	}
	keep := int(math.Round(float64(total) * keepFraction))
	return s.TruncateToCount(ctx, workspaceID, keep)
}

func (s *SQLStore) RecordCompaction(ctx context.Context, workspaceID string, messagesBefore, messagesAfter int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cmux_compaction_events (id, workspace_id, messages_before, messages_after, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, uuid.New().String(), workspaceID, messagesBefore, messagesAfter)
	if err != nil {
		return fmt.Errorf("failed to record compaction: %w", err)
	}
	return nil
}

func (s *SQLStore) CompactionHistory(ctx context.Context, workspaceID string) ([]CompactionEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, messages_before, messages_after, created_at
		FROM cmux_compaction_events
		WHERE workspace_id = $1
		ORDER BY created_at DESC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query compaction events: %w", err)
	}
	defer rows.Close()

	var events []CompactionEvent
	for rows.Next() {
		var ev CompactionEvent
		if err := rows.Scan(&ev.ID, &ev.WorkspaceID, &ev.MessagesBefore, &ev.MessagesAfter, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan compaction event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating compaction events: %w", err)
	}
	return events, nil
}

func (s *SQLStore) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM cmux_messages WHERE workspace_id = $1`, workspaceID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM cmux_compaction_events WHERE workspace_id = $1`, workspaceID); err != nil {
		return fmt.Errorf("failed to delete compaction events: %w", err)
	}
	return nil
}
