package history

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coder/cmux-sub012/types"
)

// PostgresStore implements Store using PostgreSQL with pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// schemaStatements are run one at a time; pgx's extended protocol does
// not accept multi-statement strings.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS cmux_messages (
		seq BIGSERIAL PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS cmux_messages_workspace_idx
		ON cmux_messages (workspace_id, seq)`,
	`CREATE TABLE IF NOT EXISTS cmux_compaction_events (
		id UUID PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		messages_before INT NOT NULL,
		messages_after INT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS cmux_compaction_events_workspace_idx
		ON cmux_compaction_events (workspace_id, created_at DESC)`,
}

// Migrate creates the history tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate history schema: %w", err)
		}
	}
	return nil
}

// AppendMessage appends one message to a workspace's transcript.
func (s *PostgresStore) AppendMessage(ctx context.Context, workspaceID string, msg types.Message) error {
	if workspaceID == "" {
		return fmt.Errorf("workspace_id is required")
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	query := `
		INSERT INTO cmux_messages (workspace_id, message_id, payload, created_at)
		VALUES ($1, $2, $3, NOW())
	`
	if _, err := s.pool.Exec(ctx, query, workspaceID, msg.ID, payload); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// Messages returns a workspace's transcript in append order.
func (s *PostgresStore) Messages(ctx context.Context, workspaceID string) ([]types.Message, error) {
	query := `
		SELECT payload
		FROM cmux_messages
		WHERE workspace_id = $1
		ORDER BY seq ASC
	`
	rows, err := s.pool.Query(ctx, query, workspaceID)
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

// MessageCount returns the number of persisted messages.
func (s *PostgresStore) MessageCount(ctx context.Context, workspaceID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM cmux_messages WHERE workspace_id = $1`,
		workspaceID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// TruncateToCount keeps the first keep messages and discards the rest.
func (s *PostgresStore) TruncateToCount(ctx context.Context, workspaceID string, keep int) error {
	if keep < 0 {
		return fmt.Errorf("keep must be non-negative, got %d", keep)
	}

	query := `
		DELETE FROM cmux_messages
		WHERE workspace_id = $1
		AND seq NOT IN (
			SELECT seq FROM cmux_messages
			WHERE workspace_id = $1
			ORDER BY seq ASC
			LIMIT $2
		)
	`
	if _, err := s.pool.Exec(ctx, query, workspaceID, keep); err != nil {
		return fmt.Errorf("failed to truncate messages: %w", err)
	}
	return nil
}

// TruncateFraction keeps the leading keepFraction of the transcript.
func (s *PostgresStore) TruncateFraction(ctx context.Context, workspaceID string, keepFraction float64) error {
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

// RecordCompaction stores an accepted compaction's before/after counts.
func (s *PostgresStore) RecordCompaction(ctx context.Context, workspaceID string, messagesBefore, messagesAfter int) error {
	query := `
		INSERT INTO cmux_compaction_events (id, workspace_id, messages_before, messages_after, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`
	_, err := s.pool.Exec(ctx, query, uuid.New().String(), workspaceID, messagesBefore, messagesAfter)
	if err != nil {
		return fmt.Errorf("failed to record compaction: %w", err)
	}
	return nil
}

// CompactionHistory returns a workspace's compactions, newest first.
func (s *PostgresStore) CompactionHistory(ctx context.Context, workspaceID string) ([]CompactionEvent, error) {
	query := `
		SELECT id, workspace_id, messages_before, messages_after, created_at
		FROM cmux_compaction_events
		WHERE workspace_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.pool.Query(ctx, query, workspaceID)
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

// DeleteWorkspace removes a workspace's transcript and compaction events.
func (s *PostgresStore) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM cmux_messages WHERE workspace_id = $1`, workspaceID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM cmux_compaction_events WHERE workspace_id = $1`, workspaceID); err != nil {
		return fmt.Errorf("failed to delete compaction events: %w", err)
	}
	return nil
}
