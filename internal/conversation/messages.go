package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const messageColumns = `id, conversation_id, role, content, reaction, metadata, created_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	var raw []byte
	err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Reaction, &raw, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	if len(raw) > 0 {
		meta, err := unmarshalMetadata(m.Role, raw)
		if err != nil {
			return nil, err
		}
		m.Metadata = meta
	}
	return &m, nil
}

// unmarshalMetadata decodes the per-role metadata union.
func unmarshalMetadata(role MessageRole, raw []byte) (MessageMetadata, error) {
	var (
		meta MessageMetadata
		err  error
	)
	switch role {
	case RoleUser:
		var m UserMetadata
		err = json.Unmarshal(raw, &m)
		meta = m
	case RoleStaff:
		var m StaffMetadata
		err = json.Unmarshal(raw, &m)
		meta = m
	case RoleAIAssistant:
		var m AssistantMetadata
		err = json.Unmarshal(raw, &m)
		meta = m
	case RoleWorkflow:
		var m WorkflowMetadata
		err = json.Unmarshal(raw, &m)
		meta = m
	default:
		return nil, fmt.Errorf("unknown message role %q", role)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s metadata: %w", role, err)
	}
	return meta, nil
}

// GetMessage retrieves a single message, or ErrNotFound.
func (s *PgStore) GetMessage(ctx context.Context, id int64) (*Message, error) {
	msg, err := scanMessage(s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM conversation_messages WHERE id = $1 AND deleted_at IS NULL`, messageColumns), id))
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	return msg, nil
}

// Messages returns the full thread in chronological order.
func (s *PgStore) Messages(ctx context.Context, conversationID int64) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM conversation_messages
			WHERE conversation_id = $1 AND deleted_at IS NULL ORDER BY id`, messageColumns), conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return messages, nil
}

// NewerMessageExists reports whether any message was added to the
// conversation after the given message.
func (s *PgStore) NewerMessageExists(ctx context.Context, conversationID, messageID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM conversation_messages
			WHERE conversation_id = $1 AND id > $2 AND deleted_at IS NULL)`,
		conversationID, messageID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check for newer messages: %w", err)
	}
	return exists, nil
}

// FirstEventOfTypes returns the first event of any of the given types, or
// ok=false when none exists. The event log is the source of truth for
// "has this already happened" checks.
func (s *PgStore) FirstEventOfTypes(ctx context.Context, conversationID int64, types ...EventType) (EventType, bool, error) {
	typeStrings := make([]string, len(types))
	for i, t := range types {
		typeStrings[i] = string(t)
	}
	var found EventType
	err := s.pool.QueryRow(ctx, `
		SELECT type FROM conversation_events
		WHERE conversation_id = $1 AND type = ANY($2)
		ORDER BY id LIMIT 1`,
		conversationID, typeStrings).Scan(&found)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to look up events: %w", err)
	}
	return found, true, nil
}

// HasStaffReply reports whether a human agent has replied on the
// conversation.
func (s *PgStore) HasStaffReply(ctx context.Context, conversationID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM conversation_messages
			WHERE conversation_id = $1 AND role = 'staff' AND deleted_at IS NULL)`,
		conversationID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check for staff replies: %w", err)
	}
	return exists, nil
}

// LastAssistantMessage returns the most recent AI assistant message, or nil
// when the assistant never replied.
func (s *PgStore) LastAssistantMessage(ctx context.Context, conversationID int64) (*Message, error) {
	return scanMessage(s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM conversation_messages
			WHERE conversation_id = $1 AND role = 'ai_assistant' AND deleted_at IS NULL
			ORDER BY id DESC LIMIT 1`, messageColumns), conversationID))
}

// InsertEvent appends an event outside a transition. Used for terminal
// markers like resolved_by_ai that do not change conversation fields.
func (s *PgStore) InsertEvent(ctx context.Context, ev Event) error {
	changes := ev.Changes
	if changes == nil {
		changes = map[string]any{}
	}
	changesJSON, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("failed to marshal changes: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO conversation_events (conversation_id, type, changes, actor_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`,
		ev.ConversationID, string(ev.Type), changesJSON, ev.ActorID, ev.Reason)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// CreateReply appends an outbound message to the conversation.
func (s *PgStore) CreateReply(ctx context.Context, conversationID int64, role MessageRole, content string, metadata MessageMetadata) (*Message, error) {
	var raw []byte
	if metadata != nil {
		var err error
		raw, err = json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}
	msg, err := scanMessage(s.pool.QueryRow(ctx, `
		INSERT INTO conversation_messages (conversation_id, role, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING `+messageColumns,
		conversationID, string(role), content, raw))
	if err != nil {
		return nil, fmt.Errorf("failed to create reply: %w", err)
	}
	return msg, nil
}

// AddNote attaches an internal note to the conversation. Notes are staff
// facing and never delivered to the customer.
func (s *PgStore) AddNote(ctx context.Context, conversationID int64, body string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversation_notes (conversation_id, body, created_at)
		VALUES ($1, $2, NOW())`, conversationID, body)
	if err != nil {
		return fmt.Errorf("failed to add note: %w", err)
	}
	return nil
}
