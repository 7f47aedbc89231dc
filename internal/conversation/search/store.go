package search

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/techmannih/helpdesk/internal/conversation"
)

const conversationColumns = `c.id, c.slug, c.mailbox_id, c.status, c.email_from, c.subject,
	c.assignee_id, c.merged_into_id, c.last_inbound_message_at, c.closed_at, c.created_at, c.updated_at`

// Page is one page of search results.
type Page struct {
	Conversations []conversation.Conversation
	// NextCursor is empty on the last page.
	NextCursor string
}

// Store executes compiled search queries against Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a search store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// List returns one page of conversations matching the filter, with a cursor
// for the next page when more rows exist.
func (s *Store) List(ctx context.Context, mailbox conversation.Mailbox, f Filter) (*Page, error) {
	q, err := Compile(mailbox, f)
	if err != nil {
		return nil, err
	}

	// One extra row decides whether a next page exists.
	sql := fmt.Sprintf(`SELECT %s, %s AS sort_key FROM conversations c %s WHERE %s ORDER BY %s LIMIT %d`,
		conversationColumns, q.SortExpr(), q.Join, q.WhereClause(), q.OrderBy(), q.Limit()+1)

	rows, err := s.pool.Query(ctx, sql, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search conversations: %w", err)
	}
	defer rows.Close()

	page := &Page{}
	sortKeys := make([]any, 0, q.Limit()+1)
	for rows.Next() {
		var conv conversation.Conversation
		var sortKey any
		dest := []any{
			&conv.ID, &conv.Slug, &conv.MailboxID, &conv.Status, &conv.EmailFrom, &conv.Subject,
			&conv.AssigneeID, &conv.MergedIntoID, &conv.LastInboundMessageAt, &conv.ClosedAt,
			&conv.CreatedAt, &conv.UpdatedAt,
		}
		switch q.kind {
		case sortKindTime:
			sortKey = new(time.Time)
		case sortKindValue:
			sortKey = new(int64)
		}
		if err := rows.Scan(append(dest, sortKey)...); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		page.Conversations = append(page.Conversations, conv)
		sortKeys = append(sortKeys, sortKey)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read search results: %w", err)
	}

	if len(page.Conversations) > q.Limit() {
		page.Conversations = page.Conversations[:q.Limit()]
		last := page.Conversations[len(page.Conversations)-1]
		var key any
		switch k := sortKeys[len(page.Conversations)-1].(type) {
		case *time.Time:
			key = *k
		case *int64:
			key = *k
		}
		cursor, err := q.NextCursor(key, last.ID)
		if err != nil {
			return nil, err
		}
		page.NextCursor = cursor
	}
	return page, nil
}

// Count returns the number of conversations matching the filter.
func (s *Store) Count(ctx context.Context, mailbox conversation.Mailbox, f Filter) (int, error) {
	return s.count(ctx, mailbox, f, "")
}

// CountNotInStatus counts matches excluding rows already in the given
// status. The bulk executor uses it so no-op transitions never enter a
// batch.
func (s *Store) CountNotInStatus(ctx context.Context, mailbox conversation.Mailbox, f Filter, exclude conversation.Status) (int, error) {
	return s.count(ctx, mailbox, f, exclude)
}

func (s *Store) count(ctx context.Context, mailbox conversation.Mailbox, f Filter, exclude conversation.Status) (int, error) {
	q, err := Compile(mailbox, f)
	if err != nil {
		return 0, err
	}
	if exclude != "" {
		q.and("c.status <> ?", string(exclude))
	}

	sql := fmt.Sprintf(`SELECT count(*) FROM conversations c %s WHERE %s`, q.Join, q.WhereClause())
	var total int
	if err := s.pool.QueryRow(ctx, sql, q.Args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count conversations: %w", err)
	}
	return total, nil
}

// IDsNotInStatus materializes the id snapshot for a bulk operation: every
// match not already in the target status, in a stable order. Later steps
// work off this snapshot and never re-run the filter.
func (s *Store) IDsNotInStatus(ctx context.Context, mailbox conversation.Mailbox, f Filter, exclude conversation.Status) ([]int64, error) {
	q, err := Compile(mailbox, f)
	if err != nil {
		return nil, err
	}
	if exclude != "" {
		q.and("c.status <> ?", string(exclude))
	}

	sql := fmt.Sprintf(`SELECT c.id FROM conversations c %s WHERE %s ORDER BY c.id`, q.Join, q.WhereClause())
	rows, err := s.pool.Query(ctx, sql, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read conversation ids: %w", err)
	}
	return ids, nil
}
