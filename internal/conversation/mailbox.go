package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const mailboxColumns = `id, slug, name, auto_close_enabled, auto_close_days_of_inactivity,
	value_ranking_enabled, auto_respond_enabled`

func scanMailbox(row pgx.Row) (*Mailbox, error) {
	var mb Mailbox
	err := row.Scan(&mb.ID, &mb.Slug, &mb.Name, &mb.AutoCloseEnabled, &mb.AutoCloseDaysOfInactivity,
		&mb.ValueRankingEnabled, &mb.AutoRespondEnabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("mailbox: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan mailbox: %w", err)
	}
	return &mb, nil
}

// GetMailbox retrieves a mailbox by id.
func (s *PgStore) GetMailbox(ctx context.Context, id int64) (*Mailbox, error) {
	return scanMailbox(s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM mailboxes WHERE id = $1`, mailboxColumns), id))
}

// GetMailboxBySlug retrieves a mailbox by its URL slug.
func (s *PgStore) GetMailboxBySlug(ctx context.Context, slug string) (*Mailbox, error) {
	return scanMailbox(s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM mailboxes WHERE slug = $1`, mailboxColumns), slug))
}

// AutoCloseEnabledMailboxes lists the tenants the hourly sweep fans out to.
func (s *PgStore) AutoCloseEnabledMailboxes(ctx context.Context) ([]Mailbox, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM mailboxes WHERE auto_close_enabled ORDER BY id`, mailboxColumns))
	if err != nil {
		return nil, fmt.Errorf("failed to list auto-close mailboxes: %w", err)
	}
	defer rows.Close()

	var mailboxes []Mailbox
	for rows.Next() {
		mb, err := scanMailbox(rows)
		if err != nil {
			return nil, err
		}
		mailboxes = append(mailboxes, *mb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mailboxes: %w", err)
	}
	return mailboxes, nil
}

// Ref identifies a conversation without loading the full row.
type Ref struct {
	ID   int64
	Slug string
}

// InactiveOpenConversations lists open conversations whose last inbound
// message predates the cutoff. The auto-close sweep closes each one.
func (s *PgStore) InactiveOpenConversations(ctx context.Context, mailboxID int64, cutoff time.Time) ([]Ref, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, slug FROM conversations
		WHERE mailbox_id = $1 AND status = 'open'
			AND merged_into_id IS NULL
			AND last_inbound_message_at < $2
		ORDER BY id`, mailboxID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list inactive conversations: %w", err)
	}
	defer rows.Close()

	var refs []Ref
	for rows.Next() {
		var ref Ref
		if err := rows.Scan(&ref.ID, &ref.Slug); err != nil {
			return nil, fmt.Errorf("failed to scan conversation ref: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read conversation refs: %w", err)
	}
	return refs, nil
}
