package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Dispatcher schedules follow-up work after a transition commits. Side
// effects are never run inside the mutation transaction; the job queue's
// retry covers their delivery.
type Dispatcher interface {
	EmbeddingRefresh(ctx context.Context, conversationID int64) error
	AssigneeChanged(ctx context.Context, conversationID int64, assigneeID *string) error
}

// NopDispatcher discards all scheduled side effects.
type NopDispatcher struct{}

func (NopDispatcher) EmbeddingRefresh(context.Context, int64) error { return nil }

func (NopDispatcher) AssigneeChanged(context.Context, int64, *string) error { return nil }

// PgStore is the Postgres-backed conversation store.
type PgStore struct {
	pool       *pgxpool.Pool
	dispatcher Dispatcher
}

// NewPgStore creates a conversation store. The dispatcher receives
// post-commit side effects; pass NopDispatcher to disable them.
func NewPgStore(pool *pgxpool.Pool, dispatcher Dispatcher) *PgStore {
	if dispatcher == nil {
		dispatcher = NopDispatcher{}
	}
	return &PgStore{pool: pool, dispatcher: dispatcher}
}

const conversationColumns = `id, slug, mailbox_id, status, email_from, subject,
	assignee_id, merged_into_id, last_inbound_message_at, closed_at, created_at, updated_at`

func scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.Slug, &c.MailboxID, &c.Status, &c.EmailFrom, &c.Subject,
		&c.AssigneeID, &c.MergedIntoID, &c.LastInboundMessageAt, &c.ClosedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	return &c, nil
}

// Get retrieves a conversation by id.
func (s *PgStore) Get(ctx context.Context, id int64) (*Conversation, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM conversations WHERE id = $1`, conversationColumns), id)
	return scanConversation(row)
}

// Create inserts a new conversation. Conversations are created on the first
// inbound message and only mutated through Transition afterwards.
func (s *PgStore) Create(ctx context.Context, mailboxID int64, emailFrom, subject string, inboundAt time.Time) (*Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (slug, mailbox_id, status, email_from, subject, last_inbound_message_at, created_at, updated_at)
		VALUES ($1, $2, 'open', $3, $4, $5, NOW(), NOW())
		RETURNING `+conversationColumns,
		uuid.NewString(), mailboxID, emailFrom, subject, inboundAt)
	conv, err := scanConversation(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// lockConversation reads a row under FOR UPDATE inside the transaction.
func lockConversation(ctx context.Context, tx pgx.Tx, id int64) (*Conversation, error) {
	return scanConversation(tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM conversations WHERE id = $1 FOR UPDATE`, conversationColumns), id))
}

// applyTransition runs the patch-diff-update-event step against an already
// locked row. The caller owns the transaction.
func applyTransition(ctx context.Context, tx pgx.Tx, before *Conversation, t Transition) (*Conversation, map[string]any, error) {
	after, err := applyPatch(*before, t.Set, time.Now())
	if err != nil {
		return nil, nil, err
	}

	changes := diffChanges(*before, after)

	_, err = tx.Exec(ctx, `
		UPDATE conversations
		SET status = $2, assignee_id = $3, merged_into_id = $4, closed_at = $5, updated_at = $6
		WHERE id = $1`,
		before.ID, after.Status, after.AssigneeID, after.MergedIntoID, after.ClosedAt, after.UpdatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update conversation %d: %w", before.ID, err)
	}

	if len(changes) > 0 {
		changesJSON, err := json.Marshal(changes)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal changes: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO conversation_events (conversation_id, type, changes, actor_id, reason, created_at)
			VALUES ($1, $2, $3, $4, $5, NOW())`,
			before.ID, string(t.eventType()), changesJSON, t.ActorID, t.Reason)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to insert conversation event: %w", err)
		}
	}
	return &after, changes, nil
}

// Transition applies a state-machine step atomically: the row is locked,
// the patch applied, and exactly one event inserted in the same transaction
// when a logged field actually changed. Re-applying a transition whose
// target state already holds is a no-op with no duplicate event.
func (s *PgStore) Transition(ctx context.Context, id int64, t Transition) (*Conversation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	before, err := lockConversation(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	after, changes, err := applyTransition(ctx, tx, before, t)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}

	s.dispatchSideEffects(ctx, before, after, changes)
	return after, nil
}

// dispatchSideEffects schedules post-commit work. Enqueue failures are
// logged, not propagated: the mutation already committed and the hourly
// sweeps re-derive anything missed.
func (s *PgStore) dispatchSideEffects(ctx context.Context, before, after *Conversation, changes map[string]any) {
	if len(changes) == 0 {
		return
	}
	if before.Status != StatusClosed && after.Status == StatusClosed {
		if err := s.dispatcher.EmbeddingRefresh(ctx, after.ID); err != nil {
			log.Error().Err(err).Int64("conversation_id", after.ID).Msg("failed to schedule embedding refresh")
		}
	}
	if _, ok := changes["assignee_id"]; ok {
		if err := s.dispatcher.AssigneeChanged(ctx, after.ID, after.AssigneeID); err != nil {
			log.Error().Err(err).Int64("conversation_id", after.ID).Msg("failed to schedule assignee notification")
		}
	}
}

// TransitionOriginal applies the transition to the root of the merge forest.
// Automated actions use this because only the merge target is visible in the
// inbox.
func (s *PgStore) TransitionOriginal(ctx context.Context, id int64, t Transition) (*Conversation, error) {
	rootID, err := s.mergeRoot(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Transition(ctx, rootID, t)
}

func (s *PgStore) mergeRoot(ctx context.Context, id int64) (int64, error) {
	for {
		var mergedInto *int64
		err := s.pool.QueryRow(ctx, `SELECT merged_into_id FROM conversations WHERE id = $1`, id).Scan(&mergedInto)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return 0, ErrNotFound
			}
			return 0, fmt.Errorf("failed to resolve merge root for %d: %w", id, err)
		}
		if mergedInto == nil {
			return id, nil
		}
		id = *mergedInto
	}
}

// validateMerge checks the merge invariants against both locked rows: the
// source must not be merged yet and the target must be a merge root, or a
// concurrent Merge(B, C) racing Merge(A, B) could commit the chain A→B→C.
func validateMerge(source, target *Conversation) error {
	if source.MergedIntoID != nil {
		return fmt.Errorf("conversation %d: %w", source.ID, ErrAlreadyMerged)
	}
	if target.MergedIntoID != nil {
		return fmt.Errorf("conversation %d: %w", target.ID, ErrMergeChain)
	}
	return nil
}

// Merge records that source is merged into target. Targets must be merge
// roots: chains are rejected, as is merging a conversation into itself or
// re-merging an already merged source. Both rows are locked in the same
// transaction so the invariants hold against concurrent merges.
func (s *PgStore) Merge(ctx context.Context, sourceID, targetID int64, actorID *string, reason string) (*Conversation, error) {
	if sourceID == targetID {
		return nil, ErrMergeIntoSelf
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock in id order so two merges touching the same pair cannot
	// deadlock.
	firstID, secondID := sourceID, targetID
	if secondID < firstID {
		firstID, secondID = secondID, firstID
	}
	first, err := lockConversation(ctx, tx, firstID)
	if err != nil {
		return nil, err
	}
	second, err := lockConversation(ctx, tx, secondID)
	if err != nil {
		return nil, err
	}

	source, target := first, second
	if source.ID != sourceID {
		source, target = second, first
	}
	if err := validateMerge(source, target); err != nil {
		return nil, err
	}

	after, changes, err := applyTransition(ctx, tx, source, Transition{
		Set:     Patch{MergedIntoID: &targetID},
		ActorID: actorID,
		Reason:  reason,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit merge: %w", err)
	}

	s.dispatchSideEffects(ctx, source, after, changes)
	return after, nil
}
