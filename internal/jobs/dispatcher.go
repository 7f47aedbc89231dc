package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
)

// Dispatcher is the enqueue side of the queue. It satisfies the dispatcher
// interfaces of the domain packages so they stay decoupled from River.
type Dispatcher struct {
	client          *river.Client[pgx.Tx]
	resolutionDelay time.Duration
}

// NewDispatcher creates an unbound dispatcher. NewQueue binds it to the
// queue client; this split lets stores take the dispatcher before the queue
// exists.
func NewDispatcher(resolutionDelay time.Duration) *Dispatcher {
	return &Dispatcher{resolutionDelay: resolutionDelay}
}

func (d *Dispatcher) insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) error {
	if _, err := d.client.Insert(ctx, args, opts); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", args.Kind(), err)
	}
	return nil
}

// SweepMailbox schedules the per-mailbox auto-close pass.
func (d *Dispatcher) SweepMailbox(ctx context.Context, mailboxID int64) error {
	return d.insert(ctx, SweepMailboxArgs{MailboxID: mailboxID}, nil)
}

// ResolutionCheck schedules the resolution check for a reply to run after
// the configured quiet period. The queue's dedupe absorbs re-delivery.
func (d *Dispatcher) ResolutionCheck(ctx context.Context, conversationID, messageID int64) error {
	return d.insert(ctx,
		CheckResolutionArgs{ConversationID: conversationID, MessageID: messageID},
		&river.InsertOpts{ScheduledAt: time.Now().Add(d.resolutionDelay)})
}

// AutoResponse schedules an AI reply draft for an inbound message.
func (d *Dispatcher) AutoResponse(ctx context.Context, conversationID, messageID int64) error {
	return d.insert(ctx, AutoResponseArgs{ConversationID: conversationID, MessageID: messageID}, nil)
}

// Workflows schedules workflow evaluation for an inbound message.
func (d *Dispatcher) Workflows(ctx context.Context, conversationID, messageID int64, isReply bool) error {
	return d.insert(ctx, RunWorkflowsArgs{
		ConversationID: conversationID,
		MessageID:      messageID,
		IsReply:        isReply,
	}, nil)
}

// BulkUpdate schedules a background bulk transition.
func (d *Dispatcher) BulkUpdate(ctx context.Context, args BulkUpdateArgs) error {
	return d.insert(ctx, args, nil)
}

// EmbeddingRefresh schedules the post-close embedding refresh.
func (d *Dispatcher) EmbeddingRefresh(ctx context.Context, conversationID int64) error {
	return d.insert(ctx, EmbeddingRefreshArgs{ConversationID: conversationID}, nil)
}

// AssigneeChanged schedules the assignment-change notification.
func (d *Dispatcher) AssigneeChanged(ctx context.Context, conversationID int64, assigneeID *string) error {
	return d.insert(ctx, AssigneeNotificationArgs{
		ConversationID: conversationID,
		AssigneeID:     assigneeID,
	}, nil)
}
