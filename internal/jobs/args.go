// Package jobs wires the domain services onto the River job queue: durable,
// at-least-once execution with cron scheduling, delayed runs, per-key
// dedupe and retry with backoff.
package jobs

import (
	"encoding/json"

	"github.com/riverqueue/river"
)

// SweepArgs triggers level 1 of the auto-close sweep. Scheduled hourly by
// the periodic job; carries no payload.
type SweepArgs struct{}

func (SweepArgs) Kind() string { return "auto_close_inactive_conversations" }

// SweepMailboxArgs triggers level 2 of the sweep for one mailbox.
type SweepMailboxArgs struct {
	MailboxID int64 `json:"mailbox_id"`
}

func (SweepMailboxArgs) Kind() string { return "auto_close_mailbox" }

// InsertOpts dedupes concurrent sweeps of the same mailbox: an hourly tick
// that fires while the previous mailbox sweep is still pending inserts
// nothing.
func (SweepMailboxArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{UniqueOpts: river.UniqueOpts{ByArgs: true}}
}

// CheckResolutionArgs runs the resolution check for one assistant reply,
// after the configured quiet period.
type CheckResolutionArgs struct {
	ConversationID int64 `json:"conversation_id"`
	MessageID      int64 `json:"message_id"`
}

func (CheckResolutionArgs) Kind() string { return "check_conversation_resolution" }

// InsertOpts dedupes by (conversation, message) so re-delivered webhooks
// never stack duplicate checks for the same reply.
func (CheckResolutionArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{UniqueOpts: river.UniqueOpts{ByArgs: true}}
}

// BulkUpdateArgs applies a status transition to a set of conversations in
// the background. Larger selections than the inline threshold land here.
type BulkUpdateArgs struct {
	MailboxID  int64           `json:"mailbox_id"`
	IDs        []int64         `json:"ids,omitempty"`
	Filter     json.RawMessage `json:"filter,omitempty"`
	Status     string          `json:"status"`
	AssigneeID *string         `json:"assignee_id,omitempty"`
	Unassign   bool            `json:"unassign,omitempty"`
	ActorID    *string         `json:"actor_id,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

func (BulkUpdateArgs) Kind() string { return "bulk_update_conversations" }

// RunWorkflowsArgs evaluates the mailbox's workflows against one inbound
// message.
type RunWorkflowsArgs struct {
	ConversationID int64 `json:"conversation_id"`
	MessageID      int64 `json:"message_id"`
	IsReply        bool  `json:"is_reply"`
}

func (RunWorkflowsArgs) Kind() string { return "run_workflows" }

// AutoResponseArgs drafts an AI reply to an inbound message when the
// mailbox has auto-respond enabled and no workflow claimed the message.
type AutoResponseArgs struct {
	ConversationID int64 `json:"conversation_id"`
	MessageID      int64 `json:"message_id"`
}

func (AutoResponseArgs) Kind() string { return "send_auto_response" }

// EmbeddingRefreshArgs refreshes the search embedding of a conversation
// after it closes.
type EmbeddingRefreshArgs struct {
	ConversationID int64 `json:"conversation_id"`
}

func (EmbeddingRefreshArgs) Kind() string { return "refresh_conversation_embedding" }

// InsertOpts collapses repeated refreshes of the same conversation.
func (EmbeddingRefreshArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{UniqueOpts: river.UniqueOpts{ByArgs: true}}
}

// AssigneeNotificationArgs notifies the configured webhook about an
// assignment change.
type AssigneeNotificationArgs struct {
	ConversationID int64   `json:"conversation_id"`
	AssigneeID     *string `json:"assignee_id,omitempty"`
}

func (AssigneeNotificationArgs) Kind() string { return "notify_assignee_changed" }
