package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"github.com/rs/zerolog/log"

	"github.com/techmannih/helpdesk/internal/ai"
	"github.com/techmannih/helpdesk/internal/autoclose"
	"github.com/techmannih/helpdesk/internal/bulk"
	"github.com/techmannih/helpdesk/internal/conversation"
	"github.com/techmannih/helpdesk/internal/conversation/search"
	"github.com/techmannih/helpdesk/internal/notify"
	"github.com/techmannih/helpdesk/internal/resolution"
	"github.com/techmannih/helpdesk/internal/workflow"
)

// SweepWorker fans the hourly sweep out into one job per mailbox.
type SweepWorker struct {
	river.WorkerDefaults[SweepArgs]
	sweeper *autoclose.Sweeper
}

func (w *SweepWorker) Work(ctx context.Context, job *river.Job[SweepArgs]) error {
	report, err := w.sweeper.Sweep(ctx)
	if err != nil {
		return jobErr(err)
	}
	log.Info().Int("mailboxes", report.ScheduledMailboxes).Msg(report.Status)
	return nil
}

// SweepMailboxWorker closes the inactive conversations of one mailbox.
type SweepMailboxWorker struct {
	river.WorkerDefaults[SweepMailboxArgs]
	sweeper *autoclose.Sweeper
}

func (w *SweepMailboxWorker) Work(ctx context.Context, job *river.Job[SweepMailboxArgs]) error {
	report, err := w.sweeper.SweepMailbox(ctx, job.Args.MailboxID)
	if err != nil {
		return jobErr(err)
	}
	log.Info().Int64("mailbox_id", job.Args.MailboxID).
		Int("found", len(report.Found)).Int("closed", len(report.ClosedIDs)).
		Int("failed", len(report.Failures)).Msg(report.Status)
	if len(report.Failures) > 0 {
		// Partial failure: retry, idempotent closes skip what already
		// succeeded.
		return fmt.Errorf("auto-close failed for %d of %d conversations", len(report.Failures), len(report.Found))
	}
	return nil
}

// CheckResolutionWorker runs the delayed resolution check for one reply.
type CheckResolutionWorker struct {
	river.WorkerDefaults[CheckResolutionArgs]
	detector *resolution.Detector
}

func (w *CheckResolutionWorker) Work(ctx context.Context, job *river.Job[CheckResolutionArgs]) error {
	result, err := w.detector.Check(ctx, job.Args.ConversationID, job.Args.MessageID)
	if err != nil {
		return jobErr(err)
	}
	log.Info().Int64("conversation_id", job.Args.ConversationID).
		Bool("skipped", result.Skipped).Bool("resolved", result.Resolved).
		Str("reason", result.Reason).Msg("resolution check finished")
	return nil
}

// BulkUpdateWorker applies a background bulk transition.
type BulkUpdateWorker struct {
	river.WorkerDefaults[BulkUpdateArgs]
	store    *conversation.PgStore
	executor *bulk.Executor
}

func (w *BulkUpdateWorker) Work(ctx context.Context, job *river.Job[BulkUpdateArgs]) error {
	mailbox, err := w.store.GetMailbox(ctx, job.Args.MailboxID)
	if err != nil {
		return jobErr(err)
	}

	req := bulk.Request{
		Mailbox:    *mailbox,
		IDs:        job.Args.IDs,
		Status:     conversation.Status(job.Args.Status),
		AssigneeID: job.Args.AssigneeID,
		Unassign:   job.Args.Unassign,
		ActorID:    job.Args.ActorID,
		Reason:     job.Args.Reason,
	}
	if len(job.Args.Filter) > 0 {
		var f search.Filter
		if err := json.Unmarshal(job.Args.Filter, &f); err != nil {
			return river.JobCancel(fmt.Errorf("%w: %v", search.ErrInvalidFilter, err))
		}
		req.Filter = &f
	}

	report, err := w.executor.Run(ctx, req)
	if err != nil {
		return jobErr(err)
	}
	log.Info().Int64("mailbox_id", job.Args.MailboxID).
		Int("matched", report.Matched).Int("updated", report.Updated).
		Int("failed", len(report.Failures)).Msg("bulk update finished")
	if len(report.Failures) > 0 {
		return fmt.Errorf("bulk update failed for %d of %d conversations", len(report.Failures), report.Matched)
	}
	return nil
}

// RunWorkflowsWorker evaluates a mailbox's workflows against one inbound
// message and executes the first match. When nothing matches and the
// mailbox auto-responds, it hands off to the auto-response job.
type RunWorkflowsWorker struct {
	river.WorkerDefaults[RunWorkflowsArgs]
	store      *conversation.PgStore
	workflows  *workflow.PgStore
	engine     *workflow.Engine
	runner     *workflow.Runner
	dispatcher *Dispatcher
}

func (w *RunWorkflowsWorker) Work(ctx context.Context, job *river.Job[RunWorkflowsArgs]) error {
	conv, err := w.store.Get(ctx, job.Args.ConversationID)
	if err != nil {
		return jobErr(err)
	}
	msg, err := w.store.GetMessage(ctx, job.Args.MessageID)
	if err != nil {
		return jobErr(err)
	}

	workflows, err := w.workflows.ListActive(ctx, conv.MailboxID)
	if err != nil {
		return jobErr(err)
	}
	if job.Args.IsReply {
		eligible := workflows[:0]
		for _, wf := range workflows {
			if wf.RunOnReplies {
				eligible = append(eligible, wf)
			}
		}
		workflows = eligible
	}

	matched, err := w.engine.Evaluate(ctx, workflow.NewMessageContext(conv, *msg), workflows)
	if err != nil {
		return jobErr(err)
	}
	if matched != nil {
		log.Info().Int64("workflow_id", matched.ID).Int64("conversation_id", conv.ID).
			Str("workflow", matched.Name).Msg("workflow matched")
		return jobErr(w.runner.RunActions(ctx, *matched, conv, *msg))
	}

	if job.Args.IsReply {
		return nil
	}
	mailbox, err := w.store.GetMailbox(ctx, conv.MailboxID)
	if err != nil {
		return jobErr(err)
	}
	if mailbox.AutoRespondEnabled {
		return w.dispatcher.AutoResponse(ctx, conv.ID, msg.ID)
	}
	return nil
}

// AutoResponseWorker drafts an AI reply and schedules its resolution check.
type AutoResponseWorker struct {
	river.WorkerDefaults[AutoResponseArgs]
	store      *conversation.PgStore
	classifier *ai.Classifier
	model      string
	dispatcher *Dispatcher
}

func (w *AutoResponseWorker) Work(ctx context.Context, job *river.Job[AutoResponseArgs]) error {
	conv, err := w.store.Get(ctx, job.Args.ConversationID)
	if err != nil {
		return jobErr(err)
	}
	// A human or workflow reply in the meantime supersedes the draft.
	newer, err := w.store.NewerMessageExists(ctx, conv.ID, job.Args.MessageID)
	if err != nil {
		return jobErr(err)
	}
	if newer {
		log.Debug().Int64("conversation_id", conv.ID).Msg("auto-response skipped: newer message exists")
		return nil
	}

	msg, err := w.store.GetMessage(ctx, job.Args.MessageID)
	if err != nil {
		return jobErr(err)
	}

	prompt := fmt.Sprintf("Write a helpful support reply to the following customer message.\n\nSubject: %s\n\n%s",
		conv.Subject, msg.Content)
	body, err := w.classifier.Generate(ctx, prompt)
	if err != nil {
		return err
	}

	reply, err := w.store.CreateReply(ctx, conv.ID, conversation.RoleAIAssistant, body,
		conversation.AssistantMetadata{Model: w.model})
	if err != nil {
		return jobErr(err)
	}
	return w.dispatcher.ResolutionCheck(ctx, conv.ID, reply.ID)
}

// Embedder recomputes a conversation's search embedding. Optional: without
// one the refresh job is a logged no-op.
type Embedder interface {
	RefreshConversation(ctx context.Context, conversationID int64) error
}

// EmbeddingRefreshWorker refreshes the embedding after a close.
type EmbeddingRefreshWorker struct {
	river.WorkerDefaults[EmbeddingRefreshArgs]
	embedder Embedder
}

func (w *EmbeddingRefreshWorker) Work(ctx context.Context, job *river.Job[EmbeddingRefreshArgs]) error {
	if w.embedder == nil {
		log.Debug().Int64("conversation_id", job.Args.ConversationID).
			Msg("embedding refresh skipped: no embedder configured")
		return nil
	}
	return w.embedder.RefreshConversation(ctx, job.Args.ConversationID)
}

// AssigneeNotificationWorker delivers assignment-change notifications.
type AssigneeNotificationWorker struct {
	river.WorkerDefaults[AssigneeNotificationArgs]
	notifier *notify.Notifier
}

func (w *AssigneeNotificationWorker) Work(ctx context.Context, job *river.Job[AssigneeNotificationArgs]) error {
	return w.notifier.Send(ctx, notify.Event{
		Type:           "conversation.assignee_changed",
		ConversationID: job.Args.ConversationID,
		AssigneeID:     job.Args.AssigneeID,
		OccurredAt:     time.Now(),
	})
}
