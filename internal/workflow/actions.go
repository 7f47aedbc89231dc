package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/techmannih/helpdesk/internal/conversation"
)

// ActionStore is the conversation-side storage surface action execution
// needs.
type ActionStore interface {
	CreateReply(ctx context.Context, conversationID int64, role conversation.MessageRole, content string, metadata conversation.MessageMetadata) (*conversation.Message, error)
	AddNote(ctx context.Context, conversationID int64, body string) error
}

// RunStore records the audit trail of matches.
type RunStore interface {
	InsertRun(ctx context.Context, run Run) error
}

// Transitioner applies status/assignment changes. Actions go through the
// merge root because only the merge target is visible in the inbox.
type Transitioner interface {
	TransitionOriginal(ctx context.Context, id int64, t conversation.Transition) (*conversation.Conversation, error)
}

// MetadataFetcher looks up customer metadata for auto replies; it returns
// nil when the customer is unknown to the mailbox.
type MetadataFetcher interface {
	Fetch(ctx context.Context, mailboxID int64, email string) (map[string]any, error)
}

// Generator produces the auto-reply body from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Runner executes the action list of a matched workflow.
type Runner struct {
	store        ActionStore
	runs         RunStore
	transitioner Transitioner
	metadata     MetadataFetcher
	generator    Generator
}

// NewRunner creates an action runner. metadata and generator may be nil
// when the mailbox has no metadata integration; the auto-reply action then
// skips.
func NewRunner(store ActionStore, runs RunStore, transitioner Transitioner, metadata MetadataFetcher, generator Generator) *Runner {
	return &Runner{store: store, runs: runs, transitioner: transitioner, metadata: metadata, generator: generator}
}

// RunActions executes all actions of the workflow in list order. The action
// list is not a transaction: each failure is logged and the remaining
// actions still run. One Run audit record is written regardless of action
// outcomes, capturing the exact condition snapshot evaluated.
func (r *Runner) RunActions(ctx context.Context, wf Workflow, conv *conversation.Conversation, msg conversation.Message) error {
	for _, action := range wf.Actions {
		if err := r.runAction(ctx, wf, action, conv, msg); err != nil {
			log.Error().Err(err).
				Int64("workflow_id", wf.ID).
				Str("action_type", string(action.Type)).
				Int64("conversation_id", conv.ID).
				Msg("workflow action failed")
		}
	}

	return r.runs.InsertRun(ctx, Run{
		WorkflowID:     wf.ID,
		WorkflowName:   wf.Name,
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		Groups:         wf.Groups,
	})
}

func (r *Runner) runAction(ctx context.Context, wf Workflow, action Action, conv *conversation.Conversation, msg conversation.Message) error {
	switch action.Type {
	case ActionSendEmail:
		_, err := r.store.CreateReply(ctx, conv.ID, conversation.RoleWorkflow, action.Value,
			conversation.WorkflowMetadata{WorkflowID: wf.ID})
		return err

	case ActionAutoReplyFromMeta:
		return r.autoReplyFromMetadata(ctx, wf, conv, msg)

	case ActionChangeStatus:
		// Deprecated action type kept for old rows; change_helper_status
		// replaced it.
		log.Warn().Int64("workflow_id", wf.ID).Msg("skipping deprecated change_status action")
		return nil

	case ActionChangeHelperStatus:
		status := conversation.Status(action.Value)
		if !status.Valid() {
			return fmt.Errorf("%w: %q", conversation.ErrInvalidStatus, action.Value)
		}
		_, err := r.transitioner.TransitionOriginal(ctx, conv.ID, conversation.Transition{
			Set:    conversation.Patch{Status: &status},
			Reason: "Status changed by workflow",
		})
		return err

	case ActionAddNote:
		return r.store.AddNote(ctx, conv.ID, action.Value)

	case ActionAssignUser:
		assignee := action.Value
		_, err := r.transitioner.TransitionOriginal(ctx, conv.ID, conversation.Transition{
			Set:    conversation.Patch{AssigneeID: &assignee},
			Reason: "Assigned by workflow",
		})
		return err
	}
	return fmt.Errorf("unknown workflow action type %q", action.Type)
}

func (r *Runner) autoReplyFromMetadata(ctx context.Context, wf Workflow, conv *conversation.Conversation, msg conversation.Message) error {
	if !wf.AutoReplyFromMetadata {
		log.Info().Int64("workflow_id", wf.ID).Msg("auto-reply skipped: not enabled for this workflow")
		return nil
	}
	if r.metadata == nil || r.generator == nil {
		log.Warn().Int64("workflow_id", wf.ID).Msg("auto-reply skipped: no metadata integration configured")
		return nil
	}

	metadata, err := r.metadata.Fetch(ctx, conv.MailboxID, conv.EmailFrom)
	if err != nil {
		return fmt.Errorf("failed to fetch customer metadata: %w", err)
	}
	if metadata == nil {
		log.Info().Str("email", conv.EmailFrom).Int64("workflow_id", wf.ID).
			Msg("auto-reply skipped: no metadata for customer")
		return nil
	}

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	prompt := fmt.Sprintf(
		"Generate a text to reply to the provided email based on info in metadata.\n\nEmail:\n%s\n\nMetadata:\n%s",
		msg.Content, metadataJSON)
	body, err := r.generator.Generate(ctx, prompt)
	if err != nil {
		return fmt.Errorf("failed to generate auto reply: %w", err)
	}

	_, err = r.store.CreateReply(ctx, conv.ID, conversation.RoleWorkflow, body,
		conversation.WorkflowMetadata{WorkflowID: wf.ID})
	return err
}
