// Package resolution decides whether an AI-handled conversation was actually
// resolved, a configurable delay after the last assistant reply.
package resolution

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/techmannih/helpdesk/internal/ai"
	"github.com/techmannih/helpdesk/internal/conversation"
)

const resolutionRubric = `You are analyzing a customer service conversation to determine if the customer's issue was addressed.

Respond with one of:
- 'bad: [reason]' if the customer explicitly expresses dissatisfaction or frustration, or if the response is unrelated to the customer's question
- 'ok: [reason]' otherwise

Where [reason] is a brief explanation of your decision.

Just check if the assistant has provided information generally relevant to the customer's issue - it doesn't need to be an exact match.`

// Store is the subset of conversation storage the detector reads and writes.
type Store interface {
	NewerMessageExists(ctx context.Context, conversationID, messageID int64) (bool, error)
	FirstEventOfTypes(ctx context.Context, conversationID int64, types ...conversation.EventType) (conversation.EventType, bool, error)
	HasStaffReply(ctx context.Context, conversationID int64) (bool, error)
	LastAssistantMessage(ctx context.Context, conversationID int64) (*conversation.Message, error)
	Messages(ctx context.Context, conversationID int64) ([]conversation.Message, error)
	InsertEvent(ctx context.Context, ev conversation.Event) error
}

// Classifier is the AI collaborator used as the fallback when no reaction
// settles the question.
type Classifier interface {
	Classify(ctx context.Context, messages []ai.Message, rubric string) (string, error)
}

// Result reports what the detector decided. Skipped results performed no
// classifier call and wrote no event.
type Result struct {
	Skipped  bool   `json:"skipped"`
	Resolved bool   `json:"resolved"`
	Reason   string `json:"reason"`
}

// Detector runs the resolution check for one (conversation, message) pair.
type Detector struct {
	store      Store
	classifier Classifier
	delay      time.Duration
}

// NewDetector creates a detector. The delay is only used to phrase the
// recorded event reason; scheduling the check after the delay is the job
// queue's business.
func NewDetector(store Store, classifier Classifier, delay time.Duration) *Detector {
	return &Detector{store: store, classifier: classifier, delay: delay}
}

// skipCheck is one heuristic in the ordered chain. Cheapest and most certain
// checks run first; the first match short-circuits the rest, so a skip never
// costs a classifier call.
type skipCheck func(ctx context.Context) (reason string, skip bool, err error)

func (d *Detector) skipChain(conversationID, messageID int64) []skipCheck {
	return []skipCheck{
		// A newer message supersedes the one being checked; the newer
		// message's own check will run later.
		func(ctx context.Context) (string, bool, error) {
			newer, err := d.store.NewerMessageExists(ctx, conversationID, messageID)
			if err != nil {
				return "", false, err
			}
			return "superseded by a newer message", newer, nil
		},
		// A terminal event means the question is already answered.
		func(ctx context.Context) (string, bool, error) {
			eventType, found, err := d.store.FirstEventOfTypes(ctx, conversationID,
				conversation.EventResolvedByAI, conversation.EventRequestHumanSupport)
			if err != nil {
				return "", false, err
			}
			return fmt.Sprintf("terminal event already recorded: %s", eventType), found, nil
		},
		// Once a human is involved, humans own the resolution determination.
		func(ctx context.Context) (string, bool, error) {
			replied, err := d.store.HasStaffReply(ctx, conversationID)
			if err != nil {
				return "", false, err
			}
			return "a staff member has replied", replied, nil
		},
	}
}

// Check runs the skip chain, then the reaction shortcut, then the AI
// fallback. It is idempotent: the terminal-event skip makes a re-run after
// a recorded resolution a no-op.
func (d *Detector) Check(ctx context.Context, conversationID, messageID int64) (Result, error) {
	for _, check := range d.skipChain(conversationID, messageID) {
		reason, skip, err := check(ctx)
		if err != nil {
			return Result{}, err
		}
		if skip {
			log.Debug().Int64("conversation_id", conversationID).Str("reason", reason).
				Msg("resolution check skipped")
			return Result{Skipped: true, Reason: reason}, nil
		}
	}

	lastAssistant, err := d.store.LastAssistantMessage(ctx, conversationID)
	if err != nil {
		return Result{}, err
	}
	if lastAssistant != nil && lastAssistant.Reaction != nil {
		switch *lastAssistant.Reaction {
		case conversation.ReactionThumbsUp:
			if err := d.recordResolved(ctx, conversationID, "Positive reaction with no follow-up questions."); err != nil {
				return Result{}, err
			}
			return Result{Resolved: true, Reason: "positive reaction"}, nil
		case conversation.ReactionThumbsDown:
			// Dissatisfaction is not auto-logged as a terminal state; a
			// human or a later check still gets to weigh in.
			return Result{Resolved: false, Reason: "negative reaction"}, nil
		}
	}

	resolved, reason, err := d.classify(ctx, conversationID)
	if err != nil {
		return Result{}, err
	}
	if resolved {
		hours := int(d.delay.Hours())
		note := fmt.Sprintf("No customer follow-up after %d hours.", hours)
		if hours < 1 {
			note = fmt.Sprintf("No customer follow-up after %d minutes.", int(d.delay.Minutes()))
		}
		if err := d.recordResolved(ctx, conversationID, note); err != nil {
			return Result{}, err
		}
	}
	return Result{Resolved: resolved, Reason: reason}, nil
}

func (d *Detector) classify(ctx context.Context, conversationID int64) (bool, string, error) {
	messages, err := d.store.Messages(ctx, conversationID)
	if err != nil {
		return false, "", err
	}

	history := make([]ai.Message, 0, len(messages))
	for _, msg := range messages {
		role := ai.RoleAssistant
		if msg.Role == conversation.RoleUser {
			role = ai.RoleUser
		}
		history = append(history, ai.Message{Role: role, Content: msg.Content})
	}

	verdict, err := d.classifier.Classify(ctx, history, resolutionRubric)
	if err != nil {
		return false, "", fmt.Errorf("resolution classifier: %w", err)
	}

	// The reason is kept for observability only; control flow depends
	// solely on the ok/bad split, defaulting to not-resolved on garbage.
	resolved, reason := ai.ParseResolution(verdict)
	return resolved, reason, nil
}

func (d *Detector) recordResolved(ctx context.Context, conversationID int64, reason string) error {
	return d.store.InsertEvent(ctx, conversation.Event{
		ConversationID: conversationID,
		Type:           conversation.EventResolvedByAI,
		Reason:         reason,
	})
}
