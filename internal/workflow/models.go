// Package workflow evaluates declarative per-mailbox rules against inbound
// messages and executes their actions. Matching is first-match-wins across
// workflows, any-group across a workflow's groups, all-conditions within a
// group.
package workflow

import (
	"strings"
	"time"

	"github.com/techmannih/helpdesk/internal/conversation"
)

// ConditionField names the message attribute a condition inspects.
type ConditionField string

const (
	FieldStatus           ConditionField = "status"
	FieldSubject          ConditionField = "subject"
	FieldEmail            ConditionField = "email"
	FieldQuestion         ConditionField = "question"
	FieldCC               ConditionField = "cc"
	FieldFullEmailContext ConditionField = "full_email_context"
)

// Operator is a condition operator. All deterministic operators compare
// case-insensitively; the AI conditional is the only non-deterministic one
// and is always evaluated last within a group.
type Operator string

const (
	OpContains         Operator = "contains"
	OpNotContains      Operator = "doesn't contain"
	OpEquals           Operator = "is equal to"
	OpNotEquals        Operator = "is not equal to"
	OpStartsWith       Operator = "starts with"
	OpEndsWith         Operator = "ends with"
	OpAIConditionalFor Operator = "passes AI conditional for"
)

// Condition is one predicate. For the AI operator, Value is a natural
// language predicate description rather than a literal.
type Condition struct {
	Field    ConditionField `json:"field"`
	Operator Operator       `json:"operator"`
	Value    string         `json:"value"`
}

// ConditionGroup matches when all of its conditions match.
type ConditionGroup struct {
	ID         int64       `json:"id"`
	Conditions []Condition `json:"conditions"`
}

// ActionType names what a workflow action does on match.
type ActionType string

const (
	ActionSendEmail          ActionType = "send_email"
	ActionAutoReplyFromMeta  ActionType = "send_auto_reply_from_metadata"
	ActionChangeStatus       ActionType = "change_status"
	ActionChangeHelperStatus ActionType = "change_helper_status"
	ActionAddNote            ActionType = "add_note"
	ActionAssignUser         ActionType = "assign_user"
)

// Action is one step of a workflow's action list; Value is interpreted per
// type.
type Action struct {
	ID    int64      `json:"id"`
	Type  ActionType `json:"action_type"`
	Value string     `json:"action_value"`
}

// Workflow is a tenant-scoped rule. Lower Order runs first; soft-deleted
// workflows are excluded from evaluation entirely.
type Workflow struct {
	ID                    int64
	MailboxID             int64
	Name                  string
	Order                 int
	RunOnReplies          bool
	AutoReplyFromMetadata bool
	DeletedAt             *time.Time
	Groups                []ConditionGroup
	Actions               []Action
}

// Run is the append-only audit record of one workflow match: the exact
// condition snapshot evaluated and the message it matched.
type Run struct {
	ID             int64
	WorkflowID     int64
	WorkflowName   string
	ConversationID int64
	MessageID      int64
	Groups         []ConditionGroup
	CreatedAt      time.Time
}

// MessageContext exposes the named fields conditions evaluate against.
type MessageContext struct {
	Status   string
	Subject  string
	Email    string
	Question string
	CC       string
}

// NewMessageContext derives the evaluation context from a message and its
// conversation.
func NewMessageContext(conv *conversation.Conversation, msg conversation.Message) MessageContext {
	mc := MessageContext{
		Status:   string(conv.Status),
		Subject:  conv.Subject,
		Email:    conv.EmailFrom,
		Question: msg.Content,
	}
	if meta, ok := msg.Metadata.(conversation.UserMetadata); ok {
		if meta.EmailFrom != "" {
			mc.Email = meta.EmailFrom
		}
		if len(meta.CC) > 0 {
			mc.CC = strings.Join(meta.CC, ", ")
		}
	}
	return mc
}

// Field returns the value of the named field. The full email context is the
// subject, sender and body together.
func (m MessageContext) Field(f ConditionField) string {
	switch f {
	case FieldStatus:
		return m.Status
	case FieldSubject:
		return m.Subject
	case FieldEmail:
		return m.Email
	case FieldQuestion:
		return m.Question
	case FieldCC:
		return m.CC
	case FieldFullEmailContext:
		return "Subject: " + m.Subject + "\nFrom: " + m.Email + "\n\n" + m.Question
	}
	return ""
}
