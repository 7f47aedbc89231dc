// Package conversation holds the conversation domain model, the event-sourced
// state machine and the Postgres storage behind both.
package conversation

import (
	"time"
)

// Status is the lifecycle state of a conversation. Conversations are never
// hard-deleted; spam and closed are soft terminal states.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
	StatusSpam   Status = "spam"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusClosed, StatusSpam:
		return true
	}
	return false
}

// EventType classifies an entry in the conversation event log.
type EventType string

const (
	EventUpdate              EventType = "update"
	EventResolvedByAI        EventType = "resolved_by_ai"
	EventAutoClosedInactive  EventType = "auto_closed_due_to_inactivity"
	EventRequestHumanSupport EventType = "request_human_support"
)

// Conversation is a customer support thread owned by one mailbox (tenant).
type Conversation struct {
	ID                   int64
	Slug                 string
	MailboxID            int64
	Status               Status
	EmailFrom            string
	Subject              string
	AssigneeID           *string
	MergedIntoID         *int64
	LastInboundMessageAt *time.Time
	ClosedAt             *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Event is an immutable, append-only audit record. Every state-changing
// mutation of a conversation writes exactly one event in the same
// transaction; the log is the source of truth for idempotency checks.
type Event struct {
	ID             int64
	ConversationID int64
	Type           EventType
	// Changes is a sparse diff of the conversation fields that changed.
	Changes map[string]any
	// ActorID is nil for system-generated events.
	ActorID   *string
	Reason    string
	CreatedAt time.Time
}

// MessageRole identifies who authored a message.
type MessageRole string

const (
	RoleUser        MessageRole = "user"
	RoleStaff       MessageRole = "staff"
	RoleAIAssistant MessageRole = "ai_assistant"
	RoleWorkflow    MessageRole = "workflow"
)

// Reaction is a customer reaction on an assistant message.
type Reaction string

const (
	ReactionThumbsUp   Reaction = "thumbs-up"
	ReactionThumbsDown Reaction = "thumbs-down"
)

// MessageMetadata is the per-role metadata attached to a message. It is a
// tagged union keyed by role so consumers can switch exhaustively instead of
// digging through an untyped bag.
type MessageMetadata interface {
	messageMetadata()
}

// UserMetadata accompanies inbound customer messages.
type UserMetadata struct {
	EmailFrom string   `json:"email_from"`
	CC        []string `json:"cc,omitempty"`
}

// StaffMetadata accompanies replies written by a human agent.
type StaffMetadata struct {
	UserID string `json:"user_id"`
}

// AssistantMetadata accompanies AI-generated replies.
type AssistantMetadata struct {
	Model string `json:"model,omitempty"`
}

// WorkflowMetadata accompanies replies sent by a workflow action.
type WorkflowMetadata struct {
	WorkflowID int64 `json:"workflow_id"`
}

func (UserMetadata) messageMetadata()      {}
func (StaffMetadata) messageMetadata()     {}
func (AssistantMetadata) messageMetadata() {}
func (WorkflowMetadata) messageMetadata()  {}

// Message is one entry in a conversation thread.
type Message struct {
	ID             int64
	ConversationID int64
	Role           MessageRole
	Content        string
	Reaction       *Reaction
	Metadata       MessageMetadata
	CreatedAt      time.Time
}

// Mailbox is the tenant boundary: each mailbox owns its conversations,
// workflows and settings.
type Mailbox struct {
	ID                        int64
	Slug                      string
	Name                      string
	AutoCloseEnabled          bool
	AutoCloseDaysOfInactivity int
	// ValueRankingEnabled indicates a customer-value signal is configured,
	// which makes "highest value first" the default search ordering.
	ValueRankingEnabled bool
	AutoRespondEnabled  bool
}
