// Package notify delivers outbound event notifications to a configured
// webhook. Delivery is best-effort: the caller's state change already
// committed, so failures are logged and never propagated.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Notifier posts JSON payloads to a webhook URL. A zero-URL notifier
// discards everything.
type Notifier struct {
	url    string
	client *http.Client
}

// NewNotifier creates a webhook notifier. An empty url disables delivery.
func NewNotifier(url string) *Notifier {
	return &Notifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Event is one outbound notification.
type Event struct {
	Type           string    `json:"type"`
	ConversationID int64     `json:"conversation_id"`
	MailboxID      int64     `json:"mailbox_id,omitempty"`
	AssigneeID     *string   `json:"assignee_id,omitempty"`
	Detail         string    `json:"detail,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Send posts the event to the webhook. Errors are returned so the caller's
// job queue can retry delivery, but callers on hot paths should enqueue
// instead of calling this inline.
func (n *Notifier) Send(ctx context.Context, event Event) error {
	if n.url == "" {
		log.Debug().Str("type", event.Type).Msg("notification discarded: no webhook configured")
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned %d", resp.StatusCode)
	}
	return nil
}
