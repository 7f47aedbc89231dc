package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendPostsJSONPayload(t *testing.T) {
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL)
	err := n.Send(context.Background(), Event{
		Type:           "conversation.assignee_changed",
		ConversationID: 42,
		OccurredAt:     time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), received.ConversationID)
	assert.Equal(t, "conversation.assignee_changed", received.Type)
}

func TestSendErrorStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewNotifier(srv.URL).Send(context.Background(), Event{Type: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestSendNoWebhookConfiguredIsNoOp(t *testing.T) {
	require.NoError(t, NewNotifier("").Send(context.Background(), Event{Type: "x"}))
}
