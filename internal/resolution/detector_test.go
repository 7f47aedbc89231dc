package resolution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techmannih/helpdesk/internal/ai"
	"github.com/techmannih/helpdesk/internal/conversation"
)

type fakeStore struct {
	newerMessage  bool
	terminalEvent conversation.EventType
	staffReply    bool
	lastAssistant *conversation.Message
	messages      []conversation.Message

	events []conversation.Event
}

func (f *fakeStore) NewerMessageExists(ctx context.Context, conversationID, messageID int64) (bool, error) {
	return f.newerMessage, nil
}

func (f *fakeStore) FirstEventOfTypes(ctx context.Context, conversationID int64, types ...conversation.EventType) (conversation.EventType, bool, error) {
	for _, t := range types {
		if t == f.terminalEvent {
			return t, true, nil
		}
	}
	return "", false, nil
}

func (f *fakeStore) HasStaffReply(ctx context.Context, conversationID int64) (bool, error) {
	return f.staffReply, nil
}

func (f *fakeStore) LastAssistantMessage(ctx context.Context, conversationID int64) (*conversation.Message, error) {
	return f.lastAssistant, nil
}

func (f *fakeStore) Messages(ctx context.Context, conversationID int64) ([]conversation.Message, error) {
	return f.messages, nil
}

func (f *fakeStore) InsertEvent(ctx context.Context, ev conversation.Event) error {
	f.events = append(f.events, ev)
	return nil
}

type fakeClassifier struct {
	verdict string
	calls   int
}

func (f *fakeClassifier) Classify(ctx context.Context, messages []ai.Message, rubric string) (string, error) {
	f.calls++
	return f.verdict, nil
}

func reaction(r conversation.Reaction) *conversation.Message {
	return &conversation.Message{Role: conversation.RoleAIAssistant, Reaction: &r}
}

func newTestDetector(store Store, classifier Classifier) *Detector {
	return NewDetector(store, classifier, 24*time.Hour)
}

func TestCheckSkipsWhenNewerMessageExists(t *testing.T) {
	store := &fakeStore{newerMessage: true}
	classifier := &fakeClassifier{}
	d := newTestDetector(store, classifier)

	result, err := d.Check(context.Background(), 1, 10)
	require.NoError(t, err)

	assert.True(t, result.Skipped)
	// A skip costs neither a classifier call nor an event write.
	assert.Zero(t, classifier.calls)
	assert.Empty(t, store.events)
}

func TestCheckSkipsOnExistingTerminalEvent(t *testing.T) {
	for _, ev := range []conversation.EventType{
		conversation.EventResolvedByAI,
		conversation.EventRequestHumanSupport,
	} {
		store := &fakeStore{terminalEvent: ev}
		classifier := &fakeClassifier{}
		d := newTestDetector(store, classifier)

		result, err := d.Check(context.Background(), 1, 10)
		require.NoError(t, err)
		assert.True(t, result.Skipped, "event %s", ev)
		assert.Zero(t, classifier.calls)
	}
}

func TestCheckSkipsOnStaffReply(t *testing.T) {
	store := &fakeStore{staffReply: true}
	classifier := &fakeClassifier{}
	d := newTestDetector(store, classifier)

	result, err := d.Check(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Zero(t, classifier.calls)
}

func TestCheckThumbsUpResolvesWithoutClassifier(t *testing.T) {
	store := &fakeStore{lastAssistant: reaction(conversation.ReactionThumbsUp)}
	classifier := &fakeClassifier{}
	d := newTestDetector(store, classifier)

	result, err := d.Check(context.Background(), 1, 10)
	require.NoError(t, err)

	assert.False(t, result.Skipped)
	assert.True(t, result.Resolved)
	assert.Zero(t, classifier.calls)

	require.Len(t, store.events, 1)
	assert.Equal(t, conversation.EventResolvedByAI, store.events[0].Type)
	assert.Equal(t, "Positive reaction with no follow-up questions.", store.events[0].Reason)
	assert.Nil(t, store.events[0].ActorID)
}

func TestCheckThumbsDownNotResolvedNoEvent(t *testing.T) {
	store := &fakeStore{lastAssistant: reaction(conversation.ReactionThumbsDown)}
	classifier := &fakeClassifier{}
	d := newTestDetector(store, classifier)

	result, err := d.Check(context.Background(), 1, 10)
	require.NoError(t, err)

	assert.False(t, result.Resolved)
	assert.Zero(t, classifier.calls)
	assert.Empty(t, store.events)
}

func TestCheckClassifierFallbackResolves(t *testing.T) {
	store := &fakeStore{
		messages: []conversation.Message{
			{Role: conversation.RoleUser, Content: "how do i reset my password?"},
			{Role: conversation.RoleAIAssistant, Content: "use the forgot password link"},
		},
	}
	classifier := &fakeClassifier{verdict: "ok: relevant answer provided"}
	d := newTestDetector(store, classifier)

	result, err := d.Check(context.Background(), 1, 10)
	require.NoError(t, err)

	assert.True(t, result.Resolved)
	assert.Equal(t, 1, classifier.calls)
	require.Len(t, store.events, 1)
	assert.Equal(t, "No customer follow-up after 24 hours.", store.events[0].Reason)
}

func TestCheckClassifierFallbackNotResolved(t *testing.T) {
	store := &fakeStore{messages: []conversation.Message{{Role: conversation.RoleUser, Content: "hi"}}}
	classifier := &fakeClassifier{verdict: "bad: customer is still confused"}
	d := newTestDetector(store, classifier)

	result, err := d.Check(context.Background(), 1, 10)
	require.NoError(t, err)

	assert.False(t, result.Resolved)
	assert.Empty(t, store.events)
}

func TestCheckGarbageVerdictDefaultsToNotResolved(t *testing.T) {
	store := &fakeStore{}
	classifier := &fakeClassifier{verdict: "I am not sure what you mean"}
	d := newTestDetector(store, classifier)

	result, err := d.Check(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.False(t, result.Resolved)
	assert.Empty(t, store.events)
}

func TestCheckSubHourDelayPhrasedInMinutes(t *testing.T) {
	store := &fakeStore{}
	classifier := &fakeClassifier{verdict: "ok: fine"}
	d := NewDetector(store, classifier, 30*time.Minute)

	_, err := d.Check(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, store.events, 1)
	assert.Equal(t, "No customer follow-up after 30 minutes.", store.events[0].Reason)
}
