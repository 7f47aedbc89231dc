package autoclose

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techmannih/helpdesk/internal/conversation"
)

type fakeStore struct {
	mailboxes map[int64]conversation.Mailbox
	inactive  []conversation.Ref

	cutoffSeen time.Time
}

func (f *fakeStore) AutoCloseEnabledMailboxes(ctx context.Context) ([]conversation.Mailbox, error) {
	var out []conversation.Mailbox
	for _, mb := range f.mailboxes {
		if mb.AutoCloseEnabled {
			out = append(out, mb)
		}
	}
	return out, nil
}

func (f *fakeStore) GetMailbox(ctx context.Context, id int64) (*conversation.Mailbox, error) {
	mb, ok := f.mailboxes[id]
	if !ok {
		return nil, conversation.ErrNotFound
	}
	return &mb, nil
}

func (f *fakeStore) InactiveOpenConversations(ctx context.Context, mailboxID int64, cutoff time.Time) ([]conversation.Ref, error) {
	f.cutoffSeen = cutoff
	return f.inactive, nil
}

type fakeDispatcher struct {
	mu        sync.Mutex
	scheduled []int64
}

func (f *fakeDispatcher) SweepMailbox(ctx context.Context, mailboxID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, mailboxID)
	return nil
}

type fakeTransitioner struct {
	mu     sync.Mutex
	closed []int64
	failOn map[int64]error
}

func (f *fakeTransitioner) Transition(ctx context.Context, id int64, t conversation.Transition) (*conversation.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failOn[id]; ok {
		return nil, err
	}
	f.closed = append(f.closed, id)
	return &conversation.Conversation{ID: id, Status: conversation.StatusClosed}, nil
}

func TestSweepSchedulesOnlyEnabledMailboxes(t *testing.T) {
	store := &fakeStore{mailboxes: map[int64]conversation.Mailbox{
		1: {ID: 1, AutoCloseEnabled: true, AutoCloseDaysOfInactivity: 14},
		2: {ID: 2},
		3: {ID: 3, AutoCloseEnabled: true, AutoCloseDaysOfInactivity: 30},
	}}
	dispatcher := &fakeDispatcher{}
	s := NewSweeper(store, dispatcher, &fakeTransitioner{}, 4)

	report, err := s.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.ScheduledMailboxes)
	assert.ElementsMatch(t, []int64{1, 3}, dispatcher.scheduled)
}

func TestSweepNoEnabledMailboxes(t *testing.T) {
	store := &fakeStore{mailboxes: map[int64]conversation.Mailbox{1: {ID: 1}}}
	dispatcher := &fakeDispatcher{}
	s := NewSweeper(store, dispatcher, &fakeTransitioner{}, 4)

	report, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.ScheduledMailboxes)
	assert.Empty(t, dispatcher.scheduled)
}

func TestSweepMailboxClosesInactiveConversations(t *testing.T) {
	store := &fakeStore{
		mailboxes: map[int64]conversation.Mailbox{
			1: {ID: 1, Name: "Support", AutoCloseEnabled: true, AutoCloseDaysOfInactivity: 14},
		},
		inactive: []conversation.Ref{{ID: 10}, {ID: 11}, {ID: 12}},
	}
	tr := &fakeTransitioner{}
	s := NewSweeper(store, &fakeDispatcher{}, tr, 2)

	report, err := s.SweepMailbox(context.Background(), 1)
	require.NoError(t, err)

	assert.Len(t, report.Found, 3)
	assert.ElementsMatch(t, []int64{10, 11, 12}, report.ClosedIDs)
	assert.Empty(t, report.Failures)
	assert.ElementsMatch(t, []int64{10, 11, 12}, tr.closed)

	// Cutoff is days-of-inactivity back from the top of the current hour.
	assert.Equal(t, store.cutoffSeen, store.cutoffSeen.Truncate(time.Hour))
	assert.WithinDuration(t, time.Now().AddDate(0, 0, -14), store.cutoffSeen, time.Hour+time.Minute)
}

func TestSweepMailboxDisabledIsTerminal(t *testing.T) {
	store := &fakeStore{mailboxes: map[int64]conversation.Mailbox{1: {ID: 1}}}
	s := NewSweeper(store, &fakeDispatcher{}, &fakeTransitioner{}, 4)

	_, err := s.SweepMailbox(context.Background(), 1)
	require.ErrorIs(t, err, ErrAutoCloseDisabled)
}

func TestSweepMailboxUnknownMailbox(t *testing.T) {
	store := &fakeStore{mailboxes: map[int64]conversation.Mailbox{}}
	s := NewSweeper(store, &fakeDispatcher{}, &fakeTransitioner{}, 4)

	_, err := s.SweepMailbox(context.Background(), 99)
	require.ErrorIs(t, err, conversation.ErrNotFound)
}

func TestSweepMailboxPartialFailure(t *testing.T) {
	store := &fakeStore{
		mailboxes: map[int64]conversation.Mailbox{
			1: {ID: 1, AutoCloseEnabled: true, AutoCloseDaysOfInactivity: 7},
		},
		inactive: []conversation.Ref{{ID: 10}, {ID: 11}},
	}
	tr := &fakeTransitioner{failOn: map[int64]error{11: errors.New("lock timeout")}}
	s := NewSweeper(store, &fakeDispatcher{}, tr, 4)

	report, err := s.SweepMailbox(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, []int64{10}, report.ClosedIDs)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, int64(11), report.Failures[0].ID)
}

// cancelTransitioner cancels the sweep from inside the first close, then
// lingers so the cancellation is observed while the close is still in flight.
type cancelTransitioner struct {
	cancel context.CancelFunc
	calls  int
}

func (f *cancelTransitioner) Transition(ctx context.Context, id int64, t conversation.Transition) (*conversation.Conversation, error) {
	f.cancel()
	time.Sleep(20 * time.Millisecond)
	f.calls++
	return &conversation.Conversation{ID: id, Status: conversation.StatusClosed}, nil
}

func TestSweepMailboxWaitsForInFlightClosesOnCancel(t *testing.T) {
	store := &fakeStore{
		mailboxes: map[int64]conversation.Mailbox{
			1: {ID: 1, AutoCloseEnabled: true, AutoCloseDaysOfInactivity: 7},
		},
		inactive: []conversation.Ref{{ID: 10}, {ID: 11}, {ID: 12}},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := &cancelTransitioner{cancel: cancel}
	s := NewSweeper(store, &fakeDispatcher{}, tr, 1)

	report, err := s.SweepMailbox(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)

	// The in-flight close must have fully finished before SweepMailbox
	// returned, so reading the report here cannot race its writes.
	assert.Equal(t, []int64{10}, report.ClosedIDs)
	assert.Equal(t, 1, tr.calls)
}

func TestSweepMailboxNoInactiveConversations(t *testing.T) {
	store := &fakeStore{
		mailboxes: map[int64]conversation.Mailbox{
			1: {ID: 1, AutoCloseEnabled: true, AutoCloseDaysOfInactivity: 7},
		},
	}
	tr := &fakeTransitioner{}
	s := NewSweeper(store, &fakeDispatcher{}, tr, 4)

	report, err := s.SweepMailbox(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, report.ClosedIDs)
	assert.Empty(t, tr.closed)
}
