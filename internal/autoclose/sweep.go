// Package autoclose closes conversations that have had no inbound message
// for a tenant-configured number of days. The hourly sweep fans out one job
// per mailbox so tenants fail and retry independently.
package autoclose

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/techmannih/helpdesk/internal/conversation"
)

// ErrAutoCloseDisabled indicates the mailbox no longer has auto-close
// enabled (or no longer exists). Missing-prerequisite error: retrying the
// job cannot fix it.
var ErrAutoCloseDisabled = errors.New("auto-close is not enabled for this mailbox")

// Store is the subset of conversation storage the sweep reads.
type Store interface {
	AutoCloseEnabledMailboxes(ctx context.Context) ([]conversation.Mailbox, error)
	GetMailbox(ctx context.Context, id int64) (*conversation.Mailbox, error)
	InactiveOpenConversations(ctx context.Context, mailboxID int64, cutoff time.Time) ([]conversation.Ref, error)
}

// Dispatcher fans out the per-mailbox level of the sweep.
type Dispatcher interface {
	SweepMailbox(ctx context.Context, mailboxID int64) error
}

// Transitioner applies the close transition per conversation.
type Transitioner interface {
	Transition(ctx context.Context, id int64, t conversation.Transition) (*conversation.Conversation, error)
}

// Report summarizes the fan-out level of a sweep.
type Report struct {
	ScheduledMailboxes int    `json:"scheduled_mailboxes"`
	Status             string `json:"status"`
}

// Failure records one conversation the sweep found but could not close.
type Failure struct {
	ID    int64  `json:"id"`
	Error string `json:"error"`
}

// MailboxReport enumerates what one mailbox sweep found versus what it
// actually closed, so a retry can tell "didn't attempt" from "attempted and
// failed".
type MailboxReport struct {
	MailboxID   int64              `json:"mailbox_id"`
	MailboxName string             `json:"mailbox_name"`
	Found       []conversation.Ref `json:"found"`
	ClosedIDs   []int64            `json:"closed_ids,omitempty"`
	Failures    []Failure          `json:"failures,omitempty"`
	Status      string             `json:"status"`
}

// Sweeper runs both levels of the auto-close state machine.
type Sweeper struct {
	store        Store
	dispatcher   Dispatcher
	transitioner Transitioner
	parallelism  int64
}

// NewSweeper creates a sweeper. Parallelism bounds the per-conversation
// fan-out within one mailbox.
func NewSweeper(store Store, dispatcher Dispatcher, transitioner Transitioner, parallelism int) *Sweeper {
	if parallelism <= 0 {
		parallelism = 8
	}
	return &Sweeper{store: store, dispatcher: dispatcher, transitioner: transitioner, parallelism: int64(parallelism)}
}

// Sweep is level 1: list every tenant with auto-close enabled and emit one
// per-mailbox trigger each. It mutates nothing itself.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	mailboxes, err := s.store.AutoCloseEnabledMailboxes(ctx)
	if err != nil {
		return Report{}, err
	}
	if len(mailboxes) == 0 {
		return Report{Status: "no mailboxes with auto-close enabled"}, nil
	}

	for _, mb := range mailboxes {
		if err := s.dispatcher.SweepMailbox(ctx, mb.ID); err != nil {
			return Report{}, fmt.Errorf("failed to schedule sweep for mailbox %d: %w", mb.ID, err)
		}
	}
	return Report{
		ScheduledMailboxes: len(mailboxes),
		Status:             fmt.Sprintf("scheduled auto-close check for %d mailboxes", len(mailboxes)),
	}, nil
}

// SweepMailbox is level 2: close every open conversation in the mailbox
// whose last inbound message predates the inactivity cutoff. Closing is
// idempotent, so re-running after a partial failure only touches the
// conversations that are still open.
func (s *Sweeper) SweepMailbox(ctx context.Context, mailboxID int64) (MailboxReport, error) {
	mailbox, err := s.store.GetMailbox(ctx, mailboxID)
	if err != nil {
		return MailboxReport{}, err
	}
	if !mailbox.AutoCloseEnabled {
		return MailboxReport{}, fmt.Errorf("mailbox %d: %w", mailboxID, ErrAutoCloseDisabled)
	}

	// Truncate to the hour so repeated runs within the hour compute the
	// same cutoff.
	now := time.Now().Truncate(time.Hour)
	cutoff := now.AddDate(0, 0, -mailbox.AutoCloseDaysOfInactivity)

	report := MailboxReport{MailboxID: mailbox.ID, MailboxName: mailbox.Name}
	report.Found, err = s.store.InactiveOpenConversations(ctx, mailbox.ID, cutoff)
	if err != nil {
		return report, err
	}
	if len(report.Found) == 0 {
		report.Status = "no inactive conversations found"
		return report, nil
	}

	closed := conversation.StatusClosed
	transition := conversation.Transition{
		Set:       conversation.Patch{Status: &closed},
		EventType: conversation.EventAutoClosedInactive,
		Reason:    "Auto-closed due to inactivity",
	}

	sem := semaphore.NewWeighted(s.parallelism)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, ref := range report.Found {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Let in-flight closes finish before handing the report back,
			// or their writes would race the caller's reads.
			wg.Wait()
			return report, err
		}
		wg.Add(1)
		go func(ref conversation.Ref) {
			defer wg.Done()
			defer sem.Release(1)

			_, err := s.transitioner.Transition(ctx, ref.ID, transition)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// A failure on one conversation never blocks the rest.
				log.Warn().Err(err).Int64("conversation_id", ref.ID).
					Int64("mailbox_id", mailbox.ID).Msg("auto-close failed")
				report.Failures = append(report.Failures, Failure{ID: ref.ID, Error: err.Error()})
				return
			}
			report.ClosedIDs = append(report.ClosedIDs, ref.ID)
		}(ref)
	}
	wg.Wait()

	report.Status = fmt.Sprintf("closed %d of %d inactive conversations", len(report.ClosedIDs), len(report.Found))
	return report, nil
}
