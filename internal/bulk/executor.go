// Package bulk applies a state transition to a filtered set of conversations
// safely: counted, snapshotted, fanned out with bounded concurrency, and
// reported per item.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/techmannih/helpdesk/internal/conversation"
	"github.com/techmannih/helpdesk/internal/conversation/search"
)

// ErrTooManyTargets rejects a filter matching more conversations than the
// ceiling. Input validation error: surfaced verbatim, never retried, and no
// mutation happens before the check.
var ErrTooManyTargets = errors.New("bulk operation matches too many conversations")

// ErrEmptyRequest rejects a request with neither ids nor a filter.
var ErrEmptyRequest = errors.New("bulk operation needs an id list or a filter")

// Searcher materializes the slow-path target set.
type Searcher interface {
	CountNotInStatus(ctx context.Context, mailbox conversation.Mailbox, f search.Filter, exclude conversation.Status) (int, error)
	IDsNotInStatus(ctx context.Context, mailbox conversation.Mailbox, f search.Filter, exclude conversation.Status) ([]int64, error)
}

// Transitioner applies the per-item state machine step.
type Transitioner interface {
	Transition(ctx context.Context, id int64, t conversation.Transition) (*conversation.Conversation, error)
}

// Request describes one bulk transition. Exactly one of IDs (fast path, no
// count guard) or Filter (slow path) must be set.
type Request struct {
	Mailbox conversation.Mailbox
	IDs     []int64
	Filter  *search.Filter

	Status     conversation.Status
	AssigneeID *string
	Unassign   bool

	ActorID *string
	Reason  string
}

// Failure records one conversation the executor could not transition.
type Failure struct {
	ID    int64  `json:"id"`
	Error string `json:"error"`
}

// Report is the structured outcome of a bulk operation, so operators can
// tell "nothing matched" apart from "matched but failed".
type Report struct {
	Matched  int       `json:"matched"`
	Updated  int       `json:"updated"`
	Failures []Failure `json:"failures,omitempty"`
}

// Executor runs bulk transitions.
type Executor struct {
	searcher     Searcher
	transitioner Transitioner
	ceiling      int
	parallelism  int64
}

// NewExecutor creates an executor. Ceiling caps the slow-path target count;
// parallelism bounds the per-item fan-out.
func NewExecutor(searcher Searcher, transitioner Transitioner, ceiling, parallelism int) *Executor {
	if ceiling <= 0 {
		ceiling = 1000
	}
	if parallelism <= 0 {
		parallelism = 8
	}
	return &Executor{
		searcher:     searcher,
		transitioner: transitioner,
		ceiling:      ceiling,
		parallelism:  int64(parallelism),
	}
}

// Run executes the bulk transition and returns the per-item report. The
// target set is materialized exactly once before any mutation; rows changing
// mid-operation never grow the snapshot. Re-running the same request is
// idempotent: rows already in the target state transition as no-ops and
// produce no duplicate events.
func (e *Executor) Run(ctx context.Context, req Request) (Report, error) {
	if !req.Status.Valid() {
		return Report{}, fmt.Errorf("%w: %q", conversation.ErrInvalidStatus, req.Status)
	}

	ids := req.IDs
	if len(ids) == 0 {
		if req.Filter == nil {
			return Report{}, ErrEmptyRequest
		}

		// Exclude rows already in the target state so no-op transitions
		// never enter the batch, then guard the count before touching
		// anything.
		count, err := e.searcher.CountNotInStatus(ctx, req.Mailbox, *req.Filter, req.Status)
		if err != nil {
			return Report{}, err
		}
		if count == 0 {
			return Report{}, nil
		}
		if count > e.ceiling {
			return Report{}, fmt.Errorf("%w: %d match, ceiling is %d", ErrTooManyTargets, count, e.ceiling)
		}

		ids, err = e.searcher.IDsNotInStatus(ctx, req.Mailbox, *req.Filter, req.Status)
		if err != nil {
			return Report{}, err
		}
	}

	report := Report{Matched: len(ids)}
	status := req.Status
	transition := conversation.Transition{
		Set: conversation.Patch{
			Status:     &status,
			AssigneeID: req.AssigneeID,
			Unassign:   req.Unassign,
		},
		ActorID: req.ActorID,
		Reason:  req.Reason,
	}

	sem := semaphore.NewWeighted(e.parallelism)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, id := range ids {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Let in-flight items finish before handing the report back,
			// or their writes would race the caller's reads.
			wg.Wait()
			return report, err
		}
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			defer sem.Release(1)

			_, err := e.transitioner.Transition(ctx, id, transition)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// One failed item never aborts the batch; the report
				// carries the id for the operator.
				log.Warn().Err(err).Int64("conversation_id", id).Msg("bulk transition failed")
				report.Failures = append(report.Failures, Failure{ID: id, Error: err.Error()})
				return
			}
			report.Updated++
		}(id)
	}
	wg.Wait()

	return report, nil
}
