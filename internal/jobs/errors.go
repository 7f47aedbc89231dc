package jobs

import (
	"errors"

	"github.com/riverqueue/river"

	"github.com/techmannih/helpdesk/internal/autoclose"
	"github.com/techmannih/helpdesk/internal/bulk"
	"github.com/techmannih/helpdesk/internal/conversation"
	"github.com/techmannih/helpdesk/internal/conversation/search"
)

// terminalErrors are failures a retry cannot fix: bad input or a
// prerequisite that no longer holds. Jobs failing with one of these are
// cancelled instead of retried.
var terminalErrors = []error{
	conversation.ErrNotFound,
	conversation.ErrInvalidStatus,
	conversation.ErrMergeIntoSelf,
	conversation.ErrMergeChain,
	conversation.ErrAlreadyMerged,
	autoclose.ErrAutoCloseDisabled,
	bulk.ErrTooManyTargets,
	bulk.ErrEmptyRequest,
	search.ErrInvalidFilter,
	search.ErrInvalidCursor,
}

// jobErr maps terminal domain errors onto river.JobCancel so the queue
// stops retrying them; everything else keeps River's retry with backoff.
func jobErr(err error) error {
	if err == nil {
		return nil
	}
	for _, terminal := range terminalErrors {
		if errors.Is(err, terminal) {
			return river.JobCancel(err)
		}
	}
	return err
}
