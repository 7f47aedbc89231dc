package jobs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techmannih/helpdesk/internal/autoclose"
	"github.com/techmannih/helpdesk/internal/bulk"
	"github.com/techmannih/helpdesk/internal/conversation"
)

func TestJobErrCancelsTerminalFailures(t *testing.T) {
	for _, terminal := range []error{
		conversation.ErrNotFound,
		conversation.ErrAlreadyMerged,
		autoclose.ErrAutoCloseDisabled,
		bulk.ErrTooManyTargets,
	} {
		wrapped := fmt.Errorf("worker context: %w", terminal)
		out := jobErr(wrapped)
		require.Error(t, out)
		// Cancelled jobs still carry the original cause.
		assert.ErrorIs(t, out, terminal)
		assert.NotEqual(t, wrapped, out)
	}
}

func TestJobErrKeepsTransientFailuresRetriable(t *testing.T) {
	transient := errors.New("connection reset by peer")
	assert.Equal(t, transient, jobErr(transient))
}

func TestJobErrNil(t *testing.T) {
	assert.NoError(t, jobErr(nil))
}
