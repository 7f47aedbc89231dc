package api

import (
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techmannih/helpdesk/internal/bulk"
	"github.com/techmannih/helpdesk/internal/conversation"
	"github.com/techmannih/helpdesk/internal/conversation/search"
)

func TestBulkUpdateValidateRejectsEmptyBody(t *testing.T) {
	// Neither ids nor a filter: the request must fail here with a 400, not
	// get queued and die inside the worker.
	err := bulkUpdateRequest{Status: "closed"}.validate()
	require.ErrorIs(t, err, bulk.ErrEmptyRequest)
}

func TestBulkUpdateValidateRejectsInvalidStatus(t *testing.T) {
	err := bulkUpdateRequest{IDs: []int64{1}, Status: "archived"}.validate()
	require.ErrorIs(t, err, conversation.ErrInvalidStatus)
}

func TestBulkUpdateValidateAcceptsIDsOrFilter(t *testing.T) {
	assert.NoError(t, bulkUpdateRequest{IDs: []int64{1}, Status: "closed"}.validate())
	assert.NoError(t, bulkUpdateRequest{Filter: &search.Filter{}, Status: "open"}.validate())
}

func TestHTTPErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{conversation.ErrNotFound, http.StatusNotFound},
		{bulk.ErrEmptyRequest, http.StatusBadRequest},
		{bulk.ErrTooManyTargets, http.StatusBadRequest},
		{conversation.ErrInvalidStatus, http.StatusBadRequest},
		{conversation.ErrMergeIntoSelf, http.StatusConflict},
		{conversation.ErrMergeChain, http.StatusConflict},
		{conversation.ErrAlreadyMerged, http.StatusConflict},
	}
	for _, tc := range cases {
		var he *echo.HTTPError
		require.ErrorAs(t, httpError(tc.err), &he, "error %v", tc.err)
		assert.Equal(t, tc.code, he.Code, "error %v", tc.err)
	}
}
