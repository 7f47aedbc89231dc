package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/techmannih/helpdesk/internal/bulk"
	"github.com/techmannih/helpdesk/internal/conversation"
	"github.com/techmannih/helpdesk/internal/conversation/search"
	"github.com/techmannih/helpdesk/internal/jobs"
)

type conversationJSON struct {
	ID                   int64      `json:"id"`
	Slug                 string     `json:"slug"`
	MailboxID            int64      `json:"mailbox_id"`
	Status               string     `json:"status"`
	EmailFrom            string     `json:"email_from"`
	Subject              string     `json:"subject"`
	AssigneeID           *string    `json:"assignee_id,omitempty"`
	MergedIntoID         *int64     `json:"merged_into_id,omitempty"`
	LastInboundMessageAt *time.Time `json:"last_inbound_message_at,omitempty"`
	ClosedAt             *time.Time `json:"closed_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func toConversationJSON(c conversation.Conversation) conversationJSON {
	return conversationJSON{
		ID:                   c.ID,
		Slug:                 c.Slug,
		MailboxID:            c.MailboxID,
		Status:               string(c.Status),
		EmailFrom:            c.EmailFrom,
		Subject:              c.Subject,
		AssigneeID:           c.AssigneeID,
		MergedIntoID:         c.MergedIntoID,
		LastInboundMessageAt: c.LastInboundMessageAt,
		ClosedAt:             c.ClosedAt,
		CreatedAt:            c.CreatedAt,
		UpdatedAt:            c.UpdatedAt,
	}
}

// httpError maps domain errors onto HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, search.ErrInvalidFilter),
		errors.Is(err, search.ErrInvalidCursor),
		errors.Is(err, conversation.ErrInvalidStatus),
		errors.Is(err, bulk.ErrEmptyRequest),
		errors.Is(err, bulk.ErrTooManyTargets):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, conversation.ErrMergeIntoSelf),
		errors.Is(err, conversation.ErrMergeChain),
		errors.Is(err, conversation.ErrAlreadyMerged):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return err
}

// searchConversations compiles the posted filter and returns one result
// page. POST rather than GET: the filter is a structured document and the
// cursor round-trips inside it.
func (s *Server) searchConversations(c echo.Context) error {
	mailbox, err := s.store.GetMailboxBySlug(c.Request().Context(), c.Param("slug"))
	if err != nil {
		return httpError(err)
	}

	var filter search.Filter
	if err := c.Bind(&filter); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid filter body")
	}

	page, err := s.search.List(c.Request().Context(), *mailbox, filter)
	if err != nil {
		return httpError(err)
	}

	out := make([]conversationJSON, 0, len(page.Conversations))
	for _, conv := range page.Conversations {
		out = append(out, toConversationJSON(conv))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"conversations": out,
		"next_cursor":   page.NextCursor,
	})
}

type bulkUpdateRequest struct {
	IDs        []int64        `json:"ids,omitempty"`
	Filter     *search.Filter `json:"filter,omitempty"`
	Status     string         `json:"status"`
	AssigneeID *string        `json:"assignee_id,omitempty"`
	Unassign   bool           `json:"unassign,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

// validate rejects malformed requests up front: a request that would be
// queued must fail here with a 4xx, not later inside the worker.
func (r bulkUpdateRequest) validate() error {
	if len(r.IDs) == 0 && r.Filter == nil {
		return bulk.ErrEmptyRequest
	}
	if !conversation.Status(r.Status).Valid() {
		return fmt.Errorf("%w: %q", conversation.ErrInvalidStatus, r.Status)
	}
	return nil
}

// bulkUpdate applies a status transition to many conversations. Small
// explicit id lists run inline and return the full report; anything larger
// is queued and acknowledged with 202.
func (s *Server) bulkUpdate(c echo.Context) error {
	ctx := c.Request().Context()
	mailbox, err := s.store.GetMailboxBySlug(ctx, c.Param("slug"))
	if err != nil {
		return httpError(err)
	}

	var req bulkUpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := req.validate(); err != nil {
		return httpError(err)
	}

	if len(req.IDs) > 0 && len(req.IDs) <= s.inlineMax {
		report, err := s.executor.Run(ctx, bulk.Request{
			Mailbox:    *mailbox,
			IDs:        req.IDs,
			Status:     conversation.Status(req.Status),
			AssigneeID: req.AssigneeID,
			Unassign:   req.Unassign,
			ActorID:    ActorID(c),
			Reason:     req.Reason,
		})
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, report)
	}

	// Count-guard up front so an oversized filter fails the request instead
	// of the background job.
	if req.Filter != nil {
		count, err := s.search.CountNotInStatus(ctx, *mailbox, *req.Filter, conversation.Status(req.Status))
		if err != nil {
			return httpError(err)
		}
		if count > s.ceiling {
			return echo.NewHTTPError(http.StatusBadRequest,
				"bulk operation matches too many conversations, narrow the filter")
		}
	}

	args := jobs.BulkUpdateArgs{
		MailboxID:  mailbox.ID,
		IDs:        req.IDs,
		Status:     req.Status,
		AssigneeID: req.AssigneeID,
		Unassign:   req.Unassign,
		ActorID:    ActorID(c),
		Reason:     req.Reason,
	}
	if req.Filter != nil {
		raw, err := json.Marshal(req.Filter)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid filter")
		}
		args.Filter = raw
	}
	if err := s.dispatcher.BulkUpdate(ctx, args); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
}

type transitionRequest struct {
	Status     *string `json:"status,omitempty"`
	AssigneeID *string `json:"assignee_id,omitempty"`
	Unassign   bool    `json:"unassign,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// updateConversation applies a single transition.
func (s *Server) updateConversation(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid conversation id")
	}

	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	patch := conversation.Patch{AssigneeID: req.AssigneeID, Unassign: req.Unassign}
	if req.Status != nil {
		status := conversation.Status(*req.Status)
		if !status.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
		}
		patch.Status = &status
	}

	conv, err := s.store.Transition(c.Request().Context(), id, conversation.Transition{
		Set:     patch,
		ActorID: ActorID(c),
		Reason:  req.Reason,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, toConversationJSON(*conv))
}

type mergeRequest struct {
	TargetID int64  `json:"target_id"`
	Reason   string `json:"reason,omitempty"`
}

// mergeConversation redirects a duplicate thread into its target.
func (s *Server) mergeConversation(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid conversation id")
	}

	var req mergeRequest
	if err := c.Bind(&req); err != nil || req.TargetID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "target_id required")
	}

	conv, err := s.store.Merge(c.Request().Context(), id, req.TargetID, ActorID(c), req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, toConversationJSON(*conv))
}

// triggerAutoClose queues an immediate sweep of one mailbox, outside the
// hourly schedule.
func (s *Server) triggerAutoClose(c echo.Context) error {
	ctx := c.Request().Context()
	mailbox, err := s.store.GetMailboxBySlug(ctx, c.Param("slug"))
	if err != nil {
		return httpError(err)
	}
	if !mailbox.AutoCloseEnabled {
		return echo.NewHTTPError(http.StatusBadRequest, "auto-close is not enabled for this mailbox")
	}
	if err := s.dispatcher.SweepMailbox(ctx, mailbox.ID); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
}
