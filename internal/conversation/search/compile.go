package search

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/techmannih/helpdesk/internal/conversation"
)

// ErrInvalidFilter indicates a filter that cannot be compiled. Input
// validation error: surfaced to the caller verbatim, never retried.
var ErrInvalidFilter = errors.New("invalid search filter")

// Query is a compiled filter: WHERE fragments with positional args, an
// optional join for the customer-value signal, and the ordering the cursor
// is keyed on.
type Query struct {
	Join  string
	Where []string
	Args  []any

	sortExpr string
	kind     sortKind
	desc     bool
	limit    int
}

// Compile turns a filter into a query scoped to the given mailbox. The
// mailbox predicate is always ANDed first; cross-tenant leakage is a
// correctness bug, not a performance one. The default ordering depends on
// the mailbox: highest customer value first when a value-ranking signal is
// configured, oldest first otherwise.
func Compile(mailbox conversation.Mailbox, f Filter) (*Query, error) {
	f = f.Normalize()
	q := &Query{limit: f.Limit}

	q.and("c.mailbox_id = ?", mailbox.ID)
	q.Where = append(q.Where, "c.merged_into_id IS NULL")

	if len(f.Status) > 0 {
		statuses := make([]string, len(f.Status))
		for i, s := range f.Status {
			if !s.Valid() {
				return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, s)
			}
			statuses[i] = string(s)
		}
		q.and("c.status = ANY(?)", statuses)
	}
	if len(f.Assignee) > 0 {
		q.and("c.assignee_id = ANY(?)", f.Assignee)
	}
	if f.IsAssigned != nil {
		if *f.IsAssigned {
			q.Where = append(q.Where, "c.assignee_id IS NOT NULL")
		} else {
			q.Where = append(q.Where, "c.assignee_id IS NULL")
		}
	}
	if len(f.Customer) > 0 {
		q.and("c.email_from = ANY(?)", f.Customer)
	}
	if f.CreatedAfter != nil {
		t, err := time.Parse(time.RFC3339, *f.CreatedAfter)
		if err != nil {
			return nil, fmt.Errorf("%w: created_after: %v", ErrInvalidFilter, err)
		}
		q.and("c.created_at > ?", t)
	}
	if f.CreatedBefore != nil {
		t, err := time.Parse(time.RFC3339, *f.CreatedBefore)
		if err != nil {
			return nil, fmt.Errorf("%w: created_before: %v", ErrInvalidFilter, err)
		}
		q.and("c.created_at < ?", t)
	}
	if f.ReactionType != "" {
		if f.ReactionType != conversation.ReactionThumbsUp && f.ReactionType != conversation.ReactionThumbsDown {
			return nil, fmt.Errorf("%w: unknown reaction type %q", ErrInvalidFilter, f.ReactionType)
		}
		q.and(`EXISTS (
			SELECT 1 FROM conversation_messages m
			WHERE m.conversation_id = c.id AND m.reaction = ? AND m.deleted_at IS NULL)`, string(f.ReactionType))
	}
	if f.Search != "" {
		pattern := "%" + f.Search + "%"
		q.and("(c.subject ILIKE ? OR c.email_from ILIKE ?)", pattern, pattern)
	}

	if err := q.applyOrdering(mailbox, f); err != nil {
		return nil, err
	}
	return q, nil
}

// applyOrdering picks the sort key, joins the customer-value table when
// needed, and converts the cursor into a keyset predicate on (sortKey, id).
func (q *Query) applyOrdering(mailbox conversation.Mailbox, f Filter) error {
	sort := f.Sort
	if sort == "" {
		if mailbox.ValueRankingEnabled {
			sort = SortHighestValue
		} else {
			sort = SortOldest
		}
	}

	switch sort {
	case SortHighestValue:
		if !mailbox.ValueRankingEnabled {
			// No value signal configured for this tenant; value ordering
			// would be meaningless, fall back to oldest first.
			sort = SortOldest
		} else {
			q.Join = `LEFT JOIN platform_customers pc
				ON pc.mailbox_id = c.mailbox_id AND pc.email = c.email_from`
			q.sortExpr = "COALESCE(pc.value, -1)"
			q.kind = sortKindValue
			q.desc = true
		}
	case SortNewest, SortOldest:
		// handled below
	default:
		return fmt.Errorf("%w: unknown sort %q", ErrInvalidFilter, sort)
	}

	if q.sortExpr == "" {
		// Closed-only views sort by when the conversation was closed.
		if len(f.Status) == 1 && f.Status[0] == conversation.StatusClosed {
			q.sortExpr = "COALESCE(c.closed_at, c.created_at)"
		} else {
			q.sortExpr = "COALESCE(c.last_inbound_message_at, c.created_at)"
		}
		q.kind = sortKindTime
		q.desc = sort == SortNewest
	}

	if f.Cursor != "" {
		c, err := decodeCursor(f.Cursor, q.kind)
		if err != nil {
			return err
		}
		key, err := c.sortKeyArg()
		if err != nil {
			return err
		}
		op := ">"
		if q.desc {
			op = "<"
		}
		q.and("("+q.sortExpr+", c.id) "+op+" (?, ?)", key, c.ID)
	}
	return nil
}

// OrderBy returns the ORDER BY clause. The id tiebreak follows the sort
// direction so keyset comparisons stay total.
func (q *Query) OrderBy() string {
	dir := "ASC"
	if q.desc {
		dir = "DESC"
	}
	return fmt.Sprintf("%s %s, c.id %s", q.sortExpr, dir, dir)
}

// SortExpr returns the SQL expression rows are ordered by; SELECTing it as
// an extra column is how the store builds the next page's cursor.
func (q *Query) SortExpr() string { return q.sortExpr }

// Limit returns the normalized page size.
func (q *Query) Limit() int { return q.limit }

// WhereClause joins the compiled predicates.
func (q *Query) WhereClause() string {
	return strings.Join(q.Where, " AND ")
}

// NextCursor builds the cursor for the page following a row with the given
// sort key and id.
func (q *Query) NextCursor(sortKey any, id int64) (string, error) {
	c := cursor{Kind: q.kind, ID: id}
	switch key := sortKey.(type) {
	case time.Time:
		c.Key = timeKey(key)
	case int64:
		c.Key = valueKey(key)
	default:
		return "", fmt.Errorf("unsupported sort key type %T", sortKey)
	}
	return encodeCursor(c), nil
}

// and appends a predicate, rewriting each ? into the next positional
// placeholder.
func (q *Query) and(expr string, args ...any) {
	for _, a := range args {
		q.Args = append(q.Args, a)
		expr = strings.Replace(expr, "?", "$"+strconv.Itoa(len(q.Args)), 1)
	}
	q.Where = append(q.Where, expr)
}
