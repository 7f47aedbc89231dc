package search

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techmannih/helpdesk/internal/conversation"
)

func testMailbox() conversation.Mailbox {
	return conversation.Mailbox{ID: 42, Slug: "support"}
}

func TestCompileAlwaysScopesToMailbox(t *testing.T) {
	q, err := Compile(testMailbox(), Filter{})
	require.NoError(t, err)

	require.NotEmpty(t, q.Where)
	assert.Equal(t, "c.mailbox_id = $1", q.Where[0])
	assert.Equal(t, int64(42), q.Args[0])
	assert.Contains(t, q.Where, "c.merged_into_id IS NULL")
}

func TestCompileAddingFieldsOnlyNarrows(t *testing.T) {
	base, err := Compile(testMailbox(), Filter{})
	require.NoError(t, err)

	assigned := true
	narrowed, err := Compile(testMailbox(), Filter{
		Status:     []conversation.Status{conversation.StatusOpen},
		Assignee:   []string{"agent-1"},
		IsAssigned: &assigned,
		Customer:   []string{"a@example.com"},
		Search:     "refund",
	})
	require.NoError(t, err)

	// Every predicate of the base query survives and new ones are ANDed on.
	for _, w := range base.Where {
		assert.Contains(t, narrowed.Where, w)
	}
	assert.Greater(t, len(narrowed.Where), len(base.Where))
	assert.NotContains(t, narrowed.WhereClause(), " OR c.mailbox_id")
}

func TestCompileRejectsUnknownStatus(t *testing.T) {
	_, err := Compile(testMailbox(), Filter{Status: []conversation.Status{"snoozed"}})
	require.ErrorIs(t, err, ErrInvalidFilter)
}

func TestCompileRejectsBadTimestamp(t *testing.T) {
	bad := "yesterday"
	_, err := Compile(testMailbox(), Filter{CreatedAfter: &bad})
	require.ErrorIs(t, err, ErrInvalidFilter)
}

func TestCompileRejectsUnknownReaction(t *testing.T) {
	_, err := Compile(testMailbox(), Filter{ReactionType: "meh"})
	require.ErrorIs(t, err, ErrInvalidFilter)
}

func TestCompileSearchUsesParameterizedPattern(t *testing.T) {
	q, err := Compile(testMailbox(), Filter{Search: "'; DROP TABLE conversations; --"})
	require.NoError(t, err)

	// The raw search text only ever appears as a bound argument.
	assert.NotContains(t, q.WhereClause(), "DROP TABLE")
	assert.Contains(t, q.Args, "%'; DROP TABLE conversations; --%")
}

func TestCompileDefaultOrderingOldestFirst(t *testing.T) {
	q, err := Compile(testMailbox(), Filter{})
	require.NoError(t, err)

	assert.Equal(t, "COALESCE(c.last_inbound_message_at, c.created_at)", q.SortExpr())
	assert.Equal(t, "COALESCE(c.last_inbound_message_at, c.created_at) ASC, c.id ASC", q.OrderBy())
}

func TestCompileDefaultOrderingHighestValueWhenRanked(t *testing.T) {
	mailbox := testMailbox()
	mailbox.ValueRankingEnabled = true

	q, err := Compile(mailbox, Filter{})
	require.NoError(t, err)

	assert.Equal(t, "COALESCE(pc.value, -1)", q.SortExpr())
	assert.Contains(t, q.Join, "platform_customers")
	assert.True(t, strings.HasSuffix(q.OrderBy(), "c.id DESC"))
}

func TestCompileHighestValueFallsBackWithoutSignal(t *testing.T) {
	q, err := Compile(testMailbox(), Filter{Sort: SortHighestValue})
	require.NoError(t, err)

	assert.Empty(t, q.Join)
	assert.Equal(t, "COALESCE(c.last_inbound_message_at, c.created_at)", q.SortExpr())
}

func TestCompileClosedOnlySortsByClosedAt(t *testing.T) {
	q, err := Compile(testMailbox(), Filter{Status: []conversation.Status{conversation.StatusClosed}})
	require.NoError(t, err)
	assert.Equal(t, "COALESCE(c.closed_at, c.created_at)", q.SortExpr())
}

func TestCompileMixedStatusDoesNotSortByClosedAt(t *testing.T) {
	q, err := Compile(testMailbox(), Filter{
		Status: []conversation.Status{conversation.StatusClosed, conversation.StatusOpen},
	})
	require.NoError(t, err)
	assert.Equal(t, "COALESCE(c.last_inbound_message_at, c.created_at)", q.SortExpr())
}

func TestCursorRoundTrip(t *testing.T) {
	key := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	q, err := Compile(testMailbox(), Filter{Sort: SortNewest})
	require.NoError(t, err)
	token, err := q.NextCursor(key, 1234)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	c, err := decodeCursor(token, sortKindTime)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), c.ID)

	arg, err := c.sortKeyArg()
	require.NoError(t, err)
	assert.True(t, key.Equal(arg.(time.Time)))
}

func TestCursorFromDifferentSortOrderRejected(t *testing.T) {
	token := encodeCursor(cursor{Kind: sortKindValue, Key: "900", ID: 7})

	_, err := Compile(testMailbox(), Filter{Sort: SortNewest, Cursor: token})
	require.ErrorIs(t, err, ErrInvalidCursor)
}

func TestCursorGarbageRejected(t *testing.T) {
	_, err := Compile(testMailbox(), Filter{Cursor: "not a cursor!!"})
	require.ErrorIs(t, err, ErrInvalidCursor)
}

func TestCompileCursorBecomesKeysetPredicate(t *testing.T) {
	token := encodeCursor(cursor{
		Kind: sortKindTime,
		Key:  timeKey(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)),
		ID:   55,
	})

	q, err := Compile(testMailbox(), Filter{Sort: SortNewest, Cursor: token})
	require.NoError(t, err)
	assert.Contains(t, q.WhereClause(), "(COALESCE(c.last_inbound_message_at, c.created_at), c.id) <")

	q, err = Compile(testMailbox(), Filter{Sort: SortOldest, Cursor: token})
	require.NoError(t, err)
	assert.Contains(t, q.WhereClause(), "(COALESCE(c.last_inbound_message_at, c.created_at), c.id) >")
}

func TestNormalizeClampsLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, Filter{}.Normalize().Limit)
	assert.Equal(t, MaxLimit, Filter{Limit: 10_000}.Normalize().Limit)
	assert.Equal(t, 5, Filter{Limit: 5}.Normalize().Limit)
}

func TestNormalizeDedupes(t *testing.T) {
	f := Filter{
		Status:   []conversation.Status{conversation.StatusOpen, conversation.StatusOpen},
		Assignee: []string{"b", "a", "b"},
	}.Normalize()

	assert.Equal(t, []conversation.Status{conversation.StatusOpen}, f.Status)
	assert.Equal(t, []string{"a", "b"}, f.Assignee)
}

func TestFilterEqualIgnoresPagination(t *testing.T) {
	a := Filter{Status: []conversation.Status{conversation.StatusOpen}, Cursor: "abc", Limit: 10}
	b := Filter{Status: []conversation.Status{conversation.StatusOpen}, Cursor: "xyz", Limit: 99}
	assert.True(t, a.Equal(b))

	b.Search = "refund"
	assert.False(t, a.Equal(b))
}
