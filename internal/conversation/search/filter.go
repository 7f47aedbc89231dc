// Package search compiles declarative conversation filters into safe,
// keyset-paginated Postgres queries. Tenant scoping is mandatory and every
// predicate is ANDed, so adding a filter field can only narrow the result.
package search

import (
	"slices"

	"github.com/techmannih/helpdesk/internal/conversation"
)

// Sort orders supported by the compiler. The empty value means "pick the
// default for this mailbox" (highest customer value when a value-ranking
// signal is configured, oldest first otherwise).
type Sort string

const (
	SortNewest       Sort = "newest"
	SortOldest       Sort = "oldest"
	SortHighestValue Sort = "highest_value"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

// Filter is a value object describing conversation predicates plus
// pagination. All fields are optional; the mailbox (tenant) is supplied
// separately at compile time and is never part of the filter itself.
type Filter struct {
	Status        []conversation.Status `json:"status,omitempty"`
	Assignee      []string              `json:"assignee,omitempty"`
	IsAssigned    *bool                 `json:"is_assigned,omitempty"`
	Customer      []string              `json:"customer,omitempty"`
	CreatedAfter  *string               `json:"created_after,omitempty"`
	CreatedBefore *string               `json:"created_before,omitempty"`
	ReactionType  conversation.Reaction `json:"reaction_type,omitempty"`
	Search        string                `json:"search,omitempty"`

	Sort   Sort   `json:"sort,omitempty"`
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// Normalize returns a copy with predicate slices sorted and deduplicated and
// the limit clamped into [1, MaxLimit]. Two filters are equivalent iff their
// normalized forms are equal.
func (f Filter) Normalize() Filter {
	n := f
	n.Status = dedupe(f.Status)
	n.Assignee = dedupe(f.Assignee)
	n.Customer = dedupe(f.Customer)
	if n.Limit <= 0 {
		n.Limit = DefaultLimit
	}
	if n.Limit > MaxLimit {
		n.Limit = MaxLimit
	}
	return n
}

// Equal reports whether two filters describe the same predicate set.
// Pagination state (cursor, limit) is not part of the comparison.
func (f Filter) Equal(other Filter) bool {
	a, b := f.Normalize(), other.Normalize()
	return slices.Equal(a.Status, b.Status) &&
		slices.Equal(a.Assignee, b.Assignee) &&
		slices.Equal(a.Customer, b.Customer) &&
		equalPtr(a.IsAssigned, b.IsAssigned) &&
		equalPtr(a.CreatedAfter, b.CreatedAfter) &&
		equalPtr(a.CreatedBefore, b.CreatedBefore) &&
		a.ReactionType == b.ReactionType &&
		a.Search == b.Search &&
		a.Sort == b.Sort
}

func dedupe[T ~string](values []T) []T {
	if len(values) == 0 {
		return nil
	}
	out := slices.Clone(values)
	slices.Sort(out)
	return slices.Compact(out)
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
