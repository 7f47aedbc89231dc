package search

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrInvalidCursor indicates a cursor that cannot be decoded or that was
// issued for a different sort order. Input validation error: never retried.
var ErrInvalidCursor = errors.New("invalid pagination cursor")

// sortKind identifies how the cursor's sort key is encoded.
type sortKind string

const (
	sortKindTime  sortKind = "time"
	sortKindValue sortKind = "value"
)

// cursor encodes the keyset position (sortKey, id) of the last row on the
// previous page. Rows inserted after the cursor was issued sort strictly
// after it, so pages never skip or duplicate rows for unchanged data.
type cursor struct {
	Kind sortKind `json:"k"`
	Key  string   `json:"s"`
	ID   int64    `json:"i"`
}

func encodeCursor(c cursor) string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(token string, want sortKind) (cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var c cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if c.Kind != want {
		return cursor{}, fmt.Errorf("%w: cursor was issued for a different sort order", ErrInvalidCursor)
	}
	return c, nil
}

// sortKeyArg converts the encoded sort key into the query argument matching
// the sort expression's type.
func (c cursor) sortKeyArg() (any, error) {
	switch c.Kind {
	case sortKindTime:
		t, err := time.Parse(time.RFC3339Nano, c.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
		}
		return t, nil
	case sortKindValue:
		v, err := strconv.ParseInt(c.Key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
		}
		return v, nil
	}
	return nil, ErrInvalidCursor
}

func timeKey(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func valueKey(v int64) string { return strconv.FormatInt(v, 10) }
