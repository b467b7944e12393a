package storage

import (
	"time"

	json "github.com/goccy/go-json"

	"github.com/foodios/appview/pkg/records"
)

// Cursor is the keyset pagination position: the (sortAt, cid) pair of the last
// item on the previous page. The cid tie-break gives a total order even when
// two items share a timestamp.
type Cursor struct {
	SortAt string `json:"sortAt"`
	CID    string `json:"cid"`
}

// NewCursor builds a cursor from a row's sort key.
func NewCursor(sortAt time.Time, cid string) Cursor {
	return Cursor{SortAt: records.FormatTime(sortAt), CID: cid}
}

// Serialize renders the cursor as its wire (pre-encoding) form.
func (c Cursor) Serialize() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseCursor deserializes a wire-form cursor. Any malformed input maps to
// ErrInvalidCursor so the skeleton stage can fail with a client error.
func ParseCursor(s string) (Cursor, error) {
	var c Cursor
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return Cursor{}, ErrInvalidCursor
	}
	if c.SortAt == "" || c.CID == "" {
		return Cursor{}, ErrInvalidCursor
	}
	if c.Time().IsZero() {
		return Cursor{}, ErrInvalidCursor
	}
	return c, nil
}

// Time returns the cursor's sort timestamp. Zero on malformed input.
func (c Cursor) Time() time.Time {
	return records.ParseTime(c.SortAt)
}

// CursorFromLastItem packs the continuation cursor for a result page, or ""
// when the page was not full (no further pages).
func CursorFromLastItem(items []FeedItemRow, pageSize int) (string, error) {
	if len(items) < pageSize || len(items) == 0 {
		return "", nil
	}
	last := items[len(items)-1]
	return NewCursor(last.SortAt, last.CID).Serialize()
}
