package pagination

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"
)

const separator = "|"

// Cursor points just past the last row of a page ordered by (created_at, id) DESC
type Cursor struct {
	LastID    string
	Timestamp time.Time
}

type PageResult[T any] struct {
	Items   []T    `json:"items"`
	Cursor  string `json:"cursor,omitempty"`
	HasMore bool   `json:"has_more"`
}

var ErrInvalidCursor = errors.New("invalid cursor format")

// EncodeCursor returns an opaque URL-safe token, or "" when lastID is empty
func EncodeCursor(lastID string, timestamp time.Time) string {
	if lastID == "" {
		return ""
	}
	raw := lastID + separator + timestamp.UTC().Format(time.RFC3339Nano)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token from EncodeCursor. The empty token means the first page.
func DecodeCursor(cursor string) (*Cursor, error) {
	if cursor == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	id, ts, ok := strings.Cut(string(decoded), separator)
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}

	timestamp, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	return &Cursor{LastID: id, Timestamp: timestamp}, nil
}

// NewPage builds a page from rows fetched with LIMIT limit+1. The extra row
// only signals that another page exists and is dropped.
func NewPage[T any](rows []T, limit int, key func(T) (string, time.Time)) *PageResult[T] {
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}

	page := &PageResult[T]{Items: rows, HasMore: hasMore}
	if hasMore && len(rows) > 0 {
		page.Cursor = EncodeCursor(key(rows[len(rows)-1]))
	}
	return page
}
