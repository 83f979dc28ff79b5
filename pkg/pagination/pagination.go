// Package pagination implements newest-first keyset cursors over
// (timestamp, id) ordered tables.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

var errMalformed = errors.New("malformed cursor")

// Params is a page request as read off the query string.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor is the key of the first row of the next page.
type Cursor struct {
	At time.Time
	ID uuid.UUID
}

// Clamp maps limit into [1, MaxLimit], using DefaultLimit for unset values.
func Clamp(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// Keyset scopes a query to one page ordered by (column, id) descending,
// starting at cursor. One extra row is fetched so Trim can tell whether
// another page follows.
func Keyset(column string, cursor *Cursor, limit int) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		if cursor != nil {
			q = q.Where(fmt.Sprintf("(%s, id) <= (?, ?)", column), cursor.At, cursor.ID)
		}
		return q.Order(column + " DESC").Order("id DESC").Limit(Clamp(limit) + 1)
	}
}

// Trim cuts rows fetched through Keyset down to the page size and returns
// the cursor of the first row left out.
func Trim[T any](rows []T, limit int, key func(T) Cursor) ([]T, *Cursor) {
	size := Clamp(limit)
	if len(rows) <= size {
		return rows, nil
	}
	next := key(rows[size])
	return rows[:size], &next
}

// Encode renders c as an opaque URL-safe token.
func (c Cursor) Encode() string {
	raw := c.At.UTC().Format(time.RFC3339Nano) + "|" + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Encode returns "" for a nil cursor, which marks the last page.
func Encode(c *Cursor) string {
	if c == nil {
		return ""
	}
	return c.Encode()
}

// Parse decodes a token produced by Encode. A blank token is the first page.
func Parse(token string) (*Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	at, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return nil, errMalformed
	}
	ts, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	return &Cursor{At: ts, ID: uid}, nil
}
