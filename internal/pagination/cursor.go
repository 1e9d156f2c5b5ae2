package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor: позиция в ленте (created_at, id) DESC.
type Cursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
}

func EncodeCursor(c Cursor) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeCursor возвращает nil для пустой строки (первая страница).
func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: decode base64: %v", ErrInvalidCursor, err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", ErrInvalidCursor, err)
	}
	if c.ID == "" || c.CreatedAt.IsZero() {
		return nil, ErrInvalidCursor
	}
	// id сообщений всегда uuid; иначе postgres упадёт на ::uuid
	if _, err := uuid.Parse(c.ID); err != nil {
		return nil, fmt.Errorf("%w: id is not a uuid", ErrInvalidCursor)
	}
	return &c, nil
}

// ClampLimit приводит limit к [1, MaxLimit], 0 и меньше: DefaultLimit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Next строит курсор следующей страницы, если страница заполнена целиком.
func Next(n, limit int, last Cursor) string {
	if n < limit {
		return ""
	}
	c, err := EncodeCursor(last)
	if err != nil {
		return ""
	}
	return c
}
