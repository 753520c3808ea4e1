package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Cursor carries the raw Firestore cursor values encoded into a page token.
type Cursor struct {
	StartAfter []any `json:"start_after,omitempty"`
	StartAt    []any `json:"start_at,omitempty"`
}

// IsZero reports whether the cursor holds no position.
func (c Cursor) IsZero() bool {
	return len(c.StartAfter) == 0 && len(c.StartAt) == 0
}

// Token serialises the cursor into an opaque URL-safe page token. A zero
// cursor yields an empty token.
func (c Cursor) Token() (string, error) {
	if c.IsZero() {
		return "", nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// ParseToken decodes a page token produced by Cursor.Token.
func ParseToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(decoded, &cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return cursor, nil
}
