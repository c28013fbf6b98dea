package store

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/codeready-toolchain/deepcite/internal/models"
)

// encodeCursor renders a keyset position as an opaque base64 token.
func encodeCursor(c models.Cursor) string {
	raw := fmt.Sprintf("%d:%d", c.CreatedAt.UnixNano(), c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// decodeCursor parses a token produced by encodeCursor. Any malformed or
// empty token is treated as "from start" (zero Cursor, ok=false) rather
// than an error, matching the store contract that invalid cursors begin
// pagination over.
func decodeCursor(token string) (models.Cursor, bool) {
	if token == "" {
		return models.Cursor{}, false
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return models.Cursor{}, false
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return models.Cursor{}, false
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return models.Cursor{}, false
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return models.Cursor{}, false
	}
	return models.Cursor{CreatedAt: time.Unix(0, nanos), ID: id}, true
}

// clampLimit enforces the store's [1, 500] pagination window.
func clampLimit(limit int) int {
	switch {
	case limit < 1:
		return 1
	case limit > 500:
		return 500
	default:
		return limit
	}
}
