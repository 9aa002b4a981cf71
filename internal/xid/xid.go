package xid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a prefixed random identifier such as "req-3f1c9a0e2b7d4c5e".
func New(prefix string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return raw[:16]
	}
	return prefix + "-" + raw[:16]
}

// Valid reports whether an externally supplied id is safe to echo back in
// headers and logs.
func Valid(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}
