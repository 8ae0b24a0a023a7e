// Package action defines the classified form of every operation the trust
// kernel gates: sensitive actions, resource patterns, permissions and risk
// levels, and the identifier scheme shared by tokens, allowances and audit
// entries.
package action

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ID is a namespaced 128-bit identifier, rendered "kind:uuid" (e.g.
// "token:3fa85f64-5717-4562-b3fc-2c963f66afa6").
type ID string

// NewID mints a fresh random identifier of the given kind.
func NewID(kind string) ID {
	return ID(kind + ":" + uuid.NewString())
}

// Kind returns the namespace portion of the identifier.
func (id ID) Kind() string {
	parts := strings.SplitN(string(id), ":", 2)
	return parts[0]
}

func (id ID) String() string { return string(id) }

// Valid reports whether id has the "kind:uuid" shape with a parseable UUID.
func (id ID) Valid() bool {
	parts := strings.SplitN(string(id), ":", 2)
	if len(parts) != 2 || parts[0] == "" {
		return false
	}
	_, err := uuid.Parse(parts[1])
	return err == nil
}

// Timestamp formats t the way every identifier-bearing record in this module
// serialises time: UTC, millisecond precision, ISO-8601 with a trailing "Z".
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// ParseTimestamp is the inverse of Timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02T15:04:05.000Z", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("action: invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
