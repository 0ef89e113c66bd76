package xid

import (
	"strings"

	"github.com/google/uuid"
)

// NewRequestID returns a random id for correlating a request across logs.
func NewRequestID() string {
	return uuid.NewString()
}

// ValidRequestID accepts caller-supplied ids that are short printable tokens.
func ValidRequestID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	return !strings.ContainsFunc(id, func(r rune) bool {
		return r < 0x21 || r > 0x7e
	})
}
