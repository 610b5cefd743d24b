package uuidv7

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a time-ordered UUIDv7 and panics if the random source fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString returns New in its canonical dashed form.
func NewString() string {
	return New().String()
}

// Compact returns New as 32 lowercase hex characters, usable in Azure
// container names.
func Compact() string {
	return strings.ReplaceAll(NewString(), "-", "")
}
