package uuidv7_test

import (
	"testing"

	"github.com/google/uuid"

	"pkt.systems/pageblob/internal/uuidv7"
)

func TestNewIsVersion7AndUnique(t *testing.T) {
	t.Parallel()
	a, b := uuidv7.New(), uuidv7.New()
	if a.Version() != 7 {
		t.Fatalf("expected version 7, got %d", a.Version())
	}
	if a == b {
		t.Fatal("expected distinct ids")
	}
}

func TestStringForms(t *testing.T) {
	t.Parallel()
	parsed, err := uuid.Parse(uuidv7.NewString())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected version 7, got %d", parsed.Version())
	}
	compact := uuidv7.Compact()
	if len(compact) != 32 {
		t.Fatalf("expected 32 characters, got %q", compact)
	}
	if _, err := uuid.Parse(compact); err != nil {
		t.Fatalf("compact form must still parse: %v", err)
	}
}
