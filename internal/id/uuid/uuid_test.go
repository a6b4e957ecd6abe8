package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
)

func TestNewRunIDIsVersion7AndUnique(t *testing.T) {
	t.Parallel()

	id1 := NewRunID()
	id2 := NewRunID()
	if id1 == id2 {
		t.Fatalf("expected unique IDs, got %s and %s", id1, id2)
	}
	if id1.Version() != goUUID.Version(7) {
		t.Fatalf("expected version 7, got %d", id1.Version())
	}
	if id1.String() >= id2.String() {
		t.Fatalf("expected %s to sort before %s", id1, id2)
	}
}
