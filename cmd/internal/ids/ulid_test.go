package ids

import (
	"testing"
	"time"
)

func TestNewULID_MonotonicWithinMillisecond(t *testing.T) {
	// Not parallel: the shared monotonic reader resets when another test draws a different millisecond.
	now := time.Now().UTC()
	prev := ""
	for i := 0; i < 64; i++ {
		id, err := NewULID(now)
		if err != nil {
			t.Fatalf("NewULID: %v", err)
		}
		if len(id) != 26 {
			t.Fatalf("expected 26 chars, got %d (%q)", len(id), id)
		}
		if !Valid(id) {
			t.Fatalf("expected valid ulid: %q", id)
		}
		if prev != "" && id <= prev {
			t.Fatalf("expected increasing ids: prev=%q got=%q", prev, id)
		}
		prev = id
	}
}

func TestValid(t *testing.T) {
	t.Parallel()

	if Valid("") {
		t.Fatalf("empty string must not be valid")
	}
	if Valid("not-a-ulid") {
		t.Fatalf("garbage must not be valid")
	}
	if !Valid(MustULID(time.Time{})) {
		t.Fatalf("MustULID must produce a valid id")
	}
}
