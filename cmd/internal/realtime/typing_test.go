package realtime

import (
	"testing"
	"time"

	v1 "marketchat/shared/contracts/chat/v1"
)

func TestTypingTracker_ExcludesTypist(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())
	tt := NewTypingTracker(hub, time.Hour)
	cs := registered(hub, 8, "a", "b")
	a, b := cs[0], cs[1]
	hub.Join(ConversationRoom("c1"), a)
	hub.Join(ConversationRoom("c1"), b)

	if !tt.Start(a, "c1", "alice") {
		t.Fatalf("member typing should be accepted")
	}
	if got := drain(a); len(got) != 0 {
		t.Fatalf("typist received its own typing event")
	}
	got := ofType(drain(b), v1.TypeTypingActive)
	if len(got) != 1 {
		t.Fatalf("other member received %d typing:active want 1", len(got))
	}
	p := mustDecode[v1.TypingActivePayload](t, got[0])
	if p.Username != "alice" || p.ConversationID != "c1" {
		t.Fatalf("payload=%+v", p)
	}
}

func TestTypingTracker_NonMemberIgnored(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())
	tt := NewTypingTracker(hub, time.Hour)
	outsider, member := NewClient("g1", 8), registered(hub, 8, "p1")[0]
	hub.Join(ConversationRoom("c1"), member)

	if tt.Start(outsider, "c1", "Guest") {
		t.Fatalf("non-member typing must be ignored")
	}
	if tt.Stop(outsider, "c1") {
		t.Fatalf("non-member stop must be ignored")
	}
	if got := drain(member); len(got) != 0 {
		t.Fatalf("member received %d envelopes from an outsider", len(got))
	}
}

func TestTypingTracker_Expires(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())
	tt := NewTypingTracker(hub, 20*time.Millisecond)
	cs := registered(hub, 8, "a", "b")
	a, b := cs[0], cs[1]
	hub.Join(ConversationRoom("c1"), a)
	hub.Join(ConversationRoom("c1"), b)

	tt.Start(a, "c1", "alice")
	if !tt.Active("a", "c1") {
		t.Fatalf("indicator should be active")
	}

	var inactive int
	waitFor(t, 2*time.Second, func() bool {
		inactive += len(ofType(drain(b), v1.TypeTypingInactive))
		return inactive > 0
	})
	if tt.Active("a", "c1") {
		t.Fatalf("indicator still active after expiry")
	}
	time.Sleep(40 * time.Millisecond)
	if extra := len(ofType(drain(b), v1.TypeTypingInactive)); extra != 0 {
		t.Fatalf("expiry fired %d extra times", extra)
	}
}

func TestTypingTracker_RefreshReplacesTimer(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())
	tt := NewTypingTracker(hub, 30*time.Millisecond)
	cs := registered(hub, 32, "a", "b")
	a, b := cs[0], cs[1]
	hub.Join(ConversationRoom("c1"), a)
	hub.Join(ConversationRoom("c1"), b)

	tt.Start(a, "c1", "alice")
	tt.Start(a, "c1", "alice")

	var inactive int
	waitFor(t, 2*time.Second, func() bool {
		inactive += len(ofType(drain(b), v1.TypeTypingInactive))
		return inactive > 0
	})
	time.Sleep(60 * time.Millisecond)
	inactive += len(ofType(drain(b), v1.TypeTypingInactive))
	if inactive != 1 {
		t.Fatalf("typing:inactive delivered %d times want 1", inactive)
	}
}

func TestTypingTracker_ClearSession(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger())
	tt := NewTypingTracker(hub, time.Hour)
	cs := registered(hub, 8, "a", "b")
	a, b := cs[0], cs[1]
	for _, conv := range []string{"c1", "c2"} {
		hub.Join(ConversationRoom(conv), a)
		hub.Join(ConversationRoom(conv), b)
		tt.Start(a, conv, "alice")
	}
	drain(b)

	tt.ClearSession("a")
	if got := ofType(drain(b), v1.TypeTypingInactive); len(got) != 2 {
		t.Fatalf("typing:inactive count=%d want 2", len(got))
	}
	tt.Clear("a", "c1")
	if got := drain(b); len(got) != 0 {
		t.Fatalf("clearing an inactive indicator broadcast %d events", len(got))
	}
}
