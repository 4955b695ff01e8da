package realtime

import (
	"testing"
	"time"
)

func TestRegistry_LastBindWins(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	now := time.Now()
	first, second := NewClient("s1", 1), NewClient("s2", 1)

	if prev := r.Bind(UserIdentity("u1"), first, now); prev != nil {
		t.Fatalf("first bind replaced %v", prev.SessionID)
	}
	if prev := r.Bind(UserIdentity("u1"), second, now); prev != first {
		t.Fatalf("second bind should replace first")
	}
	if got, _ := r.Lookup(UserIdentity("u1")); got != second {
		t.Fatalf("Lookup returned %v want s2", got)
	}
}

func TestRegistry_StaleUnbindKeepsNewerBinding(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	now := time.Now()
	stale, fresh := NewClient("s1", 1), NewClient("s2", 1)
	r.Bind(UserIdentity("u1"), stale, now)
	r.Bind(UserIdentity("u1"), fresh, now)

	if r.Unbind(UserIdentity("u1"), stale) {
		t.Fatalf("stale unbind must not remove the newer binding")
	}
	if got, ok := r.Lookup(UserIdentity("u1")); !ok || got != fresh {
		t.Fatalf("binding lost after stale unbind")
	}
	if !r.Unbind(UserIdentity("u1"), fresh) {
		t.Fatalf("current connection should unbind")
	}
	if r.Len() != 0 {
		t.Fatalf("Len=%d want 0", r.Len())
	}
}

func TestRegistry_KeyNamespaces(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	now := time.Now()
	user, partner, guest := NewClient("u", 1), NewClient("p", 1), NewClient("g", 1)

	r.Bind(UserIdentity("x1"), user, now)
	r.Bind(GuestIdentity("x1"), guest, now)
	if r.Len() != 2 {
		t.Fatalf("guest and user with the same id must not collide, Len=%d", r.Len())
	}

	// Users and partners share one namespace.
	if prev := r.Bind(PartnerIdentity("x1"), partner, now); prev != user {
		t.Fatalf("partner bind should replace user binding with the same id")
	}
	b, ok := r.Binding(UserIdentity("x1"))
	if !ok || b.Identity.Type != UserTypePartner {
		t.Fatalf("binding=%+v want partner", b)
	}
}

func TestRegistry_GuestLookingUserIDDoesNotTakeGuestSlot(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	now := time.Now()
	guest, user := NewClient("g", 1), NewClient("u", 1)

	r.Bind(GuestIdentity("g1"), guest, now)
	if prev := r.Bind(UserIdentity("guest:g1"), user, now); prev != nil {
		t.Fatalf("user bind replaced %s", prev.SessionID)
	}
	if r.Len() != 2 {
		t.Fatalf("Len=%d want 2", r.Len())
	}
	if c, ok := r.Lookup(GuestIdentity("g1")); !ok || c != guest {
		t.Fatalf("guest slot lost")
	}
	if r.Unbind(UserIdentity("guest:g1"), guest) {
		t.Fatalf("user unbind removed the guest entry")
	}
}

func TestRegistry_IgnoresZeroIdentity(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Bind(Identity{}, NewClient("s1", 1), time.Now())
	if r.Len() != 0 {
		t.Fatalf("zero identity was bound")
	}
	if r.Unbind(Identity{}, nil) {
		t.Fatalf("zero identity unbind reported removal")
	}
}
