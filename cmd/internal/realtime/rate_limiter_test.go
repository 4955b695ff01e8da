package realtime

import (
	"testing"
	"time"
)

func TestRateLimiter_WindowSlides(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(3, time.Second)
	base := time.Unix(1_700_000_000, 0)

	for i := 0; i < 3; i++ {
		if ok, _ := rl.Allow(base.Add(time.Duration(i) * 100 * time.Millisecond)); !ok {
			t.Fatalf("event %d: expected allow", i)
		}
	}

	ok, retry := rl.Allow(base.Add(300 * time.Millisecond))
	if ok {
		t.Fatalf("expected 4th event inside the window to be denied")
	}
	if retry != 700*time.Millisecond {
		t.Fatalf("retryAfter=%v want=700ms", retry)
	}

	if ok, _ := rl.Allow(base.Add(1001 * time.Millisecond)); !ok {
		t.Fatalf("expected allow once the first event left the window")
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(0, 0)
	if rl.limit != rateLimitEvents || rl.window != rateLimitWindow {
		t.Fatalf("defaults not applied: limit=%d window=%v", rl.limit, rl.window)
	}
}
