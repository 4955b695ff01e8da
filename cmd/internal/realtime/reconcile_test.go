package realtime

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestReconciler_RetriesUntilRepaired(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	conv := &flakyConversations{InMemoryStore: st, failures: 2, err: errStoreDown}
	queue := NewMemoryReconcileQueue(8)
	rec := NewReconciler(testLogger(), queue, conv, ReconcilerOptions{
		MaxAttempts: 5,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	rec.Enqueue(ReconcileJob{ConversationID: "c1", Last: LastMessage{Content: "hi", Sender: "Alice", Timestamp: time.Now().UTC()}})

	waitFor(t, 2*time.Second, func() bool {
		_, ok := st.LastMessage("c1")
		return ok
	})
	if calls := conv.Calls(); calls != 3 {
		t.Fatalf("calls=%d want 3 (two failures, one success)", calls)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}

func TestReconciler_DropsAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	conv := &flakyConversations{InMemoryStore: st, failures: -1, err: errStoreDown}
	queue := NewMemoryReconcileQueue(8)
	rec := NewReconciler(testLogger(), queue, conv, ReconcilerOptions{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = rec.Run(ctx) }()

	rec.Enqueue(ReconcileJob{ConversationID: "c1", Last: LastMessage{Content: "hi"}})

	waitFor(t, 2*time.Second, func() bool { return conv.Calls() >= 3 })
	time.Sleep(50 * time.Millisecond)
	if calls := conv.Calls(); calls != 3 {
		t.Fatalf("calls=%d want 3", calls)
	}
}

func TestReconciler_Backoff(t *testing.T) {
	t.Parallel()

	rec := NewReconciler(testLogger(), NewMemoryReconcileQueue(1), NewInMemoryStore(), ReconcilerOptions{
		BaseBackoff: 100 * time.Millisecond,
		MaxBackoff:  time.Second,
	})

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		if got := rec.backoff(i + 1); got != w {
			t.Fatalf("backoff(%d)=%s want %s", i+1, got, w)
		}
	}
}

func TestMemoryReconcileQueue_FullAndClosed(t *testing.T) {
	t.Parallel()

	q := NewMemoryReconcileQueue(1)
	ctx := context.Background()

	if err := q.Push(ctx, ReconcileJob{ConversationID: "c1"}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := q.Push(ctx, ReconcileJob{ConversationID: "c2"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Push on full queue err=%v want ErrQueueFull", err)
	}

	_ = q.Close()
	_ = q.Close()
	if err := q.Push(ctx, ReconcileJob{ConversationID: "c3"}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("Push after close err=%v want ErrQueueClosed", err)
	}
}

func TestReconciler_RunStopsWhenQueueClosed(t *testing.T) {
	t.Parallel()

	q := NewMemoryReconcileQueue(1)
	rec := NewReconciler(testLogger(), q, NewInMemoryStore(), ReconcilerOptions{})

	done := make(chan error, 1)
	go func() { done <- rec.Run(context.Background()) }()
	_ = q.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop after Close")
	}
}
