package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"marketchat/cmd/internal/metrics"
)

// ErrQueueFull is returned by Push when a bounded queue has no room left.
var ErrQueueFull = errors.New("reconcile queue full")

// ErrQueueClosed is returned by Push/Pop after Close.
var ErrQueueClosed = errors.New("reconcile queue closed")

// ReconcileJob is a conversation summary update that failed after its message was persisted.
type ReconcileJob struct {
	ConversationID string      `json:"conversationId"`
	Last           LastMessage `json:"last"`
	Attempt        int         `json:"attempt"`
}

// ReconcileQueue holds pending summary repairs.
type ReconcileQueue interface {
	Push(ctx context.Context, job ReconcileJob) error
	// Pop blocks until a job is available, ctx is done or the queue is closed.
	Pop(ctx context.Context) (ReconcileJob, error)
	Close() error
}

// MemoryReconcileQueue is a bounded in-process queue.
type MemoryReconcileQueue struct {
	jobs      chan ReconcileJob
	closed    chan struct{}
	closeOnce sync.Once
}

// NewMemoryReconcileQueue constructs a queue holding at most size jobs.
func NewMemoryReconcileQueue(size int) *MemoryReconcileQueue {
	if size <= 0 {
		size = 1024
	}
	return &MemoryReconcileQueue{
		jobs:   make(chan ReconcileJob, size),
		closed: make(chan struct{}),
	}
}

func (q *MemoryReconcileQueue) Push(ctx context.Context, job ReconcileJob) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (q *MemoryReconcileQueue) Pop(ctx context.Context) (ReconcileJob, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-q.closed:
		return ReconcileJob{}, ErrQueueClosed
	case <-ctx.Done():
		return ReconcileJob{}, ctx.Err()
	}
}

// Close stops Pop/Push. Jobs still buffered are discarded.
func (q *MemoryReconcileQueue) Close() error {
	q.closeOnce.Do(func() { close(q.closed) })
	return nil
}

// Len returns the number of buffered jobs.
func (q *MemoryReconcileQueue) Len() int { return len(q.jobs) }

// ReconcilerOptions tunes retry behaviour.
type ReconcilerOptions struct {
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	StoreTimeout time.Duration
}

// DefaultReconcilerOptions returns production defaults.
func DefaultReconcilerOptions() ReconcilerOptions {
	return ReconcilerOptions{
		MaxAttempts:  5,
		BaseBackoff:  250 * time.Millisecond,
		MaxBackoff:   10 * time.Second,
		StoreTimeout: storeTimeout,
	}
}

// Reconciler retries failed conversation summary updates in the background.
type Reconciler struct {
	log   *slog.Logger
	queue ReconcileQueue
	store ConversationStore
	opts  ReconcilerOptions
}

// NewReconciler constructs a Reconciler. Zero option fields take defaults.
func NewReconciler(log *slog.Logger, queue ReconcileQueue, store ConversationStore, opts ReconcilerOptions) *Reconciler {
	def := DefaultReconcilerOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = def.BaseBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = def.MaxBackoff
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = def.StoreTimeout
	}
	return &Reconciler{log: log, queue: queue, store: store, opts: opts}
}

// Enqueue hands a job to the queue without waiting on a slow backend for long.
func (r *Reconciler) Enqueue(job ReconcileJob) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := r.queue.Push(ctx, job); err != nil {
		metrics.SummaryReconcile.WithLabelValues("dropped").Inc()
		r.log.Error("reconcile.enqueue.fail", "conversation_id", job.ConversationID, "err", err)
		return
	}
	metrics.SummaryReconcile.WithLabelValues("enqueued").Inc()
}

// Run processes jobs until ctx is cancelled or the queue is closed.
func (r *Reconciler) Run(ctx context.Context) error {
	r.log.Info("reconcile.start", "max_attempts", r.opts.MaxAttempts)
	defer r.log.Info("reconcile.stop")

	for {
		job, err := r.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				return nil
			}
			r.log.Warn("reconcile.pop.fail", "err", err)
			if !sleepCtx(ctx, r.opts.BaseBackoff) {
				return nil
			}
			continue
		}
		r.process(ctx, job)
	}
}

func (r *Reconciler) process(ctx context.Context, job ReconcileJob) {
	for {
		job.Attempt++
		err := r.apply(ctx, job)
		switch {
		case err == nil:
			metrics.SummaryReconcile.WithLabelValues("repaired").Inc()
			r.log.Info("reconcile.repaired", "conversation_id", job.ConversationID, "attempt", job.Attempt)
			return
		case errors.Is(err, ErrConversationNotFound):
			metrics.SummaryReconcile.WithLabelValues("dropped").Inc()
			r.log.Warn("reconcile.drop", "conversation_id", job.ConversationID, "attempt", job.Attempt, "err", err)
			return
		case job.Attempt >= r.opts.MaxAttempts:
			metrics.SummaryReconcile.WithLabelValues("dropped").Inc()
			r.log.Error("reconcile.drop", "conversation_id", job.ConversationID, "attempt", job.Attempt, "err", err)
			return
		}

		metrics.SummaryReconcile.WithLabelValues("retry").Inc()
		wait := r.backoff(job.Attempt)
		r.log.Warn("reconcile.retry", "conversation_id", job.ConversationID, "attempt", job.Attempt, "wait", wait, "err", err)
		if !sleepCtx(ctx, wait) {
			return
		}
	}
}

func (r *Reconciler) apply(ctx context.Context, job ReconcileJob) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.StoreTimeout)
	defer cancel()
	return r.store.UpdateLastMessage(ctx, job.ConversationID, job.Last)
}

// backoff returns BaseBackoff * 2^(attempt-1), capped at MaxBackoff.
func (r *Reconciler) backoff(attempt int) time.Duration {
	d := r.opts.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= r.opts.MaxBackoff {
			return r.opts.MaxBackoff
		}
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
