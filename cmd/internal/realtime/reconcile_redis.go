package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultReconcileKey is the Redis list holding pending summary repairs.
const DefaultReconcileKey = "marketchat:reconcile:summary"

// RedisReconcileQueue stores reconcile jobs in a Redis list (LPUSH / BRPOP),
// so pending repairs survive a restart and can be drained by any instance.
type RedisReconcileQueue struct {
	rdb     redis.UniversalClient
	key     string
	pollFor time.Duration
	closed  atomic.Bool
}

// NewRedisReconcileQueue constructs a queue on key (DefaultReconcileKey when empty).
// The client is owned by the caller.
func NewRedisReconcileQueue(rdb redis.UniversalClient, key string) *RedisReconcileQueue {
	if key == "" {
		key = DefaultReconcileKey
	}
	return &RedisReconcileQueue{rdb: rdb, key: key, pollFor: time.Second}
}

func (q *RedisReconcileQueue) Push(ctx context.Context, job ReconcileJob) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal reconcile job: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.key, b).Err(); err != nil {
		return fmt.Errorf("redis lpush: %w", err)
	}
	return nil
}

// Pop polls with a short BRPOP timeout so Close and ctx cancellation are observed promptly.
func (q *RedisReconcileQueue) Pop(ctx context.Context) (ReconcileJob, error) {
	for {
		if q.closed.Load() {
			return ReconcileJob{}, ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return ReconcileJob{}, err
		}

		res, err := q.rdb.BRPop(ctx, q.pollFor, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return ReconcileJob{}, fmt.Errorf("redis brpop: %w", err)
		}
		if len(res) != 2 {
			return ReconcileJob{}, fmt.Errorf("redis brpop: unexpected reply length %d", len(res))
		}

		var job ReconcileJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return ReconcileJob{}, fmt.Errorf("decode reconcile job: %w", err)
		}
		return job, nil
	}
}

// Close stops the queue. It does not close the Redis client.
func (q *RedisReconcileQueue) Close() error {
	q.closed.Store(true)
	return nil
}

// Len returns the number of pending jobs.
func (q *RedisReconcileQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}
