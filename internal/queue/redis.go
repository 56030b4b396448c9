package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/br00tm/infrawatch/internal/config"
)

const DefaultRedisKey = "infrawatch:notifications"

// pollTimeout bounds each BRPOP so a closed queue is noticed promptly.
const pollTimeout = 2 * time.Second

// RedisQueue shares jobs between processes through a redis list.
type RedisQueue struct {
	rdb    *redis.Client
	key    string
	closed atomic.Bool
}

func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func NewRedisQueue(rdb *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisQueue{rdb: rdb, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job NotificationJob) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("failed to push job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (NotificationJob, error) {
	for {
		if q.closed.Load() {
			return NotificationJob{}, ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return NotificationJob{}, err
		}

		res, err := q.rdb.BRPop(ctx, pollTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return NotificationJob{}, ctx.Err()
			}
			return NotificationJob{}, fmt.Errorf("failed to pop job: %w", err)
		}
		// BRPOP replies with [key, value].
		if len(res) != 2 {
			continue
		}

		var job NotificationJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return NotificationJob{}, fmt.Errorf("failed to decode job: %w", err)
		}
		return job, nil
	}
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}

// Close stops the queue. The redis client is owned by the caller.
func (q *RedisQueue) Close() error {
	q.closed.Store(true)
	return nil
}
