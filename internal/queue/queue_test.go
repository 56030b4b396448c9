package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/br00tm/infrawatch/internal/models"
)

func testJob(title string) NotificationJob {
	return NewJob(models.Alert{ID: 7, Title: title, Severity: models.SeverityCritical},
		[]models.ChannelKind{models.ChannelDiscord, models.ChannelEmail})
}

func TestChannelQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewChannelQueue(4)

	require.NoError(t, q.Enqueue(ctx, testJob("a")))
	require.NoError(t, q.Enqueue(ctx, testJob("b")))
	assert.Equal(t, 2, q.Len())

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", first.Alert.Title)
	assert.NotEmpty(t, first.ID)
	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", second.Alert.Title)
}

func TestChannelQueueCloseDrains(t *testing.T) {
	ctx := context.Background()
	q := NewChannelQueue(4)
	require.NoError(t, q.Enqueue(ctx, testJob("pending")))
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Enqueue(ctx, testJob("late")), ErrQueueClosed)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pending", job.Alert.Title)

	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestChannelQueueDequeueHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewChannelQueue(1).Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChannelQueueEnqueueFullHonoursContext(t *testing.T) {
	q := NewChannelQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), testJob("a")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Enqueue(ctx, testJob("b")), context.DeadlineExceeded)
}

func TestRedisQueueRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skip("redis not available")
	}

	key := "infrawatch:test:" + uuid.NewString()
	defer rdb.Del(ctx, key)
	q := NewRedisQueue(rdb, key)

	require.NoError(t, q.Enqueue(ctx, testJob("first")))
	require.NoError(t, q.Enqueue(ctx, testJob("second")))

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", job.Alert.Title)
	assert.Equal(t, []models.ChannelKind{models.ChannelDiscord, models.ChannelEmail}, job.Channels)

	require.NoError(t, q.Close())
	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrQueueClosed)
}
