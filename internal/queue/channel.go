package queue

import (
	"context"
	"sync"
)

// ChannelQueue is an in-process queue backed by a buffered channel.
type ChannelQueue struct {
	jobs chan NotificationJob
	done chan struct{}
	once sync.Once
}

func NewChannelQueue(size int) *ChannelQueue {
	if size <= 0 {
		size = 256
	}
	return &ChannelQueue{
		jobs: make(chan NotificationJob, size),
		done: make(chan struct{}),
	}
}

// Enqueue blocks while the buffer is full.
func (q *ChannelQueue) Enqueue(ctx context.Context, job NotificationJob) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.jobs <- job:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue drains buffered jobs before reporting ErrQueueClosed.
func (q *ChannelQueue) Dequeue(ctx context.Context) (NotificationJob, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	default:
	}

	select {
	case job := <-q.jobs:
		return job, nil
	case <-q.done:
		select {
		case job := <-q.jobs:
			return job, nil
		default:
			return NotificationJob{}, ErrQueueClosed
		}
	case <-ctx.Done():
		return NotificationJob{}, ctx.Err()
	}
}

func (q *ChannelQueue) Len() int { return len(q.jobs) }

func (q *ChannelQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}
