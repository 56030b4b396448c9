// Package queue carries notification jobs from the rule engine to the
// notification worker.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/br00tm/infrawatch/internal/models"
)

var ErrQueueClosed = errors.New("queue closed")

// NotificationJob asks the worker to deliver one alert to a set of channels.
type NotificationJob struct {
	ID         string               `json:"id"`
	Alert      models.Alert         `json:"alert"`
	Channels   []models.ChannelKind `json:"channels"`
	EnqueuedAt time.Time            `json:"enqueued_at"`
}

func NewJob(alert models.Alert, channels []models.ChannelKind) NotificationJob {
	return NotificationJob{
		ID:         uuid.NewString(),
		Alert:      alert,
		Channels:   channels,
		EnqueuedAt: time.Now().UTC(),
	}
}

type Queue interface {
	Enqueue(ctx context.Context, job NotificationJob) error
	// Dequeue blocks until a job is available, ctx is done or the queue is closed.
	Dequeue(ctx context.Context) (NotificationJob, error)
	Close() error
}
