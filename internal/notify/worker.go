package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/br00tm/infrawatch/internal/queue"
	"github.com/br00tm/infrawatch/internal/retry"
)

// Worker drains a notification queue into a Dispatcher.
type Worker struct {
	dispatcher *Dispatcher
	policy     retry.Policy
	log        zerolog.Logger
}

func NewWorker(d *Dispatcher, policy retry.Policy, log zerolog.Logger) *Worker {
	return &Worker{
		dispatcher: d,
		policy:     policy,
		log:        log.With().Str("component", "notify_worker").Logger(),
	}
}

// Run consumes jobs until ctx is cancelled or the queue is closed.
func (w *Worker) Run(ctx context.Context, q queue.Queue) error {
	w.log.Info().Msg("Notification worker started")
	defer w.log.Info().Msg("Notification worker stopped")

	for {
		job, err := q.Dequeue(ctx)
		switch {
		case err == nil:
			w.Handle(ctx, job)
		case errors.Is(err, queue.ErrQueueClosed), ctx.Err() != nil:
			return nil
		default:
			w.log.Error().Err(err).Msg("Failed to dequeue notification job")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// Handle dispatches one job under the retry policy. Only a dispatcher
// fault outside channel delivery is retried.
func (w *Worker) Handle(ctx context.Context, job queue.NotificationJob) *DispatchResult {
	log := w.log.With().Str("job_id", job.ID).Uint("alert_id", job.Alert.ID).Logger()

	var result *DispatchResult
	err := w.policy.Do(ctx, "dispatch", func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("dispatch panic: %v", r)
			}
		}()
		result, err = w.dispatcher.Dispatch(ctx, job.Alert, job.Channels)
		return err
	})
	if err != nil {
		log.Error().Err(err).Msg("Notification job failed")
		return nil
	}

	log.Info().Str("status", string(result.Status)).Int("channels", len(result.Channels)).Msg("Notification job done")
	return result
}
