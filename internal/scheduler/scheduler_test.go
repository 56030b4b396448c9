package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/br00tm/infrawatch/internal/retry"
	"github.com/br00tm/infrawatch/internal/telemetry"
)

func TestDailyAtNext(t *testing.T) {
	s := DailyAt(3, 0)

	before := time.Date(2026, 10, 14, 1, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 14, 3, 0, 0, 0, time.UTC), s.Next(before))

	exact := time.Date(2026, 10, 14, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 15, 3, 0, 0, 0, time.UTC), s.Next(exact))

	local := time.Date(2026, 10, 14, 23, 0, 0, 0, time.FixedZone("UTC+2", 2*3600))
	assert.Equal(t, time.Date(2026, 10, 15, 3, 0, 0, 0, time.UTC), s.Next(local))
}

func TestEveryNext(t *testing.T) {
	at := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, at.Add(30*time.Second), Every(30*time.Second).Next(at))
}

func TestAddValidates(t *testing.T) {
	s := New(zerolog.Nop(), nil)
	noop := func(context.Context) error { return nil }

	assert.Error(t, s.Add(Job{Name: "x", Schedule: Every(time.Second)}))
	assert.Error(t, s.Add(Job{Schedule: Every(time.Second), Run: noop}))
	require.NoError(t, s.Add(Job{Name: "x", Schedule: Every(time.Second), Run: noop}))
	assert.Error(t, s.Add(Job{Name: "x", Schedule: Every(time.Second), Run: noop}))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	assert.Error(t, s.Add(Job{Name: "y", Schedule: Every(time.Second), Run: noop}))
	cancel()
	s.Wait()
}

func TestAddRejectsInvalidSchedules(t *testing.T) {
	s := New(zerolog.Nop(), nil)
	noop := func(context.Context) error { return nil }

	err := s.Add(Job{Name: "zero", Schedule: Every(0), Run: noop})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interval must be positive")
	assert.Error(t, s.Add(Job{Name: "negative", Schedule: Every(-time.Second), Run: noop}))
	assert.Error(t, s.Add(Job{Name: "bad_hour", Schedule: DailyAt(25, 0), Run: noop}))
	assert.Error(t, s.Add(Job{Name: "bad_minute", Schedule: DailyAt(3, -1), Run: noop}))

	require.NoError(t, s.Add(Job{Name: "zero", Schedule: Every(time.Second), Run: noop}))
}

func TestWaitWithoutStartReturns(t *testing.T) {
	s := New(zerolog.Nop(), nil)
	require.NoError(t, s.Add(Job{Name: "idle", Schedule: Every(time.Hour), Run: func(context.Context) error { return nil }}))

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait blocked on a scheduler that never started")
	}
}

func TestJobRunsRepeatedly(t *testing.T) {
	s := New(zerolog.Nop(), nil)
	var runs atomic.Int32
	require.NoError(t, s.Add(Job{
		Name:       "tick",
		Schedule:   Every(10 * time.Millisecond),
		RunOnStart: true,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	s.Wait()
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	s := New(zerolog.Nop(), telemetry.New(prometheus.NewRegistry()))

	var runs, active, maxActive atomic.Int32
	release := make(chan struct{})
	require.NoError(t, s.Add(Job{
		Name:       "slow",
		Schedule:   Every(5 * time.Millisecond),
		RunOnStart: true,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			n := active.Add(1)
			defer active.Add(-1)
			if n > maxActive.Load() {
				maxActive.Store(n)
			}
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())

	close(release)
	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	s.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
}

func TestFailingJobIsRetried(t *testing.T) {
	s := New(zerolog.Nop(), nil)
	var attempts atomic.Int32
	done := make(chan struct{})
	require.NoError(t, s.Add(Job{
		Name:       "flaky",
		Schedule:   Every(time.Hour),
		RunOnStart: true,
		Retry:      retry.Policy{MaxAttempts: 3, Backoff: retry.Fixed(time.Millisecond)},
		Run: func(context.Context) error {
			if attempts.Add(1) < 3 {
				return errors.New("store unreachable")
			}
			close(done)
			return nil
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job never succeeded")
	}
	cancel()
	s.Wait()
	assert.Equal(t, int32(3), attempts.Load())
}

func TestPanickingJobKeepsSchedulerAlive(t *testing.T) {
	s := New(zerolog.Nop(), nil)
	var runs atomic.Int32
	require.NoError(t, s.Add(Job{
		Name:       "boom",
		Schedule:   Every(10 * time.Millisecond),
		RunOnStart: true,
		Run: func(context.Context) error {
			runs.Add(1)
			panic("broken job")
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	s.Wait()
}
