// Package scheduler runs named background jobs on fixed intervals or at a
// daily wall-clock time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/br00tm/infrawatch/internal/retry"
	"github.com/br00tm/infrawatch/internal/telemetry"
)

// Schedule returns the next run time strictly after the given time.
type Schedule = cron.Schedule

type validator interface {
	validate() error
}

type every time.Duration

// Every runs a job each d after the previous tick. Unlike cron.Every it
// keeps sub-second precision.
func Every(d time.Duration) Schedule {
	return every(d)
}

func (e every) Next(after time.Time) time.Time {
	return after.Add(time.Duration(e))
}

func (e every) validate() error {
	if e <= 0 {
		return fmt.Errorf("interval must be positive, got %s", time.Duration(e))
	}
	return nil
}

type daily struct {
	spec cron.Schedule
	err  error
}

// DailyAt runs a job once a day at hour:minute UTC.
func DailyAt(hour, minute int) Schedule {
	spec, err := cron.ParseStandard(fmt.Sprintf("CRON_TZ=UTC %d %d * * *", minute, hour))
	return daily{spec: spec, err: err}
}

func (d daily) Next(after time.Time) time.Time {
	if d.spec == nil {
		return time.Time{}
	}
	return d.spec.Next(after).UTC()
}

func (d daily) validate() error {
	if d.err != nil {
		return fmt.Errorf("invalid daily schedule: %w", d.err)
	}
	return nil
}

type Job struct {
	Name     string
	Schedule Schedule
	Run      func(ctx context.Context) error
	Retry    retry.Policy
	// RunOnStart triggers one run as soon as the scheduler starts.
	RunOnStart bool
}

type entry struct {
	job     Job
	wrapped cron.Job
}

type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries []*entry
	started bool
	ctx     context.Context
	wg      sync.WaitGroup
	log     zerolog.Logger
	metrics *telemetry.Metrics
}

func New(log zerolog.Logger, metrics *telemetry.Metrics) *Scheduler {
	s := &Scheduler{
		log:     log.With().Str("component", "scheduler").Logger(),
		metrics: metrics,
		ctx:     context.Background(),
	}
	s.cron = cron.New(cron.WithLocation(time.UTC), cron.WithLogger(cronLogger{log: s.log}))
	return s
}

// Add registers a job. Jobs cannot be added once the scheduler started.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil || job.Schedule == nil {
		return errors.New("job needs a name, a schedule and a run function")
	}
	if v, ok := job.Schedule.(validator); ok {
		if err := v.validate(); err != nil {
			return fmt.Errorf("job %s: %w", job.Name, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("cannot add job %s: scheduler already started", job.Name)
	}
	for _, e := range s.entries {
		if e.job.Name == job.Name {
			return fmt.Errorf("job %s already registered", job.Name)
		}
	}

	// A tick that lands while the previous run is in flight is dropped.
	wrapped := cron.NewChain(cron.SkipIfStillRunning(skipLogger{s: s, job: job.Name})).
		Then(cron.FuncJob(func() { s.run(job) }))
	s.cron.Schedule(job.Schedule, wrapped)
	s.entries = append(s.entries, &entry{job: job, wrapped: wrapped})
	return nil
}

// Start runs the jobs until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.ctx = ctx

	s.cron.Start()
	for _, e := range s.entries {
		if e.job.RunOnStart {
			s.wg.Add(1)
			go func(j cron.Job) {
				defer s.wg.Done()
				j.Run()
			}(e.wrapped)
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-ctx.Done()
		<-s.cron.Stop().Done()
	}()
	s.log.Info().Int("jobs", len(s.entries)).Msg("Scheduler started")
}

// Wait blocks until the scheduler stopped and every in-flight run has
// returned. It returns at once if the scheduler was never started.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) run(job Job) {
	ctx := s.ctx
	if ctx.Err() != nil {
		return
	}
	log := s.log.With().Str("job", job.Name).Logger()
	start := time.Now()

	err := job.Retry.Do(ctx, job.Name, func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job panic: %v", r)
			}
		}()
		return job.Run(ctx)
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Debug().Err(err).Msg("Job interrupted by shutdown")
			return
		}
		log.Error().Err(err).Dur("took", time.Since(start)).Msg("Job failed")
		s.metrics.SchedulerRun(job.Name, "failed")
		return
	}

	log.Debug().Dur("took", time.Since(start)).Msg("Job finished")
	s.metrics.SchedulerRun(job.Name, "success")
}

// cronLogger routes cron's own messages to zerolog, info at debug level.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// skipLogger receives SkipIfStillRunning's skip notice for one job.
type skipLogger struct {
	s   *Scheduler
	job string
}

func (l skipLogger) Info(string, ...interface{}) {
	l.s.log.Warn().Str("job", l.job).Str("reason", "overlap").Msg("Job run skipped")
	l.s.metrics.SchedulerRun(l.job, "skipped")
}

func (l skipLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.log.Error().Err(err).Str("job", l.job).Fields(keysAndValues).Msg(msg)
}
