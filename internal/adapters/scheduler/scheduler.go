// Package scheduler fires a job at wall-clock anchored times. Fire times come from
// a standard cron expression evaluated in a civil timezone, so "every day at 03:00
// Europe/Berlin" stays at 03:00 local time across DST changes.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"github.com/robfig/cron/v3"

	"github.com/Mihirgupta25/open-source-tracker/pkg/logger"
	"github.com/Mihirgupta25/open-source-tracker/pkg/metrics"
)

// State is the phase of the scheduler loop.
type State string

// Scheduler states.
const (
	StateIdle    State = "idle"
	StateWaiting State = "waiting"
	StateRunning State = "running"
)

// maxMissedCount bounds the missed-fire count after a very long job.
const maxMissedCount = 10_000

// Job is invoked synchronously on every fire. at is the anchored fire time, or the
// start time for the immediate fire.
type Job func(ctx context.Context, at time.Time)

// Scheduler runs one Job on a cron schedule. It never overlaps itself: a fire that
// passes while the job is still running is skipped.
type Scheduler struct {
	expr       string
	schedule   cron.Schedule
	loc        *time.Location
	clock      quartz.Clock
	runOnStart bool
	logger     logger.Logger

	mu     sync.RWMutex
	state  State
	next   time.Time
	missed atomic.Int64
}

// New parses expr (five-field cron or a descriptor like @daily) and returns an idle
// scheduler. The timezone defaults to UTC.
func New(expr string, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		expr:       expr,
		loc:        time.UTC,
		clock:      quartz.NewReal(),
		runOnStart: true,
		state:      StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("scheduler")
	}

	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("scheduler.new: %w: %q: %w", ErrInvalidSchedule, expr, err)
	}
	if spec, ok := sched.(*cron.SpecSchedule); ok {
		// an explicit CRON_TZ= or TZ= prefix wins over WithLocation
		if hasTZPrefix(expr) {
			s.loc = spec.Location
		} else {
			spec.Location = s.loc
		}
	}
	s.schedule = sched
	return s, nil
}

func hasTZPrefix(expr string) bool {
	expr = strings.TrimSpace(expr)
	return strings.HasPrefix(expr, "CRON_TZ=") || strings.HasPrefix(expr, "TZ=")
}

// Next returns the first fire time strictly after t, in the scheduler's timezone.
func (s *Scheduler) Next(t time.Time) time.Time {
	n := s.schedule.Next(t.In(s.loc))
	if n.IsZero() {
		return n
	}
	return n.In(s.loc)
}

// State reports the current phase of the loop.
func (s *Scheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// NextFire returns the pending fire time while waiting, the zero time otherwise.
func (s *Scheduler) NextFire() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.next
}

// Missed returns how many fires were skipped because the job was still running.
func (s *Scheduler) Missed() int64 {
	return s.missed.Load()
}

func (s *Scheduler) setState(state State, next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.next = next
}

// Run fires job until ctx is canceled. It returns nil on cancellation and an error
// only when the schedule can never fire again.
func (s *Scheduler) Run(ctx context.Context, job Job) error {
	defer s.setState(StateIdle, time.Time{})

	s.logger.Info(ctx, "scheduler started",
		logger.String("cron", s.expr),
		logger.String("timezone", s.loc.String()),
		logger.Bool("run_on_start", s.runOnStart),
	)

	if s.runOnStart {
		at := s.clock.Now().In(s.loc)
		s.fire(ctx, job, at)
		s.countMissed(ctx, at)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		now := s.clock.Now()
		next := s.Next(now)
		if next.IsZero() {
			s.logger.Error(ctx, "schedule has no future fire time", logger.String("cron", s.expr))
			return fmt.Errorf("scheduler.run: %w: %q", ErrNoFutureFire, s.expr)
		}

		s.setState(StateWaiting, next)
		metrics.UpdateSchedulerNextFire(next.Unix())
		s.logger.Debug(ctx, "waiting for next fire", logger.String("next", next.Format(time.RFC3339)))

		timer := s.clock.NewTimer(next.Sub(now), "scheduler", "wait")
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info(ctx, "scheduler stopped")
			return nil
		case <-timer.C:
		}

		s.fire(ctx, job, next)
		s.countMissed(ctx, next)
	}
}

// fire runs job once. A panicking job is logged and the loop carries on.
func (s *Scheduler) fire(ctx context.Context, job Job, at time.Time) {
	s.setState(StateRunning, time.Time{})
	start := s.clock.Now()
	metrics.RecordSchedulerFire(at.Unix())

	defer func() {
		metrics.RecordSchedulerJobLatency(float64(s.clock.Since(start).Milliseconds()))
		if r := recover(); r != nil {
			metrics.RecordErrorByComponent("scheduler", "job_panic")
			s.logger.Error(ctx, "scheduled job panicked",
				logger.String("fire_at", at.Format(time.RFC3339)),
				logger.Any("panic", r),
			)
		}
	}()

	job(ctx, at)
}

// countMissed reports fires that passed while the job for at was running.
func (s *Scheduler) countMissed(ctx context.Context, at time.Time) {
	now := s.clock.Now()
	missed := 0
	for n := s.Next(at); !n.IsZero() && !n.After(now) && missed < maxMissedCount; n = s.Next(n) {
		missed++
	}
	if missed == 0 {
		return
	}
	s.missed.Add(int64(missed))
	metrics.RecordSchedulerMissed(missed)
	s.logger.Warn(ctx, "job overran fire times, skipping",
		logger.Int("missed", missed),
		logger.String("fire_at", at.Format(time.RFC3339)),
	)
}
