package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"alertsync/internal/logging"
)

// Schedule yields the next activation strictly after the given time.
type Schedule interface {
	Next(after time.Time) time.Time
}

// Tick describes one activation.
type Tick struct {
	Scheduled time.Time
	Fired     time.Time
	// PastDue is set when the tick fired later than Scheduled by more than the
	// configured tolerance, e.g. after a long previous run.
	PastDue bool
}

// TickFunc is invoked on every activation.
type TickFunc func(ctx context.Context, tick Tick) error

// Options tune scheduler behaviour.
type Options struct {
	Schedule         Schedule
	RunOnStartup     bool
	PastDueTolerance time.Duration
	Now              func() time.Time
}

// Scheduler runs ticks sequentially; a tick never overlaps the previous one.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Parse reads a 5 or 6 field cron expression (seconds first when 6) evaluated in timezone.
func Parse(expression, timezone string) (Schedule, error) {
	loc := time.UTC
	if timezone != "" {
		var err error
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone: %w", err)
		}
	}

	sched, err := parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expression, err)
	}
	return &zonedSchedule{sched: sched, loc: loc}, nil
}

type zonedSchedule struct {
	sched cron.Schedule
	loc   *time.Location
}

func (z *zonedSchedule) Next(after time.Time) time.Time {
	return z.sched.Next(after.In(z.loc))
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Schedule == nil {
		return nil, errors.New("scheduler: schedule required")
	}
	if opts.PastDueTolerance < 0 {
		opts.PastDueTolerance = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{opts: opts, logger: logging.Component(logger, "scheduler")}, nil
}

// Run blocks, invoking tick at each activation until ctx is cancelled. Tick
// errors are logged; the next activation is the only retry.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.RunOnStartup {
		now := s.now()
		s.fire(ctx, tick, Tick{Scheduled: now, Fired: now})
	}

	next := s.opts.Schedule.Next(s.now())
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if delay := next.Sub(s.now()); delay > 0 {
			s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		fired := s.now()
		s.fire(ctx, tick, Tick{
			Scheduled: next,
			Fired:     fired,
			PastDue:   fired.Sub(next) > s.opts.PastDueTolerance,
		})

		next = s.opts.Schedule.Next(fired)
	}
}

func (s *Scheduler) fire(ctx context.Context, tick TickFunc, t Tick) {
	if t.PastDue {
		s.logger.Info().Time("scheduled", t.Scheduled).Dur("late", t.Fired.Sub(t.Scheduled)).Msg("the timer is past due")
	}
	s.logger.Info().Time("scheduled", t.Scheduled).Msg("executing scheduled tick")

	if err := tick(ctx, t); err != nil {
		s.logger.Error().Err(err).Time("scheduled", t.Scheduled).Msg("tick execution failed")
	}
}

func (s *Scheduler) now() time.Time {
	return s.opts.Now().UTC()
}
