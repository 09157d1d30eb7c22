package sessionctl

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"tracesvc/internal/logging"
)

// Scheduler drives the duration timer and flush_period_ms auto-flush a
// Controller needs, wrapping gocron/v2.
type Scheduler struct {
	sched  gocron.Scheduler
	logger *slog.Logger
}

// NewScheduler constructs and starts a Scheduler.
func NewScheduler(logger *slog.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("sessionctl: create scheduler: %w", err)
	}
	s.Start()
	return &Scheduler{sched: s, logger: logging.Default(logger).With("component", "sessionctl-scheduler")}, nil
}

// Once schedules fn to run exactly once after delay (used for duration_ms
// auto-stop).
func (s *Scheduler) Once(delay time.Duration, fn func()) (gocron.Job, error) {
	return s.sched.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(time.Now().Add(delay))),
		gocron.NewTask(fn),
	)
}

// Every schedules fn to run repeatedly at interval (used for
// flush_period_ms auto-flush).
func (s *Scheduler) Every(interval time.Duration, fn func()) (gocron.Job, error) {
	return s.sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(fn),
	)
}

// Cancel removes a previously scheduled job, e.g. when a session stops
// before its duration timer or flush ticker fires again.
func (s *Scheduler) Cancel(job gocron.Job) error {
	if job == nil {
		return nil
	}
	return s.sched.RemoveJob(job.ID())
}

// Shutdown stops the scheduler and waits for in-flight jobs to finish.
func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}
