package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job is the pipeline the scheduler triggers
type Job func(ctx context.Context) error

// LastRunFunc reports when the pipeline last completed, zero if never
type LastRunFunc func(ctx context.Context) (time.Time, error)

// FailureHook is called after a scheduled run fails
type FailureHook func(scheduledFor time.Time, err error)

// Options configures the daily trigger
type Options struct {
	Hour     int
	Minute   int
	Location *time.Location
	// Grace is how late a run may start after its scheduled instant and still count
	Grace time.Duration
}

// Scheduler triggers a job once a day at a fixed local time
type Scheduler struct {
	opts      Options
	job       Job
	lastRun   LastRunFunc
	onFailure FailureHook
	log       *logrus.Logger
	now       func() time.Time

	cron    *cron.Cron
	entryID cron.EntryID
	wg      sync.WaitGroup
}

// New creates a scheduler. lastRun may be nil, in which case no catch-up run
// is attempted on Start.
func New(opts Options, job Job, lastRun LastRunFunc, log *logrus.Logger) (*Scheduler, error) {
	if opts.Hour < 0 || opts.Hour > 23 || opts.Minute < 0 || opts.Minute > 59 {
		return nil, fmt.Errorf("invalid schedule time %02d:%02d", opts.Hour, opts.Minute)
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	s := &Scheduler{
		opts:    opts,
		job:     job,
		lastRun: lastRun,
		log:     log,
		now:     time.Now,
	}

	s.cron = cron.New(
		cron.WithLocation(opts.Location),
		cron.WithChain(
			cron.Recover(cron.PrintfLogger(log)),
			cron.SkipIfStillRunning(cron.PrintfLogger(log)),
		),
	)

	id, err := s.cron.AddFunc(s.Expression(), s.runScheduled)
	if err != nil {
		return nil, fmt.Errorf("failed to register daily job: %w", err)
	}
	s.entryID = id
	return s, nil
}

// OnFailure registers a hook for failed scheduled runs
func (s *Scheduler) OnFailure(hook FailureHook) {
	s.onFailure = hook
}

// Expression returns the cron expression of the daily trigger
func (s *Scheduler) Expression() string {
	return fmt.Sprintf("%d %d * * *", s.opts.Minute, s.opts.Hour)
}

// Start begins the daily schedule. If the most recent scheduled instant was
// missed but is still within the grace window, a catch-up run starts now.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	s.log.WithFields(logrus.Fields{
		"at":       fmt.Sprintf("%02d:%02d", s.opts.Hour, s.opts.Minute),
		"timezone": s.opts.Location.String(),
		"next_run": s.NextRun().Format(time.RFC3339),
	}).Info("Scheduler started")

	if s.lastRun == nil {
		return
	}

	now := s.now()
	prev := s.previousFire(now)
	if now.Sub(prev) > s.opts.Grace {
		return
	}
	last, err := s.lastRun(ctx)
	if err != nil {
		s.log.WithError(err).Warn("Could not determine last run, skipping catch-up check")
		return
	}
	if !last.Before(prev) {
		return
	}

	s.log.WithField("scheduled_for", prev.Format(time.RFC3339)).Warn("Missed scheduled run is within grace window, running now")
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(prev)
	}()
}

// Stop halts the schedule and waits for running jobs to finish or ctx to expire
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	waited := make(chan struct{})
	go func() {
		<-done.Done()
		s.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		s.log.Info("Scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("Scheduler stop timed out with a run still in flight")
	}
}

// NextRun returns the next scheduled fire time in the schedule's timezone
func (s *Scheduler) NextRun() time.Time {
	next := s.cron.Entry(s.entryID).Next
	if next.IsZero() {
		return s.nextFire(s.now())
	}
	return next.In(s.opts.Location)
}

// TriggerNow runs the job immediately on the caller's goroutine. It may run
// concurrently with a scheduled run.
func (s *Scheduler) TriggerNow(ctx context.Context) error {
	return s.job(ctx)
}

func (s *Scheduler) runScheduled() {
	now := s.now()
	scheduledFor := s.previousFire(now)
	if late := now.Sub(scheduledFor); late > s.opts.Grace {
		s.log.WithFields(logrus.Fields{
			"scheduled_for": scheduledFor.Format(time.RFC3339),
			"late_by":       late.String(),
		}).Warn("Skipping scheduled run outside misfire grace window")
		return
	}
	s.execute(scheduledFor)
}

func (s *Scheduler) execute(scheduledFor time.Time) {
	log := s.log.WithField("scheduled_for", scheduledFor.Format(time.RFC3339))
	log.Info("Scheduled rate update starting")

	if err := s.job(context.Background()); err != nil {
		log.WithError(err).Error("Scheduled rate update failed")
		if s.onFailure != nil {
			s.onFailure(scheduledFor, err)
		}
		return
	}
	log.Info("Scheduled rate update complete")
}

// previousFire returns the latest scheduled instant at or before t
func (s *Scheduler) previousFire(t time.Time) time.Time {
	local := t.In(s.opts.Location)
	fire := time.Date(local.Year(), local.Month(), local.Day(), s.opts.Hour, s.opts.Minute, 0, 0, s.opts.Location)
	if fire.After(local) {
		fire = time.Date(local.Year(), local.Month(), local.Day()-1, s.opts.Hour, s.opts.Minute, 0, 0, s.opts.Location)
	}
	return fire
}

// nextFire returns the first scheduled instant strictly after t
func (s *Scheduler) nextFire(t time.Time) time.Time {
	local := t.In(s.opts.Location)
	fire := time.Date(local.Year(), local.Month(), local.Day(), s.opts.Hour, s.opts.Minute, 0, 0, s.opts.Location)
	if !fire.After(local) {
		fire = time.Date(local.Year(), local.Month(), local.Day()+1, s.opts.Hour, s.opts.Minute, 0, 0, s.opts.Location)
	}
	return fire
}
