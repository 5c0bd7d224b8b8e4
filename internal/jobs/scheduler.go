// Package jobs runs the background sweeps on cron.
// scheduler.go sets up the schedule: the periodic status sweep and the
// release windows of the delayed-credit locations.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Sweeper is the part of the payment engine the scheduler drives.
type Sweeper interface {
	ReconcileOpen(ctx context.Context) error
	ReleaseDue(ctx context.Context) error
}

// Leaser hands out a cluster-wide lease so only one instance runs a sweep
// at a time. A nil Leaser means a single instance.
type Leaser interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

// Config holds the schedule.
type Config struct {
	Location          *time.Location
	ReconcileInterval time.Duration
	MorningCron       string
	OvernightCron     string
}

// Scheduler manages background jobs.
type Scheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	leaser  Leaser
	cfg     Config
}

// NewScheduler creates the scheduler in the business timezone. Overlapping
// runs of the same job are skipped.
func NewScheduler(sweeper Sweeper, leaser Leaser, cfg Config) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	c := cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
	)
	return &Scheduler{cron: c, sweeper: sweeper, leaser: leaser, cfg: cfg}
}

// Start registers the jobs and starts the cron. ctx bounds every run.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs := []struct {
		spec string
		name string
		run  func(context.Context) error
	}{
		{fmt.Sprintf("@every %s", s.cfg.ReconcileInterval), "reconcile", s.sweep},
		{s.cfg.MorningCron, "release_morning", s.sweeper.ReleaseDue},
		{s.cfg.OvernightCron, "release_overnight", s.sweeper.ReleaseDue},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		name, run := j.name, j.run
		if _, err := s.cron.AddFunc(j.spec, func() { s.runJob(ctx, name, run) }); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", name, j.spec, err)
		}
	}

	s.cron.Start()
	log.WithFields(log.Fields{
		"timezone":  s.cfg.Location.String(),
		"reconcile": s.cfg.ReconcileInterval.String(),
		"morning":   s.cfg.MorningCron,
		"overnight": s.cfg.OvernightCron,
	}).Info("Scheduler started")
	return nil
}

// sweep is the periodic pass: status first, so freshly paid records are
// scheduled before due releases are collected.
func (s *Scheduler) sweep(ctx context.Context) error {
	if err := s.sweeper.ReconcileOpen(ctx); err != nil {
		return err
	}
	return s.sweeper.ReleaseDue(ctx)
}

func (s *Scheduler) runJob(ctx context.Context, name string, run func(context.Context) error) {
	if ctx.Err() != nil {
		return
	}
	entry := log.WithField("job", name)

	if s.leaser != nil {
		ttl := s.cfg.ReconcileInterval
		if ttl <= 0 {
			ttl = time.Minute
		}
		release, ok, err := s.leaser.Acquire(ctx, "job:"+name, ttl)
		if err != nil {
			entry.WithError(err).Warn("[CRON] Lease unavailable, running anyway")
		} else if !ok {
			entry.Debug("[CRON] Another instance holds the lease")
			return
		} else {
			defer release()
		}
	}

	start := time.Now()
	entry.Debug("[CRON] Job started")
	if err := run(ctx); err != nil {
		entry.WithError(err).Error("[CRON] Job failed")
		return
	}
	entry.WithField("took", time.Since(start).String()).Debug("[CRON] Job finished")
}

// Stop stops the cron and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Scheduler stopped")
}

// cronLogger routes cron's own messages to logrus.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.WithFields(pairs(keysAndValues)).Debug("[CRON] " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.WithError(err).WithFields(pairs(keysAndValues)).Error("[CRON] " + msg)
}

func pairs(kv []interface{}) log.Fields {
	f := make(log.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}
