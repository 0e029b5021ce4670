package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"PaperSieve/internal/ports"
)

// CronScheduler triggers the job on a standard five-field cron expression.
type CronScheduler struct {
	spec     string
	location *time.Location
	logger   *zap.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	runner sync.Mutex
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds a scheduler configured via cron expression string.
func NewCronScheduler(spec string, loc *time.Location, log *zap.Logger) *CronScheduler {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CronScheduler{spec: spec, location: loc, logger: log}
}

// Next reports when the expression fires after t.
func (c *CronScheduler) Next(t time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(c.spec)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "scheduler: parse %q", c.spec)
	}
	return sched.Next(t.In(c.location)), nil
}

// Start registers job and begins firing. Overlapping triggers are skipped so
// only one run is active at a time. Cancelling ctx stops the scheduler.
func (c *CronScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return nil
	}

	sched, err := cron.ParseStandard(c.spec)
	if err != nil {
		return eris.Wrapf(err, "scheduler: parse %q", c.spec)
	}

	cr := cron.NewWithLocation(c.location)
	cr.Schedule(sched, cron.FuncJob(func() {
		if !c.runner.TryLock() {
			c.logger.Warn("previous run still active, skipping trigger")
			return
		}
		defer c.runner.Unlock()
		job(time.Now().In(c.location))
	}))
	cr.Start()
	c.cron = cr

	c.logger.Info("scheduler started",
		zap.String("cron", c.spec),
		zap.String("timezone", c.location.String()),
		zap.Time("next", sched.Next(time.Now().In(c.location))),
	)

	go func() {
		<-ctx.Done()
		_ = c.Stop(context.Background())
	}()

	return nil
}

// Stop halts the cron loop and waits for a running job to return. The job
// is not interrupted.
func (c *CronScheduler) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron == nil {
		return nil
	}
	c.cron.Stop()
	c.cron = nil

	c.runner.Lock()
	c.runner.Unlock() //nolint:staticcheck
	c.logger.Info("scheduler stopped")
	return nil
}
