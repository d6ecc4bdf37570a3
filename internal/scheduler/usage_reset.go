// Package scheduler runs periodic maintenance jobs.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/architecte-ia/etsy-analytics-pro/internal/port"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// UsageResetJob zeroes free-tier analysis counters whose weekly window has
// ended. Counters also reset lazily on use; the sweep keeps the table tidy.
type UsageResetJob struct {
	scheduler *gocron.Scheduler
	store     port.CustomerStore
	cron      string
	window    time.Duration
	logger    *zap.Logger
	now       func() time.Time

	mu          sync.Mutex
	running     bool
	lastRunAt   time.Time
	lastResetN  int
	lastFailure string
}

// NewUsageResetJob schedules the sweep on cronExpr (5-field cron).
func NewUsageResetJob(store port.CustomerStore, cronExpr string, window time.Duration, logger *zap.Logger) *UsageResetJob {
	return &UsageResetJob{
		scheduler: gocron.NewScheduler(time.UTC),
		store:     store,
		cron:      cronExpr,
		window:    window,
		logger:    logger,
		now:       time.Now,
	}
}

// Start registers the job and runs the scheduler until ctx is cancelled.
// An empty cron expression disables the sweep.
func (j *UsageResetJob) Start(ctx context.Context) error {
	if j.cron == "" {
		j.logger.Info("usage reset sweep disabled")
		return nil
	}

	_, err := j.scheduler.Cron(j.cron).Do(func() {
		if _, err := j.Run(ctx); err != nil {
			j.logger.Error("usage reset sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule usage reset: %w", err)
	}

	j.scheduler.StartAsync()
	j.logger.Info("usage reset sweep scheduled", zap.String("cron", j.cron))

	go func() {
		<-ctx.Done()
		j.scheduler.Stop()
	}()
	return nil
}

// Run performs one sweep. Overlapping runs are skipped.
func (j *UsageResetJob) Run(ctx context.Context) (int, error) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		j.logger.Warn("usage reset sweep already running")
		return 0, nil
	}
	j.running = true
	j.mu.Unlock()

	now := j.now().UTC()
	n, err := j.store.ResetExpiredUsage(ctx, now, now.Add(j.window))

	j.mu.Lock()
	defer j.mu.Unlock()
	j.running = false
	j.lastRunAt = now
	if err != nil {
		j.lastFailure = err.Error()
		return 0, fmt.Errorf("reset expired usage: %w", err)
	}
	j.lastFailure = ""
	j.lastResetN = n

	j.logger.Info("usage counters reset", zap.Int("customers", n))
	return n, nil
}

// Status reports the last sweep for the health endpoint.
func (j *UsageResetJob) Status() map[string]any {
	j.mu.Lock()
	defer j.mu.Unlock()
	return map[string]any{
		"cron":        j.cron,
		"last_run_at": j.lastRunAt,
		"last_reset":  j.lastResetN,
		"last_error":  j.lastFailure,
	}
}

// Check fails while the last sweep is in error.
func (j *UsageResetJob) Check(context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.lastFailure != "" {
		return fmt.Errorf("last usage reset failed: %s", j.lastFailure)
	}
	return nil
}
