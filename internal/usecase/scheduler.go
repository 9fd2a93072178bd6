package usecase

import (
	"context"
	"time"

	"github.com/crablduck/crm-spyder/internal/ports"
)

// Scheduler wires the cron driver with a crawl job.
type Scheduler struct {
	driver ports.Scheduler
	job    func(context.Context) error
}

// NewScheduler returns a helper to start/stop recurring crawl runs.
func NewScheduler(driver ports.Scheduler, job func(context.Context) error) *Scheduler {
	return &Scheduler{driver: driver, job: job}
}

// Start registers the job with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.job == nil {
		return nil
	}

	return s.driver.Start(ctx, func(time.Time) {
		_ = s.job(ctx)
	})
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
