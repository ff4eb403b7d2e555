// Package maintenance runs the agent's periodic background jobs on a
// cron schedule: purging expired invitations and logging a queue/stats
// snapshot.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler wraps a cron runner with named jobs.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	jobs   []string
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:   cron.New(),
		logger: logger.With("component", "maintenance"),
	}
}

// AddJob registers fn under a cron spec ("@every 5m", "0 * * * *").
func (s *Scheduler) AddJob(spec, name string, fn func(ctx context.Context)) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		start := time.Now()
		fn(ctx)
		s.logger.Debug("maintenance job ran", "job", name, "elapsed", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("maintenance: schedule %s (%q): %w", name, spec, err)
	}
	s.jobs = append(s.jobs, name)
	return nil
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("maintenance scheduler started", "jobs", s.jobs)
}

// Stop halts scheduling and waits for running jobs, honoring the context
// deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("maintenance: jobs still running at shutdown: %w", ctx.Err())
	}
}
