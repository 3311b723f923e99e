// Package scheduler runs periodic maintenance jobs for a long-lived server:
// checkpoint reloads and data refreshes.
package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/skycastml/pvnowcast/internal/logging"
)

// Job is one named periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler owns the underlying gocron scheduler and its jobs.
type Scheduler struct {
	scheduler *gocron.Scheduler
	jobs      []Job
}

// New creates a Scheduler for the given jobs.
func New(jobs []Job) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		jobs:      jobs,
	}
}

// Start schedules all jobs and starts the scheduler asynchronously.
func (s *Scheduler) Start() error {
	for _, job := range s.jobs {
		job := job
		_, err := s.scheduler.Every(job.Interval).Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), job.Interval)
			defer cancel()

			if err := job.Run(ctx); err != nil {
				logging.Error().Err(err).Str("job", job.Name).Msg("scheduled job failed")
				return
			}
			logging.Debug().Str("job", job.Name).Msg("scheduled job complete")
		})
		if err != nil {
			return err
		}
	}
	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels future runs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
