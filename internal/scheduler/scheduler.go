// Package scheduler runs the background jobs: projection consistency
// repair and search indexing. Jobs are registered by name on a gocron
// scheduler and run until the context is cancelled.
package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Job is one named background task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler wraps gocron with named jobs and context-driven shutdown.
type Scheduler struct {
	inner gocron.Scheduler
	jobs  []Job
}

// New creates an empty scheduler.
func New() (*Scheduler, error) {
	inner, err := gocron.NewScheduler()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create scheduler")
	}
	return &Scheduler{inner: inner}, nil
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(job Job) {
	s.jobs = append(s.jobs, job)
}

// Start schedules every registered job and blocks until ctx is
// cancelled. Job errors are logged, never fatal: the next tick retries.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, job := range s.jobs {
		job := job
		_, err := s.inner.NewJob(
			gocron.DurationJob(job.Interval),
			gocron.NewTask(func() {
				start := time.Now()
				if err := job.Run(ctx); err != nil {
					log.Error().Err(err).Str("job", job.Name).Msg("Background job failed")
					return
				}
				log.Debug().
					Str("job", job.Name).
					Dur("took", time.Since(start)).
					Msg("Background job completed")
			}),
			gocron.WithName(job.Name),
		)
		if err != nil {
			return errors.Wrapf(err, "failed to schedule job %s", job.Name)
		}
		log.Info().Str("job", job.Name).Dur("interval", job.Interval).Msg("Scheduled background job")
	}

	s.inner.Start()
	<-ctx.Done()
	return s.inner.Shutdown()
}
