// Package scheduler runs a job on a fixed interval, once shortly after start
// and then every interval, never overlapping itself.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Job func(ctx context.Context) error

type Scheduler struct {
	name         string
	job          Job
	interval     time.Duration
	initialDelay time.Duration
	log          zerolog.Logger
	wg           sync.WaitGroup
}

// New builds a scheduler for job. The job is expected to guard itself with a
// RunToken and return ErrAlreadyRunning when it declines to start.
func New(name string, job Job, interval, initialDelay time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		name:         name,
		job:          job,
		interval:     interval,
		initialDelay: initialDelay,
		log:          log.With().Str("job", name).Logger(),
	}
}

// Run blocks until ctx is done, then waits for an in-flight run to return.
// Each firing starts the job on its own goroutine so a slow run cannot delay
// the clock; an overlapping firing is skipped by the job's token.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info().Dur("interval", s.interval).Dur("initial_delay", s.initialDelay).Msg("scheduler started")

	first := time.NewTimer(s.initialDelay)
	defer first.Stop()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.log.Info().Msg("scheduler stopped")
			return nil
		case <-first.C:
			s.fire(ctx)
		case <-ticker.C:
			s.fire(ctx)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.job(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrAlreadyRunning):
			s.log.Info().Msg("previous run still in progress, skipping")
		default:
			s.log.Error().Err(err).Msg("scheduled run failed")
		}
	}()
}
