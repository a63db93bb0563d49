// Package scheduler runs periodic background jobs such as history pruning
// and status publishing.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Job is a named task run every Interval.
type Job struct {
	Name     string
	Interval time.Duration

	// RunAtStart runs the job once before the first interval elapses.
	RunAtStart bool

	Run func(ctx context.Context) error
}

// Scheduler manages periodic background jobs.
type Scheduler struct {
	mu   sync.Mutex
	jobs []Job
	wg   sync.WaitGroup
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Add registers a job. Jobs added after Start are not run.
func (s *Scheduler) Add(job Job) {
	if job.Interval <= 0 || job.Run == nil {
		log.Warn().Str("job", job.Name).Msg("ignoring job without interval or function")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
}

// Start runs every job on its own goroutine and blocks until ctx is
// cancelled and all jobs have returned.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	s.mu.Unlock()

	log.Info().Int("jobs", len(jobs)).Msg("scheduler started")

	for _, job := range jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
	}

	<-ctx.Done()
	s.wg.Wait()
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()

	if job.RunAtStart {
		s.run(ctx, job)
	}

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.run(ctx, job)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, job Job) {
	start := time.Now()
	if err := job.Run(ctx); err != nil {
		log.Warn().Err(err).Str("job", job.Name).Msg("scheduled job failed")
		return
	}
	log.Debug().Str("job", job.Name).Dur("took", time.Since(start)).Msg("scheduled job completed")
}
