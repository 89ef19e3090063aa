// Package scheduler runs background jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a named cron entry.
type Job struct {
	Name     string
	Schedule string
	Run      func()
}

// Scheduler manages cron job scheduling
type Scheduler struct {
	cron *cron.Cron
	log  *slog.Logger
}

// New creates a scheduler with UTC timezone and seconds precision and
// registers jobs. An invalid schedule is an error.
func New(log *slog.Logger, jobs ...Job) (*Scheduler, error) {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cron.PrintfLogger(slog.NewLogLogger(log.Handler(), slog.LevelError)))),
	)

	for _, j := range jobs {
		if _, err := c.AddFunc(j.Schedule, j.Run); err != nil {
			return nil, fmt.Errorf("register job %s (%q): %w", j.Name, j.Schedule, err)
		}
		log.Info("cron job registered", "job", j.Name, "schedule", j.Schedule)
	}

	return &Scheduler{cron: c, log: log}, nil
}

// Run starts the scheduler and blocks until ctx is cancelled, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("starting cron scheduler", "entries", len(s.cron.Entries()))
	s.cron.Start()
	<-ctx.Done()

	s.log.Info("stopping cron scheduler")
	<-s.cron.Stop().Done()
	s.log.Info("cron scheduler stopped")
	return nil
}

// Entries returns the number of registered jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
