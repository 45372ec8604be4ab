// Package cron runs fanyi's maintenance jobs, history backups and backend
// health probes, on 5-field cron schedules.
package cron

import (
	"context"
	"time"
)

// Job is a periodic maintenance task.
type Job interface {
	// Name identifies the job in logs and in RunNow. Unique per scheduler.
	Name() string

	// Schedule is a 5-field cron expression, e.g. "0 3 * * *".
	Schedule() string

	// Run performs one execution. ctx is cancelled when the scheduler stops.
	Run(ctx context.Context) error
}

// JobStatus is a snapshot of one registered job.
type JobStatus struct {
	Name     string
	Schedule string
	Next     time.Time // zero until the scheduler is started
	LastRun  time.Time // zero if the job never ran
	LastErr  error
	Runs     int
}
