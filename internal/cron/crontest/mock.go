// Package crontest provides a scriptable cron.Job for tests.
package crontest

import (
	"context"
	"sync/atomic"

	"github.com/flemzord/fanyi/internal/cron"
)

// Job is a cron.Job whose Run is scripted by Fn and counted.
type Job struct {
	JobName string
	Expr    string
	Fn      func(ctx context.Context) error

	calls atomic.Int32
}

var _ cron.Job = (*Job)(nil)

// Name implements cron.Job.
func (j *Job) Name() string { return j.JobName }

// Schedule implements cron.Job. An empty Expr runs every minute.
func (j *Job) Schedule() string {
	if j.Expr == "" {
		return "* * * * *"
	}
	return j.Expr
}

// Run implements cron.Job.
func (j *Job) Run(ctx context.Context) error {
	j.calls.Add(1)
	if j.Fn != nil {
		return j.Fn(ctx)
	}
	return nil
}

// Calls returns how many times Run was entered.
func (j *Job) Calls() int { return int(j.calls.Load()) }
