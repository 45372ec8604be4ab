package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/fanyi/internal/backup"
	"github.com/flemzord/fanyi/internal/provider"
)

// BackupWriter is the subset of backup.Writer used by BackupJob.
type BackupWriter interface {
	Write(ctx context.Context, src backup.Exporter) (string, error)
}

// BackupSource is the history surface BackupJob snapshots.
type BackupSource interface {
	backup.Exporter
	HasContent() bool
}

// BackupJob writes a history archive on every tick.
type BackupJob struct {
	Writer       BackupWriter
	Source       BackupSource
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "0 3 * * *"
}

// Compile-time interface check.
var _ Job = (*BackupJob)(nil)

// Name implements Job.
func (j *BackupJob) Name() string { return "history_backup" }

// Schedule implements Job.
func (j *BackupJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "0 3 * * *"
}

// Run writes one archive. An empty history is skipped.
func (j *BackupJob) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("cron: backup cancelled: %w", ctx.Err())
	}
	if !j.Source.HasContent() {
		j.Logger.Debug("cron: history empty, backup skipped")
		return nil
	}
	path, err := j.Writer.Write(ctx, j.Source)
	if err != nil {
		return fmt.Errorf("cron: backup: %w", err)
	}
	j.Logger.Info("cron: history backed up", "path", path)
	return nil
}

// HealthProbeJob probes the backend and feeds the result into a
// HealthTracker.
type HealthProbeJob struct {
	Checker provider.HealthChecker
	Tracker *provider.HealthTracker
	Logger  *slog.Logger

	// Timeout bounds one probe. Default: 15s.
	Timeout time.Duration

	// OnlyWhenDegraded skips the probe while the tracker reports no probe
	// is due (healthy, or still cooling down).
	OnlyWhenDegraded bool

	ScheduleExpr string // empty = default "*/5 * * * *"
}

// Compile-time interface check.
var _ Job = (*HealthProbeJob)(nil)

// Name implements Job.
func (j *HealthProbeJob) Name() string { return "backend_health" }

// Schedule implements Job.
func (j *HealthProbeJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/5 * * * *"
}

// Run sends one health check and records the outcome.
func (j *HealthProbeJob) Run(ctx context.Context) error {
	if j.OnlyWhenDegraded && j.Tracker != nil && !j.Tracker.ShouldProbe() {
		return nil
	}

	timeout := j.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := j.Checker.HealthCheck(ctx)
	if err != nil {
		if j.Tracker != nil {
			j.Tracker.RecordFailure(err)
		}
		return fmt.Errorf("cron: health probe: %w", err)
	}
	if j.Tracker != nil {
		j.Tracker.RecordSuccess()
	}
	j.Logger.Debug("cron: backend healthy")
	return nil
}
