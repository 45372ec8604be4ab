package config

import (
	"time"

	ctxengine "github.com/flemzord/fanyi/internal/context"
)

// Default values applied by ApplyDefaults.
const (
	DefaultOutputLanguage = "english"
	DefaultModel          = "chat"
	DefaultSummaryTimeout = 30 * time.Second
	DefaultBackupSchedule = "0 3 * * *"
	DefaultBackupCodec    = "zstd"
	DefaultBackupKeep     = 7
	DefaultHealthSchedule = "*/5 * * * *"
)

// ScheduleOff disables a maintenance schedule.
const ScheduleOff = "off"

// ApplyDefaults fills zero-valued fields. Budget stays 0 so the strategy
// default applies downstream.
func ApplyDefaults(cfg *Config) {
	if cfg.Version == "" {
		cfg.Version = "1"
	}

	t := &cfg.Translation
	if t.OutputLanguage == "" {
		t.OutputLanguage = DefaultOutputLanguage
	}
	if t.Model == "" {
		t.Model = DefaultModel
	}

	h := &cfg.History
	if h.Strategy == "" {
		h.Strategy = ctxengine.StrategyCompaction
	}
	if h.TargetRatio == 0 {
		h.TargetRatio = ctxengine.DefaultTargetRatio
	}
	if h.SummaryTimeout == "" {
		h.SummaryTimeout = DefaultSummaryTimeout.String()
	}

	m := &cfg.Maintenance
	if m.BackupSchedule == "" {
		m.BackupSchedule = DefaultBackupSchedule
	}
	if m.BackupCodec == "" {
		m.BackupCodec = DefaultBackupCodec
	}
	if m.BackupKeep == 0 {
		m.BackupKeep = DefaultBackupKeep
	}
	if m.HealthSchedule == "" {
		m.HealthSchedule = DefaultHealthSchedule
	}
}

// SummaryTimeoutDuration returns the parsed history append timeout, falling back
// to the default on an empty or invalid value.
func (h HistoryConfig) SummaryTimeoutDuration() time.Duration {
	if d, err := time.ParseDuration(h.SummaryTimeout); err == nil && d > 0 {
		return d
	}
	return DefaultSummaryTimeout
}

// ContextConfig converts the history section to the context engine config.
func (h HistoryConfig) ContextConfig() ctxengine.Config {
	return ctxengine.Config{
		Strategy:    h.Strategy,
		Budget:      h.Budget,
		TargetRatio: h.TargetRatio,
	}.WithDefaults()
}
