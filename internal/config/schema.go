// Package config handles YAML configuration loading, environment variable
// expansion, defaults and structural validation for fanyi.
package config

import "gopkg.in/yaml.v3"

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	Translation TranslationConfig `yaml:"translation"`
	History     HistoryConfig     `yaml:"history"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "provider.deepseek").
	Modules map[string]yaml.Node `yaml:"modules"`
}

// TranslationConfig controls how each translation request is built.
type TranslationConfig struct {
	// OutputLanguage selects the built-in system prompt: english or chinese.
	OutputLanguage string `yaml:"output_language"`

	// Model is the backend model alias: chat or reasoner.
	Model string `yaml:"model"`

	// SystemPrompt replaces the language prompt when non-empty.
	SystemPrompt string `yaml:"system_prompt"`

	// RequireTerminator treats a stream that ends without [DONE] as failed.
	RequireTerminator bool `yaml:"require_terminator"`
}

// HistoryConfig controls the conversation History Store.
type HistoryConfig struct {
	// Enabled is the initial value of the persisted history toggle. The
	// stored toggle wins once it exists.
	Enabled *bool `yaml:"enabled"`

	// Strategy is compaction or truncation.
	Strategy string `yaml:"strategy"`

	// Budget is the token budget. 0 selects the strategy default.
	Budget int `yaml:"budget"`

	// TargetRatio is the fraction of the budget compaction aims for.
	TargetRatio float64 `yaml:"target_ratio"`

	// SummaryTimeout bounds the history append, including compaction.
	SummaryTimeout string `yaml:"summary_timeout"`
}

// MaintenanceConfig drives the scheduled background jobs.
type MaintenanceConfig struct {
	// BackupSchedule is a 5-field cron expression. "off" disables backups.
	BackupSchedule string `yaml:"backup_schedule"`

	// BackupDir defaults to {data_dir}/backups.
	BackupDir string `yaml:"backup_dir"`

	// BackupCodec is zstd or lz4.
	BackupCodec string `yaml:"backup_codec"`

	// BackupKeep is how many archives to retain.
	BackupKeep int `yaml:"backup_keep"`

	// AgeRecipients are age X25519 public keys; backups are encrypted to
	// them when non-empty.
	AgeRecipients []string `yaml:"age_recipients"`

	// HealthSchedule is a 5-field cron expression for the backend probe.
	// "off" disables it.
	HealthSchedule string `yaml:"health_schedule"`
}

// HistoryEnabled reports the configured initial history toggle.
func (h HistoryConfig) HistoryEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}
