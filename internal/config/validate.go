package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/robfig/cron/v3"

	ctxengine "github.com/flemzord/fanyi/internal/context"
	"github.com/flemzord/fanyi/internal/core"
)

var (
	outputLanguages = []string{"english", "chinese"}
	models          = []string{"chat", "reasoner"}
	strategies      = []string{ctxengine.StrategyCompaction, ctxengine.StrategyTruncation}
	backupCodecs    = []string{"zstd", "lz4"}
)

// cronParser accepts the same 5-field expressions as the scheduler.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate checks the structural validity of a Config.
// It verifies the version field, ensures modules are present and
// registered, and checks the translation, history and maintenance
// sections. All problems are reported together.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if len(cfg.Modules) == 0 {
		errs = append(errs, errors.New("config: at least one module must be configured"))
	}

	hasProvider := false
	for id := range cfg.Modules {
		if _, ok := core.GetModule(id); !ok {
			errs = append(errs, fmt.Errorf("config: unknown module %q", id))
		}
		if core.ModuleID(id).Namespace() == "provider" {
			hasProvider = true
		}
	}
	if len(cfg.Modules) > 0 && !hasProvider {
		errs = append(errs, errors.New("config: no provider module configured"))
	}

	errs = append(errs, validateTranslation(cfg.Translation)...)
	errs = append(errs, validateHistory(cfg.History)...)
	errs = append(errs, validateMaintenance(cfg.Maintenance)...)

	return errors.Join(errs...)
}

func validateTranslation(t TranslationConfig) []error {
	var errs []error
	if t.OutputLanguage != "" && !slices.Contains(outputLanguages, t.OutputLanguage) {
		errs = append(errs, fmt.Errorf("config: translation.output_language: %q is not one of %s",
			t.OutputLanguage, strings.Join(outputLanguages, ", ")))
	}
	if t.Model != "" && !slices.Contains(models, t.Model) {
		errs = append(errs, fmt.Errorf("config: translation.model: %q is not one of %s",
			t.Model, strings.Join(models, ", ")))
	}
	return errs
}

func validateHistory(h HistoryConfig) []error {
	var errs []error
	if h.Strategy != "" && !slices.Contains(strategies, h.Strategy) {
		errs = append(errs, fmt.Errorf("config: history.strategy: %q is not one of %s",
			h.Strategy, strings.Join(strategies, ", ")))
	}
	if h.Budget < 0 {
		errs = append(errs, fmt.Errorf("config: history.budget must be non-negative, got %d", h.Budget))
	}
	if h.TargetRatio < 0 || h.TargetRatio >= 1 {
		errs = append(errs, fmt.Errorf("config: history.target_ratio must be in (0, 1), got %g", h.TargetRatio))
	}
	if h.SummaryTimeout != "" {
		if d, err := time.ParseDuration(h.SummaryTimeout); err != nil {
			errs = append(errs, fmt.Errorf("config: history.summary_timeout: %w", err))
		} else if d <= 0 {
			errs = append(errs, fmt.Errorf("config: history.summary_timeout must be positive, got %s", d))
		}
	}
	return errs
}

func validateMaintenance(m MaintenanceConfig) []error {
	var errs []error
	schedules := []struct{ field, expr string }{
		{"backup_schedule", m.BackupSchedule},
		{"health_schedule", m.HealthSchedule},
	}
	for _, s := range schedules {
		if s.expr == "" || s.expr == ScheduleOff {
			continue
		}
		if _, err := cronParser.Parse(s.expr); err != nil {
			errs = append(errs, fmt.Errorf("config: maintenance.%s: %w", s.field, err))
		}
	}
	if m.BackupCodec != "" && !slices.Contains(backupCodecs, m.BackupCodec) {
		errs = append(errs, fmt.Errorf("config: maintenance.backup_codec: %q is not one of %s",
			m.BackupCodec, strings.Join(backupCodecs, ", ")))
	}
	if m.BackupKeep < 0 {
		errs = append(errs, fmt.Errorf("config: maintenance.backup_keep must be non-negative, got %d", m.BackupKeep))
	}
	for i, r := range m.AgeRecipients {
		if _, err := age.ParseX25519Recipient(r); err != nil {
			errs = append(errs, fmt.Errorf("config: maintenance.age_recipients[%d]: %w", i, err))
		}
	}
	return errs
}
