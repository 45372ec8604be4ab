package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/flemzord/fanyi/internal/backup"
	"github.com/flemzord/fanyi/internal/config"
	ctxengine "github.com/flemzord/fanyi/internal/context"
	"github.com/flemzord/fanyi/internal/core"
	"github.com/flemzord/fanyi/internal/cron"
	"github.com/flemzord/fanyi/internal/gateway"
	"github.com/flemzord/fanyi/internal/memory"
	"github.com/flemzord/fanyi/internal/provider"
	"github.com/flemzord/fanyi/internal/session"
	"github.com/flemzord/fanyi/modules/store/sqlite"
)

// summarizerSource is implemented by providers that can condense history
// for the compaction strategy.
type summarizerSource interface {
	Summarizer() ctxengine.Summarizer
}

// wire builds the engine components on top of the provisioned modules and
// registers them as services.
func (e *Engine) wire(ctx context.Context) error {
	p, ok := core.ServiceAs[provider.Provider](e.AppCtx, "provider")
	if !ok {
		return errNoProvider
	}
	e.Provider = p

	// The gateway module is optional; without it metrics are not recorded.
	metrics, _ := core.ServiceAs[*gateway.Metrics](e.AppCtx, gateway.ServiceMetrics)

	e.Health = provider.NewHealthTracker(provider.HealthConfig{
		OnStateChange: func(from, to provider.HealthState) {
			e.Logger.Warn("backend health changed", "from", from.String(), "to", to.String())
			if metrics != nil {
				metrics.ObserveHealth(to)
			}
		},
	})

	history, err := e.buildHistory(ctx, metrics)
	if err != nil {
		return err
	}
	e.History = history

	instruction, err := systemInstruction(e.Config.Translation)
	if err != nil {
		return err
	}
	e.Controller = session.NewController(session.Config{
		Provider:          p,
		History:           history,
		SystemInstruction: instruction,
		Model:             e.Config.Translation.Model,
		RequireTerminator: e.Config.Translation.RequireTerminator,
		Health:            e.Health,
		AppendTimeout:     e.Config.History.SummaryTimeoutDuration(),
		Logger:            e.Logger,
		OnFinish: func(o session.Outcome) {
			if metrics == nil {
				return
			}
			metrics.ObserveSession(o)
			metrics.ObserveHistory(history.Stats())
		},
	})

	e.AppCtx.RegisterService(ServiceController, e.Controller)
	e.AppCtx.RegisterService(ServiceHealth, e.Health)
	e.AppCtx.RegisterService(ServiceHistory, history)

	sched, err := e.buildScheduler()
	if err != nil {
		return err
	}
	e.Scheduler = sched
	e.App.AppendModule(ServiceScheduler, &schedulerModule{scheduler: sched, logger: e.Logger})
	return nil
}

// buildHistory creates the History Store on the configured KV and restores
// its persisted state.
func (e *Engine) buildHistory(ctx context.Context, metrics *gateway.Metrics) (*memory.History, error) {
	kv, ok := core.ServiceAs[memory.KV](e.AppCtx, sqlite.ServiceName)
	if !ok {
		e.Logger.Warn("no persistent store configured, history is kept in memory only")
		kv = memory.NewInMemoryKV()
	}

	var summarizer ctxengine.Summarizer
	if src, ok := e.Provider.(summarizerSource); ok {
		summarizer = src.Summarizer()
	}
	ctxCfg := e.Config.History.ContextConfig()
	strategy, err := ctxengine.NewStrategy(ctxCfg, summarizer, nil)
	if err != nil {
		return nil, err
	}

	history := memory.NewHistory(memory.Options{
		KV:       kv,
		Strategy: strategy,
		Budget:   ctxCfg.Budget,
		Logger:   e.Logger,
		OnEvict: func(ev memory.EvictionEvent) {
			if metrics != nil {
				metrics.ObserveEviction(ev)
			}
		},
	})
	if err := history.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	// The configured toggle only seeds a store that never persisted one.
	stored, err := kv.Get(ctx, memory.KeyEnabled)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	if _, ok := stored[memory.KeyEnabled]; !ok && !e.Config.History.HistoryEnabled() {
		if err := history.SetEnabled(ctx, false); err != nil {
			return nil, err
		}
	}

	e.Logger.Info("history loaded",
		"strategy", history.Strategy(),
		"budget", history.Budget(),
		"entries", history.Len(),
		"tokens", history.TotalTokens(),
		"enabled", history.Enabled(),
	)
	if metrics != nil {
		metrics.ObserveHistory(history.Stats())
	}
	return history, nil
}

// buildScheduler registers the maintenance jobs whose schedule is not "off".
func (e *Engine) buildScheduler() (*cron.Scheduler, error) {
	m := e.Config.Maintenance
	sched := cron.NewScheduler(e.Logger)

	if m.BackupSchedule != config.ScheduleOff {
		codec, err := backup.ParseCodec(m.BackupCodec)
		if err != nil {
			return nil, err
		}
		w, err := backup.NewWriter(backup.Options{
			Dir:        e.BackupDir(),
			Codec:      codec,
			Keep:       m.BackupKeep,
			Recipients: m.AgeRecipients,
			Logger:     e.Logger,
		})
		if err != nil {
			return nil, err
		}
		if err := sched.RegisterJob(&cron.BackupJob{
			Writer:       w,
			Source:       e.History,
			Logger:       e.Logger,
			ScheduleExpr: m.BackupSchedule,
		}); err != nil {
			return nil, err
		}
	}

	if checker, ok := e.Provider.(provider.HealthChecker); ok && m.HealthSchedule != config.ScheduleOff {
		if err := sched.RegisterJob(&cron.HealthProbeJob{
			Checker:          checker,
			Tracker:          e.Health,
			Logger:           e.Logger,
			OnlyWhenDegraded: true,
			ScheduleExpr:     m.HealthSchedule,
		}); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

// BackupDir returns the directory receiving history archives.
func (e *Engine) BackupDir() string {
	if dir := e.Config.Maintenance.BackupDir; dir != "" {
		return dir
	}
	return filepath.Join(e.DataDir, "backups")
}

// systemInstruction returns the configured prompt, or the built-in one for
// the output language.
func systemInstruction(t config.TranslationConfig) (string, error) {
	if t.SystemPrompt != "" {
		return t.SystemPrompt, nil
	}
	return ctxengine.SystemInstruction(ctxengine.OutputLanguage(t.OutputLanguage))
}

// schedulerModule adapts the maintenance scheduler to the module lifecycle.
type schedulerModule struct {
	scheduler *cron.Scheduler
	logger    *slog.Logger
}

func (m *schedulerModule) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  ServiceScheduler,
		New: func() core.Module { return &schedulerModule{} },
	}
}

func (m *schedulerModule) Start() error {
	if len(m.scheduler.Jobs()) == 0 {
		m.logger.Info("no maintenance jobs scheduled")
	}
	return m.scheduler.Start()
}

func (m *schedulerModule) Stop(ctx context.Context) error {
	return m.scheduler.Stop(ctx)
}
