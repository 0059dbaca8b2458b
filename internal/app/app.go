// Package app assembles the configured services: logging, the scheduler
// and monitor loops, the notification pipeline, optional storage, and the
// config hot-reload plumbing that keeps them in sync.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"autoflow/internal/checks"
	"autoflow/internal/config"
	"autoflow/internal/eventbus"
	"autoflow/internal/logging"
	"autoflow/internal/monitor"
	"autoflow/internal/notify"
	"autoflow/internal/scheduler"
	"autoflow/internal/storage"
	"autoflow/internal/supervisor"
	"autoflow/internal/workflow"
	"autoflow/pkg/logx"
)

// StopReason records why the app is shutting down, for the final log line.
type StopReason string

const (
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopAppStop    StopReason = "app_stop"
	StopFatalError StopReason = "fatal_error"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   *slog.Logger
	logs  *logging.Service
	bus   eventbus.Bus
	store storage.Store

	channels   *notify.Manager
	dispatcher *notify.Dispatcher
	sched      *scheduler.Service
	mon        *monitor.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logging.New(mapLoggingConfig(cfg.Logging))
	log = log.With(slog.String("comp", "app"))

	// Leaf packages (config, storage) log through the zerolog facade.
	cfgm.SetLogger(logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "config")))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", slog.String("driver", sc.Driver))
	}

	channels := notify.NewManager(log.With(slog.String("comp", "notify")))
	for _, cc := range cfg.Channels {
		ch, err := buildChannel(cc)
		if err != nil {
			return nil, fmt.Errorf("channels: %w", err)
		}
		if err := channels.AddChannel(ch); err != nil {
			return nil, fmt.Errorf("channels: %w", err)
		}
		log.Info("channel registered", slog.String("channel", ch.ID()), slog.String("type", cc.Type))
	}

	ncfg, err := mapNotifierConfig(cfg.Notifier)
	if err != nil {
		return nil, err
	}
	dispatcher := notify.NewDispatcher(ncfg, channels, log.With(slog.String("comp", "dispatcher")), bus)

	// WARN+ log records flow into the same pipeline as everything else.
	logs.SetNotifySink(func(ctx context.Context, level slog.Level, text string) {
		_ = dispatcher.Notify(ctx, notify.Message{
			Title:    "log " + level.String(),
			Body:     text,
			Priority: priorityForLevel(level),
		})
	})

	scfg, err := mapSchedulerConfig(cfg.Scheduler)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(scfg, log.With(slog.String("comp", "scheduler")), scheduler.WithBus(bus))

	mcfg, err := mapMonitorConfig(cfg.Monitor)
	if err != nil {
		return nil, err
	}
	mon := monitor.New(mcfg, log.With(slog.String("comp", "monitor")), monitor.WithBus(bus))

	a := &App{
		cfgPath:    cfgPath,
		cfgm:       cfgm,
		log:        log,
		logs:       logs,
		bus:        bus,
		store:      store,
		channels:   channels,
		dispatcher: dispatcher,
		sched:      sched,
		mon:        mon,
	}
	if err := a.registerMonitors(cfg.Monitors); err != nil {
		return nil, err
	}
	return a, nil
}

// registerMonitors adds config-declared health checks; their alert action
// sends through the dispatcher.
func (a *App) registerMonitors(entries []config.MonitorEntryConfig) error {
	for _, mc := range entries {
		spec, err := mapMonitorEntry(mc)
		if err != nil {
			return fmt.Errorf("monitors: %w", err)
		}
		check, err := checks.FromConfig(spec.check)
		if err != nil {
			return fmt.Errorf("monitors.%s: %w", spec.name, err)
		}
		msg := notify.Message{
			Title:    spec.alertTitle,
			Body:     spec.alertBody,
			Priority: spec.alertPriority,
		}
		alert := func(ctx context.Context) {
			_ = a.dispatcher.Notify(ctx, msg)
		}
		if _, err := a.mon.Add(spec.name, check, alert, spec.interval, spec.cooldown); err != nil {
			return fmt.Errorf("monitors.%s: %w", spec.name, err)
		}
		a.log.Info("monitor registered",
			slog.String("monitor", spec.name),
			slog.String("check", spec.check.Type),
			slog.Duration("interval", spec.interval))
	}
	return nil
}

// Scheduler exposes job registration to the embedding program.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Monitor exposes health-check registration to the embedding program.
func (a *App) Monitor() *monitor.Service { return a.mon }

// Notifier is the async send pipeline.
func (a *App) Notifier() *notify.Dispatcher { return a.dispatcher }

// Channels is the synchronous fan-out manager behind the dispatcher.
func (a *App) Channels() *notify.Manager { return a.channels }

func (a *App) Bus() eventbus.Bus      { return a.bus }
func (a *App) Logger() *slog.Logger   { return a.log }
func (a *App) Config() *config.Config { return a.cfgm.Get() }

// NewWorkflow builds a workflow wired to the app's logger and event bus, so
// completed runs reach storage like everything else.
func (a *App) NewWorkflow(name string) *workflow.Workflow {
	return workflow.New(name, workflow.WithLogger(a.log.With(slog.String("comp", "workflow"))), workflow.WithBus(a.bus))
}

// NewPipeline builds a pipeline wired like NewWorkflow.
func (a *App) NewPipeline(name string) *workflow.Pipeline {
	return workflow.NewPipeline(name, workflow.WithLogger(a.log.With(slog.String("comp", "pipeline"))), workflow.WithBus(a.bus))
}

// Done is closed when the app supervisor context is canceled (fatal error
// or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// Transactional hot reload: validate before commit/publish.
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if _, err := mapSchedulerConfig(cfg.Scheduler); err != nil {
			return err
		}
		if _, err := mapMonitorConfig(cfg.Monitor); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg.Notifier); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		for _, cc := range cfg.Channels {
			if err := validateChannelConfig(cc); err != nil {
				return err
			}
		}
		for _, mc := range cfg.Monitors {
			if _, err := mapMonitorEntry(mc); err != nil {
				return err
			}
		}
		return nil
	})

	if a.dispatcher.Enabled() {
		a.dispatcher.Start(a.sup.Context())
	}
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}
	if a.mon.Enabled() {
		a.mon.Start(a.sup.Context())
	}

	a.sup.Go0("eventbus.sink", func(c context.Context) {
		a.eventSink(c)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// eventSink logs bus traffic at debug level and persists run summaries and
// fired alerts when storage is configured.
func (a *App) eventSink(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", slog.String("type", e.Type), slog.Time("time", e.Time))
			if a.store == nil {
				continue
			}
			switch e.Type {
			case eventbus.WorkflowCompleted:
				if ev, ok := e.Data.(workflow.RunEvent); ok {
					rec := storage.RunRecord{
						At:         e.Time,
						RunID:      ev.ID,
						Name:       ev.Name,
						Status:     string(ev.Status),
						Steps:      ev.Steps,
						DurationMS: ev.Duration.Milliseconds(),
						Error:      ev.Error,
					}
					if err := a.store.AppendRun(ctx, rec); err != nil {
						a.log.Warn("persist run failed", slog.Any("err", err))
					}
				}
			case eventbus.MonitorAlert:
				if ev, ok := e.Data.(monitor.AlertEvent); ok {
					rec := storage.AlertRecord{
						At:      ev.Time,
						EntryID: ev.EntryID,
						Name:    ev.Name,
						Reason:  ev.Reason,
					}
					if err := a.store.AppendAlert(ctx, rec); err != nil {
						a.log.Warn("persist alert failed", slog.Any("err", err))
					}
				}
			}
		}
	}
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	a.logs.Apply(mapLoggingConfig(next.Logging))

	if scfg, err := mapSchedulerConfig(next.Scheduler); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", slog.Any("err", err))
	} else {
		prevEnabled := a.sched.Enabled()
		a.sched.Apply(scfg)
		switch {
		case prevEnabled && !scfg.Enabled:
			a.log.Info("scheduler disabled via config")
			a.stopWithTimeout(ctx, a.sched.Stop)
		case !prevEnabled && scfg.Enabled:
			a.log.Info("scheduler enabled via config")
			a.sched.Start(ctx)
		}
	}

	if mcfg, err := mapMonitorConfig(next.Monitor); err != nil {
		a.log.Warn("invalid monitor config; keeping previous", slog.Any("err", err))
	} else {
		prevEnabled := a.mon.Enabled()
		a.mon.Apply(mcfg)
		switch {
		case prevEnabled && !mcfg.Enabled:
			a.log.Info("monitor disabled via config")
			a.stopWithTimeout(ctx, a.mon.Stop)
		case !prevEnabled && mcfg.Enabled:
			a.log.Info("monitor enabled via config")
			a.mon.Start(ctx)
		}
	}

	if ncfg, err := mapNotifierConfig(next.Notifier); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", slog.Any("err", err))
	} else {
		prevEnabled := a.dispatcher.Enabled()
		a.dispatcher.Apply(ncfg)
		switch {
		case prevEnabled && !ncfg.Enabled:
			a.log.Info("notifier disabled via config")
			a.stopWithTimeout(ctx, a.dispatcher.Stop)
		case !prevEnabled && ncfg.Enabled:
			a.log.Info("notifier enabled via config")
			a.dispatcher.Start(ctx)
		}
	}

	// Channel, monitor-entry and storage declarations bind at startup.
	if prev != nil {
		if fmt.Sprint(prev.Channels) != fmt.Sprint(next.Channels) ||
			fmt.Sprint(prev.Monitors) != fmt.Sprint(next.Monitors) {
			a.log.Warn("channel/monitor declarations changed; restart required for changes to take effect")
		}
		if fmt.Sprint(prev.Storage) != fmt.Sprint(next.Storage) {
			a.log.Warn("storage config changed; restart required for changes to take effect")
		}
	}

	a.log.Info("config reloaded")
}

func (a *App) stopWithTimeout(ctx context.Context, stop func(context.Context)) {
	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	stop(stopCtx)
	cancel()
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", slog.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Run each shutdown step with an upper bound so one component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", slog.String("name", name), slog.Any("err", err))
			} else {
				a.log.Debug("stop step end", slog.String("name", name), slog.Duration("took", time.Since(start)))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				slog.String("name", name),
				slog.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("monitor", 2*time.Second, func(c context.Context) error { a.mon.Stop(c); return nil })
	// The dispatcher drains queued notifications; give it a bit longer.
	step("notifier", 3*time.Second, func(c context.Context) error { a.dispatcher.Stop(c); return nil })
	step("storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}

func priorityForLevel(level slog.Level) int {
	switch {
	case level >= slog.LevelError:
		return 9
	case level >= slog.LevelWarn:
		return 7
	default:
		return 5
	}
}
