// Package app wires the gateway client, preference store, broadcast
// orchestrator, command router and scheduler into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"morningbot/internal/broadcast"
	"morningbot/internal/commands"
	"morningbot/internal/config"
	"morningbot/internal/enrich"
	"morningbot/internal/prefs"
	"morningbot/internal/runtime/supervisor"
	"morningbot/internal/scheduler"
	"morningbot/internal/storage"
	"morningbot/internal/transport"
	"morningbot/internal/transport/wechat"
	logx "morningbot/pkg/logx"
)

// MorningJob is the scheduler entry name of the daily broadcast.
const MorningJob = "morning"

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	backend storage.Backend
	prefs   *prefs.Store

	client *wechat.Client
	orch   *broadcast.Orchestrator
	router *commands.Router
	sched  *scheduler.Service
	clock  *zoneClock

	updates chan transport.Update
}

// New loads the config and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	if err := config.LoadDotEnv(cfgPath); err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("info")
	cfgm := config.NewManager(cfgPath, bootLog)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// The chat sink needs the gateway client, which needs a logger first.
	// Start with the sink off, then attach the client and apply the real config.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Chat.Enabled = false
	logSvc, log := logx.New(bootCfg, nil)

	client, err := wechat.New(mapGatewayConfig(cfg), log.With(logx.String("comp", "wechat")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	logSvc.SetSender(client)
	logSvc.Apply(logCfg)

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	backend, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	log.Info("config loaded", logx.String("path", cfgm.Path()))
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	clock := newZoneClock(cfg.Scheduler.Timezone)
	store := prefs.New(backend, log.With(logx.String("comp", "prefs")))
	enricher := enrich.New(mapSourcesConfig(cfg), log.With(logx.String("comp", "enrich")), enrich.WithClock(clock.Now))

	orch := broadcast.New(broadcast.Deps{
		Directory: client,
		Sender:    client,
		Prefs:     store,
		Enricher:  enricher,
		Log:       log,
	}, mapBroadcastConfig(cfg), broadcast.WithClock(clock.Now))

	router := commands.New(commands.Deps{
		Store:  store,
		Sender: client,
		Names:  client,
		Log:    log,
	}, mapCommandsConfig(cfg))

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		backend: backend,
		prefs:   store,
		client:  client,
		orch:    orch,
		router:  router,
		sched:   scheduler.New(mapSchedulerConfig(cfg), log),
		clock:   clock,
		updates: make(chan transport.Update, 256),
	}
	cfgm.SetLogger(log)

	if err := a.scheduleMorning(cfg); err != nil {
		_ = a.backend.Close()
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) scheduleMorning(cfg *config.Config) error {
	return a.sched.AddSchedule(MorningJob, cfg.Morning.Schedule, morningTimeout(cfg), a.runMorning)
}

func (a *App) runMorning(ctx context.Context) error {
	_, err := a.orch.Run(ctx)
	if errors.Is(err, broadcast.ErrRunning) {
		a.log.Warn("morning broadcast skipped: previous run still active")
		return nil
	}
	return err
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// RunOnce performs a single broadcast without starting the poller or the schedule.
func (a *App) RunOnce(ctx context.Context) (broadcast.Report, error) {
	return a.orch.Run(ctx)
}

// TriggerNow starts the scheduled broadcast out of band. It shares the
// schedule's skip-if-running guard.
func (a *App) TriggerNow() error {
	return a.sched.RunNow(MorningJob)
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	if err := a.client.Start(a.sup.Context(), a.updates); err != nil {
		return fmt.Errorf("start gateway poller: %w", err)
	}
	a.sched.Start()
	if next := a.sched.Next(MorningJob); !next.IsZero() {
		a.log.Info("morning broadcast scheduled", logx.Time("next", next))
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.apply(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// apply pushes a reloaded config into the live components.
func (a *App) apply(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range []string{"gateway", "storage", "sources"} {
		if slices.Contains(sections, s) {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLogConfig(newCfg))
	a.orch.Apply(mapBroadcastConfig(newCfg))
	a.router.Apply(mapCommandsConfig(newCfg))
	a.sched.Apply(mapSchedulerConfig(newCfg))
	a.clock.Set(newCfg.Scheduler.Timezone)

	if oldCfg == nil || oldCfg.Morning.Schedule != newCfg.Morning.Schedule || oldCfg.Morning.Timeout != newCfg.Morning.Timeout {
		if err := a.scheduleMorning(newCfg); err != nil {
			a.log.Warn("morning schedule rejected; keeping previous", logx.Err(err))
		} else if next := a.sched.Next(MorningJob); !next.IsZero() {
			a.log.Info("morning broadcast rescheduled", logx.Time("next", next))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.sup != nil {
		a.sup.Cancel()
	}

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

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
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("gateway", 2*time.Second, a.client.Stop)
	if a.sup != nil {
		step("supervisor", 2*time.Second, a.sup.Wait)
	}
	step("storage", time.Second, func(context.Context) error { return a.backend.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
