// Package app builds the component graph and runs it: telegram intake, the
// alert pipeline, operator commands, the scheduler tick and config hot-reload.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"prionotify/internal/clock"
	"prionotify/internal/commands"
	"prionotify/internal/config"
	"prionotify/internal/eventbus"
	"prionotify/internal/metrics"
	"prionotify/internal/notifier"
	"prionotify/internal/pipeline"
	"prionotify/internal/render"
	rtsup "prionotify/internal/runtime/supervisor"
	"prionotify/internal/scheduler"
	"prionotify/internal/snooze"
	"prionotify/internal/storage"
	"prionotify/internal/transport"
	"prionotify/internal/transport/telegram"
	"prionotify/internal/trigger"
	logx "prionotify/pkg/logx"
)

const tickSchedule = "pipeline.tick"

type App struct {
	cfgm *config.ConfigManager
	rt   *config.Runtime
	sup  *rtsup.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	backend storage.Store
	metrics *metrics.Metrics

	adapter *telegram.Adapter
	notif   *notifier.Client
	pipe    *pipeline.Pipeline
	router  *commands.Router
	sched   *scheduler.Service

	updates chan transport.Update
	tick    time.Duration
}

func NewApp(opt Options) (*App, error) {
	cfgm, rt, err := LoadRuntime(opt)
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(rt.Logging.Level).With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{Token: rt.Token, PollTimeout: rt.PollTimeout}, bootLog)
	if err != nil {
		return nil, fmt.Errorf("telegram session: %w", err)
	}

	// Bootstrap with the mirror off so Apply does not warn before the target is set.
	logCfg := rt.Logging
	logCfg.Telegram.Enabled = false
	logSvc, log := logx.New(logCfg, ad)
	logSvc.SetTelegramTarget(rt.OwnerID)
	logSvc.Apply(rt.Logging)
	log = log.With(logx.String("comp", "app"))

	clk := clock.Real{}
	backend, st, err := OpenState(context.Background(), rt, clk, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()
	met := metrics.New(clk, rt.Heartbeat)
	snz := snooze.New(st, clk, rt.QueueCapacity, log.With(logx.String("comp", "snooze")))
	notif := notifier.New(rt.Delivery, ad.AlertSink(rt.AlertChatID), clk, log.With(logx.String("comp", "notifier")))

	pipe := pipeline.New(pipeline.Config{
		Retention: rt.Retention,
		QueueSize: rt.DeliveryQueue,
	}, pipeline.Deps{
		Store:      st,
		Snooze:     snz,
		Classifier: trigger.Classifier{SelfID: rt.MonitorUserID, Username: rt.MonitorUsername},
		Renderer:   render.Renderer{Offset: st.TimezoneOffset},
		Sender:     notif,
		Metrics:    met,
		Bus:        bus,
		Clock:      clk,
		Log:        log.With(logx.String("comp", "pipeline")),
	})

	cmdLog := log.With(logx.String("comp", "commands"))
	router := commands.NewRouter(rt.OwnerID, cmdLog,
		commands.MWPanicRecover(cmdLog),
		commands.MWAudit(backend, clk, cmdLog),
		commands.MWRequestLog(cmdLog),
	)
	commands.NewHandlers(commands.Deps{
		Store:    st,
		Snooze:   snz,
		Resolver: ad,
		Flusher:  pipe,
		Metrics:  met,
		Clock:    clk,
	}).Register(router)

	sched := scheduler.New(scheduler.Config{Timezone: rt.Timezone}, log.With(logx.String("comp", "scheduler")))

	id, username := ad.Identity()
	log.Info("session ready",
		logx.Int64("bot_id", id),
		logx.String("bot_username", username),
		logx.Int64("owner_id", rt.OwnerID),
		logx.Int64("alert_chat_id", rt.AlertChatID),
		logx.Int64("monitor_user_id", rt.MonitorUserID),
		logx.String("state_driver", rt.Storage.Driver),
	)

	return &App{
		cfgm:    cfgm,
		rt:      rt,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		backend: backend,
		metrics: met,
		adapter: ad,
		notif:   notif,
		pipe:    pipe,
		router:  router,
		sched:   sched,
		updates: make(chan transport.Update, 256),
	}, nil
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

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := config.Resolve(cfg)
		return err
	})

	// The pipeline outlives the supervisor context so Stop can drain it.
	a.pipe.Start(context.WithoutCancel(a.sup.Context()))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	mctx, cancel := context.WithTimeout(a.sup.Context(), 10*time.Second)
	if err := a.adapter.UpdateMenuCommands(mctx, a.router.Menu()); err != nil {
		a.log.Warn("command menu update failed", logx.Err(err))
	}
	cancel()

	if err := a.addTick(a.rt.Tick); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())

	d := &dispatcher{
		router: a.router,
		intake: a.pipe,
		reply:  a.adapter,
		log:    a.log.With(logx.String("comp", "dispatch")),
	}
	a.sup.Go("updates.dispatch", func(c context.Context) error {
		return d.loop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.audit", func(c context.Context) {
		defer unsub()
		recordEvents(c, events, a.backend, a.log.With(logx.String("comp", "audit")))
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
				newCfg = latest(sub, newCfg)
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	// A window that expired while we were down is flushed right away, not a tick later.
	if err := a.pipe.Tick(a.sup.Context()); err != nil {
		a.log.Warn("startup tick failed", logx.Err(err))
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}
	a.log.Info("app started", logx.Duration("tick", a.rt.Tick), logx.Int("commands", len(a.router.Menu())))
	return nil
}

func (a *App) addTick(every time.Duration) error {
	if err := a.sched.Add(tickSchedule, every.String(), every, a.pipe.Tick); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	a.tick = every
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

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
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	// Drains admitted alerts and saves state.
	step("pipeline", 5*time.Second, func(c context.Context) error { return a.pipe.Stop(c) })
	step("storage", 1*time.Second, func(c context.Context) error { return a.backend.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped", logx.String("uptime", metrics.FormatUptime(a.metrics.Snapshot().Uptime)))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
