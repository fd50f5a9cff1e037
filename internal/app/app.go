// Package app wires the services into a long-running process: config load
// and hot reload, storage, the job engine and its triggers, the overdue
// sweep, reminders, outbound notifications and the ops endpoint.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"lifejourney/internal/config"
	"lifejourney/internal/eventbus"
	"lifejourney/internal/items"
	"lifejourney/internal/jobs/engine"
	"lifejourney/internal/jobs/trigger"
	"lifejourney/internal/metrics"
	"lifejourney/internal/notifier"
	"lifejourney/internal/observability/ops"
	"lifejourney/internal/reminders"
	rtsup "lifejourney/internal/runtime/supervisor"
	"lifejourney/internal/storage"
	"lifejourney/internal/sweep"
	logx "lifejourney/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	store   storage.Store
	metrics *metrics.Collector

	engine *engine.Service
	trig   *trigger.Service
	notif  *notifier.Service
	ops    *ops.Service
	items  *items.Service

	// Rebuilt on reload; the scheduled jobs always load the current one.
	sweeper atomic.Pointer[sweep.Sweeper]
	planner atomic.Pointer[reminders.Planner]

	lastSweepErr atomic.Pointer[string]

	sd *systemdNotifier
}

// New loads the config at cfgPath and builds every service. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Parse()
	if err != nil {
		return nil, err
	}
	if err := Validate(context.Background(), cfg); err != nil {
		return nil, err
	}
	cfgm.Commit(cfg)

	logSvc, log := logx.New(mapLogging(cfg))
	return build(cfgm, cfg, logSvc, log.With(logx.String("comp", "app")))
}

func build(cfgm *config.Manager, cfg *config.Config, logSvc *logx.Service, log logx.Logger) (*App, error) {
	bus := eventbus.New()

	sc, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		metrics: metrics.NewCollector(""),
		sd:      newSystemdNotifier(log.With(logx.String("comp", "systemd"))),
	}
	fail := func(err error) (*App, error) {
		_ = store.Close()
		return nil, err
	}

	engCfg, err := mapEngine(cfg)
	if err != nil {
		return fail(err)
	}
	a.engine = engine.New(engCfg, log.With(logx.String("comp", "engine")), bus, a.metrics)
	a.metrics.WatchEngine("", a.engine.Snapshot)

	trigCfg, err := mapTrigger(cfg)
	if err != nil {
		return fail(err)
	}
	a.trig = trigger.New(trigCfg, a.engine, log.With(logx.String("comp", "trigger")), bus)

	ncfg, err := mapNotifier(cfg)
	if err != nil {
		return fail(err)
	}
	gws, err := mapGateways(cfg)
	if err != nil {
		return fail(err)
	}
	a.notif = notifier.New(ncfg, log.With(logx.String("comp", "notifier")), gws,
		notifier.WithBus(bus),
		notifier.WithObserver(a.metrics),
		notifier.WithDedupStore(store),
	)

	ocfg, err := mapOps(cfg)
	if err != nil {
		return fail(err)
	}
	a.ops = ops.New(ocfg, log.With(logx.String("comp", "ops")), a.metrics.Registry())
	a.ops.AddCheck("storage", a.checkStorage)
	a.ops.AddCheck("sweep", a.checkSweep)

	a.items = items.New(store, log.With(logx.String("comp", "items")), items.WithBus(bus))

	if err := a.buildRunners(cfg); err != nil {
		return fail(err)
	}
	if err := a.registerJobs(cfg); err != nil {
		return fail(err)
	}
	return a, nil
}

// Items exposes the item service for in-process callers.
func (a *App) Items() *items.Service { return a.items }

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
	c := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(Validate)

	if err := a.ops.Start(c); err != nil {
		return err
	}
	if a.notif.Enabled() {
		a.notif.Start(c)
	}
	if a.engine.Enabled() {
		a.engine.Start(c)
	}
	if a.trig.Enabled() {
		a.trig.Start(c)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
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
				a.sd.reloading()
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
				a.sd.ready()
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	if a.sd.watchdogInterval() > 0 {
		a.sup.Go0("systemd.watchdog", a.sd.watchdogLoop)
	}

	a.sd.ready()
	a.log.Info("app started",
		logx.Bool("scheduler", a.trig.Enabled()),
		logx.Bool("notifier", a.notif.Enabled()),
		logx.String("ops", a.ops.Addr()),
	)
	return nil
}

// applyConfig applies a validated config to the running services. Sections
// that need a restart are only reported.
func (a *App) applyConfig(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.Summarize(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	if a.logs != nil {
		a.logs.Apply(mapLogging(newCfg))
	}

	prevEng := a.engine.Enabled()
	prevTrig := a.trig.Enabled()
	if ec, err := mapEngine(newCfg); err != nil {
		a.log.Warn("invalid job_engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(c, ec)
		if prevEng != ec.Enabled {
			a.log.Info("job engine toggled via config", logx.Bool("enabled", ec.Enabled))
		}
	}
	if tc, err := mapTrigger(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.trig.Apply(c, tc)
		if prevTrig != tc.Enabled {
			a.log.Info("scheduler toggled via config", logx.Bool("enabled", tc.Enabled))
		}
	}

	prevNotif := a.notif.Enabled()
	if nc, err := mapNotifier(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(nc)
		switch {
		case prevNotif && !nc.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !prevNotif && nc.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(c)
		}
	}

	if oc, err := mapOps(newCfg); err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else {
		a.ops.Apply(c, oc)
	}

	if err := a.buildRunners(newCfg); err != nil {
		a.log.Warn("invalid sweep/reminders config; keeping previous", logx.Err(err))
	} else if err := a.registerJobs(newCfg); err != nil {
		a.log.Warn("job schedule update failed", logx.Err(err))
	}

	a.log.Info("config reloaded", fields...)
}

// buildRunners replaces the sweeper and reminder planner from cfg.
func (a *App) buildRunners(cfg *config.Config) error {
	sc, _, err := mapSweep(cfg)
	if err != nil {
		return err
	}
	sw, err := sweep.New(sc, a.store,
		sweep.WithBus(a.bus),
		sweep.WithObserver(a.metrics),
		sweep.WithLogger(a.log.With(logx.String("comp", "sweep"))),
	)
	if err != nil {
		return err
	}
	classifier, err := mapModeration(cfg)
	if err != nil {
		return err
	}
	rc, _, err := mapReminders(cfg)
	if err != nil {
		return err
	}
	pl, err := reminders.New(rc, a.store, a.notif, classifier,
		reminders.WithBus(a.bus),
		reminders.WithObserver(a.metrics),
		reminders.WithLogger(a.log.With(logx.String("comp", "reminders"))),
	)
	if err != nil {
		return err
	}
	a.sweeper.Store(sw)
	a.planner.Store(pl)
	return nil
}

func (a *App) checkStorage(ctx context.Context) error {
	_, err := a.store.GetOwner(ctx, "healthcheck")
	if err == nil || errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

func (a *App) checkSweep(context.Context) error {
	if msg := a.lastSweepErr.Load(); msg != nil && *msg != "" {
		return fmt.Errorf("last sweep failed: %s", *msg)
	}
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.stopping()
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

		stepCtx := ctx
		if limit > 0 {
			// Never extend the caller's deadline.
			if dl, ok := ctx.Deadline(); ok {
				limit = min(limit, max(time.Until(dl), 0))
			}
			if limit > 0 {
				var cancel context.CancelFunc
				stepCtx, cancel = context.WithTimeout(ctx, limit)
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

	// Triggers first so nothing new is queued, then the engine drains.
	step("trigger", 2*time.Second, func(c context.Context) error { a.trig.Stop(c); return nil })
	step("engine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
