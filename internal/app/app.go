package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"timelapse/internal/camera"
	"timelapse/internal/capture"
	"timelapse/internal/config"
	"timelapse/internal/consolidate"
	"timelapse/internal/eventbus"
	"timelapse/internal/frames"
	"timelapse/internal/runtime/supervisor"
	"timelapse/internal/storage"
	"timelapse/internal/task/engine"
	"timelapse/internal/task/scheduler"
	logx "timelapse/pkg/logx"
	"timelapse/pkg/systemd"
)

// Event identities registered by the app.
const (
	CaptureEvent  = "capture"
	StatusEvent   = "status"
	WatchdogEvent = "systemd.watchdog"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor
	set  settings

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	sd    *systemd.Notifier

	engine *engine.Service
	sched  *scheduler.Service

	src    capture.Source
	frames *frames.DirStore
	pipe   *capture.Pipeline
	cons   *consolidate.Trigger

	status statusCache
}

func NewApp(cfgPath string) (*App, error) {
	return newApp(cfgPath, false)
}

// newApp builds the app; quiet drops logging to errors for one-shot commands
// that print to stdout.
func newApp(cfgPath string, quiet bool) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	set, err := resolve(cfg)
	if err != nil {
		return nil, err
	}
	if quiet {
		set.logging = logx.Config{Level: "error", Console: true}
		set.systemd = config.SystemdConfig{}
	}

	logSvc, log := logx.NewService(set.logging)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if set.storageOn {
		st, err := storage.Open(set.storage, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", set.storage.Driver), logx.String("path", set.storage.Path))
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		set:     set,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		sd:      systemd.NewNotifier(set.systemd.Notify, log.With(logx.String("comp", "systemd"))),
	}
	if err := a.build(context.Background()); err != nil {
		if store != nil {
			_ = store.Close()
		}
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

// build wires the scheduler and the capture pipeline from a.set.
func (a *App) build(ctx context.Context) error {
	set := a.set
	a.engine = engine.New(engine.Config{HistorySize: set.history}, a.log.With(logx.String("comp", "taskengine")), a.bus)
	sched, err := scheduler.New(set.scheduler, a.engine, a.store, a.log.With(logx.String("comp", "scheduler")), a.bus)
	if err != nil {
		return err
	}
	a.sched = sched

	if set.capture.enabled {
		if err := a.buildCapture(ctx); err != nil {
			return err
		}
		if err := a.sched.Register(scheduler.Event{
			Identity: CaptureEvent,
			Interval: set.capture.interval,
			Overlap:  set.capture.overlap,
			Work:     a.pipe.Run,
		}); err != nil {
			return err
		}
	}
	if set.statusOn {
		if err := a.sched.Register(scheduler.Event{
			Identity: StatusEvent,
			Interval: set.statusEvery,
			Work:     a.refreshStatus,
		}); err != nil {
			return err
		}
	}
	if set.systemd.Watchdog {
		if iv := a.sd.WatchdogInterval(); iv > 0 {
			if err := a.sched.Register(scheduler.Event{
				Identity: WatchdogEvent,
				Interval: iv,
				Work: func(context.Context) error {
					a.sd.Watchdog()
					return nil
				},
			}); err != nil {
				return err
			}
		} else {
			a.log.Debug("systemd watchdog not armed")
		}
	}
	return nil
}

func (a *App) buildCapture(ctx context.Context) error {
	cs := a.set.capture
	fs, err := frames.NewDirStore(cs.framesDir)
	if err != nil {
		return err
	}
	a.frames = fs

	switch cs.source.driver {
	case "dir":
		a.src = &camera.DirSource{Dir: cs.source.dir}
	default:
		a.src = &camera.CommandSource{Argv: cs.source.argv, Timeout: cs.source.timeout, Ext: cs.source.ext}
	}

	var ops []consolidate.Op
	if a.set.archive != nil {
		ops = append(ops, a.set.archive)
	}
	if a.set.video != nil {
		ops = append(ops, a.set.video)
	}
	opts := []consolidate.Option{
		consolidate.WithLogger(a.log.With(logx.String("comp", "consolidate"))),
		consolidate.WithBus(a.bus),
		consolidate.WithSpawner(spawner{a}),
	}
	if a.set.s3 != nil {
		pub, err := consolidate.NewS3Publisher(ctx, *a.set.s3)
		if err != nil {
			return fmt.Errorf("consolidate.s3: %w", err)
		}
		opts = append(opts, consolidate.WithPublisher(pub))
	}
	a.cons = consolidate.NewTrigger(fs, ops, opts...)

	metric := camera.GrayMetric{Cutoff: camera.DefaultCutoff}
	a.pipe = capture.New(cs.pipeline, a.src, metric, fs, a.cons, a.log.With(logx.String("comp", "capture")), a.bus)
	return nil
}

// spawner runs consolidation on the app supervisor once it exists.
type spawner struct{ a *App }

func (s spawner) Go0(name string, fn func(ctx context.Context)) {
	if sup := s.a.sup; sup != nil {
		sup.Go0(name, fn)
		return
	}
	go fn(context.Background())
}

func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Pipeline() *capture.Pipeline   { return a.pipe }

// Done is closed once the app supervisor context is canceled: on Stop, or
// when a supervised goroutine fails or panics (see Err).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first error or panic recorded by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := resolve(cfg)
		return err
	})

	// The device must answer before the first tick; systemd only hears READY
	// once capture can actually run.
	a.sup.GoRestart("scheduler", func(c context.Context) error {
		if a.src != nil {
			if err := camera.WaitReady(c, a.src, a.set.capture.readyBackoff, a.log.With(logx.String("comp", "camera"))); err != nil {
				return err
			}
		}
		a.sd.Ready()
		a.sd.Status("capturing")
		return a.sched.Run(c)
	}, time.Second, 30*time.Second)

	if a.bus != nil {
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
	}

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
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.String("config", a.cfgPath),
		logx.Duration("tick", a.sched.Registry().Tick()),
		logx.Bool("capture", a.pipe != nil),
	)
	return nil
}

// applyConfig applies the live-reloadable parts of a new config. Everything
// that shapes the schedule or the device needs a restart.
func (a *App) applyConfig(old, newCfg *config.Config) {
	set, err := resolve(newCfg)
	if err != nil {
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}
	sections, attrs := config.SummarizeConfigChange(old, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config sections changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(set.logging)
	if a.pipe != nil {
		a.pipe.Apply(set.capture.pipeline)
	}
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

		stepCtx := ctx
		var cancel context.CancelFunc
		if limit > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < limit {
					limit = max(rem, 0)
				}
			}
			if limit > 0 {
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

	// Loops first, so nothing new is dispatched while state is being saved.
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("consolidate", 30*time.Second, func(c context.Context) error {
		if a.cons != nil {
			return a.cons.Wait(c)
		}
		return nil
	})
	step("schedule.save", 2*time.Second, func(c context.Context) error { return a.sched.Save(c) })
	step("storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
