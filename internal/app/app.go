// Package app wires the bot together and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"meshmate/internal/api"
	"meshmate/internal/command"
	"meshmate/internal/config"
	"meshmate/internal/dispatch"
	"meshmate/internal/executor"
	"meshmate/internal/metrics"
	"meshmate/internal/registry"
	rtsup "meshmate/internal/runtime/supervisor"
	"meshmate/internal/storage"
	kit "meshmate/internal/transport"
	"meshmate/internal/transport/console"
	logx "meshmate/pkg/logx"
	"meshmate/pkg/systemd"
)

const statusInterval = 5 * time.Second

// Options inject process-level dependencies; zero values use the real ones.
type Options struct {
	Version string
	// In and Out back the console transport. Default: stdin/stdout.
	In  io.Reader
	Out io.Writer
}

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	sd   *systemd.Notifier

	metrics *metrics.Metrics
	store   storage.Store
	sched   *registry.Registry

	adapter kit.Adapter
	out     *kit.Limited
	router  *command.Router
	exec    *executor.Executor
	disp    *dispatch.Dispatcher
	api     *api.Service

	workers int
	inbound chan kit.Message

	dispMu     sync.Mutex
	dispCancel context.CancelFunc
	dispDone   chan struct{}
}

func New(cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(promReg, opts.Version)
	if err != nil {
		return nil, err
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return nil, err
	}

	// The registry load must not block startup forever on a wedged disk.
	loadCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	sched := registry.New(loadCtx, store, registry.Options{
		MaxPerUser: mapMaxPerUser(cfg),
		Log:        log.With(logx.String("comp", "registry")),
		Observer:   m,
	})
	cancel()

	in, outW := opts.In, opts.Out
	if in == nil {
		in = os.Stdin
	}
	if outW == nil {
		outW = os.Stdout
	}
	ad, err := console.New(console.Config{
		In:          in,
		Out:         outW,
		DefaultFrom: cfg.Mesh.DefaultFrom,
		TextLimit:   cfg.Mesh.TextLimit,
	}, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	exCfg, limCfg, err := mapExecutorConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	out := kit.NewLimited(ad, limCfg, m)

	router := command.NewRouter(command.Options{
		Log:      log.With(logx.String("comp", "commands")),
		Observer: m,
	})
	if err := router.Register(
		command.PingCommand(),
		command.ScheduleCommand(sched),
		command.InfoCommand(),
	); err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := router.Register(command.HelpCommand(router)); err != nil {
		_ = store.Close()
		return nil, err
	}
	router.SetChannels(cfg.Mesh.Channels)
	router.SetRestrictions(cfg.Mesh.Restrictions)

	exec := executor.New(exCfg, router, out, log)

	dCfg, err := mapDispatchConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	disp := dispatch.New(dCfg, sched, exec, dispatch.Options{
		Log:      log.With(logx.String("comp", "dispatch")),
		Observer: m,
	})

	apiCfg, err := mapAPIConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a := &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		sd:      systemd.NewNotifier(log),
		metrics: m,
		store:   store,
		sched:   sched,
		adapter: ad,
		out:     out,
		router:  router,
		exec:    exec,
		disp:    disp,
		workers: mapWorkers(cfg),
		inbound: make(chan kit.Message, 64),
	}
	a.api = api.New(apiCfg, api.Deps{
		Version:   opts.Version,
		Transport: ad,
		Sender:    out,
		Scheduler: sched,
		Location:  disp.Location,
		Gatherer:  promReg,
		Observer:  m,
		Runtime:   a.counters,
	}, log)
	return a, nil
}

// counters is zero until Start creates the supervisor.
func (a *App) counters() rtsup.Counters { return a.sup.Counters() }

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

// APIAddr is the bound HTTP address, or "" when the API is off.
func (a *App) APIAddr() string { return a.api.Addr() }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		if _, err := mapDispatchConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapExecutorConfig(cfg); err != nil {
			return err
		}
		if _, err := mapAPIConfig(cfg); err != nil {
			return err
		}
		_, err := mapStorageConfig(cfg)
		return err
	})

	if err := a.adapter.Start(a.sup.Context(), a.inbound); err != nil {
		return err
	}
	a.metrics.SetConnected(a.adapter.Connected())

	workers := a.workers
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.inbound, a.out, workers)
	})

	cfg := a.cfgm.Get()
	if cfg.Scheduler.Enabled {
		a.startDispatch()
	} else {
		a.log.Info("scheduler disabled via config")
	}

	a.api.Reconfigure(a.sup.Context(), mustAPIConfig(cfg, a.log))

	a.sup.Go0("transport.status", func(c context.Context) {
		t := time.NewTicker(statusInterval)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				a.metrics.SetConnected(a.adapter.Connected())
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		a.sd.RunWatchdog(c, func() bool { return a.sup.Err() == nil })
	})

	a.sd.Ready()
	a.sd.Status(fmt.Sprintf("%d active schedules", a.sched.Stats().ActiveSchedules))
	a.log.Info("app started",
		logx.Bool("scheduler", cfg.Scheduler.Enabled),
		logx.Bool("api", cfg.API.Enabled),
	)
	return nil
}

func mustAPIConfig(cfg *config.Config, log logx.Logger) api.Config {
	ac, err := mapAPIConfig(cfg)
	if err != nil {
		log.Warn("invalid api config; api disabled", logx.Err(err))
		return api.Config{}
	}
	return ac
}

// applyConfig fans a validated reload out to the live components.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.Summarize(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if rs := config.NeedsRestart(sections); len(rs) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.Strings("sections", rs))
	}

	a.logs.Apply(mapLoggingConfig(next))

	a.router.SetChannels(next.Mesh.Channels)
	a.router.SetRestrictions(next.Mesh.Restrictions)
	a.sched.SetMaxPerUser(mapMaxPerUser(next))

	if dc, err := mapDispatchConfig(next); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.disp.Apply(dc)
	}
	if ec, lc, err := mapExecutorConfig(next); err != nil {
		a.log.Warn("invalid executor config; keeping previous", logx.Err(err))
	} else {
		a.exec.Apply(ec)
		a.out.Apply(lc)
	}

	switch {
	case prev.Scheduler.Enabled && !next.Scheduler.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.stopDispatch(stopCtx)
		cancel()
	case !prev.Scheduler.Enabled && next.Scheduler.Enabled:
		a.log.Info("scheduler enabled via config")
		a.startDispatch()
	}

	if ac, err := mapAPIConfig(next); err != nil {
		a.log.Warn("invalid api config; keeping previous", logx.Err(err))
	} else {
		a.api.Reconfigure(ctx, ac)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	a.sd.Status("config reloaded")
}

func (a *App) startDispatch() {
	a.dispMu.Lock()
	defer a.dispMu.Unlock()
	if a.dispCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(a.sup.Context())
	done := make(chan struct{})
	a.dispCancel = cancel
	a.dispDone = done

	disp := a.disp
	a.sup.Go0("dispatch.run", func(context.Context) {
		defer close(done)
		_ = disp.Run(ctx)
	})
}

func (a *App) stopDispatch(ctx context.Context) {
	a.dispMu.Lock()
	cancel, done := a.dispCancel, a.dispDone
	a.dispCancel, a.dispDone = nil, nil
	a.dispMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("dispatch loop did not stop in time")
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	// step bounds one shutdown step so a stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped: deadline reached", logx.String("name", name))
			return
		}
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
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("dispatch", 2*time.Second, func(c context.Context) error { a.stopDispatch(c); return nil })
	step("api", time.Second, func(c context.Context) error { a.api.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
