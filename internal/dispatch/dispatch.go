// Package dispatch runs the minute loop that hands due schedules to an executor.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"meshmate/internal/schedule"
	logx "meshmate/pkg/logx"
)

// DefaultFallbackDelay is the sleep used when the next minute boundary cannot be computed.
const DefaultFallbackDelay = 60 * time.Second

const minWait = time.Second

// Resolver picks the schedules due in now's minute.
type Resolver interface {
	Due(ctx context.Context, now time.Time) ([]schedule.Due, error)
}

// Executor delivers one due schedule.
type Executor interface {
	Execute(ctx context.Context, d schedule.Due) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, d schedule.Due) error

func (f ExecutorFunc) Execute(ctx context.Context, d schedule.Due) error { return f(ctx, d) }

// Observer receives loop events for metrics. Methods must not block.
type Observer interface {
	TickObserved(took time.Duration)
	Executed(d schedule.Due, err error)
}

type nopObserver struct{}

func (nopObserver) TickObserved(time.Duration)   {}
func (nopObserver) Executed(schedule.Due, error) {}

type Config struct {
	Timezone      string // IANA name; empty means Local
	FallbackDelay time.Duration
}

type Options struct {
	Log      logx.Logger
	Observer Observer
	// Now is the wall clock. Defaults to time.Now.
	Now func() time.Time
}

type Dispatcher struct {
	resolver Resolver
	exec     Executor
	log      logx.Logger
	obs      Observer
	now      func() time.Time
	every    cron.Schedule

	mu       sync.Mutex
	cfg      Config
	loc      *time.Location
	lastTick time.Time
}

func New(cfg Config, resolver Resolver, exec Executor, opts Options) *Dispatcher {
	d := &Dispatcher{
		resolver: resolver,
		exec:     exec,
		log:      opts.Log,
		obs:      opts.Observer,
		now:      opts.Now,
	}
	if d.log.IsZero() {
		d.log = logx.Nop()
	}
	d.log = d.log.With(logx.String("comp", "dispatch"))
	if d.obs == nil {
		d.obs = nopObserver{}
	}
	if d.now == nil {
		d.now = time.Now
	}
	every, err := cron.ParseStandard("* * * * *")
	if err != nil {
		d.log.Error("minute schedule unavailable, using fallback delay", logx.Err(err))
	}
	d.every = every
	d.Apply(cfg)
	return d
}

// Apply swaps the configuration. A timezone change takes effect on the next tick.
func (d *Dispatcher) Apply(cfg Config) {
	if cfg.FallbackDelay <= 0 {
		cfg.FallbackDelay = DefaultFallbackDelay
	}
	loc := loadLocation(cfg.Timezone, d.log)

	d.mu.Lock()
	old := d.loc
	d.cfg = cfg
	d.loc = loc
	d.mu.Unlock()

	if old != nil && old.String() != loc.String() {
		d.log.Info("timezone changed", logx.String("from", old.String()), logx.String("to", loc.String()))
	}
}

// Location is the zone schedules are evaluated in.
func (d *Dispatcher) Location() *time.Location {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loc
}

// Run ticks once per minute until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("dispatch loop started", logx.String("tz", d.Location().String()))
	defer d.log.Info("dispatch loop stopped")

	for {
		d.Tick(ctx, d.now())

		wait := d.nextWake(d.now())
		d.log.Trace("sleeping until next minute", logx.Duration("wait", wait))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Tick resolves and dispatches the schedules due at now and returns how many
// were handed to the executor. A minute already evaluated is skipped.
func (d *Dispatcher) Tick(ctx context.Context, now time.Time) int {
	start := time.Now()
	defer func() { d.obs.TickObserved(time.Since(start)) }()

	d.mu.Lock()
	now = now.In(d.loc)
	minute := now.Truncate(time.Minute)
	if !d.lastTick.IsZero() && !minute.After(d.lastTick) {
		d.mu.Unlock()
		d.log.Debug("minute already evaluated, skipping", logx.Time("minute", minute))
		return 0
	}
	d.lastTick = minute
	d.mu.Unlock()

	due, err := d.resolve(ctx, now)
	if err != nil {
		d.log.Error("resolve due schedules failed", logx.Time("at", now), logx.Err(err))
	}
	if len(due) == 0 {
		return 0
	}

	d.log.Info("dispatching due schedules", logx.Int("count", len(due)), logx.String("minute", schedule.ClockOf(now).String()))
	for i, item := range due {
		if ctx.Err() != nil {
			d.log.Warn("dispatch interrupted", logx.Int("pending", len(due)-i))
			break
		}
		d.dispatchOne(ctx, item)
	}
	return len(due)
}

func (d *Dispatcher) resolve(ctx context.Context, now time.Time) (due []schedule.Due, err error) {
	defer func() {
		if r := recover(); r != nil {
			due = nil
			err = fmt.Errorf("panic: %v", r)
			d.log.Error("resolve.panic", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return d.resolver.Due(ctx, now)
}

func (d *Dispatcher) dispatchOne(ctx context.Context, item schedule.Due) {
	log := d.log.With(
		logx.String("owner", item.OwnerID),
		logx.Int("schedule_id", item.ScheduleID),
		logx.Int("channel", item.Channel),
		logx.String("kind", item.Content.Kind.String()),
	)

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				log.Error("execute.panic", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		return d.exec.Execute(ctx, item)
	}()
	d.obs.Executed(item, err)

	if err != nil {
		log.Warn("schedule execution failed", logx.Duration("took", time.Since(start)), logx.Err(err))
		return
	}
	log.Info("schedule executed", logx.Duration("took", time.Since(start)))
}

// nextWake is the time left until the next minute boundary, at least one second.
func (d *Dispatcher) nextWake(now time.Time) time.Duration {
	d.mu.Lock()
	fallback := d.cfg.FallbackDelay
	loc := d.loc
	d.mu.Unlock()

	if d.every == nil {
		return fallback
	}
	next := d.every.Next(now.In(loc))
	if next.IsZero() {
		return fallback
	}
	wait := next.Sub(now)
	if wait < minWait {
		wait = minWait
	}
	return wait
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
