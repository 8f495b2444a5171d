// Package executor delivers due schedules: commands are replayed through the
// command router as if the owner had sent them, reminders are sent as text.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"meshmate/internal/command"
	"meshmate/internal/schedule"
	kit "meshmate/internal/transport"
	logx "meshmate/pkg/logx"
)

var ErrUnknownCommand = errors.New("unknown command")

const (
	DefaultTimeout        = 30 * time.Second
	DefaultReminderPrefix = "⏰ "
)

type Config struct {
	Timeout        time.Duration
	ReminderPrefix string
}

// Router replays a command message and returns its reply.
type Router interface {
	Dispatch(ctx context.Context, msg kit.Message) (string, bool)
}

type Executor struct {
	router Router
	out    kit.Sender
	log    logx.Logger

	mu  sync.Mutex
	cfg Config
}

func New(cfg Config, router Router, out kit.Sender, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Executor{router: router, out: out, log: log.With(logx.String("comp", "executor"))}
	e.Apply(cfg)
	return e
}

func (e *Executor) Apply(cfg Config) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

func (e *Executor) config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Execute delivers d within the configured timeout.
func (e *Executor) Execute(ctx context.Context, d schedule.Due) error {
	cfg := e.config()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if d.Content.IsCommand() {
		return e.runCommand(ctx, d)
	}
	text := command.Mention(d.OwnerID, cfg.ReminderPrefix+d.Content.Text)
	if err := e.out.SendText(ctx, d.Channel, text); err != nil {
		return fmt.Errorf("send reminder: %w", err)
	}
	return nil
}

func (e *Executor) runCommand(ctx context.Context, d schedule.Due) error {
	msg := kit.Message{
		From:       d.OwnerID,
		Channel:    d.Channel,
		Text:       d.Content.Text,
		ReceivedAt: time.Now(),
	}
	reply, ok := e.router.Dispatch(ctx, msg)
	if !ok {
		name := strings.Fields(d.Content.Text)
		if len(name) == 0 {
			return ErrUnknownCommand
		}
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name[0])
	}
	if reply == "" {
		e.log.Debug("scheduled command produced no reply", logx.String("owner", d.OwnerID), logx.Int("schedule_id", d.ScheduleID))
		return nil
	}
	if err := e.out.SendText(ctx, d.Channel, reply); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}
