// Package command routes "/name args..." text messages to handlers.
package command

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "meshmate/internal/runtime/supervisor"
	kit "meshmate/internal/transport"
	logx "meshmate/pkg/logx"
)

// Prefix starts every command.
const Prefix = "/"

const defaultTimeout = 20 * time.Second

type HandlerFunc func(ctx context.Context, req *Request) (string, error)

type Command struct {
	Name        string // without Prefix, lower case
	Description string
	Handle      HandlerFunc
}

type Request struct {
	Msg     kit.Message
	Command string
	Args    []string
	Logger  logx.Logger
}

// Observer receives router events for metrics. Methods must not block.
type Observer interface {
	MessageReceived(channel int)
	CommandHandled(name string, took time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) MessageReceived(int)                         {}
func (nopObserver) CommandHandled(string, time.Duration, error) {}

type Options struct {
	Log      logx.Logger
	Observer Observer
	Timeout  time.Duration
}

type Router struct {
	log     logx.Logger
	obs     Observer
	timeout time.Duration

	mu       sync.RWMutex
	cmds     map[string]Command
	order    []string
	channels []string          // channel index -> name
	restrict map[string]string // command -> channel name it is limited to
}

func NewRouter(opts Options) *Router {
	r := &Router{
		log:      opts.Log,
		obs:      opts.Observer,
		timeout:  opts.Timeout,
		cmds:     map[string]Command{},
		restrict: map[string]string{},
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	r.log = r.log.With(logx.String("comp", "command"))
	if r.obs == nil {
		r.obs = nopObserver{}
	}
	if r.timeout <= 0 {
		r.timeout = defaultTimeout
	}
	return r
}

// Register adds commands. Names are case-insensitive and must be unique.
func (r *Router) Register(cmds ...Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Name), Prefix))
		if name == "" || c.Handle == nil {
			return fmt.Errorf("command %q: name and handler are required", c.Name)
		}
		if _, dup := r.cmds[name]; dup {
			return fmt.Errorf("command %q already registered", name)
		}
		c.Name = name
		r.cmds[name] = c
		r.order = append(r.order, name)
	}
	return nil
}

// Commands returns the registered commands in registration order.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.cmds[n])
	}
	return out
}

// SetChannels sets the channel names by index. Safe during hot reload.
func (r *Router) SetChannels(names []string) {
	cp := append([]string(nil), names...)
	r.mu.Lock()
	r.channels = cp
	r.mu.Unlock()
}

// SetRestrictions limits commands to a named channel (command -> channel name).
func (r *Router) SetRestrictions(m map[string]string) {
	cp := make(map[string]string, len(m))
	for k, v := range m {
		k = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(k), Prefix))
		if k != "" && strings.TrimSpace(v) != "" {
			cp[k] = strings.TrimSpace(v)
		}
	}
	r.mu.Lock()
	r.restrict = cp
	r.mu.Unlock()
}

// ChannelName returns the configured name of a channel, or "Channel N".
func (r *Router) ChannelName(idx int) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if idx >= 0 && idx < len(r.channels) && strings.TrimSpace(r.channels[idx]) != "" {
		return r.channels[idx]
	}
	return "Channel " + strconv.Itoa(idx)
}

// IsCommand reports whether text addresses a registered command.
func (r *Router) IsCommand(text string) bool {
	name, _ := split(text)
	if name == "" {
		return false
	}
	r.mu.RLock()
	_, ok := r.cmds[name]
	r.mu.RUnlock()
	return ok
}

func split(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], Prefix) {
		return "", nil
	}
	return strings.ToLower(strings.TrimPrefix(fields[0], Prefix)), fields[1:]
}

// Dispatch runs the command in msg and returns its reply.
// ok is false when msg is not a command this router serves on msg's channel.
// Handler errors and panics are logged; the reply is then empty.
func (r *Router) Dispatch(ctx context.Context, msg kit.Message) (reply string, ok bool) {
	name, args := split(msg.Text)
	if name == "" {
		return "", false
	}
	r.mu.RLock()
	cmd, found := r.cmds[name]
	only := r.restrict[name]
	r.mu.RUnlock()
	if !found {
		return "", false
	}
	if only != "" && !strings.EqualFold(r.ChannelName(msg.Channel), only) {
		r.log.Debug("command not allowed on channel", logx.String("command", name), logx.Int("channel", msg.Channel))
		return "", false
	}

	log := r.log.With(logx.String("command", name), logx.String("sender", msg.From), logx.Int("channel", msg.Channel))
	req := &Request{Msg: msg, Command: name, Args: args, Logger: log}

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	reply, err := func() (reply string, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
				log.Error("command.panic", logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
			}
		}()
		return cmd.Handle(cctx, req)
	}()
	took := time.Since(start)
	r.obs.CommandHandled(name, took, err)

	if err != nil {
		log.Error("command failed", logx.Duration("took", took), logx.Err(err))
		return "", true
	}
	log.Info("command handled", logx.Duration("took", took), logx.Int("reply_len", len(reply)))
	return reply, true
}

// DispatchLoop consumes inbound messages with a small worker pool and sends
// replies back on the message's channel. It returns when ctx is done.
func (r *Router) DispatchLoop(ctx context.Context, in <-chan kit.Message, out kit.Sender, workers int) error {
	if workers <= 0 {
		workers = 2
	}
	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(r.log), rtsup.WithCancelOnError(false))
	r.log.Info("command dispatcher started", logx.Int("workers", workers))

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case msg, open := <-in:
					if !open {
						return nil
					}
					r.handleInbound(c, msg, out)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	<-sup.Context().Done()
	wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := sup.Wait(wctx)
	r.log.Info("command dispatcher stopped")
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return ctx.Err()
}

func (r *Router) handleInbound(ctx context.Context, msg kit.Message, out kit.Sender) {
	r.obs.MessageReceived(msg.Channel)
	fields := []logx.Field{
		logx.String("sender", msg.From),
		logx.Int("channel", msg.Channel),
		logx.String("channel_name", r.ChannelName(msg.Channel)),
		logx.String("text", msg.Text),
		logx.Bool("via_mqtt", msg.ViaMQTT),
		logx.Int("hop_start", msg.HopStart),
		logx.Int("hop_limit", msg.HopLimit),
	}
	r.log.Info("message received", fields...)

	reply, ok := r.Dispatch(ctx, msg)
	if !ok || reply == "" {
		return
	}
	if err := out.SendText(ctx, msg.Channel, reply); err != nil {
		r.log.Error("send reply failed", logx.String("sender", msg.From), logx.Int("channel", msg.Channel), logx.Err(err))
	}
}
