// Package console is a line-oriented transport for local runs and tests.
//
// Each input line is "<from> <channel> <text>", e.g. "!a1b2c3d4 0 /ping".
// Lines that do not start with a node id are read as text from Config.DefaultFrom
// on channel 0. Outgoing text is written as "[ch N] text".
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	rtsup "meshmate/internal/runtime/supervisor"
	kit "meshmate/internal/transport"
	logx "meshmate/pkg/logx"
)

type Config struct {
	In          io.Reader
	Out         io.Writer
	DefaultFrom string
	// TextLimit splits outgoing text into packets of at most this many bytes.
	TextLimit int
}

type Adapter struct {
	cfg Config
	log logx.Logger

	outMu sync.Mutex

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	connected atomic.Bool
	nextID    atomic.Uint32
	dropped   atomic.Uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if cfg.In == nil || cfg.Out == nil {
		return nil, errors.New("console transport needs both input and output")
	}
	if strings.TrimSpace(cfg.DefaultFrom) == "" {
		cfg.DefaultFrom = "!console"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log.With(logx.String("comp", "transport.console"))}, nil
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Message) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(false))
	sup := a.sup
	a.runMu.Unlock()

	a.connected.Store(true)
	sup.Go("console.read", func(c context.Context) error {
		defer a.connected.Store(false)
		return a.readLoop(c, out)
	})
	a.log.Info("console transport started")
	return nil
}

func (a *Adapter) readLoop(ctx context.Context, out chan<- kit.Message) error {
	sc := bufio.NewScanner(a.cfg.In)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		msg := a.parseLine(line)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- msg:
		default:
			if n := a.dropped.Add(1); n == 1 || n%100 == 0 {
				a.log.Warn("incoming messages dropped (channel full)", logx.Int64("count", int64(n)), logx.Int("chan_cap", cap(out)))
			}
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	a.log.Info("console input closed")
	return nil
}

func (a *Adapter) parseLine(line string) kit.Message {
	msg := kit.Message{
		ID:         a.nextID.Add(1),
		From:       a.cfg.DefaultFrom,
		Text:       line,
		ReceivedAt: time.Now(),
	}
	fields := strings.SplitN(line, " ", 3)
	if len(fields) == 3 && strings.HasPrefix(fields[0], "!") {
		if ch, err := strconv.Atoi(fields[1]); err == nil && ch >= 0 {
			msg.From = fields[0]
			msg.Channel = ch
			msg.Text = strings.TrimSpace(fields[2])
		}
	}
	return msg
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	a.connected.Store(false)
	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()

	// The scanner may be parked on a blocking read; don't hold shutdown for it.
	grace := time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		a.log.Warn("console stop error", logx.Err(err))
	}
	a.log.Info("console transport stopped")
	return nil
}

func (a *Adapter) SendText(ctx context.Context, channel int, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.outMu.Lock()
	defer a.outMu.Unlock()
	for _, part := range kit.SplitText(text, a.cfg.TextLimit) {
		if _, err := fmt.Fprintf(a.cfg.Out, "[ch %d] %s\n", channel, part); err != nil {
			return err
		}
	}
	return nil
}

// Connected reports whether the input stream is still being read.
func (a *Adapter) Connected() bool { return a.connected.Load() }
