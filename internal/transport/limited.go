package transport

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// SendObserver is told about every send attempt. Methods must not block.
type SendObserver interface {
	MessageSent(channel int, err error)
}

type LimitConfig struct {
	RatePerSec float64
	Burst      int
}

// Limited throttles outgoing text to respect shared airtime.
// Command replies, reminders and API sends all go through one Limited.
type Limited struct {
	next Sender
	obs  SendObserver

	mu      sync.Mutex
	limiter *rate.Limiter
}

func NewLimited(next Sender, cfg LimitConfig, obs SendObserver) *Limited {
	l := &Limited{next: next, obs: obs}
	l.Apply(cfg)
	return l
}

// Apply swaps the limiter. Waiters on the old limiter finish on it.
func (l *Limited) Apply(cfg LimitConfig) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 3
	}
	lim := rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
	l.mu.Lock()
	l.limiter = lim
	l.mu.Unlock()
}

func (l *Limited) SendText(ctx context.Context, channel int, text string) error {
	l.mu.Lock()
	lim := l.limiter
	l.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return err
	}
	err := l.next.SendText(ctx, channel, text)
	if l.obs != nil {
		l.obs.MessageSent(channel, err)
	}
	return err
}
