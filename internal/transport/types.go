// Package transport abstracts the mesh radio link.
package transport

import (
	"context"
	"time"
)

// Message is one inbound text packet.
type Message struct {
	ID      uint32
	From    string // node id, e.g. "!a1b2c3d4"
	Channel int
	Text    string

	ViaMQTT  bool
	HopStart int
	HopLimit int
	// SNR and RSSI are nil when the radio did not report them.
	SNR  *float64
	RSSI *int

	ReceivedAt time.Time
}

// HopsUsed is HopStart-HopLimit, or 0 when the sender did not report a hop start.
func (m Message) HopsUsed() int {
	if m.HopStart <= 0 {
		return 0
	}
	return m.HopStart - m.HopLimit
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Message) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, channel int, text string) error
	Connected() bool
}

// Sender is the outbound half of Adapter.
type Sender interface {
	SendText(ctx context.Context, channel int, text string) error
}
