package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	_ EventPublisher = Noop{}
	_ EventPublisher = (*Channel)(nil)
	_ EventPublisher = Multi(nil)
)

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, string, Event) error { return nil }

// Message is one event delivered through a Channel.
type Message struct {
	Key   string
	Event Event
}

// Channel delivers events on a buffered Go channel the caller drains. When the buffer
// is full the event is dropped and counted, so a slow consumer never stalls the engine.
type Channel struct {
	mu      sync.RWMutex
	ch      chan Message
	closed  bool
	dropped atomic.Int64
}

func NewChannel(buffer int) *Channel {
	return &Channel{ch: make(chan Message, buffer)}
}

// Events returns the receive side of the channel. It is closed by Close.
func (c *Channel) Events() <-chan Message {
	return c.ch
}

// Dropped returns the number of events discarded because the buffer was full.
func (c *Channel) Dropped() int64 {
	return c.dropped.Load()
}

func (c *Channel) Publish(_ context.Context, key string, event Event) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil
	}

	select {
	case c.ch <- Message{Key: key, Event: event}:
	default:
		c.dropped.Add(1)
	}

	return nil
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.ch)
	}

	return nil
}

// Multi publishes each event to every publisher and joins their errors.
type Multi []EventPublisher

func (m Multi) Publish(ctx context.Context, key string, event Event) error {
	var errs []error

	for _, p := range m {
		if err := p.Publish(ctx, key, event); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
