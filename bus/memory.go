package bus

import (
	"context"
	"sync"
)

// MemoryBus is an in-process bus for tests and single-node deployments.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[string][]chan Message
	closed bool
}

// NewMemoryBus creates an in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs: make(map[string][]chan Message),
	}
}

// Publish delivers the message to every subscriber of the channel. Slow
// subscribers drop messages rather than block the publisher.
func (b *MemoryBus) Publish(_ context.Context, channel string, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	for _, ch := range b.subs[channel] {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe registers a new subscriber on the channel. The subscription ends
// when the context is cancelled or the bus is closed.
func (b *MemoryBus) Subscribe(ctx context.Context, channel string) (<-chan Message, error) {
	ch := make(chan Message, 64)

	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(channel, ch)
	}()

	return ch, nil
}

// Close shuts down the bus and closes all subscriber channels.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, chans := range b.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	b.subs = make(map[string][]chan Message)
	return nil
}

func (b *MemoryBus) remove(channel string, target chan Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	chans := b.subs[channel]
	for i, ch := range chans {
		if ch == target {
			b.subs[channel] = append(chans[:i], chans[i+1:]...)
			close(ch)
			return
		}
	}
}
