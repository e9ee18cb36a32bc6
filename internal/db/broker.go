package db

import (
	"context"
	"sync"

	"intake-assistant/pkg"
)

// Broker fans session events out to in-process subscribers such as the
// SSE stream. Slow subscribers miss events rather than block publishers.
type Broker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan pkg.SessionEvent
}

// NewBroker constructs an empty Broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan pkg.SessionEvent)}
}

// Publish delivers ev to every subscriber with room in its buffer.
func (b *Broker) Publish(_ context.Context, ev pkg.SessionEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber. The returned cancel func unregisters it
// and closes the channel.
func (b *Broker) Subscribe(buffer int) (<-chan pkg.SessionEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan pkg.SessionEvent, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers reports how many subscribers are registered.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
