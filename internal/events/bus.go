// Package events is the in-process pub/sub fabric connecting the HTTP
// handlers to push consumers such as the WebSocket feed.
package events

import (
	"sync"
)

// Bus is a lightweight pub/sub broker using channels.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]chan any
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]chan any)}
}

// Subscribe registers a listener for a topic and returns the channel
// and an unsubscribe function.
func (b *Bus) Subscribe(t Topic, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	b.subs[t] = append(b.subs[t], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[t]
		for i, c := range subs {
			if c == ch {
				close(c)
				b.subs[t] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}

	return ch, unsub
}

// Publish fan-outs the payload to subscribers without blocking; a slow
// subscriber misses events rather than stalling the publisher.
func (b *Bus) Publish(t Topic, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[t] {
		select {
		case ch <- payload:
		default:
		}
	}
}
