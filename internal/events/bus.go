// Package events is an in-process pub/sub bus for completed analyses.
package events

import "sync"

// Bus fans published events out to subscribers. Slow subscribers miss events
// instead of blocking publishers.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan any
	closed bool
}

func NewBus() *Bus { return &Bus{} }

// Subscribe returns a channel receiving every later event.
func (b *Bus) Subscribe(buffer int) <-chan any {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan any, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

func (b *Bus) Publish(ev any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
