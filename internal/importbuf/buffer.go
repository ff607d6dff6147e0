// Package importbuf stages canonical events until they are committed to the
// event store.
package importbuf

import (
	"sync"

	"civsphere/event-ingester/internal/model"
)

// Buffer is an ordered, concurrency-safe list of pending events.
type Buffer struct {
	mu     sync.Mutex
	events []model.Event
	resets uint64 // bumped by Set and Clear
}

func New() *Buffer { return &Buffer{} }

// Set replaces the buffered events.
func (b *Buffer) Set(events []model.Event) {
	b.mu.Lock()
	b.events = append([]model.Event(nil), events...)
	b.resets++
	b.mu.Unlock()
}

func (b *Buffer) Append(events ...model.Event) {
	b.mu.Lock()
	b.events = append(b.events, events...)
	b.mu.Unlock()
}

// Events returns a copy of the buffered events in order.
func (b *Buffer) Events() []model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.Event(nil), b.events...)
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func (b *Buffer) Clear() {
	b.mu.Lock()
	b.events = nil
	b.resets++
	b.mu.Unlock()
}

func (b *Buffer) snapshot() ([]model.Event, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.Event(nil), b.events...), b.resets
}

// drop removes the first n events unless the buffer was reset since the
// snapshot taken at generation gen.
func (b *Buffer) drop(n int, gen uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.resets != gen || n > len(b.events) {
		return false
	}
	b.events = append([]model.Event(nil), b.events[n:]...)
	return true
}
