package events

import (
	"sync"
	"time"
)

// Event is a notification published by the sync engine.
type Event interface {
	// EventName is the stable name consumers dispatch on.
	EventName() string
}

// Envelope wraps a published event with its publication time.
type Envelope struct {
	Name  string    `json:"name"`
	At    time.Time `json:"at"`
	Event Event     `json:"payload"`
}

// Bus fans events out to subscribers synchronously, in publication order,
// and keeps a bounded history. A nil *Bus drops everything.
type Bus struct {
	mu      sync.Mutex
	subs    map[int]func(Envelope)
	next    int
	history []Envelope
	limit   int
}

// NewBus creates a bus remembering the last history events.
func NewBus(history int) *Bus {
	return &Bus{subs: make(map[int]func(Envelope)), limit: history}
}

// Subscribe registers fn and returns a function that removes it.
// Subscribers run on the publisher's goroutine and must not block.
func (b *Bus) Subscribe(fn func(Envelope)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish delivers e to all current subscribers.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	env := Envelope{Name: e.EventName(), At: time.Now(), Event: e}

	b.mu.Lock()
	if b.limit > 0 {
		b.history = append(b.history, env)
		if over := len(b.history) - b.limit; over > 0 {
			b.history = append([]Envelope(nil), b.history[over:]...)
		}
	}
	subs := make([]func(Envelope), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(env)
	}
}

// Recent returns the remembered events, oldest first.
func (b *Bus) Recent() []Envelope {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Envelope(nil), b.history...)
}
