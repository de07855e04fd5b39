// Package bus fans validated events out to in-process subscribers.
//
// A Bus is an explicitly constructed service: tests and applications each
// create their own and Close it when done. Publish is synchronous and calls
// subscribers of a name in the order they subscribed.
package bus

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
	"github.com/simplenotes/notesync/pkg/events"
)

// Handler receives the payload of a published event.
type Handler func(payload any)

// WildcardHandler receives every published event together with its name.
type WildcardHandler func(name events.Name, payload any)

type subscription struct {
	id      uint64
	handler Handler
}

type wildcardSubscription struct {
	id      uint64
	handler WildcardHandler
}

type Bus struct {
	// buckets maps an event name to its subscribers in registration order.
	// A name is removed as soon as its last subscriber leaves.
	buckets  map[events.Name][]subscription
	wildcard []wildcardSubscription
	nextID   uint64
	closed   bool
	mu       sync.Mutex

	logger zerolog.Logger
}

func New(log zerolog.Logger) *Bus {
	return &Bus{
		buckets: make(map[events.Name][]subscription),
		logger:  log,
	}
}

// Subscribe registers fn for name. The returned function removes the
// subscription; calling it again is a no-op.
func (b *Bus) Subscribe(name events.Name, fn Handler) (unsubscribe func()) {
	if fn == nil {
		panic("bus: nil handler")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	b.nextID++
	id := b.nextID
	b.buckets[name] = append(b.buckets[name], subscription{id: id, handler: fn})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(name, id) })
	}
}

// SubscribeAll registers fn for every event. Wildcard handlers run after the
// named subscribers of each publish.
func (b *Bus) SubscribeAll(fn WildcardHandler) (unsubscribe func()) {
	if fn == nil {
		panic("bus: nil handler")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	b.nextID++
	id := b.nextID
	b.wildcard = append(b.wildcard, wildcardSubscription{id: id, handler: fn})

	var once sync.Once
	return func() {
		once.Do(func() { b.removeWildcard(id) })
	}
}

// On subscribes a handler that takes the payload as T. Payloads of any other
// type are logged and skipped.
func On[T any](b *Bus, name events.Name, fn func(T)) (unsubscribe func()) {
	return b.Subscribe(name, func(payload any) {
		v, ok := payload.(T)
		if !ok {
			b.logger.Warn().
				Str("event", string(name)).
				Str("payload_type", fmt.Sprintf("%T", payload)).
				Msg("bus handler skipped payload of unexpected type")
			return
		}
		fn(v)
	})
}

func (b *Bus) remove(name events.Name, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.buckets[name]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		if len(subs) == 1 {
			delete(b.buckets, name)
			return
		}
		// Copy so that snapshots held by in-flight publishes stay intact.
		next := make([]subscription, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		b.buckets[name] = next
		return
	}
}

func (b *Bus) removeWildcard(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.wildcard {
		if s.id == id {
			next := make([]wildcardSubscription, 0, len(b.wildcard)-1)
			next = append(next, b.wildcard[:i]...)
			next = append(next, b.wildcard[i+1:]...)
			b.wildcard = next
			return
		}
	}
}

// Publish calls every subscriber of name with payload. Subscribers added or
// removed by a handler take effect from the next Publish. A panicking
// handler is logged and does not stop the others.
func (b *Bus) Publish(name events.Name, payload any) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	subs := b.buckets[name]
	wildcard := b.wildcard
	b.mu.Unlock()

	for _, s := range subs {
		b.call(name, s.id, func() { s.handler(payload) })
	}
	for _, s := range wildcard {
		b.call(name, s.id, func() { s.handler(name, payload) })
	}
}

func (b *Bus) call(name events.Name, id uint64, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("event", string(name)).
				Uint64("subscription", id).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("bus handler panicked")
		}
	}()
	fn()
}

// Len returns the number of subscribers registered for name.
func (b *Bus) Len(name events.Name) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buckets[name])
}

// Names returns the event names that currently have subscribers.
func (b *Bus) Names() []events.Name {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]events.Name, 0, len(b.buckets))
	for name := range b.buckets {
		names = append(names, name)
	}
	return names
}

// Close drops every subscription. Publishing to a closed bus does nothing.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.buckets = make(map[events.Name][]subscription)
	b.wildcard = nil
}
