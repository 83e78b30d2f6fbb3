package events

import (
	"sync"
)

// Handler consumes published events. Handlers run synchronously on the
// publishing goroutine and must not block.
type Handler func(Event)

// Bus is an in-process publish/subscribe hub for machine lifecycle events.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[int]subscription
}

type subscription struct {
	kind Type
	all  bool
	fn   Handler
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]subscription)}
}

// Subscribe registers fn for every event. The returned function removes the
// subscription and is safe to call more than once.
func (b *Bus) Subscribe(fn Handler) func() {
	return b.add(subscription{all: true, fn: fn})
}

// SubscribeTo registers fn for events of the given type only.
func (b *Bus) SubscribeTo(kind Type, fn Handler) func() {
	return b.add(subscription{kind: kind, fn: fn})
}

func (b *Bus) add(sub subscription) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish delivers evt to all matching subscribers. Delivery order between
// subscribers is not guaranteed; subscribers registered during delivery
// receive later events only.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.all || sub.kind == evt.Type {
			handlers = append(handlers, sub.fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(evt)
	}
}
