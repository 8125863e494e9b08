package events

import (
	"log/slog"
	"sync"
)

// Handler consumes a published event. Handlers run synchronously on the
// publisher's goroutine, so per-room delivery order is preserved.
type Handler func(Event)

type subscription struct {
	name  string
	fn    Handler
	once  bool
	fired bool
}

// Bus is a minimal publish/subscribe hub keyed by event kind.
// Named subscriptions guard against double-binding the same handler when a
// component is rebuilt across reconnects.
type Bus struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[Kind][]*subscription
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger.With("component", "events"),
		subs:   make(map[Kind][]*subscription),
	}
}

// Subscribe registers a handler for a kind. The name identifies the
// binding: subscribing the same (kind, name) pair twice is a no-op, which
// replaces the "already attached" guard the handlers would otherwise need.
func (b *Bus) Subscribe(k Kind, name string, fn Handler) {
	b.add(k, name, fn, false)
}

// SubscribeOnce registers a handler that fires at most one time.
func (b *Bus) SubscribeOnce(k Kind, name string, fn Handler) {
	b.add(k, name, fn, true)
}

func (b *Bus) add(k Kind, name string, fn Handler, once bool) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs[k] {
		if s.name == name {
			b.logger.Debug("subscription already bound", "kind", k, "name", name)
			return
		}
	}
	b.subs[k] = append(b.subs[k], &subscription{name: name, fn: fn, once: once})
}

// Unsubscribe removes the named binding for a kind.
func (b *Bus) Unsubscribe(k Kind, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[k]
	for i, s := range list {
		if s.name == name {
			b.subs[k] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Publish delivers the event to every live subscription for its kind.
// A once-subscription is marked fired before its handler runs, so it can
// never be invoked twice even if the handler publishes recursively.
func (b *Bus) Publish(ev Event) {
	if ev == nil {
		return
	}
	b.mu.Lock()
	list := b.subs[ev.Kind()]
	run := make([]Handler, 0, len(list))
	kept := list[:0]
	for _, s := range list {
		if s.once {
			if s.fired {
				continue
			}
			s.fired = true
			run = append(run, s.fn)
			continue
		}
		run = append(run, s.fn)
		kept = append(kept, s)
	}
	b.subs[ev.Kind()] = kept
	b.mu.Unlock()

	for _, fn := range run {
		fn(ev)
	}
}
