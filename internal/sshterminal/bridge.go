package sshterminal

import (
	"log"
	"sync"
)

// EventBridge republishes session events to any number of listeners and
// removes sessions from the registry when they end.
//
// A non-terminal event is forwarded only while its session is still the
// registered holder of its id. The terminal event is always forwarded, once,
// and doubles as the removal notice.
type EventBridge struct {
	registry *Registry

	mu        sync.RWMutex
	listeners []subscription
	nextID    int
	attached  map[*Session]func()
	history   map[string]*eventHistory
	ended     []string
}

// endedHistoryLimit is how many ended sessions keep their history.
const endedHistoryLimit = 256

// NewEventBridge creates a bridge that cleans up entries in registry.
func NewEventBridge(registry *Registry) *EventBridge {
	return &EventBridge{
		registry: registry,
		attached: make(map[*Session]func()),
		history:  make(map[string]*eventHistory),
	}
}

// Subscribe registers l for events from every attached session.
func (b *EventBridge) Subscribe(l Listener) (cancel func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners = append(b.listeners, subscription{id: id, fn: l})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.listeners {
			if sub.id == id {
				b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
				return
			}
		}
	}
}

// Attach starts forwarding events from s. Attaching the same session twice
// has no effect.
func (b *EventBridge) Attach(s *Session) {
	b.mu.Lock()
	if _, ok := b.attached[s]; ok {
		b.mu.Unlock()
		return
	}
	b.attached[s] = nil
	b.history[s.ID()] = &eventHistory{}
	b.mu.Unlock()

	unsubscribe := s.Subscribe(func(ev Event) { b.handle(s, ev) })

	b.mu.Lock()
	if _, ok := b.attached[s]; ok {
		b.attached[s] = unsubscribe
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	// Terminal event already handled between Subscribe and here.
	unsubscribe()
}

func (b *EventBridge) handle(s *Session, ev Event) {
	if !ev.Terminal() && !b.registry.holds(s) {
		return
	}

	b.mu.Lock()
	if ev.Kind != EventData {
		if h, ok := b.history[s.ID()]; ok {
			h.record(ev)
		}
	}
	listeners := make([]Listener, len(b.listeners))
	for i, sub := range b.listeners {
		listeners[i] = sub.fn
	}
	b.mu.Unlock()

	for _, l := range listeners {
		l(ev)
	}

	if !ev.Terminal() {
		return
	}

	b.mu.Lock()
	unsubscribe := b.attached[s]
	delete(b.attached, s)
	b.ended = append(b.ended, s.ID())
	if len(b.ended) > endedHistoryLimit {
		oldest := b.ended[0]
		b.ended = b.ended[1:]
		if !b.isAttachedLocked(oldest) {
			delete(b.history, oldest)
		}
	}
	b.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	if b.registry.removeSession(s) {
		log.Printf("[bridge] session %s %s, removed from registry", s.ID(), ev.Kind)
	}
}

func (b *EventBridge) isAttachedLocked(id string) bool {
	for s := range b.attached {
		if s.ID() == id {
			return true
		}
	}
	return false
}

// History returns recent lifecycle events (everything except data) for a
// session id, oldest first.
func (b *EventBridge) History(id string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.history[id]
	if !ok {
		return nil
	}
	return h.list()
}
