package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// EventKind groups the events a session publishes to its hooks. Socket
// errors arrive as EventTransport with a TransportConnectionError in Err.
type EventKind string

const (
	EventLifecycle             EventKind = "lifecycle"
	EventSubscriptionSucceeded EventKind = "subscription_succeeded"
	EventSubscriptionError     EventKind = "subscription_error"
	EventConfig                EventKind = "config"
	EventTransport             EventKind = "transport"
)

// Event is an observability record published by a Session.
type Event struct {
	Kind      EventKind       `json:"kind"`
	Name      string          `json:"name"`
	Channel   string          `json:"channel,omitempty"`
	State     string          `json:"state,omitempty"`
	Err       error           `json:"-"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Hook receives session events. Hooks run on the hooks goroutine, one event
// at a time, in publication order.
type Hook func(Event)

type hookEntry struct {
	id   uint64
	hook Hook
}

// Hooks fans session events out to registered hooks through a bounded
// queue, so transport callbacks never block on slow observers.
type Hooks struct {
	mu     sync.RWMutex
	hooks  []hookEntry
	nextID uint64

	queue     chan Event
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	log       *slog.Logger
}

// NewHooks starts the delivery goroutine. Events beyond size pending ones
// are dropped with a warning.
func NewHooks(size int, log *slog.Logger) *Hooks {
	if size <= 0 {
		size = 256
	}
	if log == nil {
		log = slog.Default()
	}
	h := &Hooks{
		queue:   make(chan Event, size),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		log:     log,
	}
	go h.run()
	return h
}

// Add registers hook and returns a function that removes it.
func (h *Hooks) Add(hook Hook) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	h.hooks = append(h.hooks, hookEntry{id: id, hook: hook})

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, entry := range h.hooks {
			if entry.id == id {
				h.hooks = append(h.hooks[:i:i], h.hooks[i+1:]...)
				return
			}
		}
	}
}

// Trigger queues ev for delivery without blocking.
func (h *Hooks) Trigger(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case <-h.done:
		return
	default:
	}
	select {
	case h.queue <- ev:
	default:
		h.log.Warn("Hook queue full, dropping event", "kind", ev.Kind, "name", ev.Name)
	}
}

// Close stops delivery after the queued events have been handed out.
func (h *Hooks) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
	<-h.stopped
}

func (h *Hooks) run() {
	defer close(h.stopped)
	for {
		select {
		case ev := <-h.queue:
			h.deliver(ev)
		case <-h.done:
			for {
				select {
				case ev := <-h.queue:
					h.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (h *Hooks) deliver(ev Event) {
	h.mu.RLock()
	hooks := make([]hookEntry, len(h.hooks))
	copy(hooks, h.hooks)
	h.mu.RUnlock()

	for _, entry := range hooks {
		entry.hook(ev)
	}
}
