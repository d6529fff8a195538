package websocket

import (
	"encoding/json"
	"sync"
)

// State is the lifecycle state of a transport connection
type State string

const (
	StateInitialized  State = "initialized"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateUnavailable  State = "unavailable"
	StateFailed       State = "failed"
	StateDisconnected State = "disconnected"
)

// String returns the string representation of the State
func (s State) String() string {
	return string(s)
}

// Connection-level event names. Every state transition emits
// EventStateChange followed by the event named after the new state.
const (
	EventStateChange  = "state_change"
	EventConnecting   = string(StateConnecting)
	EventConnected    = string(StateConnected)
	EventUnavailable  = string(StateUnavailable)
	EventFailed       = string(StateFailed)
	EventDisconnected = string(StateDisconnected)
	EventError        = "error"
)

// LifecycleEvents lists the connection events a diagnostic observer binds.
func LifecycleEvents() []string {
	return []string{
		EventStateChange, EventConnecting, EventConnected,
		EventDisconnected, EventUnavailable, EventFailed, EventError,
	}
}

// Event is delivered to bound callbacks. Channel is empty for
// connection-level events; Data is the unwrapped JSON payload.
type Event struct {
	Name    string
	Channel string
	Data    json.RawMessage
}

// Listener wraps a callback so it can be unbound later by identity.
type Listener struct {
	fn func(Event)
}

func NewListener(fn func(Event)) *Listener {
	return &Listener{fn: fn}
}

// Handle invokes the wrapped callback.
func (l *Listener) Handle(ev Event) {
	if l != nil && l.fn != nil {
		l.fn(ev)
	}
}

// callbacks is a name -> listeners registry. Snapshots are copied under the
// read lock and invoked without it so callbacks may bind and unbind.
type callbacks struct {
	mu     sync.RWMutex
	byName map[string][]*Listener
}

func newCallbacks() *callbacks {
	return &callbacks{byName: make(map[string][]*Listener)}
}

func (c *callbacks) add(name string, fn func(Event)) func() {
	l := NewListener(fn)

	c.mu.Lock()
	c.byName[name] = append(c.byName[name], l)
	c.mu.Unlock()

	return func() { c.remove(name, l) }
}

func (c *callbacks) remove(name string, l *Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()

	listeners := c.byName[name]
	for i, existing := range listeners {
		if existing == l {
			c.byName[name] = append(listeners[:i:i], listeners[i+1:]...)
			break
		}
	}
	if len(c.byName[name]) == 0 {
		delete(c.byName, name)
	}
}

func (c *callbacks) get(name string) []*Listener {
	c.mu.RLock()
	defer c.mu.RUnlock()

	listeners := make([]*Listener, len(c.byName[name]))
	copy(listeners, c.byName[name])
	return listeners
}
