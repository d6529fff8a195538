package websocket

import "sync"

// SubscriptionState tracks a channel subscription on the current socket
type SubscriptionState string

const (
	SubscriptionPending    SubscriptionState = "pending"
	SubscriptionSubscribed SubscriptionState = "subscribed"
	SubscriptionError      SubscriptionState = "error"
)

// Channel is a named subscription owned by a Conn. Callers attach event
// listeners to it; the Conn owns its subscription bookkeeping.
type Channel struct {
	name      string
	callbacks *callbacks

	mu        sync.Mutex
	state     SubscriptionState
	requested bool // subscribe issued on the current socket
}

func newChannel(name string) *Channel {
	return &Channel{
		name:      name,
		callbacks: newCallbacks(),
		state:     SubscriptionPending,
	}
}

func (ch *Channel) Name() string {
	return ch.name
}

func (ch *Channel) State() SubscriptionState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

// Bind attaches fn to events named event on this channel. The returned
// function removes the binding.
func (ch *Channel) Bind(event string, fn func(Event)) func() {
	return ch.callbacks.add(event, fn)
}

// claim marks the channel as requested on the current socket. It reports
// false when a subscribe is already in flight or done.
func (ch *Channel) claim() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.requested {
		return false
	}
	ch.requested = true
	ch.state = SubscriptionPending
	return true
}

func (ch *Channel) setState(state SubscriptionState) {
	ch.mu.Lock()
	ch.state = state
	ch.mu.Unlock()
}

// fail marks the subscription as rejected and releases the claim so a
// later Subscribe asks again.
func (ch *Channel) fail() {
	ch.mu.Lock()
	ch.requested = false
	ch.state = SubscriptionError
	ch.mu.Unlock()
}

// reset forgets the per-socket subscription so the next socket subscribes again.
func (ch *Channel) reset() {
	ch.mu.Lock()
	ch.requested = false
	ch.state = SubscriptionPending
	ch.mu.Unlock()
}

func (ch *Channel) wasRequested() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.requested
}
