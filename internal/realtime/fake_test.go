package realtime

import (
	"sync"

	"notify-realtime/internal/websocket"
)

// fakeConn records what the session asks of its transport.
type fakeConn struct {
	mu           sync.Mutex
	auth         AuthContext
	state        websocket.State
	connects     int
	disconnects  int
	subscribed   []string
	unsubscribed []string
	bindings     map[string][]*websocket.Listener
	globals      []*websocket.Listener
	channels     map[string]*fakeChannel
}

func newFakeConn(auth AuthContext) *fakeConn {
	return &fakeConn{
		auth:     auth,
		state:    websocket.StateInitialized,
		bindings: make(map[string][]*websocket.Listener),
		channels: make(map[string]*fakeChannel),
	}
}

func (f *fakeConn) State() websocket.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeConn) setState(state websocket.State) {
	f.mu.Lock()
	f.state = state
	f.mu.Unlock()
}

func (f *fakeConn) Connect() {
	f.mu.Lock()
	f.connects++
	f.state = websocket.StateConnecting
	f.mu.Unlock()
}

func (f *fakeConn) Disconnect() {
	f.mu.Lock()
	f.disconnects++
	f.state = websocket.StateDisconnected
	f.mu.Unlock()
	f.emit(websocket.Event{Name: websocket.EventDisconnected})
}

func (f *fakeConn) Subscribe(name string) Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, name)
	ch, ok := f.channels[name]
	if !ok {
		ch = &fakeChannel{name: name, bindings: make(map[string][]*websocket.Listener)}
		f.channels[name] = ch
	}
	return ch
}

func (f *fakeConn) Unsubscribe(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, name)
	delete(f.channels, name)
}

func (f *fakeConn) Bind(event string, fn func(websocket.Event)) func() {
	l := websocket.NewListener(fn)
	f.mu.Lock()
	f.bindings[event] = append(f.bindings[event], l)
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.bindings[event] = removeListener(f.bindings[event], l)
	}
}

func (f *fakeConn) BindGlobal(l *websocket.Listener) {
	f.mu.Lock()
	f.globals = append(f.globals, l)
	f.mu.Unlock()
}

func (f *fakeConn) UnbindGlobal(l *websocket.Listener) {
	f.mu.Lock()
	f.globals = removeListener(f.globals, l)
	f.mu.Unlock()
}

func (f *fakeConn) bindCount(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bindings[event])
}

func (f *fakeConn) globalCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.globals)
}

func (f *fakeConn) channel(name string) *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[name]
}

func (f *fakeConn) emit(ev websocket.Event) {
	f.mu.Lock()
	listeners := append([]*websocket.Listener(nil), f.bindings[ev.Name]...)
	listeners = append(listeners, f.globals...)
	f.mu.Unlock()
	for _, l := range listeners {
		l.Handle(ev)
	}
}

type fakeChannel struct {
	mu       sync.Mutex
	name     string
	state    websocket.SubscriptionState
	bindings map[string][]*websocket.Listener
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) State() websocket.SubscriptionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeChannel) Bind(event string, fn func(websocket.Event)) func() {
	l := websocket.NewListener(fn)
	c.mu.Lock()
	c.bindings[event] = append(c.bindings[event], l)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.bindings[event] = removeListener(c.bindings[event], l)
	}
}

func (c *fakeChannel) setState(state websocket.SubscriptionState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func (c *fakeChannel) bindCount(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bindings[event])
}

func (c *fakeChannel) emit(ev websocket.Event) {
	c.mu.Lock()
	listeners := append([]*websocket.Listener(nil), c.bindings[ev.Name]...)
	c.mu.Unlock()
	for _, l := range listeners {
		l.Handle(ev)
	}
}

func removeListener(listeners []*websocket.Listener, l *websocket.Listener) []*websocket.Listener {
	for i, existing := range listeners {
		if existing == l {
			return append(listeners[:i:i], listeners[i+1:]...)
		}
	}
	return listeners
}

// fakeFactory builds fakeConns and keeps every instance it handed out.
type fakeFactory struct {
	mu    sync.Mutex
	conns []*fakeConn
	cfgs  []TransportConfig
}

func (f *fakeFactory) build(cfg TransportConfig, auth AuthContext) Connection {
	f.mu.Lock()
	defer f.mu.Unlock()
	conn := newFakeConn(auth)
	f.conns = append(f.conns, conn)
	f.cfgs = append(f.cfgs, cfg)
	return conn
}

func (f *fakeFactory) builds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeFactory) last() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[len(f.conns)-1]
}
