package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"notify-realtime/internal/metrics"
	"notify-realtime/internal/protocol"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed for the dial plus the connection_established frame
	handshakeTimeout = 10 * time.Second

	// Time allowed for a channel authorization round trip
	authTimeout = 15 * time.Second

	defaultActivityTimeout = 120 * time.Second
	defaultPongTimeout     = 30 * time.Second

	sendBufferSize = 64

	clientName    = "notify-realtime-go"
	clientVersion = "1.0.0"
)

// ProtocolError is a pusher:error frame or close code reported by the broker.
type ProtocolError struct {
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("broker error %d: %s", e.Code, e.Message)
}

// Options configures a Conn.
type Options struct {
	AppKey  string
	Cluster string
	// Host overrides the cluster host, e.g. "localhost:6001" for a self-hosted broker.
	Host   string
	UseTLS bool

	Authorizer      Authorizer
	ActivityTimeout time.Duration
	PongTimeout     time.Duration

	Dialer     *websocket.Dialer
	NewBackOff func() backoff.BackOff
	Logger     *slog.Logger
	Metrics    *metrics.Collector
}

func (o *Options) defaults() {
	if o.ActivityTimeout <= 0 {
		o.ActivityTimeout = defaultActivityTimeout
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = defaultPongTimeout
	}
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	}
	if o.NewBackOff == nil {
		o.NewBackOff = DefaultBackOff
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// DefaultBackOff retries forever with jittered exponential delays capped at 30s.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return b
}

// Conn is a single broker connection. It reconnects on its own after
// transport failures until Disconnect is called or the broker refuses the
// application.
type Conn struct {
	opts Options
	log  *slog.Logger

	bindings *callbacks

	mu         sync.Mutex
	state      State
	generation uint64
	cancel     context.CancelFunc
	ws         *websocket.Conn
	send       chan []byte
	socketID   string
	channels   map[string]*Channel
	globals    []*Listener
}

// New returns an unconnected Conn. Call Connect to open it.
func New(opts Options) *Conn {
	opts.defaults()
	return &Conn{
		opts:     opts,
		log:      opts.Logger.With("component", "realtime-transport", "app_key", opts.AppKey),
		bindings: newCallbacks(),
		state:    StateInitialized,
		channels: make(map[string]*Channel),
	}
}

// URL is the websocket endpoint for the configured application.
func (c *Conn) URL() string {
	scheme := "ws"
	if c.opts.UseTLS {
		scheme = "wss"
	}
	host := c.opts.Host
	if host == "" {
		host = "ws-" + c.opts.Cluster + ".pusher.com"
	}
	q := url.Values{}
	q.Set("protocol", strconv.Itoa(protocol.Version))
	q.Set("client", clientName)
	q.Set("version", clientVersion)
	u := url.URL{Scheme: scheme, Host: host, Path: "/app/" + c.opts.AppKey, RawQuery: q.Encode()}
	return u.String()
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SocketID is the broker-assigned id of the current socket, empty when not connected.
func (c *Conn) SocketID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socketID
}

// Connect starts the connection loop. It returns immediately; progress is
// reported through state events. Calling it while a loop is active is a no-op.
func (c *Conn) Connect() {
	c.mu.Lock()
	switch c.state {
	case StateConnecting, StateConnected, StateUnavailable:
		c.mu.Unlock()
		return
	}
	c.generation++
	gen := c.generation
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(ctx, gen)
}

// Disconnect stops the connection loop and closes the socket. Known channels
// are kept and subscribed again by a later Connect.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	cancel := c.cancel
	ws := c.ws
	c.cancel = nil
	c.ws = nil
	c.send = nil
	c.socketID = ""
	for _, ch := range c.channels {
		ch.reset()
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ws != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
		if err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
			c.log.Debug("Error sending close frame", "error", err)
		}
		ws.Close()
	}
	c.transition(gen, StateDisconnected)
}

// Bind attaches fn to connection-level events named event.
func (c *Conn) Bind(event string, fn func(Event)) func() {
	return c.bindings.add(event, fn)
}

// BindGlobal attaches l to every event on the connection, channel events included.
func (c *Conn) BindGlobal(l *Listener) {
	c.mu.Lock()
	c.globals = append(c.globals, l)
	c.mu.Unlock()
}

// UnbindGlobal removes one registration of l.
func (c *Conn) UnbindGlobal(l *Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.globals {
		if existing == l {
			c.globals = append(c.globals[:i:i], c.globals[i+1:]...)
			return
		}
	}
}

// Channel returns a known channel.
func (c *Conn) Channel(name string) (*Channel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[name]
	return ch, ok
}

// Subscribe returns the channel called name, subscribing it if needed. A
// channel whose last subscription failed is subscribed again. The result
// of the subscription arrives later as a subscription_succeeded or
// subscription_error event on the channel.
func (c *Conn) Subscribe(name string) *Channel {
	c.mu.Lock()
	ch, ok := c.channels[name]
	if !ok {
		ch = newChannel(name)
		c.channels[name] = ch
	}
	// A live socket is installed together with the snapshot of channels to
	// resubscribe, before the connected transition is emitted.
	live := c.send != nil && c.socketID != ""
	gen := c.generation
	socketID := c.socketID
	c.mu.Unlock()

	if live {
		c.subscribeChannel(ch, gen, socketID)
	}
	return ch
}

// Unsubscribe forgets the channel and tells the broker if it was subscribed.
func (c *Conn) Unsubscribe(name string) {
	c.mu.Lock()
	ch, ok := c.channels[name]
	if ok {
		delete(c.channels, name)
	}
	send := c.send
	c.mu.Unlock()

	if !ok || send == nil || !ch.wasRequested() {
		return
	}
	frame, err := protocol.NewClientMessage(protocol.EventUnsubscribe, "", protocol.UnsubscribeData{Channel: name})
	if err != nil {
		c.log.Error("Failed to encode unsubscribe", "channel", name, "error", err)
		return
	}
	c.enqueue(send, frame)
}

func (c *Conn) subscribeChannel(ch *Channel, gen uint64, socketID string) {
	if !ch.claim() {
		return
	}
	go func() {
		data := protocol.SubscribeData{Channel: ch.name}

		if protocol.IsPrivateChannel(ch.name) {
			auth, err := c.authorize(socketID, ch.name)
			if err != nil {
				if !c.owns(gen, ch) {
					return
				}
				ch.fail()
				c.log.Warn("Channel authorization failed", "channel", ch.name, "error", err)
				status := 0
				var authErr *AuthError
				if errors.As(err, &authErr) {
					status = authErr.Status
				}
				payload, _ := json.Marshal(protocol.SubscriptionErrorData{Type: "AuthError", Error: err.Error(), Status: status})
				c.dispatch(Event{Name: protocol.EventSubscriptionError.String(), Channel: ch.name, Data: payload}, ch)
				return
			}
			data.Auth = auth
		}

		c.mu.Lock()
		current := c.generation == gen && c.channels[ch.name] == ch
		send := c.send
		c.mu.Unlock()
		if !current || send == nil {
			return
		}

		frame, err := protocol.NewClientMessage(protocol.EventSubscribe, "", data)
		if err != nil {
			c.log.Error("Failed to encode subscribe", "channel", ch.name, "error", err)
			return
		}
		c.enqueue(send, frame)
	}()
}

func (c *Conn) authorize(socketID, channel string) (string, error) {
	if c.opts.Authorizer == nil {
		return "", ErrNoAuthEndpoint
	}
	ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
	defer cancel()
	return c.opts.Authorizer.Authorize(ctx, socketID, channel)
}

// owns reports whether ch is still the tracked channel of generation gen.
func (c *Conn) owns(gen uint64, ch *Channel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation == gen && c.channels[ch.name] == ch
}

func (c *Conn) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation == gen
}

func (c *Conn) enqueue(send chan []byte, frame []byte) {
	select {
	case send <- frame:
	default:
		c.log.Warn("Send buffer full, dropping frame", "size", len(frame))
	}
}

// transition moves to state on behalf of generation gen and emits the
// state events. Superseded generations are ignored.
func (c *Conn) transition(gen uint64, state State) bool {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return false
	}
	prev := c.state
	if prev == state {
		c.mu.Unlock()
		return true
	}
	c.state = state
	c.mu.Unlock()

	c.opts.Metrics.StateTransition(state.String())
	c.log.Debug("Connection state changed", "previous", prev, "current", state)

	payload, _ := json.Marshal(protocol.StateChangeData{Previous: prev.String(), Current: state.String()})
	c.dispatch(Event{Name: EventStateChange, Data: payload}, nil)
	c.dispatch(Event{Name: state.String()}, nil)
	return true
}

func (c *Conn) emitError(gen uint64, err error, code int) {
	if !c.current(gen) {
		return
	}
	payload, _ := json.Marshal(protocol.ErrorData{Message: err.Error(), Code: code})
	c.dispatch(Event{Name: EventError, Data: payload}, nil)
}

// dispatch delivers ev to the channel (or connection) bindings, then to the
// global listeners.
func (c *Conn) dispatch(ev Event, ch *Channel) {
	var listeners []*Listener
	if ch != nil {
		listeners = ch.callbacks.get(ev.Name)
	} else {
		listeners = c.bindings.get(ev.Name)
	}

	c.mu.Lock()
	globals := make([]*Listener, len(c.globals))
	copy(globals, c.globals)
	c.mu.Unlock()

	for _, l := range listeners {
		l.Handle(ev)
	}
	for _, l := range globals {
		l.Handle(ev)
	}
}

func (c *Conn) run(ctx context.Context, gen uint64) {
	bo := c.opts.NewBackOff()

	for {
		if !c.transition(gen, StateConnecting) {
			return
		}

		established, err := c.session(ctx, gen)
		if ctx.Err() != nil {
			return
		}
		if established {
			bo.Reset()
		}

		code := closeCode(err)
		c.log.Warn("Connection lost", "error", err, "code", code)
		c.emitError(gen, err, code)

		if !protocol.ShouldReconnect(code) {
			c.transition(gen, StateFailed)
			return
		}

		var delay time.Duration
		if !protocol.ReconnectImmediately(code) {
			delay = bo.NextBackOff()
			if delay == backoff.Stop {
				c.transition(gen, StateFailed)
				return
			}
		}

		if !c.transition(gen, StateUnavailable) {
			return
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session runs one socket from dial to close. established reports whether
// the broker accepted the connection.
func (c *Conn) session(ctx context.Context, gen uint64) (established bool, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	ws, _, err := c.opts.Dialer.DialContext(dialCtx, c.URL(), nil)
	cancel()
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer ws.Close()

	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()

	activity, socketID, err := c.handshake(ws)
	if err != nil {
		return false, err
	}

	send := make(chan []byte, sendBufferSize)

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return false, context.Canceled
	}
	c.ws = ws
	c.send = send
	c.socketID = socketID
	channels := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		ch.reset()
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	done := make(chan struct{})
	pumpDone := make(chan struct{})
	received := make(chan struct{}, 1)
	go func() {
		defer close(pumpDone)
		c.writePump(ws, send, done, received, activity)
	}()

	c.log.Info("Connected to broker", "socket_id", socketID)
	c.transition(gen, StateConnected)
	for _, ch := range channels {
		c.subscribeChannel(ch, gen, socketID)
	}

	err = c.readPump(ws, gen, activity, received)
	close(done)
	<-pumpDone

	c.mu.Lock()
	if c.generation == gen {
		c.ws = nil
		c.send = nil
		c.socketID = ""
		for _, ch := range c.channels {
			ch.reset()
		}
	}
	c.mu.Unlock()

	return true, err
}

// handshake waits for pusher:connection_established and returns the
// negotiated activity timeout and the socket id.
func (c *Conn) handshake(ws *websocket.Conn) (time.Duration, string, error) {
	ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		return 0, "", fmt.Errorf("read handshake: %w", err)
	}

	msg, err := protocol.Decode(raw)
	if err != nil {
		return 0, "", err
	}
	switch msg.Event {
	case protocol.EventConnectionEstablished:
	case protocol.EventError:
		return 0, "", decodeProtocolError(msg)
	default:
		return 0, "", fmt.Errorf("unexpected handshake event %q", msg.Event)
	}

	var data protocol.ConnectionEstablishedData
	if err := json.Unmarshal(msg.Payload(), &data); err != nil {
		return 0, "", fmt.Errorf("decode handshake: %w", err)
	}
	if data.SocketID == "" {
		return 0, "", errors.New("handshake without socket id")
	}

	activity := c.opts.ActivityTimeout
	if server := time.Duration(data.ActivityTimeout) * time.Second; server > 0 && server < activity {
		activity = server
	}
	return activity, data.SocketID, nil
}

// readPump signals received after every inbound frame so the write pump
// only pings a silent broker.
func (c *Conn) readPump(ws *websocket.Conn, gen uint64, activity time.Duration, received chan<- struct{}) error {
	deadline := activity + c.opts.PongTimeout
	ws.SetReadDeadline(time.Now().Add(deadline))

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		ws.SetReadDeadline(time.Now().Add(deadline))
		select {
		case received <- struct{}{}:
		default:
		}

		msg, err := protocol.Decode(raw)
		if err != nil {
			c.log.Debug("Dropping undecodable frame", "error", err)
			continue
		}
		if err := c.handleMessage(gen, msg); err != nil {
			return err
		}
	}
}

func (c *Conn) writePump(ws *websocket.Conn, send <-chan []byte, done, received <-chan struct{}, activity time.Duration) {
	idle := time.NewTimer(activity)
	defer idle.Stop()

	ping, _ := protocol.NewClientMessage(protocol.EventPing, "", struct{}{})

	for {
		select {
		case frame := <-send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug("Error writing frame", "error", err)
				ws.Close()
				return
			}
		case <-received:
			idle.Reset(activity)
		case <-idle.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, ping); err != nil {
				c.log.Debug("Error sending ping", "error", err)
				ws.Close()
				return
			}
			idle.Reset(activity)
		case <-done:
			return
		}
	}
}

func (c *Conn) handleMessage(gen uint64, msg *protocol.Message) error {
	if !c.current(gen) {
		return context.Canceled
	}

	switch msg.Event {
	case protocol.EventPing:
		c.mu.Lock()
		send := c.send
		c.mu.Unlock()
		if send != nil {
			pong, _ := protocol.NewClientMessage(protocol.EventPong, "", struct{}{})
			c.enqueue(send, pong)
		}
		return nil

	case protocol.EventPong:
		return nil

	case protocol.EventError:
		perr := decodeProtocolError(msg)
		if perr.Code >= 4000 && perr.Code < 4300 {
			return perr
		}
		c.emitError(gen, perr, perr.Code)
		return nil

	case protocol.EventInternalSubscriptionSucceeded:
		if ch, ok := c.Channel(msg.Channel); ok {
			ch.setState(SubscriptionSubscribed)
			c.dispatch(Event{Name: protocol.EventSubscriptionSucceeded.String(), Channel: msg.Channel, Data: msg.Payload()}, ch)
		}
		return nil

	case protocol.EventSubscriptionError:
		if ch, ok := c.Channel(msg.Channel); ok {
			ch.fail()
			c.dispatch(Event{Name: msg.Event.String(), Channel: msg.Channel, Data: msg.Payload()}, ch)
		}
		return nil
	}

	ev := Event{Name: msg.Event.String(), Channel: msg.Channel, Data: msg.Payload()}
	if msg.Channel == "" {
		c.dispatch(ev, nil)
		return nil
	}
	if ch, ok := c.Channel(msg.Channel); ok {
		c.dispatch(ev, ch)
	}
	return nil
}

func decodeProtocolError(msg *protocol.Message) *ProtocolError {
	var data protocol.ErrorData
	if err := json.Unmarshal(msg.Payload(), &data); err != nil {
		return &ProtocolError{Message: string(msg.Payload())}
	}
	return &ProtocolError{Code: data.Code, Message: data.Message}
}

// closeCode extracts the broker code from a session error. Transport
// failures without a code count as an abnormal closure.
func closeCode(err error) int {
	var perr *ProtocolError
	if errors.As(err, &perr) && perr.Code != 0 {
		return perr.Code
	}
	var cerr *websocket.CloseError
	if errors.As(err, &cerr) {
		return cerr.Code
	}
	return websocket.CloseAbnormalClosure
}
