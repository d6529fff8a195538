package realtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"notify-realtime/internal/metrics"
	"notify-realtime/internal/protocol"
	"notify-realtime/internal/websocket"
)

const defaultHookBuffer = 256

// Session owns at most one broker connection and at most one private user
// channel. All operations are serialized; transport callbacks never take
// the session lock.
type Session struct {
	cfg     TransportConfig
	factory ConnectionFactory
	log     *slog.Logger
	metrics *metrics.Collector
	hooks   *Hooks

	hookBuffer int

	mu            sync.Mutex
	conn          Connection
	auth          AuthContext
	handlersBound bool
	unbind        []func()
	diagnostics   *websocket.Listener

	channelName   string
	channel       Channel
	channelUnbind []func()
}

// Option configures a Session.
type Option func(*Session)

// WithFactory replaces the websocket transport, mostly for tests.
func WithFactory(f ConnectionFactory) Option {
	return func(s *Session) { s.factory = f }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Session) { s.log = log }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(s *Session) { s.metrics = m }
}

// WithHookBuffer sets how many undelivered hook events are kept before
// new ones are dropped.
func WithHookBuffer(n int) Option {
	return func(s *Session) { s.hookBuffer = n }
}

// NewSession returns an idle session. No connection is opened until
// EnsureConnection or SubscribePrivateUserChannel is called.
func NewSession(cfg TransportConfig, opts ...Option) *Session {
	s := &Session{
		cfg:        cfg,
		hookBuffer: defaultHookBuffer,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("component", "realtime-session")
	if s.factory == nil {
		s.factory = NewPusherFactory(websocket.Options{Logger: s.log, Metrics: s.metrics})
	}
	s.hooks = NewHooks(s.hookBuffer, s.log)
	return s
}

// Observe registers h for session events and returns its removal function.
func (s *Session) Observe(h Hook) func() {
	return s.hooks.Add(h)
}

// EnsureConnection returns the live connection for (token, locale). The
// existing connection is reused when both values match; otherwise it is
// torn down and a new one is built and started.
func (s *Session) EnsureConnection(token, locale string) Connection {
	s.mu.Lock()
	conn, stale := s.ensureLocked(AuthContext{Token: token, Locale: locale})
	s.mu.Unlock()

	closeStale(stale)
	return conn
}

// ensureLocked returns the connection for auth and the replaced connection,
// if any. The caller disconnects the replaced one after releasing s.mu.
func (s *Session) ensureLocked(auth AuthContext) (conn, stale Connection) {
	if s.conn != nil && s.auth == auth {
		s.metrics.ConnectionReused()
		return s.conn, nil
	}
	if s.conn != nil {
		s.log.Info("Auth context changed, rebuilding connection")
		stale = s.detachLocked()
	}

	if !s.cfg.Valid() {
		err := &Error{Kind: ConfigurationError, Op: "connect", Err: errors.New("incomplete transport config")}
		s.log.Error("Building connection from incomplete config", "missing", s.cfg.Missing(), "error", err)
		s.hooks.Trigger(Event{Kind: EventConfig, Name: "incomplete_config", Err: err})
	}

	conn = s.factory(s.cfg, auth)
	s.conn = conn
	s.auth = auth
	s.bindHandlersLocked()
	s.metrics.ConnectionBuilt()

	conn.Connect()
	return conn, stale
}

// closeStale disconnects a connection detached from the session. It runs
// without s.mu because Disconnect fires listeners synchronously.
func closeStale(conn Connection) {
	if conn != nil {
		conn.Disconnect()
	}
}

// bindHandlersLocked attaches the lifecycle observers and the diagnostic
// listener once per connection instance.
func (s *Session) bindHandlersLocked() {
	if s.handlersBound || s.conn == nil {
		return
	}
	for _, name := range websocket.LifecycleEvents() {
		s.unbind = append(s.unbind, s.conn.Bind(name, s.onLifecycle(name)))
	}
	s.diagnostics = websocket.NewListener(func(ev websocket.Event) {
		s.log.Debug("Realtime event", "event", ev.Name, "channel", ev.Channel)
	})
	s.conn.BindGlobal(s.diagnostics)
	s.handlersBound = true
}

func (s *Session) onLifecycle(name string) func(websocket.Event) {
	return func(ev websocket.Event) {
		out := Event{Kind: EventLifecycle, Name: name, Data: ev.Data, Timestamp: time.Now()}

		switch name {
		case websocket.EventStateChange:
			var change protocol.StateChangeData
			if err := json.Unmarshal(ev.Data, &change); err == nil {
				out.State = change.Current
				s.log.Debug("Realtime state change", "previous", change.Previous, "current", change.Current)
			}
		case websocket.EventError:
			var data protocol.ErrorData
			_ = json.Unmarshal(ev.Data, &data)
			out.Kind = EventTransport
			out.Err = &Error{Kind: TransportConnectionError, Op: "connection",
				Err: &websocket.ProtocolError{Code: data.Code, Message: data.Message}}
			s.log.Warn("Realtime connection error", "code", data.Code, "message", data.Message)
		case websocket.EventUnavailable, websocket.EventFailed:
			out.State = name
			s.log.Warn("Realtime connection degraded", "state", name)
		default:
			out.State = name
			s.log.Info("Realtime connection event", "state", name)
		}

		s.hooks.Trigger(out)
	}
}

// BindGlobal attaches l to every event of the current connection. It is a
// no-op while no connection exists.
func (s *Session) BindGlobal(l *websocket.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.BindGlobal(l)
	}
}

// UnbindGlobal detaches l from the current connection, if any.
func (s *Session) UnbindGlobal(l *websocket.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.UnbindGlobal(l)
	}
}

// Disconnect closes the connection and forgets the auth context and the
// tracked channel. It is safe to call on an idle session.
func (s *Session) Disconnect() {
	s.mu.Lock()
	stale := s.detachLocked()
	s.mu.Unlock()

	closeStale(stale)
}

// Close disconnects and stops hook delivery. The session must not be used
// afterwards.
func (s *Session) Close() {
	s.Disconnect()
	s.hooks.Close()
}

// detachLocked removes the session's observers from the current connection,
// resets the session and returns the connection, still open.
func (s *Session) detachLocked() Connection {
	conn := s.conn
	if conn != nil {
		for _, unbind := range s.channelUnbind {
			unbind()
		}
		for _, unbind := range s.unbind {
			unbind()
		}
		if s.diagnostics != nil {
			conn.UnbindGlobal(s.diagnostics)
		}
	}

	s.conn = nil
	s.auth = AuthContext{}
	s.handlersBound = false
	s.unbind = nil
	s.diagnostics = nil
	s.channelName = ""
	s.channel = nil
	s.channelUnbind = nil
	return conn
}

// State reports the transport state, StateInitialized when idle.
func (s *Session) State() websocket.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return websocket.StateInitialized
	}
	return s.conn.State()
}

// Auth returns the auth context of the live connection.
func (s *Session) Auth() (AuthContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auth, s.conn != nil
}

// TrackedChannel returns the name of the subscribed private channel, or "".
func (s *Session) TrackedChannel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelName
}
