package realtime

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"notify-realtime/internal/logging"
	"notify-realtime/internal/protocol"
	"notify-realtime/internal/websocket"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var validConfig = TransportConfig{
	AppKey:       "app-key",
	Cluster:      "mt1",
	AuthEndpoint: "http://localhost:8080/broadcasting/auth",
}

func newTestSession(t *testing.T, cfg TransportConfig) (*Session, *fakeFactory) {
	t.Helper()
	f := &fakeFactory{}
	s := NewSession(cfg, WithFactory(f.build), WithLogger(logging.Discard()))
	t.Cleanup(s.Close)
	return s, f
}

func collect(s *Session) <-chan Event {
	events := make(chan Event, 128)
	s.Observe(func(ev Event) {
		select {
		case events <- ev:
		default:
		}
	})
	return events
}

func waitForKind(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event received", kind)
			return Event{}
		}
	}
}

func TestEnsureConnectionReusesSameContext(t *testing.T) {
	s, f := newTestSession(t, validConfig)

	first := s.EnsureConnection("token-a", "en")
	second := s.EnsureConnection("token-a", "en")

	assert.Same(t, first.(*fakeConn), second.(*fakeConn))
	assert.Equal(t, 1, f.builds())
	assert.Equal(t, 1, f.last().connects)
	assert.Equal(t, 0, f.last().disconnects)

	auth, ok := s.Auth()
	require.True(t, ok)
	assert.Equal(t, AuthContext{Token: "token-a", Locale: "en"}, auth)
}

func TestEnsureConnectionRebuildsOnContextChange(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		locale string
	}{
		{name: "token changed", token: "token-b", locale: "en"},
		{name: "locale changed", token: "token-a", locale: "fr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, f := newTestSession(t, validConfig)

			_, err := s.SubscribePrivateUserChannel(42, "token-a", "en")
			require.NoError(t, err)
			old := f.last()

			conn := s.EnsureConnection(tt.token, tt.locale)

			assert.Equal(t, 2, f.builds())
			assert.Equal(t, 1, old.disconnects)
			assert.NotSame(t, old, conn.(*fakeConn))
			assert.Equal(t, AuthContext{Token: tt.token, Locale: tt.locale}, conn.(*fakeConn).auth)
			assert.Empty(t, s.TrackedChannel())

			// old connection's observers are gone, the new one has each exactly once
			assert.Zero(t, old.bindCount(websocket.EventConnected))
			assert.Zero(t, old.globalCount())
			for _, name := range websocket.LifecycleEvents() {
				assert.Equal(t, 1, conn.(*fakeConn).bindCount(name), name)
			}
			assert.Equal(t, 1, conn.(*fakeConn).globalCount())
		})
	}
}

func TestSubscribeKeepsSingleChannel(t *testing.T) {
	s, f := newTestSession(t, validConfig)

	_, err := s.SubscribePrivateUserChannel(1, "token", "en")
	require.NoError(t, err)
	ch, err := s.SubscribePrivateUserChannel(2, "token", "en")
	require.NoError(t, err)

	conn := f.last()
	assert.Equal(t, 1, f.builds())
	assert.Equal(t, []string{"private-user.1", "private-user.2"}, conn.subscribed)
	assert.Equal(t, []string{"private-user.1"}, conn.unsubscribed)
	assert.Equal(t, "private-user.2", ch.Name())
	assert.Equal(t, "private-user.2", s.TrackedChannel())
}

func TestSubscribeSameChannelReturnsExistingHandle(t *testing.T) {
	s, f := newTestSession(t, validConfig)

	first, err := s.SubscribePrivateUserChannel(7, "token", "en")
	require.NoError(t, err)
	second, err := s.SubscribePrivateUserChannel(7, "token", "en")
	require.NoError(t, err)

	conn := f.last()
	assert.Same(t, first.(*fakeChannel), second.(*fakeChannel))
	assert.Equal(t, []string{"private-user.7"}, conn.subscribed)
	assert.Empty(t, conn.unsubscribed)
	assert.Equal(t, 1, conn.channel("private-user.7").bindCount(protocol.EventSubscriptionSucceeded.String()))
}

func TestSubscribeRetriesFailedChannel(t *testing.T) {
	s, f := newTestSession(t, validConfig)

	first, err := s.SubscribePrivateUserChannel(7, "token", "en")
	require.NoError(t, err)
	conn := f.last()
	ch := conn.channel("private-user.7")
	ch.setState(websocket.SubscriptionError)

	second, err := s.SubscribePrivateUserChannel(7, "token", "en")
	require.NoError(t, err)

	assert.Same(t, first.(*fakeChannel), second.(*fakeChannel))
	assert.Equal(t, []string{"private-user.7", "private-user.7"}, conn.subscribed)
	assert.Empty(t, conn.unsubscribed)
	assert.Equal(t, 1, ch.bindCount(protocol.EventSubscriptionSucceeded.String()))
	assert.Equal(t, 1, ch.bindCount(protocol.EventSubscriptionError.String()))
	assert.Equal(t, "private-user.7", s.TrackedChannel())
}

func TestSubscribeRejectsInvalidUserID(t *testing.T) {
	s, f := newTestSession(t, validConfig)

	for _, id := range []int64{0, -3} {
		ch, err := s.SubscribePrivateUserChannel(id, "token", "en")
		assert.ErrorIs(t, err, ErrInvalidUserID)
		assert.Nil(t, ch)
	}
	assert.Zero(t, f.builds())
}

func TestSubscribeNudgesStoppedConnection(t *testing.T) {
	for _, state := range []websocket.State{websocket.StateDisconnected, websocket.StateFailed} {
		t.Run(state.String(), func(t *testing.T) {
			s, f := newTestSession(t, validConfig)

			_, err := s.SubscribePrivateUserChannel(1, "token", "en")
			require.NoError(t, err)
			conn := f.last()
			conn.setState(state)

			_, err = s.SubscribePrivateUserChannel(2, "token", "en")
			require.NoError(t, err)
			assert.Equal(t, 2, conn.connects)
		})
	}
}

func TestSubscribeDoesNotNudgeActiveConnection(t *testing.T) {
	s, f := newTestSession(t, validConfig)

	_, err := s.SubscribePrivateUserChannel(1, "token", "en")
	require.NoError(t, err)
	conn := f.last()
	conn.setState(websocket.StateConnected)

	_, err = s.SubscribePrivateUserChannel(2, "token", "en")
	require.NoError(t, err)
	assert.Equal(t, 1, conn.connects)
}

func TestHandlersBoundOncePerConnection(t *testing.T) {
	s, f := newTestSession(t, validConfig)

	for i := 0; i < 5; i++ {
		s.EnsureConnection("token", "en")
	}
	_, err := s.SubscribePrivateUserChannel(3, "token", "en")
	require.NoError(t, err)

	conn := f.last()
	for _, name := range websocket.LifecycleEvents() {
		assert.Equal(t, 1, conn.bindCount(name), name)
	}
	assert.Equal(t, 1, conn.globalCount())
}

func TestDisconnectResetsSession(t *testing.T) {
	s, f := newTestSession(t, validConfig)

	_, err := s.SubscribePrivateUserChannel(9, "token", "en")
	require.NoError(t, err)
	old := f.last()

	s.Disconnect()

	assert.Equal(t, 1, old.disconnects)
	assert.Equal(t, websocket.StateInitialized, s.State())
	assert.Empty(t, s.TrackedChannel())
	_, ok := s.Auth()
	assert.False(t, ok)

	// the next call with the same credentials builds a fresh connection
	conn := s.EnsureConnection("token", "en")
	assert.Equal(t, 2, f.builds())
	assert.NotSame(t, old, conn.(*fakeConn))
	assert.Equal(t, 1, conn.(*fakeConn).bindCount(websocket.EventConnected))
}

func TestDisconnectIdleSession(t *testing.T) {
	s, f := newTestSession(t, validConfig)

	assert.NotPanics(t, s.Disconnect)
	assert.NotPanics(t, s.Disconnect)
	assert.Zero(t, f.builds())
}

func waitDone(t *testing.T, done <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("%s did not return", what)
	}
}

func TestListenersMayCallSessionDuringTeardown(t *testing.T) {
	s, _ := newTestSession(t, validConfig)

	_, err := s.SubscribePrivateUserChannel(1, "token-a", "en")
	require.NoError(t, err)

	states := make(chan websocket.State, 4)
	l := websocket.NewListener(func(ev websocket.Event) {
		if ev.Name != websocket.EventDisconnected {
			return
		}
		states <- s.State()
		_ = s.TrackedChannel()
		s.UnsubscribePrivateUser(1)
	})

	// rebuild for new credentials
	s.BindGlobal(l)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.EnsureConnection("token-b", "en")
	}()
	waitDone(t, done, "EnsureConnection")
	assert.Equal(t, websocket.StateConnecting, <-states)

	// explicit disconnect
	s.BindGlobal(l)
	done = make(chan struct{})
	go func() {
		defer close(done)
		s.Disconnect()
	}()
	waitDone(t, done, "Disconnect")
	assert.Equal(t, websocket.StateInitialized, <-states)
}

func TestUnsubscribeUntrackedIsNoop(t *testing.T) {
	s, f := newTestSession(t, validConfig)

	// idle session
	assert.NotPanics(t, func() { s.UnsubscribePrivateUser(5) })
	assert.Zero(t, f.builds())

	_, err := s.SubscribePrivateUserChannel(1, "token", "en")
	require.NoError(t, err)

	s.UnsubscribePrivateUser(5)

	conn := f.last()
	assert.Empty(t, conn.unsubscribed)
	assert.Equal(t, "private-user.1", s.TrackedChannel())
	assert.Zero(t, conn.disconnects)
}

func TestUnsubscribeTrackedChannel(t *testing.T) {
	s, f := newTestSession(t, validConfig)

	_, err := s.SubscribePrivateUserChannel(1, "token", "en")
	require.NoError(t, err)
	conn := f.last()
	ch := conn.channel("private-user.1")

	s.UnsubscribePrivateUser(1)

	assert.Equal(t, []string{"private-user.1"}, conn.unsubscribed)
	assert.Empty(t, s.TrackedChannel())
	assert.Zero(t, ch.bindCount(protocol.EventSubscriptionSucceeded.String()))
	assert.Zero(t, conn.disconnects)
}

func TestDegradedConfigStillBuildsConnection(t *testing.T) {
	s, f := newTestSession(t, TransportConfig{Cluster: "mt1"})
	events := collect(s)

	ch, err := s.SubscribePrivateUserChannel(4, "token", "en")
	require.NoError(t, err)
	require.NotNil(t, ch)
	assert.Equal(t, 1, f.builds())

	ev := waitForKind(t, events, EventConfig)
	assert.True(t, IsKind(ev.Err, ConfigurationError))
}

func TestLifecycleEventsReachHooks(t *testing.T) {
	s, f := newTestSession(t, validConfig)
	events := collect(s)

	s.EnsureConnection("token", "en")
	conn := f.last()

	payload, _ := json.Marshal(protocol.StateChangeData{Previous: "connecting", Current: "connected"})
	conn.emit(websocket.Event{Name: websocket.EventStateChange, Data: payload})
	ev := waitForKind(t, events, EventLifecycle)
	assert.Equal(t, websocket.EventStateChange, ev.Name)
	assert.Equal(t, "connected", ev.State)

	errPayload, _ := json.Marshal(protocol.ErrorData{Message: "boom", Code: 1006})
	conn.emit(websocket.Event{Name: websocket.EventError, Data: errPayload})
	ev = waitForKind(t, events, EventTransport)
	assert.Equal(t, websocket.EventError, ev.Name)
	assert.True(t, IsKind(ev.Err, TransportConnectionError))
}

func TestSubscriptionOutcomesReachHooks(t *testing.T) {
	s, f := newTestSession(t, validConfig)
	events := collect(s)

	_, err := s.SubscribePrivateUserChannel(11, "token", "en")
	require.NoError(t, err)
	ch := f.last().channel("private-user.11")

	ch.emit(websocket.Event{Name: protocol.EventSubscriptionSucceeded.String(), Channel: ch.name})
	ev := waitForKind(t, events, EventSubscriptionSucceeded)
	assert.Equal(t, "private-user.11", ev.Channel)

	payload, _ := json.Marshal(protocol.SubscriptionErrorData{Type: "AuthError", Error: "forbidden", Status: 403})
	ch.emit(websocket.Event{Name: protocol.EventSubscriptionError.String(), Channel: ch.name, Data: payload})
	ev = waitForKind(t, events, EventSubscriptionError)
	assert.Equal(t, "private-user.11", ev.Channel)
	assert.True(t, IsKind(ev.Err, SubscriptionAuthError))
	assert.Contains(t, ev.Err.Error(), "403")
}

func TestBindGlobalPassThrough(t *testing.T) {
	s, f := newTestSession(t, validConfig)
	l := websocket.NewListener(func(websocket.Event) {})

	// no connection yet: nothing to bind to
	s.BindGlobal(l)
	s.UnbindGlobal(l)

	s.EnsureConnection("token", "en")
	conn := f.last()

	s.BindGlobal(l)
	assert.Equal(t, 2, conn.globalCount())
	s.UnbindGlobal(l)
	assert.Equal(t, 1, conn.globalCount())
}

func TestConcurrentCallsBuildOneConnection(t *testing.T) {
	s, f := newTestSession(t, validConfig)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.SubscribePrivateUserChannel(1, "token", "en")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.builds())
	assert.Equal(t, []string{"private-user.1"}, f.last().subscribed)
}

func TestPrivateUserChannel(t *testing.T) {
	assert.Equal(t, "private-user.42", PrivateUserChannel(42))
}
