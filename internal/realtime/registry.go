package realtime

import (
	"encoding/json"
	"fmt"

	"notify-realtime/internal/protocol"
	"notify-realtime/internal/websocket"
)

// PrivateUserChannel names the private channel of a user.
func PrivateUserChannel(userID int64) string {
	return protocol.PrivateUserChannel(userID)
}

// SubscribePrivateUserChannel makes private-user.<userID> the single
// tracked subscription, building or reusing the connection for (token,
// locale). A previously tracked channel is unsubscribed first. The result
// of the subscription is reported asynchronously through the session hooks
// and the channel's own subscription events. Calling it again for a channel
// whose subscription failed asks the transport to subscribe once more.
func (s *Session) SubscribePrivateUserChannel(userID int64, token, locale string) (Channel, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidUserID, userID)
	}
	name := PrivateUserChannel(userID)

	s.mu.Lock()
	ch, stale := s.subscribeLocked(name, AuthContext{Token: token, Locale: locale})
	s.mu.Unlock()

	closeStale(stale)
	return ch, nil
}

func (s *Session) subscribeLocked(name string, auth AuthContext) (Channel, Connection) {
	conn, stale := s.ensureLocked(auth)

	if s.channelName == name && s.channel != nil {
		if s.channel.State() != websocket.SubscriptionError {
			return s.channel, stale
		}
		s.log.Info("Retrying failed subscription", "channel", name)
		s.reconnectIfStoppedLocked(conn, name)
		conn.Subscribe(name)
		return s.channel, stale
	}
	if s.channelName != "" {
		s.releaseChannelLocked()
	}

	s.channelName = name
	s.reconnectIfStoppedLocked(conn, name)

	ch := conn.Subscribe(name)
	s.channel = ch
	s.channelUnbind = []func(){
		ch.Bind(protocol.EventSubscriptionSucceeded.String(), s.onSubscribed(name)),
		ch.Bind(protocol.EventSubscriptionError.String(), s.onSubscriptionError(name)),
	}
	return ch, stale
}

func (s *Session) reconnectIfStoppedLocked(conn Connection, name string) {
	switch state := conn.State(); state {
	case websocket.StateDisconnected, websocket.StateFailed:
		s.log.Info("Reconnecting before subscribe", "channel", name, "state", state)
		conn.Connect()
	}
}

// UnsubscribePrivateUser drops the subscription of userID if it is the
// tracked one. Anything else is a no-op.
func (s *Session) UnsubscribePrivateUser(userID int64) {
	name := PrivateUserChannel(userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil || s.channelName != name {
		return
	}
	s.releaseChannelLocked()
}

func (s *Session) releaseChannelLocked() {
	for _, unbind := range s.channelUnbind {
		unbind()
	}
	if s.conn != nil {
		s.conn.Unsubscribe(s.channelName)
	}
	s.log.Info("Unsubscribed private channel", "channel", s.channelName)
	s.channelName = ""
	s.channel = nil
	s.channelUnbind = nil
}

func (s *Session) onSubscribed(name string) func(websocket.Event) {
	return func(ev websocket.Event) {
		s.metrics.Subscription("succeeded")
		s.log.Info("Subscribed to private channel", "channel", name)
		s.hooks.Trigger(Event{Kind: EventSubscriptionSucceeded, Name: ev.Name, Channel: name, Data: ev.Data})
	}
}

func (s *Session) onSubscriptionError(name string) func(websocket.Event) {
	return func(ev websocket.Event) {
		var data protocol.SubscriptionErrorData
		_ = json.Unmarshal(ev.Data, &data)

		err := &Error{
			Kind: SubscriptionAuthError,
			Op:   "subscribe",
			Err:  fmt.Errorf("%s (status %d): %s", name, data.Status, data.Error),
		}
		s.metrics.Subscription("error")
		s.log.Warn("Private channel subscription failed", "channel", name, "status", data.Status, "error", err)
		s.hooks.Trigger(Event{Kind: EventSubscriptionError, Name: ev.Name, Channel: name, Err: err, Data: ev.Data})
	}
}
