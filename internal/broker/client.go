package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"notify-realtime/internal/protocol"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Extra time granted past the activity timeout before a silent peer is dropped
	pongWait = 30 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 10 << 10

	sendBufferSize = 256
)

// Client is one socket connected to the broker.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	channels map[string]bool
	mu       sync.RWMutex

	ctx        context.Context
	cancel     context.CancelFunc
	closed     int32
	sendClosed int32

	wg  sync.WaitGroup
	log *slog.Logger
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()

	return &Client{
		id:       id,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		channels: make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
		log:      hub.log.With("socketID", id),
	}
}

// GetID returns the socket id handed to the peer in the handshake.
func (c *Client) GetID() string {
	return c.id
}

func (c *Client) GetChannels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	channels := make([]string, 0, len(c.channels))
	for channel := range c.channels {
		channels = append(channels, channel)
	}
	return channels
}

func (c *Client) AddChannel(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[channel] = true
}

func (c *Client) RemoveChannel(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, channel)
}

func (c *Client) IsInChannel(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels[channel]
}

func (c *Client) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

func (c *Client) close() {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		c.cancel()
	}
}

func (c *Client) closeSendChannel() {
	if atomic.CompareAndSwapInt32(&c.sendClosed, 0, 1) {
		close(c.send)
	}
}

func (c *Client) readPump() {
	c.wg.Add(1)
	defer func() {
		c.wg.Done()
		c.close()

		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		case <-time.After(5 * time.Second):
			c.log.Warn("Timeout sending unregister request")
		}

		if err := c.conn.Close(); err != nil {
			c.log.Debug("Error closing connection", "error", err)
		}
	}()

	deadline := c.hub.activityTimeout + pongWait
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		if c.isClosed() {
			return websocket.ErrCloseSent
		}
		c.conn.SetReadDeadline(time.Now().Add(deadline))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Error("WebSocket error", "error", err)
			} else {
				c.log.Debug("WebSocket connection closed", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(deadline))

		msg, err := protocol.Decode(raw)
		if err != nil {
			c.log.Debug("Invalid frame", "error", err)
			c.sendError(0, "Invalid message format")
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg *protocol.Message) {
	switch msg.Event {
	case protocol.EventPing:
		c.sendEvent(protocol.EventPong, "", struct{}{})

	case protocol.EventPong:

	case protocol.EventSubscribe:
		var data protocol.SubscribeData
		if err := json.Unmarshal(msg.Payload(), &data); err != nil {
			c.sendSubscriptionError("", "Invalid subscribe payload", 400)
			return
		}
		c.hub.subscribe(c, data)

	case protocol.EventUnsubscribe:
		var data protocol.UnsubscribeData
		if err := json.Unmarshal(msg.Payload(), &data); err != nil {
			return
		}
		c.hub.unsubscribe(c, data.Channel)

	default:
		c.sendError(protocol.CodeClientEventRejected, "Client events are not enabled")
	}
}

func (c *Client) writePump() {
	c.wg.Add(1)
	ticker := time.NewTicker(c.hub.activityTimeout)
	defer func() {
		c.wg.Done()
		ticker.Stop()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("Error writing message", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug("Error sending ping", "error", err)
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// SendMessage queues a raw frame. A client whose buffer is full is dropped.
func (c *Client) SendMessage(frame []byte) error {
	if c.isClosed() || atomic.LoadInt32(&c.sendClosed) == 1 {
		return ErrClientDisconnected
	}

	select {
	case c.send <- frame:
		return nil
	case <-c.ctx.Done():
		return ErrClientDisconnected
	default:
		c.log.Warn("Send buffer full, closing client")
		c.close()
		c.conn.Close()
		return ErrClientDisconnected
	}
}

func (c *Client) sendEvent(event protocol.EventName, channel string, payload interface{}) {
	frame, err := protocol.NewServerMessage(event, channel, payload)
	if err != nil {
		c.log.Error("Failed to encode frame", "event", event, "error", err)
		return
	}
	c.SendMessage(frame)
}

func (c *Client) sendError(code int, message string) {
	c.sendEvent(protocol.EventError, "", protocol.ErrorData{Message: message, Code: code})
}

func (c *Client) sendSubscriptionError(channel, message string, status int) {
	c.sendEvent(protocol.EventSubscriptionError, channel, protocol.SubscriptionErrorData{
		Type:   "AuthError",
		Error:  message,
		Status: status,
	})
}
