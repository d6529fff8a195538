package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"notify-realtime/internal/metrics"
	"notify-realtime/internal/protocol"

	"github.com/gorilla/websocket"
)

var (
	ErrClientDisconnected = errors.New("client disconnected")
	ErrBackplaneClosed    = errors.New("backplane closed")
	ErrInvalidChannel     = errors.New("invalid channel name")
)

const defaultActivityTimeout = 120 * time.Second

// Options configures a Hub.
type Options struct {
	AppKey          string
	AppSecret       string
	ActivityTimeout time.Duration
	AllowedOrigins  []string
	Backplane       Backplane
	Logger          *slog.Logger
	Metrics         *metrics.Collector
}

// Hub tracks the sockets of one application and the channels they joined.
type Hub struct {
	appKey          string
	appSecret       string
	activityTimeout time.Duration
	upgrader        *websocket.Upgrader

	// Registered clients
	clients map[*Client]bool

	// Channel subscriptions
	channelClients map[string]map[*Client]bool

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	backplane Backplane

	// Context for graceful shutdown
	ctx    context.Context
	cancel context.CancelFunc

	mu sync.RWMutex

	log     *slog.Logger
	metrics *metrics.Collector
}

func NewHub(opts Options) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Backplane == nil {
		opts.Backplane = NewLocalBackplane(0)
	}
	if opts.ActivityTimeout <= 0 {
		opts.ActivityTimeout = defaultActivityTimeout
	}

	return &Hub{
		appKey:          opts.AppKey,
		appSecret:       opts.AppSecret,
		activityTimeout: opts.ActivityTimeout,
		upgrader:        NewUpgrader(opts.AllowedOrigins),
		clients:         make(map[*Client]bool),
		channelClients:  make(map[string]map[*Client]bool),
		register:        make(chan *Client),
		unregister:      make(chan *Client),
		backplane:       opts.Backplane,
		ctx:             ctx,
		cancel:          cancel,
		log:             opts.Logger.With("component", "broker"),
		metrics:         opts.Metrics,
	}
}

// Run processes registrations and backplane deliveries until Stop.
func (h *Hub) Run() {
	go func() {
		if err := h.backplane.Subscribe(h.ctx, h.deliver); err != nil && !errors.Is(err, context.Canceled) {
			h.log.Error("Backplane subscription ended", "error", err)
		}
	}()

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-h.ctx.Done():
			h.log.Info("Broker hub shutting down")
			h.closeAll()
			return
		}
	}
}

func (h *Hub) Stop() {
	h.cancel()
	if err := h.backplane.Close(); err != nil {
		h.log.Debug("Error closing backplane", "error", err)
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true
	h.metrics.SocketOpened()
	h.log.Info("Client registered", "socketID", client.id)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.clients[client] {
		return
	}
	delete(h.clients, client)
	for _, channel := range client.GetChannels() {
		h.removeFromChannel(client, channel)
	}
	client.closeSendChannel()
	h.metrics.SocketClosed()
	h.log.Info("Client unregistered", "socketID", client.id)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.close()
		client.conn.Close()
		h.metrics.SocketClosed()
	}
	h.clients = make(map[*Client]bool)
	h.channelClients = make(map[string]map[*Client]bool)
}

// removeFromChannel must be called with h.mu held.
func (h *Hub) removeFromChannel(client *Client, channel string) {
	if clients, ok := h.channelClients[channel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.channelClients, channel)
		}
	}
	client.RemoveChannel(channel)
}

// subscribe joins client to the requested channel. Private channels need a
// valid signature over the client's socket id.
func (h *Hub) subscribe(client *Client, data protocol.SubscribeData) {
	if data.Channel == "" {
		client.sendSubscriptionError(data.Channel, "Channel name is required", 400)
		return
	}
	if protocol.IsPrivateChannel(data.Channel) && !protocol.Verify(h.appKey, h.appSecret, client.id, data.Channel, data.Auth) {
		h.log.Warn("Rejected private subscription", "socketID", client.id, "channel", data.Channel)
		h.metrics.Subscription("rejected")
		client.sendSubscriptionError(data.Channel, "Invalid signature", 401)
		return
	}

	h.mu.Lock()
	if h.channelClients[data.Channel] == nil {
		h.channelClients[data.Channel] = make(map[*Client]bool)
	}
	h.channelClients[data.Channel][client] = true
	h.mu.Unlock()
	client.AddChannel(data.Channel)

	h.log.Debug("Client subscribed", "socketID", client.id, "channel", data.Channel)
	client.sendEvent(protocol.EventInternalSubscriptionSucceeded, data.Channel, struct{}{})
}

func (h *Hub) unsubscribe(client *Client, channel string) {
	h.mu.Lock()
	h.removeFromChannel(client, channel)
	h.mu.Unlock()
	h.log.Debug("Client unsubscribed", "socketID", client.id, "channel", channel)
}

// Publish sends event with data to every subscriber of channel on every
// broker instance sharing the backplane.
func (h *Hub) Publish(ctx context.Context, channel, event string, data interface{}) error {
	if channel == "" {
		return ErrInvalidChannel
	}
	if protocol.EventName(event).IsReserved() {
		return fmt.Errorf("event %q is reserved", event)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	return h.backplane.Publish(ctx, Delivery{Channel: channel, Event: event, Data: raw})
}

// deliver holds the read lock while queueing so that unregisterClient
// cannot close a send channel mid-delivery. SendMessage never blocks.
func (h *Hub) deliver(d Delivery) {
	frame, err := protocol.NewServerMessage(protocol.EventName(d.Event), d.Channel, d.Data)
	if err != nil {
		h.log.Error("Failed to encode delivery", "channel", d.Channel, "event", d.Event, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.channelClients[d.Channel] {
		if err := client.SendMessage(frame); err != nil {
			h.log.Debug("Delivery skipped", "socketID", client.id, "error", err)
			continue
		}
		delivered++
	}
	h.metrics.Published(d.Event, delivered)
	h.log.Debug("Delivered event", "channel", d.Channel, "event", d.Event, "clients", delivered)
}

// ClientCount returns the number of registered sockets.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriberCount returns the number of sockets subscribed to channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channelClients[channel])
}
