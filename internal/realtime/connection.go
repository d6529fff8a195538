package realtime

import (
	"notify-realtime/internal/websocket"
)

// Connection is the transport surface the session drives.
type Connection interface {
	State() websocket.State
	Connect()
	Disconnect()
	Subscribe(name string) Channel
	Unsubscribe(name string)
	Bind(event string, fn func(websocket.Event)) func()
	BindGlobal(l *websocket.Listener)
	UnbindGlobal(l *websocket.Listener)
}

// Channel is the handle returned to callers, who attach domain listeners
// such as "new-notification" to it.
type Channel interface {
	Name() string
	State() websocket.SubscriptionState
	Bind(event string, fn func(websocket.Event)) func()
}

// AuthContext is the credential pair a connection is built for.
type AuthContext struct {
	Token  string
	Locale string
}

// ConnectionFactory builds an unconnected transport for cfg and auth.
type ConnectionFactory func(cfg TransportConfig, auth AuthContext) Connection

// NewPusherFactory builds websocket transports. base supplies the settings
// that do not depend on the auth context (timeouts, logger, metrics).
func NewPusherFactory(base websocket.Options) ConnectionFactory {
	return func(cfg TransportConfig, auth AuthContext) Connection {
		opts := base
		opts.AppKey = cfg.AppKey
		opts.Cluster = cfg.Cluster
		opts.Host = cfg.Host
		opts.UseTLS = cfg.UseTLS
		opts.Authorizer = websocket.NewHTTPAuthorizer(cfg.AuthEndpoint, auth.Token, auth.Locale)
		return &pusherConnection{Conn: websocket.New(opts)}
	}
}

type pusherConnection struct {
	*websocket.Conn
}

func (p *pusherConnection) Subscribe(name string) Channel {
	return p.Conn.Subscribe(name)
}
