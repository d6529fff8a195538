package broker

import (
	"net/http"
	"strings"
	"time"

	"notify-realtime/internal/protocol"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// NewUpgrader accepts the listed browser origins, any localhost origin and
// requests without an Origin header (non-browser clients).
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[strings.TrimSpace(origin)] = true
	}

	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowed["*"] || allowed[origin] {
				return true
			}

			// For development/testing, allow any localhost variations
			return strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1")
		},
	}
}

// RegisterRoutes mounts the socket endpoint.
func (h *Hub) RegisterRoutes(r gin.IRoutes) {
	r.GET("/app/:key", h.HandleWS)
}

// HandleWS upgrades the request and attaches the socket to the hub. Unknown
// application keys get a pusher:error and close code 4001.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("Failed to upgrade WebSocket connection", "error", err)
		return
	}

	if key := c.Param("key"); key != h.appKey {
		h.log.Warn("Rejected connection for unknown application", "key", key)
		reject(conn, protocol.CodeApplicationDoesNotExist, "Application does not exist")
		return
	}

	h.ServeConn(conn)
}

// ServeConn runs the protocol on an upgraded connection.
func (h *Hub) ServeConn(conn *websocket.Conn) {
	client := NewClient(h, conn)

	select {
	case h.register <- client:
	case <-h.ctx.Done():
		conn.Close()
		return
	case <-time.After(5 * time.Second):
		h.log.Error("Timeout sending registration request", "socketID", client.id)
		conn.Close()
		return
	}

	client.sendEvent(protocol.EventConnectionEstablished, "", protocol.ConnectionEstablishedData{
		SocketID:        client.id,
		ActivityTimeout: int(h.activityTimeout / time.Second),
	})

	go client.writePump()
	go client.readPump()
}

func reject(conn *websocket.Conn, code int, message string) {
	defer conn.Close()

	frame, err := protocol.NewServerMessage(protocol.EventError, "", protocol.ErrorData{Message: message, Code: code})
	if err == nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.TextMessage, frame)
	}
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, message), time.Now().Add(writeWait))
}
