package auth

import (
	"log/slog"
	"net/http"
	"strconv"

	"notify-realtime/internal/metrics"
	"notify-realtime/internal/protocol"
	"notify-realtime/pkg/response"

	"github.com/gin-gonic/gin"
)

// Handler signs private channel subscriptions for authenticated users.
type Handler struct {
	appKey    string
	appSecret string
	log       *slog.Logger
	metrics   *metrics.Collector
}

func NewHandler(appKey, appSecret string, log *slog.Logger, m *metrics.Collector) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		appKey:    appKey,
		appSecret: appSecret,
		log:       log.With("component", "channel-auth"),
		metrics:   m,
	}
}

// RegisterRoutes mounts POST /broadcasting/auth behind the JWT middleware.
func (h *Handler) RegisterRoutes(r gin.IRoutes, mw *Middleware) {
	r.POST("/broadcasting/auth", mw.RequireAuth(), h.Authorize)
}

// Authorize answers {"auth": "<key>:<signature>"} when the caller owns the
// requested private-user channel.
func (h *Handler) Authorize(c *gin.Context) {
	socketID := c.PostForm("socket_id")
	channel := c.PostForm("channel_name")
	if socketID == "" || channel == "" {
		h.reject(c, http.StatusBadRequest, response.ErrCodeParamInvalid)
		return
	}

	userID := c.GetInt64(ContextUserID)
	if channel != protocol.PrivateUserChannel(userID) {
		h.log.Warn("Channel authorization denied", "userID", userID, "channel", channel)
		h.reject(c, http.StatusForbidden, response.ErrCodeForbiddenChannel)
		return
	}

	h.metrics.AuthRequest(strconv.Itoa(http.StatusOK))
	h.log.Debug("Channel authorized", "userID", userID, "channel", channel, "socketID", socketID)
	c.JSON(http.StatusOK, gin.H{"auth": protocol.Sign(h.appKey, h.appSecret, socketID, channel)})
}

func (h *Handler) reject(c *gin.Context, status, code int) {
	h.metrics.AuthRequest(strconv.Itoa(status))
	response.Error(c, status, code)
}
