package router

import (
	"log/slog"
	"net/http"
	"time"

	"notify-realtime/internal/auth"
	"notify-realtime/internal/broker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the components mounted on the HTTP engine.
type Deps struct {
	Hub            *broker.Hub
	AuthHandler    *auth.Handler
	AuthMiddleware *auth.Middleware
	Limiter        Limiter
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
	Logger         *slog.Logger
}

type Router struct {
	engine *gin.Engine
	deps   Deps
}

func NewRouter(deps Deps) *Router {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(auth.CORS(deps.AllowedOrigins))
	engine.Use(LogAPI(deps.Logger))

	return &Router{engine: engine, deps: deps}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": r.deps.Hub.ClientCount()})
	})

	if r.deps.Gatherer != nil {
		r.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	r.deps.Hub.RegisterRoutes(r.engine)

	authRoutes := r.engine.Group("/")
	authRoutes.Use(RateLimitIP(r.deps.Limiter, 120, time.Minute)) // 120 requests per minute per IP
	r.deps.AuthHandler.RegisterRoutes(authRoutes, r.deps.AuthMiddleware)
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

// LogAPI logs one line per request.
func LogAPI(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"clientIP", c.ClientIP(),
			"latency", time.Since(start),
			"error", c.Errors.ByType(gin.ErrorTypePrivate).String(),
		)
	}
}
