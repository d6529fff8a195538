package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"notify-realtime/internal/auth"
	"notify-realtime/internal/broker"
	"notify-realtime/internal/logging"
	"notify-realtime/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

type countingLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	err    error
}

func (l *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[key]++
	return l.counts[key] <= limit, nil
}

func newTestRouter(limiter Limiter) (*Router, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	log := logging.Discard()

	r := NewRouter(Deps{
		Hub:            broker.NewHub(broker.Options{AppKey: "key", AppSecret: "secret", Logger: log, Metrics: m}),
		AuthHandler:    auth.NewHandler("key", "secret", log, m),
		AuthMiddleware: auth.NewMiddleware("jwt-secret"),
		Limiter:        limiter,
		Gatherer:       reg,
		Logger:         log,
	})
	r.SetupRoutes()
	return r, reg
}

func TestHealthz(t *testing.T) {
	r, _ := newTestRouter(nil)

	w := httptest.NewRecorder()
	r.GetEngine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","clients":0}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newTestRouter(nil)

	// a forbidden authorization is counted by status
	token, err := auth.IssueToken("jwt-secret", 1, time.Hour)
	assert.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/broadcasting/auth", strings.NewReader("socket_id=s&channel_name=private-user.2"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)
	r.GetEngine().ServeHTTP(httptest.NewRecorder(), req)

	w := httptest.NewRecorder()
	r.GetEngine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `notify_realtime_auth_requests_total{status="403"} 1`)
}

func TestRateLimitIP(t *testing.T) {
	limiter := &countingLimiter{counts: make(map[string]int)}
	r, _ := newTestRouter(limiter)

	var last int
	for i := 0; i < 121; i++ {
		w := httptest.NewRecorder()
		r.GetEngine().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/broadcasting/auth", nil))
		last = w.Code
		if i < 120 {
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		}
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestRateLimitFailsOpen(t *testing.T) {
	r, _ := newTestRouter(&countingLimiter{err: errors.New("redis down")})

	w := httptest.NewRecorder()
	r.GetEngine().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/broadcasting/auth", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
