package auth

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRateLimiter_Limit(t *testing.T) {
	c, srv := newTestCache(t)
	metrics := &countingMetrics{}
	limiter := NewRateLimiter(c, time.Minute, zap.NewNop(), metrics)

	handler := limiter.Limit(ScopeLogin, 3)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	call := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = ip + ":51234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, call("198.51.100.7").Code)
	}

	rec := call("198.51.100.7")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, 1, metrics.count("rate_limit_login/rejected"))

	// Other clients have their own window.
	assert.Equal(t, http.StatusOK, call("198.51.100.8").Code)

	srv.FastForward(time.Minute + time.Second)
	assert.Equal(t, http.StatusOK, call("198.51.100.7").Code)
}

func TestRateLimiter_IgnoresForwardedFor(t *testing.T) {
	c, _ := newTestCache(t)
	limiter := NewRateLimiter(c, time.Minute, zap.NewNop(), nil)

	handler := limiter.Limit(ScopeLogin, 3)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	allowed := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "198.51.100.7:51234"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code == http.StatusOK {
			allowed++
		}
	}
	assert.Equal(t, 3, allowed)
}

func TestRateLimiter_Disabled(t *testing.T) {
	c, _ := newTestCache(t)
	limiter := NewRateLimiter(c, time.Minute, zap.NewNop(), nil)

	handler := limiter.Limit(ScopeRegister, 0)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/register", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	c, srv := newTestCache(t)
	limiter := NewRateLimiter(c, time.Minute, zap.NewNop(), nil)
	srv.Close()

	handler := limiter.Limit(ScopeLogin, 1)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}
