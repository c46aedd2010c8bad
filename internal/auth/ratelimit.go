package auth

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/elskow/shotlog/internal/api"
	"github.com/elskow/shotlog/internal/cache"
)

const (
	ScopeLogin          = "login"
	ScopeRegister       = "register"
	ScopeForgotPassword = "forgot_password"
	ScopeResetPassword  = "reset_password"
)

var rateLimitScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// RateLimiter is a fixed-window limiter keyed by scope and client IP. It lets
// requests through when Redis is unreachable.
type RateLimiter struct {
	cache   *cache.Manager
	window  time.Duration
	logger  *zap.Logger
	metrics EventRecorder
}

func NewRateLimiter(cache *cache.Manager, window time.Duration, logger *zap.Logger, metrics EventRecorder) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if metrics == nil {
		metrics = nopEventRecorder{}
	}
	return &RateLimiter{cache: cache, window: window, logger: logger, metrics: metrics}
}

// Allow counts one hit and reports whether it is within max, plus the time
// until the window resets.
func (l *RateLimiter) Allow(ctx context.Context, scope, client string, max int) (bool, time.Duration, error) {
	res, err := rateLimitScript.Run(ctx, l.cache.Client(),
		[]string{l.cache.Key("rl", scope, client)},
		l.window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return true, 0, err
	}
	if len(res) != 2 {
		return true, 0, nil
	}

	return res[0] <= int64(max), time.Duration(res[1]) * time.Millisecond, nil
}

// Limit returns middleware allowing max requests per window. max <= 0 disables it.
func (l *RateLimiter) Limit(scope string, max int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if max <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, retryIn, err := l.Allow(r.Context(), scope, api.ClientIP(r), max)
			if err != nil {
				l.logger.Warn("rate limiter unavailable, allowing request",
					zap.String("scope", scope),
					zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				l.metrics.AuthEvent("rate_limit_"+scope, "rejected")
				api.WriteRetryAfter(w, http.StatusTooManyRequests,
					int(math.Ceil(retryIn.Seconds())), "too many requests, try again later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
