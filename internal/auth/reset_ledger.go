package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/elskow/shotlog/internal/cache"
)

// ResetToken is a one-time password reset token.
type ResetToken struct {
	Value     string
	ExpiresAt time.Time
}

type ResetLedger interface {
	// Create issues a token and invalidates the user's previous outstanding one.
	Create(ctx context.Context, userID uuid.UUID) (ResetToken, error)
	// Consume returns the owner and deletes the token in one step.
	Consume(ctx context.Context, token string) (uuid.UUID, error)
}

var (
	createResetScript = redis.NewScript(`
local prev = redis.call('GET', KEYS[2])
if prev then
  redis.call('DEL', ARGV[4] .. prev)
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

	consumeResetScript = redis.NewScript(`
local uid = redis.call('GET', KEYS[1])
if not uid then
  return false
end
redis.call('DEL', KEYS[1])
local ptr = ARGV[1] .. uid
if redis.call('GET', ptr) == ARGV[2] then
  redis.call('DEL', ptr)
end
return uid
`)
)

type redisResetLedger struct {
	cache *cache.Manager
	ttl   time.Duration
	now   func() time.Time
}

func NewResetLedger(cache *cache.Manager, ttl time.Duration) ResetLedger {
	return &redisResetLedger{cache: cache, ttl: ttl, now: time.Now}
}

func (l *redisResetLedger) Create(ctx context.Context, userID uuid.UUID) (ResetToken, error) {
	value, hash, err := newOpaqueToken()
	if err != nil {
		return ResetToken{}, err
	}

	expiresAt := l.now().Add(l.ttl)
	err = createResetScript.Run(ctx, l.cache.Client(),
		[]string{l.cache.Key("pr", hash), l.cache.Key("pr", "user", userID.String())},
		userID.String(), hash, l.ttl.Milliseconds(), l.cache.Key("pr", ""),
	).Err()
	if err != nil {
		return ResetToken{}, storeError("create reset token", err)
	}

	return ResetToken{Value: value, ExpiresAt: expiresAt}, nil
}

func (l *redisResetLedger) Consume(ctx context.Context, token string) (uuid.UUID, error) {
	if token == "" {
		return uuid.Nil, ErrInvalidResetToken
	}

	hash := hashToken(token)
	uid, err := consumeResetScript.Run(ctx, l.cache.Client(),
		[]string{l.cache.Key("pr", hash)},
		l.cache.Key("pr", "user", ""), hash,
	).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, ErrInvalidResetToken
		}
		return uuid.Nil, storeError("consume reset token", err)
	}

	userID, err := uuid.Parse(uid)
	if err != nil {
		return uuid.Nil, ErrInvalidResetToken
	}
	return userID, nil
}
