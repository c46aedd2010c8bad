package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/elskow/shotlog/internal/cache"
)

const tokenBytes = 32

// RefreshToken is an issued opaque refresh token. Only its hash is stored.
type RefreshToken struct {
	Value     string
	ExpiresAt time.Time
}

type RefreshLedger interface {
	Create(ctx context.Context, userID uuid.UUID) (RefreshToken, error)
	// Rotate atomically invalidates token and issues its replacement. A token that
	// was already rotated away yields a *ReusedTokenError; a revoked, unknown or
	// expired one yields ErrInvalidRefreshToken.
	Rotate(ctx context.Context, token string) (RefreshToken, uuid.UUID, error)
	// Revoke returns the owner of token, or uuid.Nil when the token is unknown.
	Revoke(ctx context.Context, token string) (uuid.UUID, error)
	RevokeAll(ctx context.Context, userID uuid.UUID) error
}

// Token hash layout: state is "active", "rotated" or "revoked"; exp is unix millis.
// Only "rotated" marks a replay as theft. Spent hashes stay until their TTL so
// replays are still recognized.
var (
	createRefreshScript = redis.NewScript(`
redis.call('HSET', KEYS[1], 'uid', ARGV[1], 'state', 'active', 'iat', ARGV[2], 'exp', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
redis.call('SADD', KEYS[2], ARGV[5])
redis.call('PEXPIRE', KEYS[2], ARGV[4])
return 1
`)

	rotateRefreshScript = redis.NewScript(`
local uid = redis.call('HGET', KEYS[1], 'uid')
if not uid then
  return {0, ''}
end
local state = redis.call('HGET', KEYS[1], 'state')
if state == 'rotated' then
  return {-1, uid}
end
if state ~= 'active' then
  return {0, ''}
end
local exp = tonumber(redis.call('HGET', KEYS[1], 'exp'))
if exp == nil or exp <= tonumber(ARGV[2]) then
  return {0, ''}
end
redis.call('HSET', KEYS[1], 'state', 'rotated')
local set = ARGV[5] .. uid
redis.call('SREM', set, ARGV[6])
redis.call('HSET', KEYS[2], 'uid', uid, 'state', 'active', 'iat', ARGV[2], 'exp', ARGV[3])
redis.call('PEXPIRE', KEYS[2], ARGV[4])
redis.call('SADD', set, ARGV[1])
redis.call('PEXPIRE', set, ARGV[4])
return {1, uid}
`)

	// A rotated token keeps its state so a later replay is still reported as reuse.
	revokeRefreshScript = redis.NewScript(`
local uid = redis.call('HGET', KEYS[1], 'uid')
if not uid then
  return ''
end
if redis.call('HGET', KEYS[1], 'state') == 'active' then
  redis.call('HSET', KEYS[1], 'state', 'revoked')
end
redis.call('SREM', ARGV[1] .. uid, ARGV[2])
return uid
`)

	revokeAllRefreshScript = redis.NewScript(`
local members = redis.call('SMEMBERS', KEYS[1])
for _, h in ipairs(members) do
  local key = ARGV[1] .. h
  if redis.call('HGET', key, 'state') == 'active' then
    redis.call('HSET', key, 'state', 'revoked')
  end
end
redis.call('DEL', KEYS[1])
return #members
`)
)

type redisRefreshLedger struct {
	cache *cache.Manager
	ttl   time.Duration
	now   func() time.Time
}

func NewRefreshLedger(cache *cache.Manager, ttl time.Duration) RefreshLedger {
	return &redisRefreshLedger{cache: cache, ttl: ttl, now: time.Now}
}

func (l *redisRefreshLedger) tokenKey(hash string) string {
	return l.cache.Key("rt", hash)
}

func (l *redisRefreshLedger) userKey(userID string) string {
	return l.cache.Key("rt", "user", userID)
}

func (l *redisRefreshLedger) Create(ctx context.Context, userID uuid.UUID) (RefreshToken, error) {
	value, hash, err := newOpaqueToken()
	if err != nil {
		return RefreshToken{}, err
	}

	now := l.now()
	expiresAt := now.Add(l.ttl)

	err = createRefreshScript.Run(ctx, l.cache.Client(),
		[]string{l.tokenKey(hash), l.userKey(userID.String())},
		userID.String(), now.UnixMilli(), expiresAt.UnixMilli(), l.ttl.Milliseconds(), hash,
	).Err()
	if err != nil {
		return RefreshToken{}, storeError("create refresh token", err)
	}

	return RefreshToken{Value: value, ExpiresAt: expiresAt}, nil
}

func (l *redisRefreshLedger) Rotate(ctx context.Context, token string) (RefreshToken, uuid.UUID, error) {
	if token == "" {
		return RefreshToken{}, uuid.Nil, ErrInvalidRefreshToken
	}

	value, hash, err := newOpaqueToken()
	if err != nil {
		return RefreshToken{}, uuid.Nil, err
	}

	oldHash := hashToken(token)
	now := l.now()
	expiresAt := now.Add(l.ttl)

	res, err := rotateRefreshScript.Run(ctx, l.cache.Client(),
		[]string{l.tokenKey(oldHash), l.tokenKey(hash)},
		hash, now.UnixMilli(), expiresAt.UnixMilli(), l.ttl.Milliseconds(),
		l.userKey(""), oldHash,
	).Slice()
	if err != nil {
		return RefreshToken{}, uuid.Nil, storeError("rotate refresh token", err)
	}

	status, uid, err := parseRotateResult(res)
	if err != nil {
		return RefreshToken{}, uuid.Nil, storeError("rotate refresh token", err)
	}

	switch status {
	case 1:
		userID, err := uuid.Parse(uid)
		if err != nil {
			return RefreshToken{}, uuid.Nil, ErrInvalidRefreshToken
		}
		return RefreshToken{Value: value, ExpiresAt: expiresAt}, userID, nil
	case -1:
		userID, err := uuid.Parse(uid)
		if err != nil {
			return RefreshToken{}, uuid.Nil, ErrInvalidRefreshToken
		}
		return RefreshToken{}, uuid.Nil, &ReusedTokenError{UserID: userID}
	default:
		return RefreshToken{}, uuid.Nil, ErrInvalidRefreshToken
	}
}

func (l *redisRefreshLedger) Revoke(ctx context.Context, token string) (uuid.UUID, error) {
	if token == "" {
		return uuid.Nil, nil
	}
	hash := hashToken(token)
	uid, err := revokeRefreshScript.Run(ctx, l.cache.Client(),
		[]string{l.tokenKey(hash)},
		l.userKey(""), hash,
	).Text()
	if err != nil {
		return uuid.Nil, storeError("revoke refresh token", err)
	}

	userID, err := uuid.Parse(uid)
	if err != nil {
		return uuid.Nil, nil
	}
	return userID, nil
}

func (l *redisRefreshLedger) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	err := revokeAllRefreshScript.Run(ctx, l.cache.Client(),
		[]string{l.userKey(userID.String())},
		l.tokenKey(""),
	).Err()
	if err != nil {
		return storeError("revoke all refresh tokens", err)
	}
	return nil
}

func parseRotateResult(res []any) (int64, string, error) {
	if len(res) != 2 {
		return 0, "", fmt.Errorf("unexpected rotate reply of length %d", len(res))
	}
	status, ok := res[0].(int64)
	if !ok {
		return 0, "", errors.New("unexpected rotate status type")
	}
	uid, _ := res[1].(string)
	return status, uid, nil
}

// newOpaqueToken returns a random URL-safe token and the hash it is stored under.
func newOpaqueToken() (string, string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}
	value := base64.RawURLEncoding.EncodeToString(buf)
	return value, hashToken(value), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
