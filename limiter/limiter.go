package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes for the two limiters the daemon runs.
const (
	SendPrefix = "bazaar:send:"
	APIPrefix  = "bazaar:api:"
)

// Strategy is a rate limiting algorithm evaluated atomically in redis.
type Strategy interface {
	// Allow reports whether one more event for key fits in limit per window.
	Allow(ctx context.Context, rdb redis.Scripter, key string, limit int, window time.Duration) (bool, error)
}

// StrategyByName returns the strategy for a configured name. Unknown names
// fall back to the fixed window.
func StrategyByName(name string) Strategy {
	if name == "token_bucket" {
		return &TokenBucketStrategy{}
	}
	return &FixedWindowStrategy{}
}

// Manager throttles events per key under its own prefix. A limit of zero
// disables it.
type Manager struct {
	rdb      redis.Scripter
	prefix   string
	strategy Strategy
	limit    int
	window   time.Duration
}

func NewManager(rdb redis.Scripter, prefix string, strategy Strategy, limit int, window time.Duration) *Manager {
	return &Manager{
		rdb:      rdb,
		prefix:   prefix,
		strategy: strategy,
		limit:    limit,
		window:   window,
	}
}

// Allow consumes one send for key.
func (m *Manager) Allow(ctx context.Context, key string) (bool, error) {
	if m == nil || m.limit <= 0 {
		return true, nil
	}
	return m.strategy.Allow(ctx, m.rdb, m.prefix+key, m.limit, m.window)
}

// FixedWindowStrategy counts events in consecutive windows.
type FixedWindowStrategy struct{}

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
	return 0
end
return 1
`)

func (s *FixedWindowStrategy) Allow(ctx context.Context, rdb redis.Scripter, key string, limit int, window time.Duration) (bool, error) {
	seconds := int(window.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	result, err := fixedWindowScript.Run(ctx, rdb, []string{key}, limit, seconds).Int()
	if err != nil {
		return false, fmt.Errorf("fixed window limiter: %w", err)
	}
	return result == 1, nil
}

// TokenBucketStrategy refills limit tokens per window and allows bursts up to
// limit.
type TokenBucketStrategy struct {
	now func() time.Time
}

var tokenBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local info = redis.call("HMGET", KEYS[1], "tokens", "last_time")
local tokens = tonumber(info[1])
local last_time = tonumber(info[2])
if tokens == nil then
	tokens = capacity
	last_time = now
end

tokens = math.min(capacity, tokens + math.max(0, now - last_time) * rate)
if tokens < 1 then
	return 0
end
redis.call("HSET", KEYS[1], "tokens", tokens - 1, "last_time", now)
redis.call("EXPIRE", KEYS[1], ttl)
return 1
`)

func (s *TokenBucketStrategy) Allow(ctx context.Context, rdb redis.Scripter, key string, limit int, window time.Duration) (bool, error) {
	rate := float64(limit) / window.Seconds()
	if rate <= 0 {
		rate = 1
	}
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	ttl := int(2 * window.Seconds())
	if ttl < 60 {
		ttl = 60
	}
	result, err := tokenBucketScript.Run(ctx, rdb, []string{key}, limit, rate, now().Unix(), ttl).Int()
	if err != nil {
		return false, fmt.Errorf("token bucket limiter: %w", err)
	}
	return result == 1, nil
}
