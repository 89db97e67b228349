package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// Bucket sizes one limit. A zero bucket disables limiting.
type Bucket struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize"`
}

func (b Bucket) Enabled() bool {
	return b.RequestsPerMinute > 0 && b.BurstSize > 0
}

type Decision struct {
	Allowed bool
	// Remaining is the whole number of tokens left after this call.
	Remaining int
	// RetryAfter is how long until one token is available again. It has
	// millisecond precision so outbound callers can wait exactly.
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, scope string, subject string, bucket Bucket) (Decision, error)
}

// TokenBucketLimiter keeps one bucket per scope and subject in redis, so
// every replica shares the same budget for a session or an upstream API.
type TokenBucketLimiter struct {
	rdb *redis.Client
	now func() time.Time
}

func NewTokenBucketLimiter(rdb *redis.Client) *TokenBucketLimiter {
	return &TokenBucketLimiter{rdb: rdb, now: time.Now}
}

// refill, take one token if possible, persist. Returns
// {allowed, retry_after_ms, remaining}.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1]) -- tokens/ms
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now
if now < ts then ts = now end

tokens = math.min(capacity, tokens + (now - ts) * rate)

local allowed = 0
local retry_ms = 0
if tokens >= 1.0 then
  allowed = 1
  tokens = tokens - 1.0
elseif rate > 0 then
  retry_ms = math.ceil((1.0 - tokens) / rate)
else
  retry_ms = 60000
end

redis.call("HSET", key, "tokens", tostring(tokens), "ts", now)
redis.call("PEXPIRE", key, ttl_ms)
return {allowed, retry_ms, math.floor(tokens)}
`)

func (l *TokenBucketLimiter) Allow(ctx context.Context, scope string, subject string, bucket Bucket) (Decision, error) {
	if l == nil || l.rdb == nil || !bucket.Enabled() {
		return Decision{Allowed: true}, nil
	}
	key := bucketKey(scope, subject)

	ratePerMS := float64(bucket.RequestsPerMinute) / float64(time.Minute.Milliseconds())
	capacity := float64(bucket.BurstSize)
	ttlMS := computeTTLMS(ratePerMS*1000, capacity)

	res, err := tokenBucketScript.Run(ctx, l.rdb, []string{key}, ratePerMS, capacity, l.now().UTC().UnixMilli(), ttlMS).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("redis ratelimit %s: %w", scope, err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 3 {
		return Decision{}, fmt.Errorf("unexpected redis ratelimit response: %T", res)
	}

	allowed, _ := vals[0].(int64)
	retryMS, _ := vals[1].(int64)
	remaining, _ := vals[2].(int64)
	if allowed == 1 {
		return Decision{Allowed: true, Remaining: int(remaining)}, nil
	}
	if retryMS <= 0 {
		retryMS = 1
	}
	return Decision{Allowed: false, RetryAfter: time.Duration(retryMS) * time.Millisecond}, nil
}

// bucketKey hashes the subject so bearer tokens never land in redis keys.
func bucketKey(scope, subject string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		scope = "default"
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "unknown"
	}
	sum := sha256.Sum256([]byte(subject))
	return fmt.Sprintf("captionq:rl:%s:%s", scope, hex.EncodeToString(sum[:]))
}

// computeTTLMS keeps bucket state for about two empty-to-full refills.
func computeTTLMS(ratePerSec float64, capacity float64) int64 {
	const minTTL = 30 * time.Second
	const maxTTL = 1 * time.Hour

	if ratePerSec <= 0 || capacity <= 0 {
		return int64((2 * time.Minute).Milliseconds())
	}
	fillSeconds := capacity / ratePerSec
	ttl := time.Duration(math.Ceil(fillSeconds*2.0))*time.Second + 5*time.Second
	return min(max(ttl, minTTL), maxTTL).Milliseconds()
}
