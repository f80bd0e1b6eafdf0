// Package ratelimit ограничивает частоту проверок реферальных кодов с помощью Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Ведро хранится в хэше Redis; число токенов возвращается строкой, чтобы Redis не отбросил дробную часть.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local nowData = redis.call("TIME")
local now = (nowData[1] * 1000) + math.floor(nowData[2] / 1000)

local data = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if tokens == nil then
  tokens = burst
else
  local delta = now - ts
  if delta < 0 then
    delta = 0
  end
  tokens = math.min(burst, tokens + (delta / 1000) * rate)
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, tostring(tokens)}
`

const keyPrefix = "elixr:referral:ratelimit:"

// Result описывает решение ограничителя.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// TokenBucket реализует ограничение частоты по алгоритму token bucket в Redis.
type TokenBucket struct {
	client redis.Scripter
	script *redis.Script
}

// NewTokenBucket создаёт ограничитель; при nil-клиенте возвращает nil.
func NewTokenBucket(client redis.Scripter) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(tokenBucketScript),
	}
}

// Allow расходует один токен из ведра key. rate задаётся в токенах в секунду.
func (t *TokenBucket) Allow(ctx context.Context, key string, rate float64, burst int) (*Result, error) {
	if t == nil || t.client == nil {
		return nil, errors.New("rate limiter not configured")
	}
	if key == "" {
		return nil, errors.New("rate limiter key is empty")
	}
	if rate <= 0 || burst <= 0 {
		return nil, errors.New("rate limiter rate and burst must be positive")
	}

	ttl := bucketTTL(rate, burst)

	res, err := t.script.Run(ctx, t.client,
		[]string{keyPrefix + key},
		rate, burst, ttl.Milliseconds(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("run token bucket script: %w", err)
	}

	return parseResult(res, rate)
}

func parseResult(res []interface{}, rate float64) (*Result, error) {
	if len(res) < 2 {
		return nil, errors.New("invalid rate limit script response")
	}

	allowed, ok := res[0].(int64)
	if !ok {
		return nil, fmt.Errorf("unexpected allowed value %T", res[0])
	}

	tokensStr, ok := res[1].(string)
	if !ok {
		return nil, fmt.Errorf("unexpected tokens value %T", res[1])
	}
	tokens, err := strconv.ParseFloat(tokensStr, 64)
	if err != nil {
		return nil, fmt.Errorf("parse tokens: %w", err)
	}

	r := &Result{
		Allowed:   allowed == 1,
		Remaining: int(math.Floor(tokens)),
	}
	if !r.Allowed {
		needed := 1 - tokens
		if needed > 0 {
			r.RetryAfter = time.Duration(needed / rate * float64(time.Second))
		}
	}

	return r, nil
}

func bucketTTL(rate float64, burst int) time.Duration {
	seconds := math.Ceil((float64(burst) / rate) * 2)
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}
