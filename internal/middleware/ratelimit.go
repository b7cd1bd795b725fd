package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/poster-tracker/internal/config"
)

// tokenBucket refills the bucket at KEYS[1] and takes one token.
// ARGV: now_ms, capacity, refill_tokens, interval_ms, ttl_s.
// Returns {allowed (0|1), remaining, retry_after_ms}.
var tokenBucket = redis.NewScript(`
local now, cap, refill, interval, ttl = tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3]), tonumber(ARGV[4]), tonumber(ARGV[5])
local st = redis.call('HMGET', KEYS[1], 't', 'at')
local tokens, at = tonumber(st[1]), tonumber(st[2])
if tokens == nil or at == nil then
  tokens, at = cap, now
end
if interval > 0 and refill > 0 and now > at then
  local n = math.floor((now - at) / interval)
  if n > 0 then
    tokens = math.min(cap, tokens + n * refill)
    at = at + n * interval
  end
end
local ok, wait = 0, 0
if tokens > 0 then
  ok, tokens = 1, tokens - 1
else
  wait = math.max(0, interval - (now - at))
end
redis.call('HSET', KEYS[1], 't', tokens, 'at', at)
redis.call('EXPIRE', KEYS[1], ttl)
return {ok, tokens, wait}
`)

// bucketResult is the decoded reply of the token bucket script.
type bucketResult struct {
	allowed   bool
	remaining int64
	retry     time.Duration
}

func parseBucketResult(v any) (bucketResult, bool) {
	arr, ok := v.([]any)
	if !ok || len(arr) != 3 {
		return bucketResult{}, false
	}
	n := make([]int64, 3)
	for i, x := range arr {
		switch t := x.(type) {
		case int64:
			n[i] = t
		case string:
			p, err := strconv.ParseInt(t, 10, 64)
			if err != nil {
				return bucketResult{}, false
			}
			n[i] = p
		default:
			return bucketResult{}, false
		}
	}
	return bucketResult{allowed: n[0] == 1, remaining: n[1], retry: time.Duration(n[2]) * time.Millisecond}, true
}

// NewTokenBucket limits the mutating position routes with a Redis token
// bucket.  Redis failures let the request through; limiting never blocks
// lifecycle changes during a cache outage.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	ttl := int64(cfg.TTL / time.Second)
	if ttl < 1 {
		ttl = 1
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := rateKey(cfg, c)
			raw, err := tokenBucket.Run(c.Request().Context(), rdb, []string{key},
				time.Now().UnixMilli(), cfg.Capacity, cfg.RefillTokens, cfg.RefillInterval.Milliseconds(), ttl).Result()
			if err != nil {
				Logger(c).WithError(err).WithField("key", key).Warn("rate limit check failed")
				return next(c)
			}
			res, ok := parseBucketResult(raw)
			if !ok {
				Logger(c).WithField("key", key).Warnf("unexpected rate limit reply %#v", raw)
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(res.remaining, 10))
			if cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}
			if !res.allowed {
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(res.retry.Seconds()))))
				Logger(c).WithField("key", key).Info("rate limited")
				return c.JSON(http.StatusTooManyRequests, echo.Map{"error": "rate limit exceeded"})
			}
			return next(c)
		}
	}
}

// rateKey builds the bucket key.  The action is the last route segment
// (hang, take-down, report-damage) or the method for create and edit, so
// a field worker hanging many posters does not drain the bucket used for
// damage reports.
func rateKey(cfg config.RateLimitConfig, c echo.Context) string {
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	parts := []string{cfg.Prefix}
	switch strings.ToLower(cfg.KeyStrategy) {
	case "ip":
		parts = append(parts, "ip", ip)
	case "user":
		parts = append(parts, "user", userKey(c))
	case "ip_user_action":
		parts = append(parts, "ip", ip, "user", userKey(c), "action", action(c))
	default: // "user_action"
		parts = append(parts, "user", userKey(c), "action", action(c))
	}
	return strings.Join(parts, ":")
}

func action(c echo.Context) string {
	path := c.Path()
	if i := strings.LastIndexByte(path, '/'); i >= 0 && !strings.HasPrefix(path[i+1:], ":") && path[i+1:] != "positions" {
		return path[i+1:]
	}
	return strings.ToLower(c.Request().Method)
}
