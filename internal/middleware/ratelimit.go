package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitOptions задаёт параметры ограничителя запросов.
type RateLimitOptions struct {
	// Capacity задаёт размер корзины токенов на одного клиента.
	Capacity int
	// RefillInterval задаёт, через сколько в корзину возвращается один токен.
	RefillInterval time.Duration
	// Prefix задаёт префикс ключей в Redis.
	Prefix string
}

func (o RateLimitOptions) withDefaults() RateLimitOptions {
	if o.Capacity <= 0 {
		o.Capacity = 60
	}
	if o.RefillInterval <= 0 {
		o.RefillInterval = time.Second
	}
	if o.Prefix == "" {
		o.Prefix = "ratelimit"
	}
	return o
}

var tokenBucket = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local interval_ms = tonumber(ARGV[3])
local ttl_seconds = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if tokens == nil or last_refill == nil then
  tokens = capacity
  last_refill = now_ms
end

local elapsed = math.max(0, now_ms - last_refill)
local intervals = math.floor(elapsed / interval_ms)
if intervals > 0 then
  tokens = math.min(capacity, tokens + intervals)
  last_refill = last_refill + intervals * interval_ms
end

local allowed = 0
local retry_after_ms = 0
if tokens > 0 then
  allowed = 1
  tokens = tokens - 1
else
  retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)

return { allowed, tokens, retry_after_ms }
`)

// RateLimit ограничивает частоту запросов с одного адреса по алгоритму
// token bucket, состояние которого хранится в Redis. Без Redis и при ошибках
// Redis запросы пропускаются.
func RateLimit(rdb redis.Scripter, opts RateLimitOptions, logger *zap.Logger) func(http.Handler) http.Handler {
	if rdb == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()

	ttl := int64(math.Ceil(float64(opts.Capacity)*opts.RefillInterval.Seconds())) + 1

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.Prefix + ":ip:" + ClientIP(r)

			res, err := tokenBucket.Run(r.Context(), rdb, []string{key},
				time.Now().UnixMilli(), opts.Capacity, opts.RefillInterval.Milliseconds(), ttl,
			).Slice()
			if err != nil || len(res) != 3 {
				logger.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			allowed := asInt64(res[0]) == 1
			remaining := asInt64(res[1])
			retryMs := asInt64(res[2])

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(opts.Capacity))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

			if !allowed {
				secs := int64(math.Ceil(float64(retryMs) / 1000))
				w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
				writeError(w, http.StatusTooManyRequests, "too_many_requests",
					fmt.Sprintf("rate limit exceeded, retry in %ds", secs))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	}
	return 0
}
