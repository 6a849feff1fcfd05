package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/practice-room-server/internal/config"
)

// bucketScript refills a per-key token bucket and takes one token.  Returns
// {allowed, retry_after_ms}.
var bucketScript = redis.NewScript(`
	local tokens = tonumber(redis.call('HGET', KEYS[1], 't') or ARGV[2])
	local last = tonumber(redis.call('HGET', KEYS[1], 'ts') or ARGV[1])
	local now = tonumber(ARGV[1])
	local cap = tonumber(ARGV[2])
	local interval = tonumber(ARGV[3])

	local refilled = math.floor((now - last) / interval)
	if refilled > 0 then
		tokens = math.min(cap, tokens + refilled)
		last = last + refilled * interval
	end

	local allowed = 0
	local retry = 0
	if tokens > 0 then
		allowed = 1
		tokens = tokens - 1
	else
		retry = interval - (now - last)
		if retry < 0 then retry = 0 end
	end

	redis.call('HSET', KEYS[1], 't', tokens, 'ts', last)
	redis.call('EXPIRE', KEYS[1], math.ceil(interval * cap / 1000) + 60)
	return { allowed, retry }
`)

// RateLimit returns a token-bucket limiter keyed by member and route, used
// on the check-in endpoints to absorb client retry storms.  With no Redis
// client or the limiter disabled it passes every request through, and a
// Redis error at request time fails open.
func RateLimit(cfg config.Config, rdb *redis.Client) echo.MiddlewareFunc {
	pass := func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	if !cfg.RateLimitEnabled || rdb == nil {
		return pass
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := "rl:" + strconv.FormatInt(MemberID(c), 10) + ":" + c.Request().Method + ":" + c.Path()
			args := []interface{}{
				time.Now().UnixMilli(),
				cfg.RateLimitBurst,
				cfg.RateLimitRefill.Milliseconds(),
			}
			vals, err := bucketScript.Run(c.Request().Context(), rdb, []string{key}, args...).Int64Slice()
			if err != nil || len(vals) != 2 {
				return next(c)
			}
			if vals[0] != 1 {
				secs := (vals[1] + 999) / 1000
				c.Response().Header().Set("Retry-After", strconv.FormatInt(secs, 10))
				return c.JSON(http.StatusTooManyRequests, echo.Map{"error": "too many requests"})
			}
			return next(c)
		}
	}
}
