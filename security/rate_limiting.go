package security

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration
}

func NewRateLimiter(redisClient *redis.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		redis:  redisClient,
		limit:  limit,
		window: window,
	}
}

// SubmitRateLimit caps analysis submissions per caller over a sliding
// window. Authenticated callers are keyed by user id, the rest by IP.
func (r *RateLimiter) SubmitRateLimit() func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		key := "ratelimit:submit:"
		if e.Auth != nil {
			key += "user:" + e.Auth.Id
		} else {
			key += "ip:" + realIP(e.Request)
		}

		if r.exceeded(e, key, r.limit) {
			return e.JSON(http.StatusTooManyRequests, map[string]any{
				"success": false,
				"error": map[string]string{
					"code":    "rate_limited",
					"message": "Too many submissions. Please try again later.",
				},
			})
		}

		return e.Next()
	}
}

// AntiBot rejects obvious scraper user agents and throttles raw request
// frequency per IP.
func (r *RateLimiter) AntiBot() func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if isSuspiciousUserAgent(e.Request.Header.Get("User-Agent")) {
			return e.JSON(http.StatusForbidden, map[string]any{
				"success": false,
				"error":   map[string]string{"code": "forbidden", "message": "Access denied"},
			})
		}

		key := "antibot:" + realIP(e.Request)
		if r.exceeded(e, key, r.limit*2) {
			return e.JSON(http.StatusTooManyRequests, map[string]any{
				"success": false,
				"error":   map[string]string{"code": "rate_limited", "message": "Too many requests"},
			})
		}

		return e.Next()
	}
}

// exceeded bumps the counter behind key and reports whether it passed
// limit. Redis being down never blocks the request.
func (r *RateLimiter) exceeded(e *core.RequestEvent, key string, limit int) bool {
	ctx := e.Request.Context()

	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return false
	}
	if count == 1 {
		r.redis.Expire(ctx, key, r.window)
	}
	return count > int64(limit)
}

func realIP(req *http.Request) string {
	if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx > 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	if ip := req.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

func isSuspiciousUserAgent(ua string) bool {
	suspicious := []string{"bot", "crawler", "spider", "scraper"}
	lower := strings.ToLower(ua)
	for _, pattern := range suspicious {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
