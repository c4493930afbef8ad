package middlewares

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Limiter decides whether one more hit for key fits in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (ok bool, retryAfter time.Duration, err error)
}

type RateLimitConfig struct {
	Limiter Limiter
	// Scope namespaces keys so login and register budgets stay separate.
	Scope string
	KeyFn func(*gin.Context) string
	// Message is the 429 body text.
	Message   string
	Log       *slog.Logger
	OnLimited func(route string)
}

// RateLimit enforces cfg.Limiter for a derived key. Limiter errors fail open.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.KeyFn == nil {
		cfg.KeyFn = KeyByIP
	}
	if cfg.Message == "" {
		cfg.Message = "Too many requests. Please try again shortly."
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	return func(c *gin.Context) {
		key := cfg.KeyFn(c)

		if key == "" {
			// fallback to IP if key cannot be derived
			key = clientIP(c)
		}

		ok, retryAfter, err := cfg.Limiter.Allow(c.Request.Context(), cfg.Scope+":"+key)
		if err != nil {
			cfg.Log.WarnContext(c.Request.Context(), "rate limiter unavailable", "scope", cfg.Scope, "err", err)
			c.Next()
			return
		}

		if !ok {
			secs := int(retryAfter.Round(time.Second).Seconds())
			if secs < 0 {
				secs = 0
			}

			if cfg.OnLimited != nil {
				cfg.OnLimited(c.FullPath())
			}

			c.Header("Retry-After", strconv.Itoa(secs))
			abortWithError(c, http.StatusTooManyRequests, "rate_limited", cfg.Message)
			return
		}

		c.Next()
	}
}

// RateLimiter is the in-process fixed-window limiter.
type RateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	now     func() time.Time
	clients map[string]*clientBucket
}

type clientBucket struct {
	count     int
	windowEnd time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		clients: make(map[string]*clientBucket),
	}
}

func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.clients[key]

	if !ok || now.After(b.windowEnd) {
		rl.clients[key] = &clientBucket{
			count:     1,
			windowEnd: now.Add(rl.window),
		}
		rl.sweep(now)
		return true, 0, nil
	}

	if b.count >= rl.limit {
		return false, b.windowEnd.Sub(now), nil
	}

	b.count++
	return true, 0, nil
}

// sweep drops expired buckets so the map does not grow without bound.
func (rl *RateLimiter) sweep(now time.Time) {
	if len(rl.clients) < 1024 {
		return
	}
	for k, b := range rl.clients {
		if now.After(b.windowEnd) {
			delete(rl.clients, k)
		}
	}
}

// for unauthenticated endpoints: rate limit by IP
func KeyByIP(c *gin.Context) string {
	return clientIP(c)
}

// For authenticated endpoints: rate limit by userID if available
func KeyByUserOrIP(c *gin.Context) string {
	id, ok := UserIDFromContext(c)

	if ok && id != "" {
		return "user:" + id
	}

	return clientIP(c)
}

func clientIP(c *gin.Context) string {
	// Gin's ClientIP respects X-Forwarded-For / X-Real-IP if configured.
	ip := c.ClientIP()

	host, _, err := net.SplitHostPort(ip)

	if err == nil && host != "" {
		return host
	}

	return ip
}
