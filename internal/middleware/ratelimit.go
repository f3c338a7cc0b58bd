// ratelimit.go provides Gin middleware that enforces per-client rate limits,
// returning 429 responses when a client exceeds its allowance. Limits are kept
// either in process (token bucket) or in Redis (GCRA via redis_rate) so that
// several replicas share one budget.
package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RateLimitConfig holds configuration for the in-process limiter
type RateLimitConfig struct {
	// Requests is the number of requests refilled per Period
	Requests int
	Period   time.Duration
	// BurstSize is the maximum burst of requests allowed
	BurstSize int
	// CleanupInterval is how often to clean up idle entries
	CleanupInterval time.Duration
}

// PerMinute returns a config allowing rpm requests per minute with the given burst.
func PerMinute(rpm, burst int) RateLimitConfig {
	return RateLimitConfig{Requests: rpm, Period: time.Minute, BurstSize: burst, CleanupInterval: 5 * time.Minute}
}

// PerHour returns a config allowing n requests per hour, all of which may be
// used at once.
func PerHour(n int) RateLimitConfig {
	return RateLimitConfig{Requests: n, Period: time.Hour, BurstSize: n, CleanupInterval: 5 * time.Minute}
}

// rateLimitEntry tracks the bucket of a single client
type rateLimitEntry struct {
	tokens     float64
	lastUpdate time.Time
}

// RateLimiter implements an in-process token bucket limiter
type RateLimiter struct {
	config  RateLimitConfig
	entries map[string]*rateLimitEntry
	mu      sync.Mutex
	stopCh  chan struct{}
	once    sync.Once
	now     func() time.Time
}

// NewRateLimiter creates a limiter and starts its cleanup goroutine. Call Stop
// to release it.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.Period <= 0 {
		config.Period = time.Minute
	}
	if config.BurstSize < 1 {
		config.BurstSize = 1
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		config:  config,
		entries: make(map[string]*rateLimitEntry),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}

	go rl.cleanup()

	return rl
}

// cleanup periodically removes entries whose bucket has refilled completely
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, entry := range rl.entries {
				if rl.refill(entry, now) >= float64(rl.config.BurstSize) {
					delete(rl.entries, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) rate() float64 {
	return float64(rl.config.Requests) / rl.config.Period.Seconds()
}

// refill returns the entry's token count at now, capped at the burst size.
func (rl *RateLimiter) refill(entry *rateLimitEntry, now time.Time) float64 {
	tokens := entry.tokens + now.Sub(entry.lastUpdate).Seconds()*rl.rate()
	return math.Min(float64(rl.config.BurstSize), tokens)
}

// Allow implements Limiter. It never returns an error.
func (rl *RateLimiter) Allow(_ context.Context, key string) (Decision, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	entry, exists := rl.entries[key]
	if !exists {
		entry = &rateLimitEntry{tokens: float64(rl.config.BurstSize), lastUpdate: now}
		rl.entries[key] = entry
	}
	entry.tokens = rl.refill(entry, now)
	entry.lastUpdate = now

	d := Decision{Limit: rl.config.Requests}
	if entry.tokens >= 1 {
		entry.tokens--
		d.Allowed = true
		d.Remaining = int(entry.tokens)
		return d, nil
	}
	if r := rl.rate(); r > 0 {
		d.RetryAfter = time.Duration((1 - entry.tokens) / r * float64(time.Second))
	}
	return d, nil
}

// RedisRateLimiter keeps limits in Redis so that every replica shares them.
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
}

// NewRedisRateLimiter creates a Redis-backed limiter. prefix namespaces the
// keys of one limit from another.
func NewRedisRateLimiter(client redis.UniversalClient, prefix string, config RateLimitConfig) *RedisRateLimiter {
	period := config.Period
	if period <= 0 {
		period = time.Minute
	}
	burst := config.BurstSize
	if burst < 1 {
		burst = 1
	}
	return &RedisRateLimiter{
		limiter: redis_rate.NewLimiter(client),
		limit:   redis_rate.Limit{Rate: config.Requests, Burst: burst, Period: period},
		prefix:  prefix,
	}
}

// Allow implements Limiter.
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := rl.limiter.Allow(ctx, rl.prefix+key, rl.limit)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Allowed:    res.Allowed > 0,
		Limit:      rl.limit.Rate,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}, nil
}

// RateLimitMiddleware rejects requests over the limit with 429. When the
// limiter itself fails (Redis unreachable) the request is let through and the
// failure logged.
func RateLimitMiddleware(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()

		d, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			slog.Warn("rate limiter unavailable, allowing request", "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			retry := int(math.Ceil(d.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success":     false,
				"error":       "Too many requests, please try again later",
				"retry_after": retry,
			})
			return
		}

		c.Next()
	}
}
