package httpmiddleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"classattend/internal/store"
)

// RateLimiter enforces a per-IP request budget per minute. Counting runs
// through a redis fixed window so the limit holds across replicas; when
// redis is down it degrades to an in-memory token bucket.
type RateLimiter struct {
	perMinute int
	redis     *store.Redis

	mu    sync.Mutex
	state map[string]*bucket
}

type bucket struct {
	tokens int
	last   time.Time
}

// NewRateLimiter creates a limiter allowing perMinute requests per client IP.
func NewRateLimiter(perMinute int, redis *store.Redis) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	return &RateLimiter{
		perMinute: perMinute,
		redis:     redis,
		state:     make(map[string]*bucket),
	}
}

// GinMiddleware returns a gin handler enforcing the limit.
func (l *RateLimiter) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		if !l.allow(c, ip) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit"})
			return
		}
		c.Next()
	}
}

func (l *RateLimiter) allow(c *gin.Context, ip string) bool {
	if l.redis != nil {
		key := "ratelimit:" + ip + ":" + time.Now().Format("200601021504")
		count, err := l.redis.IncrWindow(c.Request.Context(), key, time.Minute)
		if err == nil {
			return count <= int64(l.perMinute)
		}
	}
	return l.allowLocal(ip)
}

func (l *RateLimiter) allowLocal(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.state[key]
	now := time.Now()
	if !ok {
		b = &bucket{tokens: l.perMinute - 1, last: now}
		l.state[key] = b
		return true
	}
	elapsed := now.Sub(b.last).Minutes()
	refill := int(elapsed * float64(l.perMinute))
	if refill > 0 {
		b.tokens += refill
		if b.tokens > l.perMinute {
			b.tokens = l.perMinute
		}
		b.last = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}
