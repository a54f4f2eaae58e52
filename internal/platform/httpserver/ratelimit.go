package httpserver

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/example/dojo-academy/internal/platform/api"
)

// KeyFunc extracts the bucket key of a request.
type KeyFunc func(r *http.Request) string

// RateLimiter keeps one token bucket per key. Buckets idle for longer than
// the sweep interval are dropped.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*visitor
	limit    rate.Limit
	burst    int
	key      KeyFunc
	idle     time.Duration
	lastGC   time.Time
}

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewRateLimiter creates a limiter allowing perSecond requests with the given
// burst per key. A nil key falls back to ClientIP.
func NewRateLimiter(perSecond float64, burst int, key KeyFunc) *RateLimiter {
	if key == nil {
		key = ClientIP
	}
	return &RateLimiter{
		limiters: make(map[string]*visitor),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		key:      key,
		idle:     10 * time.Minute,
		lastGC:   time.Now(),
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastGC) > rl.idle {
		for k, v := range rl.limiters {
			if now.Sub(v.seen) > rl.idle {
				delete(rl.limiters, k)
			}
		}
		rl.lastGC = now
	}

	v, ok := rl.limiters[key]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = v
	}
	v.seen = now
	return v.lim
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lim := rl.limiter(rl.key(r))
		if !lim.Allow() {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(rl.limit)))
			api.RateLimited(w, "RATE_LIMITED", "Too many requests", RequestIDFromContext(r.Context()), nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// maxRetryAfter caps Retry-After for slow or non-refilling buckets.
const maxRetryAfter = time.Hour

// retryAfterSeconds is the wait for one token, rounded up.
func retryAfterSeconds(limit rate.Limit) int {
	ceiling := int(maxRetryAfter / time.Second)
	if limit <= 0 {
		return ceiling
	}
	secs := int(math.Ceil(1 / float64(limit)))
	if secs < 1 {
		secs = 1
	}
	if secs > ceiling {
		secs = ceiling
	}
	return secs
}

// ClientIP prefers the first X-Forwarded-For hop, then RemoteAddr.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
