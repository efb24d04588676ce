package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleTTL: через сколько простоя лимитер ключа выбрасывается.
const idleTTL = 10 * time.Minute

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter: token bucket на ключ (IP и user_id).
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rps      rate.Limit
	burst    int
	now      func() time.Time
	lastGC   time.Time
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		rps:      rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
	}
}

func (l *RateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.lastGC) > idleTTL {
		for k, e := range l.limiters {
			if now.Sub(e.seen) > idleTTL {
				delete(l.limiters, k)
			}
		}
		l.lastGC = now
	}
	e, ok := l.limiters[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[key] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1)
}

// Middleware ограничивает запросы к /api/* по IP и по user_id (если он уже в контексте). 429 при превышении.
// rps <= 0 отключает ограничение.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.rps <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		if !l.allow("ip:" + clientIP(r)) {
			writeErr(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		if userID := GetUserID(r.Context()); userID != "" && !l.allow("u:"+userID) {
			writeErr(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
