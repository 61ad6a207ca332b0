package api

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter applies a coarse per-IP request rate limit to the
// operational surface. The core has one caller in practice — the
// scheduler and whatever monitors it — so this exists to blunt an
// accidental hot-loop against /batch/start rather than to police
// per-tenant fairness.
type RateLimiter struct {
	limiters  map[string]*rate.Limiter
	mu        sync.Mutex
	limit     rate.Limit
	burstSize int
}

// NewRateLimiter creates a per-IP limiter allowing ratePerSecond
// sustained requests with bursts up to burstSize.
func NewRateLimiter(ratePerSecond int, burstSize int) *RateLimiter {
	return &RateLimiter{
		limiters:  make(map[string]*rate.Limiter),
		limit:     rate.Limit(ratePerSecond),
		burstSize: burstSize,
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, ok := rl.limiters[key]; ok {
		return limiter
	}

	limiter := rate.NewLimiter(rl.limit, rl.burstSize)
	rl.limiters[key] = limiter
	return limiter
}

// RateLimitMiddleware enforces rl against the requester's remote address.
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter := rl.getLimiter(r.RemoteAddr)

			if !limiter.Allow() {
				respondError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "rate limit exceeded, try again later", nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
