package server

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"projectflow/internal/metrics"
)

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

const limiterTTL = 5 * time.Minute

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

// rateLimitMiddleware throttles each authenticated actor separately.
// RPS 0 disables limiting.
func rateLimitMiddleware(cfg RateLimitConfig, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if cfg.RPS <= 0 {
			return next
		}
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		var limiters sync.Map
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := principalFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			if !limiterFor(&limiters, p.ActorID, cfg.RPS, burst).Allow() {
				m.RateLimited()
				w.Header().Set("Retry-After", "1")
				respondStatusError(w, newAPIError(http.StatusTooManyRequests, "rate_limited", "too many requests", map[string]any{"actor_id": p.ActorID}))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func limiterFor(limiters *sync.Map, key string, rps float64, burst int) *rate.Limiter {
	now := time.Now()
	if v, ok := limiters.Load(key); ok {
		cached := v.(*cachedLimiter)
		if now.Before(cached.expiresAt) {
			return cached.limiter
		}
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	limiters.Store(key, &cachedLimiter{limiter: l, expiresAt: now.Add(limiterTTL)})
	return l
}
