package api

import (
	"sync"

	"hotelbook/internal/config"

	"golang.org/x/time/rate"
)

// rateLimiter keeps one token bucket per API client or remote address.
type rateLimiter struct {
	limiters sync.Map
	rps      rate.Limit
	burst    int
}

func newRateLimiter(cfg *config.APIConfig) *rateLimiter {
	burst := cfg.RateLimit.Burst
	if burst <= 0 {
		burst = defaultRateLimitBurst
	}
	return &rateLimiter{
		rps:   rate.Limit(cfg.RateLimit.RPS),
		burst: burst,
	}
}

func (l *rateLimiter) getLimiter(key string) *rate.Limiter {
	if v, ok := l.limiters.Load(key); ok {
		if lim, ok := v.(*rate.Limiter); ok {
			return lim
		}
	}

	lim := rate.NewLimiter(l.rps, l.burst)
	actual, loaded := l.limiters.LoadOrStore(key, lim)
	if loaded {
		if actualLim, ok := actual.(*rate.Limiter); ok {
			return actualLim
		}
	}
	return lim
}
