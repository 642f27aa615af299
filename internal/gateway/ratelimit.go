package gateway

import (
	"sync"

	"golang.org/x/time/rate"
)

// originLimiter applies an independent token-bucket limiter to each
// origin, so a misbehaving page cannot starve other origins or mask
// brute-force probing behind legitimate traffic.
type originLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newOriginLimiter(rps float64, burst int) *originLimiter {
	return &originLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Allow reports whether a request for the origin may proceed now.
func (l *originLimiter) Allow(origin string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[origin]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[origin] = lim
	}
	l.mu.Unlock()

	return lim.Allow()
}
