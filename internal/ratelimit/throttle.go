package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle is a per-client token bucket placed in front of the intake
// route. It bounds how often one client can hit the counting queries and is
// independent of the daily ceilings.
type Throttle struct {
	mu       sync.Mutex
	limiters map[string]*throttleEntry
	rps      rate.Limit
	burst    int
	idle     time.Duration
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewThrottle creates a throttle allowing rps requests per second with the
// given burst per key. Keys unused for ten minutes are dropped.
func NewThrottle(rps float64, burst int) *Throttle {
	return &Throttle{
		limiters: make(map[string]*throttleEntry),
		rps:      rate.Limit(rps),
		burst:    burst,
		idle:     10 * time.Minute,
	}
}

// Allow reports whether a request for key may proceed now.
func (t *Throttle) Allow(key string) bool {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.limiters[key]
	if !ok {
		t.sweep(now)
		e = &throttleEntry{limiter: rate.NewLimiter(t.rps, t.burst)}
		t.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// sweep drops idle keys. Caller holds t.mu.
func (t *Throttle) sweep(now time.Time) {
	for k, e := range t.limiters {
		if now.Sub(e.lastSeen) > t.idle {
			delete(t.limiters, k)
		}
	}
}

// Middleware rejects requests over the rate with onLimited. keyFunc selects
// the bucket, typically the client address.
func (t *Throttle) Middleware(keyFunc func(*http.Request) string, onLimited http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !t.Allow(keyFunc(r)) {
				onLimited(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
