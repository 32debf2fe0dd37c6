package middleware

import (
	"net/http"
	"sync"
	"time"
)

// RateLimiter is a fixed-window counter keyed by client identity (spec.md
// §6's optional rate-limit block). It intentionally does not share the
// generic cache.Cache interface: a rate limiter needs an atomic
// check-and-increment, which a Get-then-Set over that interface cannot
// give without a second lock layered on top anyway, so it keeps its own.
type RateLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	count      int
	windowEnds time.Time
}

// NewRateLimiter returns a limiter allowing up to limit requests per
// window for each client key.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether key may proceed under the current window.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	b, ok := r.buckets[key]
	if !ok || now.After(b.windowEnds) {
		b = &bucket{count: 0, windowEnds: now.Add(r.window)}
		r.buckets[key] = b
	}
	b.count++
	return b.count <= r.limit
}

// Middleware rejects requests over the limit with 429. It reads the
// client key ClientKey has already placed in the request context.
func (r *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		key := GetClientKey(req.Context())
		if !r.Allow(key) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, req)
	})
}
