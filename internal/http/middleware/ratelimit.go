package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// tokenBucket refills continuously at rate tokens per second up to burst.
type tokenBucket struct {
	tokens   float64
	lastFill time.Time
}

// RateLimiter is a per-key token bucket for webhook endpoints. Providers
// burst on redelivery; the limiter sheds the excess with 429 so the rest of
// the service stays responsive.
type RateLimiter struct {
	mu      sync.Mutex
	rate    float64
	burst   float64
	keyFunc func(*http.Request) string
	buckets map[string]*tokenBucket
}

// NewRateLimiter creates a limiter keyed by client IP. rate is tokens per
// second.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		rate:    rate,
		burst:   float64(burst),
		keyFunc: clientIP,
		buckets: make(map[string]*tokenBucket),
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (l *RateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		b = &tokenBucket{tokens: l.burst, lastFill: now}
		l.buckets[key] = b
	}
	b.tokens += now.Sub(b.lastFill).Seconds() * l.rate
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.lastFill = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Handler wraps next with the limiter.
func (l *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(l.keyFunc(r)) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
