package worker

import (
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// errRateLimited is reported to clients over their request budget.
var errRateLimited = errors.New("rate limit exceeded")

// Idle buckets are dropped after bucketIdleTTL; the map is swept at most every half TTL.
const bucketIdleTTL = 10 * time.Minute

type bucket struct {
	seen   time.Time
	tokens float64
}

// ClientLimiter gives every client address its own token bucket.
type ClientLimiter struct {
	swept    time.Time
	now      func() time.Time
	buckets  map[string]*bucket
	rate     float64
	burst    float64
	allowed  atomic.Int64
	rejected atomic.Int64
	mu       sync.Mutex
}

// LimiterStats is the limiter section of the health report.
type LimiterStats struct {
	Rate     float64 `json:"rate"`
	Burst    int     `json:"burst"`
	Clients  int     `json:"clients"`
	Allowed  int64   `json:"allowed"`
	Rejected int64   `json:"rejected"`
}

// NewClientLimiter refills each bucket at rate tokens per second up to burst (at least 1).
func NewClientLimiter(rate float64, burst int) *ClientLimiter {
	return newClientLimiter(rate, burst, time.Now)
}

func newClientLimiter(rate float64, burst int, now func() time.Time) *ClientLimiter {
	return &ClientLimiter{
		rate:    rate,
		burst:   float64(max(burst, 1)),
		now:     now,
		swept:   now(),
		buckets: make(map[string]*bucket),
	}
}

// Take spends one of key's tokens. When the bucket is empty it reports how long
// until the next token.
func (l *ClientLimiter) Take(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.swept) > bucketIdleTTL/2 {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > bucketIdleTTL {
				delete(l.buckets, k)
			}
		}
		l.swept = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst, seen: now}
		l.buckets[key] = b
	}
	b.tokens = min(l.burst, b.tokens+now.Sub(b.seen).Seconds()*l.rate)
	b.seen = now

	if b.tokens >= 1 {
		b.tokens--
		l.allowed.Add(1)
		return true, 0
	}
	l.rejected.Add(1)
	if l.rate <= 0 {
		return false, time.Second
	}
	return false, time.Duration((1 - b.tokens) / l.rate * float64(time.Second))
}

// Stats reports limiter totals.
func (l *ClientLimiter) Stats() LimiterStats {
	l.mu.Lock()
	clients := len(l.buckets)
	l.mu.Unlock()

	return LimiterStats{
		Rate:     l.rate,
		Burst:    int(l.burst),
		Clients:  clients,
		Allowed:  l.allowed.Load(),
		Rejected: l.rejected.Load(),
	}
}

// Limit rejects requests from clients over budget with 429 and a Retry-After in whole seconds.
func (l *ClientLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := l.Take(clientKey(r))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(max(1, int(math.Ceil(wait.Seconds())))))
			writeError(w, r, errRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey identifies the caller, preferring X-Real-IP set by chi's RealIP middleware.
func clientKey(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
