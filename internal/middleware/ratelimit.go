package middleware

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	cleanupInterval = 5 * time.Minute
	staleAfter      = 10 * time.Minute
)

// exemptPaths are never rate limited.
var exemptPaths = map[string]bool{
	"/api/health": true,
}

// bucket is the token bucket of one client IP.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// RateLimiter is a per-IP token bucket limiter. Stop releases the
// background sweeper of idle buckets.
type RateLimiter struct {
	buckets sync.Map // ip -> *bucket
	rate    float64
	burst   int
	now     func() time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter returns a limiter refilling rate tokens per second up
// to burst. A non-positive burst is raised to 1.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	rl := &RateLimiter{
		rate:  rate,
		burst: burst,
		now:   time.Now,
		done:  make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

// AuthRateLimiter is the stricter limiter for login and registration:
// 5 attempts per minute per IP.
func AuthRateLimiter() *RateLimiter {
	return NewRateLimiter(5.0/60.0, 5)
}

// Stop ends the idle bucket sweeper. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

// Handler wraps next with the limiter.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exemptPaths[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientIP(r)
		allowed, remaining, wait := rl.take(ip)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.burst))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(wait))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "too many requests, please try again later",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// take refills the bucket of ip and tries to consume one token. When
// the request is refused, wait is the number of whole seconds until a
// token is available.
func (rl *RateLimiter) take(ip string) (allowed bool, remaining, wait int) {
	now := rl.now()
	val, _ := rl.buckets.LoadOrStore(ip, &bucket{tokens: float64(rl.burst), lastRefill: now})
	b := val.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()

	if elapsed := now.Sub(b.lastRefill).Seconds(); elapsed > 0 {
		b.tokens = math.Min(float64(rl.burst), b.tokens+elapsed*rl.rate)
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true, int(math.Floor(b.tokens)), 0
	}

	wait = 1
	if rl.rate > 0 {
		wait = max(1, int(math.Ceil((1-b.tokens)/rl.rate)))
	}
	return false, 0, wait
}

func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle()
		case <-rl.done:
			return
		}
	}
}

// evictIdle drops buckets untouched for staleAfter. Such a bucket has
// refilled completely, so dropping it loses nothing.
func (rl *RateLimiter) evictIdle() {
	cutoff := rl.now().Add(-staleAfter)
	rl.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		b.mu.Lock()
		stale := b.lastRefill.Before(cutoff)
		b.mu.Unlock()
		if stale {
			rl.buckets.Delete(key)
		}
		return true
	})
}

// clientIP prefers the first X-Forwarded-For entry, then X-Real-IP,
// then the host part of RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
