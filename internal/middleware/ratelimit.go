package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Default per-IP budget. Steps and inputs arrive many times a second
// from a live client, so the limit is generous.
const (
	defaultRate  rate.Limit = 100
	defaultBurst            = 20
	staleAfter              = 10 * time.Minute
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter tracks rate limits per IP.
type RateLimiter struct {
	limiters map[string]*ipLimiter
	mu       sync.Mutex
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*ipLimiter),
	}
}

// getIP extracts client IP from request.
func getIP(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip != "" {
		return ip
	}
	ip, _, _ = net.SplitHostPort(r.RemoteAddr)
	return ip
}

// Allow checks if a request from the IP is within budget.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	entry, exists := rl.limiters[ip]
	if !exists {
		entry = &ipLimiter{limiter: rate.NewLimiter(defaultRate, defaultBurst)}
		rl.limiters[ip] = entry
		rl.sweepLocked(now)
	}
	entry.lastSeen = now

	return entry.limiter.Allow()
}

// sweepLocked drops limiters for IPs not seen recently. Called with
// the mutex held, on the new-IP path so steady traffic never pays.
func (rl *RateLimiter) sweepLocked(now time.Time) {
	for ip, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > staleAfter {
			delete(rl.limiters, ip)
		}
	}
}

// Middleware returns rate limiting middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := getIP(r)
		if !rl.Allow(ip) {
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
