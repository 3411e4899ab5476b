package server

import (
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	limiterCapacity   = 30
	limiterRefillRate = 10 // tokens per second
)

type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{
		buckets: make(map[string]*bucket),
	}
}

func (l *rateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: limiterCapacity, last: now}
		l.buckets[key] = b
	}
	b.tokens += now.Sub(b.last).Seconds() * limiterRefillRate
	if b.tokens > limiterCapacity {
		b.tokens = limiterCapacity
	}
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (s *Server) enforceRateLimit(w http.ResponseWriter, r *http.Request, action string) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if s.limiter.allow(host + "|" + action) {
		return true
	}
	writeError(w, http.StatusTooManyRequests, "too many requests")
	return false
}
