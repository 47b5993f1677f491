package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig is a fixed-window limit. Both fields must be positive.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// Validate rejects non-positive limits.
func (c RateLimitConfig) Validate() error {
	if c.RequestsPerWindow <= 0 {
		return fmt.Errorf("RequestsPerWindow must be > 0 (got %d)", c.RequestsPerWindow)
	}
	if c.WindowDuration <= 0 {
		return fmt.Errorf("WindowDuration must be > 0 (got %s)", c.WindowDuration)
	}
	return nil
}

// PerMinute builds a one-minute window config.
func PerMinute(n int) RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: n, WindowDuration: time.Minute}
}

// DefaultOperatorLimit applies to the operator endpoints.
func DefaultOperatorLimit() RateLimitConfig {
	return PerMinute(30)
}

// RateLimitStore holds window counters. Allow reports whether the request
// fits, how many requests remain in the window and, when rejected, the
// seconds until the window resets.
type RateLimitStore interface {
	Allow(ctx context.Context, key string, config RateLimitConfig) (allowed bool, remaining int, retryAfter int)
}

type bucket struct {
	count     int
	windowEnd time.Time
}

// InMemoryRateLimitStore is a process-local fixed-window store, used when no
// Redis is configured.
type InMemoryRateLimitStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

func NewInMemoryRateLimitStore() *InMemoryRateLimitStore {
	return &InMemoryRateLimitStore{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (s *InMemoryRateLimitStore) Allow(_ context.Context, key string, config RateLimitConfig) (bool, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b, ok := s.buckets[key]
	if !ok || !now.Before(b.windowEnd) {
		s.buckets[key] = &bucket{count: 1, windowEnd: now.Add(config.WindowDuration)}
		return true, config.RequestsPerWindow - 1, 0
	}
	if b.count < config.RequestsPerWindow {
		b.count++
		return true, config.RequestsPerWindow - b.count, 0
	}
	return false, 0, retryAfterSeconds(b.windowEnd.Sub(now))
}

// Cleanup drops expired buckets. Run it every few windows.
func (s *InMemoryRateLimitStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key, b := range s.buckets {
		if !now.Before(b.windowEnd) {
			delete(s.buckets, key)
		}
	}
}

func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs <= 0 {
		return 1
	}
	return secs
}

// KeyFunc extracts a limiter key from a request.
type KeyFunc func(r *http.Request) string

// IPKeyFunc keys by client address: first X-Forwarded-For hop, then
// X-Real-IP, then RemoteAddr without the port.
func IPKeyFunc() KeyFunc {
	return func(r *http.Request) string {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if idx := strings.Index(xff, ","); idx != -1 {
				return strings.TrimSpace(xff[:idx])
			}
			return strings.TrimSpace(xff)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return host
	}
}

// OperatorKeyFunc keys by operator subject and falls back to the client IP.
// It must run after OperatorAuth to see the subject.
func OperatorKeyFunc() KeyFunc {
	ip := IPKeyFunc()
	return func(r *http.Request) string {
		if op := GetOperator(r.Context()); op != "" {
			return "operator:" + op
		}
		return "ip:" + ip(r)
	}
}

func keyType(key string) string {
	if strings.HasPrefix(key, "operator:") {
		return "operator"
	}
	return "ip"
}

// RateLimiter answers 429 with Retry-After once a key exceeds its window.
// metrics may be nil.
func RateLimiter(store RateLimitStore, config RateLimitConfig, keyFunc KeyFunc, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			route := normalizePath(r.URL.Path)
			kt := keyType(key)
			metrics.IncRateLimitRequests(route, kt)

			allowed, remaining, retryAfter := store.Allow(r.Context(), key, config)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.RequestsPerWindow))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !allowed {
				metrics.IncRateLimitBlocked(route, kt)
				SetErrorCode(r.Context(), "rate_limit_exceeded")
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				reset := time.Now().Add(time.Duration(retryAfter) * time.Second).Unix()
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
