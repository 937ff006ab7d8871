package security

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tributary-ai/agent-gateway/internal/types"
)

const (
	// SlidingWindow and RequestLimit implement spec §6: "a per-token
	// sliding-window rate limit of 100 requests/60 s applies."
	SlidingWindow = 60 * time.Second
	RequestLimit  = 100
)

// RateLimitConfig holds Chat API rate-limit configuration.
type RateLimitConfig struct {
	Enabled         bool
	CleanupInterval time.Duration
}

type window struct {
	mu    sync.Mutex
	times []time.Time
}

// InMemoryRateLimiter is a per-token sliding-window limiter, reworked
// from the teacher's token-bucket InMemoryRateLimiter
// (internal/security/ratelimit.go) to the exact sliding-window semantics
// spec §6 specifies: each key tracks its own request timestamps and a
// request is allowed iff fewer than RequestLimit timestamps fall within
// the trailing SlidingWindow.
type InMemoryRateLimiter struct {
	config *RateLimitConfig
	logger *logrus.Logger

	mu      sync.Mutex
	windows map[string]*window

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopped       bool
}

func NewInMemoryRateLimiter(config *RateLimitConfig, logger *logrus.Logger) *InMemoryRateLimiter {
	if config.CleanupInterval == 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	rl := &InMemoryRateLimiter{
		config:      config,
		logger:      logger,
		windows:     make(map[string]*window),
		stopCleanup: make(chan struct{}),
	}
	rl.startCleanup()
	return rl
}

// Result is the outcome of an Allow check.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Allow admits or rejects a request for key under the sliding window.
func (rl *InMemoryRateLimiter) Allow(key string) Result {
	if !rl.config.Enabled {
		return Result{Allowed: true, Remaining: RequestLimit}
	}

	w := rl.getOrCreateWindow(key)
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-SlidingWindow)

	kept := w.times[:0]
	for _, t := range w.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.times = kept

	if len(w.times) >= RequestLimit {
		oldest := w.times[0]
		retryAfter := SlidingWindow - now.Sub(oldest)
		rl.logger.WithFields(logrus.Fields{
			"key":         maskKey(key),
			"retry_after": retryAfter,
		}).Warn("rate limit exceeded")
		return Result{Allowed: false, Remaining: 0, RetryAfter: retryAfter}
	}

	w.times = append(w.times, now)
	return Result{Allowed: true, Remaining: RequestLimit - len(w.times)}
}

// Reset clears the window for key.
func (rl *InMemoryRateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.windows, key)
}

func (rl *InMemoryRateLimiter) getOrCreateWindow(key string) *window {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	w, ok := rl.windows[key]
	if !ok {
		w = &window{}
		rl.windows[key] = w
	}
	return w
}

func (rl *InMemoryRateLimiter) startCleanup() {
	rl.cleanupTicker = time.NewTicker(rl.config.CleanupInterval)
	go func() {
		for {
			select {
			case <-rl.cleanupTicker.C:
				rl.cleanup()
			case <-rl.stopCleanup:
				return
			}
		}
	}()
}

func (rl *InMemoryRateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-2 * SlidingWindow)
	for key, w := range rl.windows {
		w.mu.Lock()
		empty := len(w.times) == 0 || w.times[len(w.times)-1].Before(cutoff)
		w.mu.Unlock()
		if empty {
			delete(rl.windows, key)
		}
	}
}

func (rl *InMemoryRateLimiter) Stop() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.stopped {
		return
	}
	rl.stopped = true
	if rl.cleanupTicker != nil {
		rl.cleanupTicker.Stop()
	}
	close(rl.stopCleanup)
}

// RateLimitMiddleware enforces the limiter, attaching standard rate-limit
// headers and a 429 + rate_limit error body on rejection (spec §7).
// onReject, if non-nil, is called with a short reason label on every
// rejection so callers can track rejection counts.
func RateLimitMiddleware(rl *InMemoryRateLimiter, keyExtractor func(*http.Request) string, onReject func(reason string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyExtractor(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			result := rl.Allow(key)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(RequestLimit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

			if !result.Allowed {
				if onReject != nil {
					onReject("chat_api_sliding_window")
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(types.ErrorResponse{
					Error: types.ErrorBody{Message: "rate limit exceeded", Type: "rate_limit_error"},
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// DefaultKeyExtractor keys the limiter by the caller's auth token, since
// spec §6 specifies the window as per-token.
func DefaultKeyExtractor(r *http.Request) string {
	if token := r.Header.Get("X-Auth-Token"); token != "" {
		return "token:" + maskKey(token)
	}
	return "ip:" + getClientIPFromRequest(r)
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****"
}
