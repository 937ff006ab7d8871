package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInMemoryRateLimiter(t *testing.T) {
	config := &RateLimitConfig{Enabled: true, CleanupInterval: 5 * time.Minute}
	limiter := NewInMemoryRateLimiter(config, testLogger())

	assert.NotNil(t, limiter)
	assert.NotNil(t, limiter.windows)
	assert.NotNil(t, limiter.cleanupTicker)
	limiter.Stop()
}

func TestAllowDisabledAlwaysPermits(t *testing.T) {
	limiter := NewInMemoryRateLimiter(&RateLimitConfig{Enabled: false}, testLogger())
	defer limiter.Stop()

	result := limiter.Allow("test-key")
	assert.True(t, result.Allowed)
	assert.Equal(t, RequestLimit, result.Remaining)
}

func TestAllowWithinLimit(t *testing.T) {
	limiter := NewInMemoryRateLimiter(&RateLimitConfig{Enabled: true}, testLogger())
	defer limiter.Stop()

	for i := 0; i < RequestLimit; i++ {
		result := limiter.Allow("test-key")
		require.True(t, result.Allowed, "request %d should be allowed", i)
	}

	last := limiter.Allow("test-key")
	assert.False(t, last.Allowed, "the 101st request in the window must be rejected")
	assert.Greater(t, last.RetryAfter, time.Duration(0))
}

func TestAllowDifferentKeysAreIndependent(t *testing.T) {
	limiter := NewInMemoryRateLimiter(&RateLimitConfig{Enabled: true}, testLogger())
	defer limiter.Stop()

	for i := 0; i < RequestLimit; i++ {
		require.True(t, limiter.Allow("key1").Allowed)
	}
	assert.False(t, limiter.Allow("key1").Allowed)
	assert.True(t, limiter.Allow("key2").Allowed, "key2 has its own window")
}

func TestAllowSlidesOutExpiredEntries(t *testing.T) {
	limiter := NewInMemoryRateLimiter(&RateLimitConfig{Enabled: true}, testLogger())
	defer limiter.Stop()

	w := limiter.getOrCreateWindow("test-key")
	old := time.Now().Add(-SlidingWindow - time.Second)
	w.mu.Lock()
	for i := 0; i < RequestLimit; i++ {
		w.times = append(w.times, old)
	}
	w.mu.Unlock()

	result := limiter.Allow("test-key")
	assert.True(t, result.Allowed, "entries older than the window must not count")
}

func TestReset(t *testing.T) {
	limiter := NewInMemoryRateLimiter(&RateLimitConfig{Enabled: true}, testLogger())
	defer limiter.Stop()

	for i := 0; i < RequestLimit; i++ {
		require.True(t, limiter.Allow("test-key").Allowed)
	}
	assert.False(t, limiter.Allow("test-key").Allowed)

	limiter.Reset("test-key")
	assert.True(t, limiter.Allow("test-key").Allowed)
}

func TestRateLimitMiddlewareRejectsOverLimit(t *testing.T) {
	limiter := NewInMemoryRateLimiter(&RateLimitConfig{Enabled: true}, testLogger())
	defer limiter.Stop()

	var rejections int
	h := RateLimitMiddleware(limiter, DefaultKeyExtractor, func(reason string) { rejections++ })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < RequestLimit; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
		req.Header.Set("X-Auth-Token", "sometoken1234567890")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	req.Header.Set("X-Auth-Token", "sometoken1234567890")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, 1, rejections)
}

func TestDefaultKeyExtractorUsesToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	req.Header.Set("X-Auth-Token", "sometoken1234567890")
	key := DefaultKeyExtractor(req)
	assert.Contains(t, key, "token:")
}

func TestDefaultKeyExtractorFallsBackToIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	key := DefaultKeyExtractor(req)
	assert.Contains(t, key, "ip:")
}

func TestMaskKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want string
	}{
		{"normal key", "sk-1234567890abcdef", "sk-1****"},
		{"short key", "short", "****"},
		{"exactly 8 chars", "12345678", "****"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, maskKey(tt.key))
		})
	}
}

func TestStop(t *testing.T) {
	limiter := NewInMemoryRateLimiter(&RateLimitConfig{Enabled: true, CleanupInterval: 50 * time.Millisecond}, logrus.New())
	require.NotNil(t, limiter.cleanupTicker)
	limiter.Stop()
	limiter.Stop() // idempotent
}
