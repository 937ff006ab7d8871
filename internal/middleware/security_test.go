package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tributary-ai/agent-gateway/internal/security"
)

func newTestSecurityMiddleware(t *testing.T) *SecurityMiddleware {
	t.Helper()
	sm, err := NewSecurityMiddleware(&SecurityMiddlewareConfig{
		Auth:       &security.Config{MainToken: "secret"},
		RateLimit:  &security.RateLimitConfig{Enabled: true},
		Validation: &security.ValidationConfig{},
		Audit:      &security.AuditConfig{Enabled: true, BufferSize: 10},
	}, logrus.New())
	require.NoError(t, err)
	return sm
}

func TestHandlerRejectsMissingAuth(t *testing.T) {
	sm := newTestSecurityMiddleware(t)
	defer sm.Stop()

	h := sm.Handler()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run without auth")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandlerAllowsHealthUnauthenticated(t *testing.T) {
	sm := newTestSecurityMiddleware(t)
	defer sm.Stop()

	called := false
	h := sm.Handler()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.True(t, called)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandlerSetsSecurityHeaders(t *testing.T) {
	sm := newTestSecurityMiddleware(t)
	defer sm.Stop()

	h := sm.Handler()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "agent-gateway", w.Header().Get("Server"))
}

func TestHealthCheckRequiresAuthProvider(t *testing.T) {
	sm, err := NewSecurityMiddleware(&SecurityMiddlewareConfig{}, logrus.New())
	require.NoError(t, err)
	defer sm.Stop()

	assert.Error(t, sm.HealthCheck())
}

func TestStatsReportsEnabledComponents(t *testing.T) {
	sm := newTestSecurityMiddleware(t)
	defer sm.Stop()

	stats := sm.Stats()
	assert.Equal(t, true, stats["authentication_enabled"])
	assert.Equal(t, true, stats["rate_limiter_enabled"])
	assert.Equal(t, true, stats["validation_enabled"])
}
