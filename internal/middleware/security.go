package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/tributary-ai/agent-gateway/internal/metrics"
	"github.com/tributary-ai/agent-gateway/internal/security"
)

// SecurityMiddlewareConfig wires the auth, rate-limit, validation, and
// audit components into one composed chain.
type SecurityMiddlewareConfig struct {
	Auth       *security.Config
	RateLimit  *security.RateLimitConfig
	Validation *security.ValidationConfig
	Audit      *security.AuditConfig
	Metrics    *metrics.Registry
}

// SecurityMiddleware combines all Chat API security middleware components.
type SecurityMiddleware struct {
	authProvider *security.DefaultAuthProvider
	rateLimiter  *security.InMemoryRateLimiter
	validator    *security.RequestValidator
	auditor      *security.AuditLogger
	logger       *logrus.Logger
	metrics      *metrics.Registry
}

func NewSecurityMiddleware(config *SecurityMiddlewareConfig, logger *logrus.Logger) (*SecurityMiddleware, error) {
	var authProvider *security.DefaultAuthProvider
	if config.Auth != nil {
		authProvider = security.NewDefaultAuthProvider(config.Auth, logger)
	}

	var rateLimiter *security.InMemoryRateLimiter
	if config.RateLimit != nil && config.RateLimit.Enabled {
		rateLimiter = security.NewInMemoryRateLimiter(config.RateLimit, logger)
	}

	var validator *security.RequestValidator
	if config.Validation != nil {
		v, err := security.NewRequestValidator(config.Validation, logger)
		if err != nil {
			return nil, err
		}
		validator = v
	}

	var auditor *security.AuditLogger
	if config.Audit != nil {
		auditor = security.NewAuditLogger(config.Audit, logger)
	}

	return &SecurityMiddleware{
		authProvider: authProvider,
		rateLimiter:  rateLimiter,
		validator:    validator,
		auditor:      auditor,
		logger:       logger,
		metrics:      config.Metrics,
	}, nil
}

// recordRateLimitHit increments the rejection counter for reason, a no-op
// when no metrics registry was configured.
func (s *SecurityMiddleware) recordRateLimitHit(reason string) {
	if s.metrics != nil {
		s.metrics.RateLimitHits.WithLabelValues(reason).Inc()
	}
}

// Handler builds the full chain: audit (outermost) -> auth -> rate limit ->
// validation -> security headers (innermost), matching the teacher's
// ordering in internal/middleware/security.go.
func (s *SecurityMiddleware) Handler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := next

		handler = s.securityHeadersMiddleware()(handler)

		if s.validator != nil {
			handler = s.validator.ValidationMiddleware()(handler)
		}
		if s.rateLimiter != nil {
			handler = security.RateLimitMiddleware(s.rateLimiter, security.DefaultKeyExtractor, s.recordRateLimitHit)(handler)
		}
		if s.authProvider != nil {
			handler = s.authProvider.AuthMiddleware()(handler)
		}
		if s.auditor != nil {
			handler = s.auditor.AuditMiddleware()(handler)
		}

		return handler
	}
}

// AuthenticationOnly returns only the authentication middleware.
func (s *SecurityMiddleware) AuthenticationOnly() func(http.Handler) http.Handler {
	if s.authProvider != nil {
		return s.authProvider.AuthMiddleware()
	}
	return func(next http.Handler) http.Handler { return next }
}

// RateLimitingOnly returns only the rate limiting middleware.
func (s *SecurityMiddleware) RateLimitingOnly() func(http.Handler) http.Handler {
	if s.rateLimiter != nil {
		return security.RateLimitMiddleware(s.rateLimiter, security.DefaultKeyExtractor, s.recordRateLimitHit)
	}
	return func(next http.Handler) http.Handler { return next }
}

// ValidationOnly returns only the request validation middleware.
func (s *SecurityMiddleware) ValidationOnly() func(http.Handler) http.Handler {
	if s.validator != nil {
		return s.validator.ValidationMiddleware()
	}
	return func(next http.Handler) http.Handler { return next }
}

// AuditOnly returns only the audit logging middleware.
func (s *SecurityMiddleware) AuditOnly() func(http.Handler) http.Handler {
	if s.auditor != nil {
		return s.auditor.AuditMiddleware()
	}
	return func(next http.Handler) http.Handler { return next }
}

func (s *SecurityMiddleware) securityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Del("Server")
			w.Header().Set("Server", "agent-gateway")
			next.ServeHTTP(w, r)
		})
	}
}

// Stop gracefully stops all middleware components that own background
// goroutines.
func (s *SecurityMiddleware) Stop() {
	if s.auditor != nil {
		s.auditor.Stop()
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
}

// Stats reports lightweight component-enabled counters. The /status
// handler does not include them in its response.
func (s *SecurityMiddleware) Stats() map[string]interface{} {
	stats := make(map[string]interface{})
	if s.auditor != nil {
		stats["audit_events_logged"] = s.auditor.GetEventCount()
	}
	stats["rate_limiter_enabled"] = s.rateLimiter != nil
	stats["validation_enabled"] = s.validator != nil
	stats["authentication_enabled"] = s.authProvider != nil
	return stats
}

// HealthCheck verifies the required security components are initialized.
func (s *SecurityMiddleware) HealthCheck() error {
	if s.authProvider == nil {
		return fmt.Errorf("authentication provider not initialized")
	}
	return nil
}

// LogSecurityEvent is a convenience passthrough to the audit logger.
func (s *SecurityMiddleware) LogSecurityEvent(ctx context.Context, eventType security.AuditEventType, message string, details map[string]interface{}) {
	if s.auditor != nil {
		s.auditor.LogEvent(ctx, eventType, message, details)
	}
}
