package security

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AuditEventType enumerates the gateway-specific security events worth a
// durable audit trail, rescoped from the teacher's generic auth/API-key
// event set to the operations this gateway actually performs.
type AuditEventType string

const (
	AuthenticationSuccess AuditEventType = "authentication_success"
	AuthenticationFailure AuditEventType = "authentication_failure"
	RateLimited           AuditEventType = "rate_limited"
	ValidationFailure     AuditEventType = "validation_failure"
	PairingIssued         AuditEventType = "pairing_issued"
	PairingVerified       AuditEventType = "pairing_verified"
	AccessDenied          AuditEventType = "access_denied"
	EndpointCooldown      AuditEventType = "endpoint_cooldown"
)

// AuditEvent is a single recorded security-relevant event.
type AuditEvent struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	EventType   AuditEventType         `json:"event_type"`
	TokenPrefix string                 `json:"token_prefix,omitempty"`
	IPAddress   string                 `json:"ip_address,omitempty"`
	Resource    string                 `json:"resource,omitempty"`
	StatusCode  int                    `json:"status_code,omitempty"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Severity    string                 `json:"severity"`
	RequestID   string                 `json:"request_id,omitempty"`
}

// AuditConfig holds audit logging configuration.
type AuditConfig struct {
	Enabled         bool
	BufferSize      int
	FlushInterval   time.Duration
	SensitiveFields []string
}

type auditContextKey struct{ name string }

var (
	requestIDKey = auditContextKey{"request_id"}
	clientIPKey  = auditContextKey{"client_ip"}
)

// AuditLogger buffers audit events and flushes them to structured logs on a
// ticker, mirroring the teacher's buffered-channel pattern
// (internal/security/audit.go's eventProcessor).
type AuditLogger struct {
	config     *AuditConfig
	logger     *logrus.Logger
	buffer     chan *AuditEvent
	stopChan   chan struct{}
	wg         sync.WaitGroup
	mu         sync.RWMutex
	eventCount int64
	stopped    bool
}

func NewAuditLogger(config *AuditConfig, logger *logrus.Logger) *AuditLogger {
	if config.BufferSize == 0 {
		config.BufferSize = 1000
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = 10 * time.Second
	}

	a := &AuditLogger{
		config:   config,
		logger:   logger,
		buffer:   make(chan *AuditEvent, config.BufferSize),
		stopChan: make(chan struct{}),
	}
	if config.Enabled {
		a.start()
	}
	return a
}

// LogEvent records a security event, dropping it if the buffer is full
// rather than blocking the request path.
func (a *AuditLogger) LogEvent(ctx context.Context, eventType AuditEventType, message string, details map[string]interface{}) {
	a.mu.RLock()
	enabled := a.config.Enabled
	stopped := a.stopped
	a.mu.RUnlock()
	if !enabled || stopped {
		return
	}

	event := &AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Message:   message,
		Details:   a.sanitizeDetails(details),
		Severity:  severityOf(eventType),
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		event.RequestID = requestID
	}
	if authInfo, ok := AuthInfoFromContext(ctx); ok {
		event.TokenPrefix = authInfo.TokenPrefix
	}
	if clientIP, ok := ctx.Value(clientIPKey).(string); ok {
		event.IPAddress = clientIP
	}

	select {
	case a.buffer <- event:
		a.mu.Lock()
		a.eventCount++
		a.mu.Unlock()
	default:
		a.logger.Warn("audit buffer full, dropping event")
	}
}

// LogPairingIssued records a new DM pairing code being issued (spec §4.6).
func (a *AuditLogger) LogPairingIssued(ctx context.Context, chatID string) {
	a.LogEvent(ctx, PairingIssued, "pairing code issued", map[string]interface{}{"chat_id": chatID})
}

// LogPairingVerified records a pairing code being successfully redeemed.
func (a *AuditLogger) LogPairingVerified(ctx context.Context, chatID string) {
	a.LogEvent(ctx, PairingVerified, "pairing code verified", map[string]interface{}{"chat_id": chatID})
}

// LogAccessDenied records a channel message rejected by access control.
func (a *AuditLogger) LogAccessDenied(ctx context.Context, chatID, reason string) {
	a.LogEvent(ctx, AccessDenied, "channel access denied", map[string]interface{}{
		"chat_id": chatID,
		"reason":  reason,
	})
}

// LogEndpointCooldown records an upstream endpoint entering cooldown
// (spec §4.2).
func (a *AuditLogger) LogEndpointCooldown(ctx context.Context, endpointID string, cooldownSeconds int) {
	a.LogEvent(ctx, EndpointCooldown, "endpoint entered cooldown", map[string]interface{}{
		"endpoint_id":      endpointID,
		"cooldown_seconds": cooldownSeconds,
	})
}

// AuditMiddleware wraps every HTTP request with request-ID assignment and
// a post-request audit event keyed by response status.
func (a *AuditLogger) AuditMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

			requestID := uuid.NewString()
			ctx := context.WithValue(r.Context(), requestIDKey, requestID)
			ctx = context.WithValue(ctx, clientIPKey, getClientIPFromRequest(r))

			next.ServeHTTP(wrapper, r.WithContext(ctx))

			details := map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status_code": wrapper.statusCode,
				"duration_ms": time.Since(start).Milliseconds(),
			}

			eventType := AuthenticationSuccess
			message := fmt.Sprintf("%s %s - %d", r.Method, r.URL.Path, wrapper.statusCode)
			switch {
			case wrapper.statusCode == http.StatusUnauthorized:
				eventType = AuthenticationFailure
			case wrapper.statusCode == http.StatusTooManyRequests:
				eventType = RateLimited
			case wrapper.statusCode >= 400 && wrapper.statusCode < 500:
				eventType = ValidationFailure
			}

			a.LogEvent(ctx, eventType, message, details)
		})
	}
}

// GetEventCount returns the number of events accepted into the buffer.
func (a *AuditLogger) GetEventCount() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.eventCount
}

// Stop drains and flushes any buffered events, then halts the processor.
func (a *AuditLogger) Stop() {
	a.mu.Lock()
	if !a.config.Enabled || a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	a.mu.Unlock()

	close(a.stopChan)
	a.wg.Wait()
	close(a.buffer)
	for event := range a.buffer {
		a.writeEvent(event)
	}
}

func (a *AuditLogger) start() {
	a.wg.Add(1)
	go a.eventProcessor()
}

func (a *AuditLogger) eventProcessor() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.config.FlushInterval)
	defer ticker.Stop()

	events := make([]*AuditEvent, 0, 100)
	for {
		select {
		case event := <-a.buffer:
			events = append(events, event)
			if len(events) >= 100 {
				a.flushEvents(events)
				events = events[:0]
			}
		case <-ticker.C:
			if len(events) > 0 {
				a.flushEvents(events)
				events = events[:0]
			}
		case <-a.stopChan:
			if len(events) > 0 {
				a.flushEvents(events)
			}
			return
		}
	}
}

func (a *AuditLogger) flushEvents(events []*AuditEvent) {
	for _, event := range events {
		a.writeEvent(event)
	}
}

func (a *AuditLogger) writeEvent(event *AuditEvent) {
	fields := logrus.Fields{
		"audit_event":  true,
		"event_type":   event.EventType,
		"event_id":     event.ID,
		"token_prefix": event.TokenPrefix,
		"ip_address":   event.IPAddress,
		"status_code":  event.StatusCode,
		"severity":     event.Severity,
		"request_id":   event.RequestID,
	}
	for key, value := range event.Details {
		fields["detail_"+key] = value
	}

	entry := a.logger.WithFields(fields)
	switch event.Severity {
	case "critical":
		entry.Error(event.Message)
	case "high":
		entry.Warn(event.Message)
	case "medium":
		entry.Info(event.Message)
	default:
		entry.Debug(event.Message)
	}
}

func (a *AuditLogger) sanitizeDetails(details map[string]interface{}) map[string]interface{} {
	if details == nil {
		return nil
	}
	sanitized := make(map[string]interface{}, len(details))
	for key, value := range details {
		if a.isSensitiveField(key) {
			sanitized[key] = "***REDACTED***"
		} else {
			sanitized[key] = value
		}
	}
	return sanitized
}

func (a *AuditLogger) isSensitiveField(field string) bool {
	fieldLower := strings.ToLower(field)
	defaultSensitive := []string{
		"password", "token", "secret", "key", "auth", "credential",
		"authorization", "x-api-key", "api-key", "bearer",
	}
	for _, sensitive := range defaultSensitive {
		if strings.Contains(fieldLower, sensitive) {
			return true
		}
	}
	for _, sensitive := range a.config.SensitiveFields {
		if strings.EqualFold(field, sensitive) {
			return true
		}
	}
	return false
}

func severityOf(eventType AuditEventType) string {
	switch eventType {
	case AccessDenied:
		return "high"
	case AuthenticationFailure, RateLimited, ValidationFailure, EndpointCooldown:
		return "medium"
	default:
		return "low"
	}
}

type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
