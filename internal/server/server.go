// Package server implements the external HTTP interface of spec §6: the
// exact route table (/health, /status, /v1/chat/completions, /sessions,
// /sessions/{id}/terminate, /metrics) fronted by the security middleware
// chain, wired to the routing/orchestrator/session/metrics packages.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/agent-gateway/internal/gwerrors"
	"github.com/tributary-ai/agent-gateway/internal/health"
	"github.com/tributary-ai/agent-gateway/internal/metrics"
	"github.com/tributary-ai/agent-gateway/internal/middleware"
	"github.com/tributary-ai/agent-gateway/internal/orchestrator"
	"github.com/tributary-ai/agent-gateway/internal/pool"
	"github.com/tributary-ai/agent-gateway/internal/routing"
	"github.com/tributary-ai/agent-gateway/internal/session"
	"github.com/tributary-ai/agent-gateway/internal/types"
)

// DefaultModel carries the configured primary/fallback model ids a chat
// request falls back to when it does not pin a model explicitly, or pins
// exactly the configured primary (spec §4.5/§6: agents.defaults.model).
type DefaultModel struct {
	Primary   string
	Fallbacks []string
}

// Config holds the values New needs beyond its component dependencies.
type Config struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxHeaderBytes int
	Security       *middleware.SecurityMiddlewareConfig
	DefaultModel   DefaultModel
	StartedAt      time.Time
}

// Server is the gateway's HTTP surface.
type Server struct {
	cfg          *Config
	pool         *pool.Pool
	tracker      *health.Tracker
	orchestrator *orchestrator.Orchestrator
	sessions     *session.Store
	metrics      *metrics.Registry
	security     *middleware.SecurityMiddleware
	logger       *logrus.Logger
	httpServer   *http.Server
}

func New(
	cfg *Config,
	p *pool.Pool,
	tracker *health.Tracker,
	orch *orchestrator.Orchestrator,
	sessions *session.Store,
	reg *metrics.Registry,
	logger *logrus.Logger,
) (*Server, error) {
	var sec *middleware.SecurityMiddleware
	if cfg.Security != nil {
		s, err := middleware.NewSecurityMiddleware(cfg.Security, logger)
		if err != nil {
			return nil, fmt.Errorf("server: initializing security middleware: %w", err)
		}
		sec = s
	}

	return &Server{
		cfg:          cfg,
		pool:         p,
		tracker:      tracker,
		orchestrator: orch,
		sessions:     sessions,
		metrics:      reg,
		security:     sec,
		logger:       logger,
	}, nil
}

// Start begins serving and blocks until the listener stops.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:           ":" + s.cfg.Port,
		Handler:        s.routes(),
		ReadTimeout:    s.cfg.ReadTimeout,
		WriteTimeout:   s.cfg.WriteTimeout,
		MaxHeaderBytes: s.cfg.MaxHeaderBytes,
	}
	s.logger.WithField("port", s.cfg.Port).Info("starting agent gateway")
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts the server down, stopping owned middleware
// components afterward.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping agent gateway")
	err := s.httpServer.Shutdown(ctx)
	if s.security != nil {
		s.security.Stop()
	}
	return err
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	if s.security != nil {
		r.Use(s.security.Handler())
	}

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/chat/completions", s.handleChatCompletions).Methods(http.MethodPost)
	r.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/terminate", s.handleTerminateSession).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return r
}

// handleHealth reports process liveness only, no auth (spec §6 path table).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(s.cfg.StartedAt).Seconds(),
	})
}

// handleStatus reports session and message counts (spec §6's documented
// /status contract).
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	for _, ep := range s.pool.All() {
		score := 1.0
		if entry, ok := s.tracker.Get(ep.ID); ok {
			score = entry.Score
		}
		s.metrics.SetEndpointHealth(ep.ID, score)
	}

	sessions := s.sessions.List()
	active := 0
	totalMessages := 0
	for _, sess := range sessions {
		if sess.Status == "active" {
			active++
		}
		totalMessages += sess.MessageCount
	}
	s.metrics.SessionsActive.Set(float64(active))

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": map[string]interface{}{
			"total":  len(sessions),
			"active": active,
		},
		"total_messages":    totalMessages,
		"websocket_clients": 0,
	})
}

// handleChatCompletions runs the inbound request through the Request
// Orchestrator and returns an OpenAI-compatible response (spec §4.5/§6).
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), "invalid_request_error")
		return
	}

	routeReq := s.routingRequestFor(req.Model)

	start := time.Now()
	resp, err := s.orchestrator.Handle(r.Context(), routeReq, req.Messages, req.Temperature, req.MaxTokens)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		kind := gwerrors.KindOf(err)
		s.metrics.ObserveRequest("", string(kind), elapsed)

		status := httpStatusFor(kind)
		if orchestrator.IsNoAvailableModels(err) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error(), string(kind))
		return
	}

	resp.ID = "chatcmpl-" + uuid.NewString()
	resp.Object = "chat.completion"
	resp.Created = time.Now().Unix()
	s.metrics.ObserveRequest(resp.Model, "", elapsed)

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) routingRequestFor(requestedModel string) routing.Request {
	if requestedModel == "" || requestedModel == s.cfg.DefaultModel.Primary {
		return routing.Request{Primary: s.cfg.DefaultModel.Primary, Fallbacks: s.cfg.DefaultModel.Fallbacks}
	}
	return routing.Request{Primary: requestedModel}
}

func httpStatusFor(kind gwerrors.Kind) int {
	switch kind {
	case gwerrors.Auth:
		return http.StatusUnauthorized
	case gwerrors.RateLimit:
		return http.StatusTooManyRequests
	case gwerrors.InvalidResponse:
		return http.StatusBadGateway
	case gwerrors.NoAvailableModels:
		return http.StatusServiceUnavailable
	case gwerrors.Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// handleListSessions returns all sessions with derived idle status.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": s.sessions.List()})
}

// handleTerminateSession marks a session terminated.
func (s *Server) handleTerminateSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	found, err := s.sessions.Terminate(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "internal_error")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %q not found", id), "not_found_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message, errType string) {
	writeJSON(w, status, types.ErrorResponse{Error: types.ErrorBody{Message: message, Type: errType}})
}
