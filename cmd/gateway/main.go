package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tributary-ai/agent-gateway/internal/bridge"
	"github.com/tributary-ai/agent-gateway/internal/channel"
	"github.com/tributary-ai/agent-gateway/internal/config"
	"github.com/tributary-ai/agent-gateway/internal/health"
	"github.com/tributary-ai/agent-gateway/internal/metrics"
	"github.com/tributary-ai/agent-gateway/internal/middleware"
	"github.com/tributary-ai/agent-gateway/internal/orchestrator"
	"github.com/tributary-ai/agent-gateway/internal/pool"
	"github.com/tributary-ai/agent-gateway/internal/routing"
	"github.com/tributary-ai/agent-gateway/internal/security"
	"github.com/tributary-ai/agent-gateway/internal/server"
	"github.com/tributary-ai/agent-gateway/internal/session"
	"github.com/tributary-ai/agent-gateway/internal/types"
	"github.com/tributary-ai/agent-gateway/internal/upstream"
)

// Application wires the gateway's components together, following the
// teacher's Application/Run shape in cmd/llm-router/main.go.
type Application struct {
	cfg        *config.Config
	server     *server.Server
	dispatcher *channel.Dispatcher
	bridge     *bridge.Bridge
	logger     *logrus.Logger
}

// NewApplication loads configuration and constructs every component.
// Returns an error on any startup/configuration failure (caller maps
// this to exit code 1).
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})

	endpoints := make([]pool.Endpoint, 0, len(cfg.Endpoints))
	for _, e := range cfg.Endpoints {
		endpoints = append(endpoints, pool.Endpoint{
			ID:              e.ID,
			DisplayName:     e.DisplayName,
			Provider:        e.Provider,
			BaseURL:         e.BaseURL,
			Dialect:         pool.Dialect(e.Dialect),
			Tier:            e.Tier,
			ContextWindow:   e.ContextWindow,
			MaxOutputTokens: e.MaxOutputTokens,
			RateLimits: pool.RateLimitHints{
				RequestsPerMinute: e.RequestsPerMin,
				TokensPerMinute:   e.TokensPerMin,
			},
			Capabilities: pool.Capabilities{
				Streaming:       e.Streaming,
				FunctionCalling: e.FunctionCalling,
				Vision:          e.Vision,
			},
		})
	}

	p, err := pool.New(endpoints)
	if err != nil {
		return nil, fmt.Errorf("building model pool: %w", err)
	}

	reg := metrics.New()

	tracker := health.New()
	router := routing.New(p, tracker, routing.Strategy(cfg.Gateway.Strategy))
	client := upstream.New(cfg.Env.NvidiaAPIKey)
	orch := orchestrator.New(router, tracker, p, client, logger, reg)

	stateDir := os.Getenv("AGENT_GATEWAY_STATE_DIR")
	if stateDir == "" {
		stateDir = "."
	}
	sessions := session.New(stateDir + "/sessions.json")
	if err := sessions.Load(); err != nil {
		return nil, fmt.Errorf("loading sessions store: %w", err)
	}

	authToken := cfg.Gateway.AuthToken
	if authToken == "" {
		generated, err := generateAuthToken()
		if err != nil {
			return nil, fmt.Errorf("generating main auth token: %w", err)
		}
		authToken = generated
		logger.WithField("auth_token", authToken).Warn("gateway.authToken not set, generated a random token for this run")
	}

	secConfig := &middleware.SecurityMiddlewareConfig{
		Auth:       &security.Config{MainToken: authToken},
		RateLimit:  &security.RateLimitConfig{Enabled: true},
		Validation: &security.ValidationConfig{},
		Audit:      &security.AuditConfig{Enabled: true},
		Metrics:    reg,
	}

	srv, err := server.New(&server.Config{
		Port:         cfg.EffectivePort(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		Security:     secConfig,
		DefaultModel: server.DefaultModel{
			Primary:   cfg.Agents.Defaults.Model.Primary,
			Fallbacks: cfg.Agents.Defaults.Model.Fallbacks,
		},
		StartedAt: time.Now(),
	}, p, tracker, orch, sessions, reg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing server: %w", err)
	}

	access := channel.New(cfg.WhatsApp, "")

	app := &Application{cfg: cfg, server: srv, logger: logger}

	var transport channel.Transport = noopTransport{}
	if cfg.Gateway.BridgeBinary != "" {
		transport = &deferredBridgeTransport{app: app}
	}
	outbound := channel.NewOutbound(transport, cfg.WhatsApp.MediaMaxMB)
	app.dispatcher = channel.NewDispatcher(access, cfg.WhatsApp.DebounceMS, orch, outbound,
		routing.Request{Primary: cfg.Agents.Defaults.Model.Primary, Fallbacks: cfg.Agents.Defaults.Model.Fallbacks},
		logger, reg)

	return app, nil
}

// generateAuthToken returns a random 40-hex-character token matching the
// format spec §6 documents for gateway.authToken.
func generateAuthToken() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// noopTransport discards sends; used when no messaging bridge is
// configured (Chat API only deployment).
type noopTransport struct{}

func (noopTransport) SendMessage(ctx context.Context, to, text string) (string, error) {
	return "", nil
}
func (noopTransport) SendMedia(ctx context.Context, to, mediaPath, caption string) (string, error) {
	return "", nil
}

// deferredBridgeTransport forwards to app.bridge, which is nil until
// Run spawns the helper process; spawning happens after construction
// because it requires a live context to bind the process lifetime to.
type deferredBridgeTransport struct{ app *Application }

func (t *deferredBridgeTransport) SendMessage(ctx context.Context, to, text string) (string, error) {
	if t.app.bridge == nil {
		return "", fmt.Errorf("messaging bridge not connected")
	}
	return t.app.bridge.SendMessage(ctx, to, text)
}

func (t *deferredBridgeTransport) SendMedia(ctx context.Context, to, mediaPath, caption string) (string, error) {
	if t.app.bridge == nil {
		return "", fmt.Errorf("messaging bridge not connected")
	}
	return t.app.bridge.SendMedia(ctx, to, mediaPath, caption)
}

// Run starts the HTTP server and the channel dispatcher sweep loop,
// blocking until a shutdown signal is received or the server errors.
// Returns an error on unrecoverable runtime failure (exit code 2).
func (app *Application) Run() error {
	app.logger.Info("starting agent gateway")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if app.cfg.Gateway.BridgeBinary != "" {
		b, err := bridge.Start(ctx, app.cfg.Gateway.BridgeBinary, app.cfg.Gateway.BridgeArgs, func(method string, params json.RawMessage) {
			if method != "message" {
				return
			}
			var msg types.InboundMessage
			if err := json.Unmarshal(params, &msg); err != nil {
				app.logger.WithError(err).Warn("bridge: malformed message notification")
				return
			}
			app.dispatcher.HandleInbound(ctx, msg)
		})
		if err != nil {
			return fmt.Errorf("starting messaging bridge: %w", err)
		}
		app.bridge = b
		if err := b.Init(ctx, app.cfg.AuthDir, app.cfg.Gateway.PrintQR); err != nil {
			return fmt.Errorf("initializing messaging bridge: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		app.dispatcher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := app.server.Start(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- g.Wait()
	}()

	select {
	case err := <-serverErrors:
		if err != nil {
			return err
		}
	case sig := <-sigChan:
		app.logger.WithField("signal", sig.String()).Info("shutdown signal received")
	}

	app.dispatcher.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if app.bridge != nil {
		if err := app.bridge.Disconnect(shutdownCtx); err != nil {
			app.logger.WithError(err).Warn("messaging bridge disconnect error")
		}
	}

	if err := app.server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	app.logger.Info("graceful shutdown complete")
	return nil
}

func main() {
	configPath := flag.String("config", "config.json", "path to the gateway JSON config file")
	flag.Parse()

	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agent-gateway: configuration error: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "agent-gateway: runtime error: %v\n", err)
		os.Exit(2)
	}
	os.Exit(0)
}
