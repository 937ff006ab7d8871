// Package orchestrator implements the Request Orchestrator (spec §4.5):
// the router->client->record->reselect loop that produces a final
// ChatResponse or a terminal error.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tributary-ai/agent-gateway/internal/gwerrors"
	"github.com/tributary-ai/agent-gateway/internal/health"
	"github.com/tributary-ai/agent-gateway/internal/metrics"
	"github.com/tributary-ai/agent-gateway/internal/pool"
	"github.com/tributary-ai/agent-gateway/internal/routing"
	"github.com/tributary-ai/agent-gateway/internal/types"
)

// Client is the subset of upstream.Client the orchestrator depends on.
type Client interface {
	Call(ctx context.Context, endpoint pool.Endpoint, messages []types.Message, temperature *float64, maxTokens *int) (*types.ChatResponse, error)
}

type Orchestrator struct {
	router  *routing.Router
	tracker *health.Tracker
	pool    *pool.Pool
	client  Client
	logger  *logrus.Logger
	metrics *metrics.Registry
}

func New(router *routing.Router, tracker *health.Tracker, p *pool.Pool, client Client, logger *logrus.Logger, reg *metrics.Registry) *Orchestrator {
	return &Orchestrator{router: router, tracker: tracker, pool: p, client: client, logger: logger, metrics: reg}
}

// Handle runs the router->client->record->reselect loop (spec §4.5).
// A request whose primary is pinned with no fallbacks declared suppresses
// retry on Auth/InvalidResponse failures, propagating them immediately.
func (o *Orchestrator) Handle(ctx context.Context, req routing.Request, messages []types.Message, temperature *float64, maxTokens *int) (*types.ChatResponse, error) {
	userPinned := req.Primary != "" && len(req.Fallbacks) == 0
	maxAttempts := 1 + len(req.Fallbacks)
	excluded := make(map[string]bool)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		id, err := o.router.Select(req, excluded)
		if err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}
		excluded[id] = true

		ep, ok := o.pool.Lookup(id)
		if !ok {
			lastErr = gwerrors.New(gwerrors.NoAvailableModels, "selected endpoint missing from pool")
			continue
		}

		start := time.Now()
		resp, callErr := o.client.Call(ctx, ep, messages, temperature, maxTokens)
		latency := time.Since(start)

		if callErr == nil {
			o.tracker.RecordSuccess(id, latency)
			resp.Model = id
			return resp, nil
		}

		kind := gwerrors.KindOf(callErr)
		o.tracker.RecordFailure(id, kind)
		if o.metrics != nil {
			o.metrics.ObserveCooldown(id, string(kind))
		}
		if o.logger != nil {
			o.logger.WithFields(logrus.Fields{
				"endpoint_id": id,
				"attempt":     attempt + 1,
				"error_kind":  kind,
			}).Warn("upstream call failed")
		}
		lastErr = callErr

		if userPinned && (kind == gwerrors.Auth || kind == gwerrors.InvalidResponse) {
			return nil, callErr
		}
	}

	if lastErr == nil {
		lastErr = gwerrors.New(gwerrors.NoAvailableModels, "no attempts were made")
	}
	return nil, lastErr
}

// IsNoAvailableModels is a convenience check used by the Chat API handler
// to decide between a 503 and a generic 500.
func IsNoAvailableModels(err error) bool {
	var ge *gwerrors.Error
	return errors.As(err, &ge) && ge.Kind == gwerrors.NoAvailableModels
}
