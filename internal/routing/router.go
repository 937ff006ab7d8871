// Package routing implements the Fallback Router (spec §4.3): given the
// Model Pool and Health Tracker, selects one endpoint per request under a
// configured strategy.
package routing

import (
	"math/rand"
	"sync/atomic"

	"github.com/tributary-ai/agent-gateway/internal/gwerrors"
	"github.com/tributary-ai/agent-gateway/internal/health"
	"github.com/tributary-ai/agent-gateway/internal/pool"
)

// Strategy selects the selection policy, mirroring the teacher's
// strategy-enum-plus-dispatch shape in the old routing package.
type Strategy string

const (
	StrategyPriorityOnly Strategy = "priority_only"
	StrategyHealthAware  Strategy = "health_aware" // default
	StrategyHealthFirst  Strategy = "health_first"
	StrategyRoundRobin   Strategy = "round_robin"
	StrategyRandom       Strategy = "random"
)

// Request carries the per-call routing inputs: the declared primary and
// ordered fallback ids, plus whether vision capability is required.
type Request struct {
	Primary   string
	Fallbacks []string
	Vision    bool
}

// Router is a pure function of (pool, tracker, round-robin cursor). The
// cursor is the only router-owned mutable state (spec §4.3/§5).
type Router struct {
	pool     *pool.Pool
	tracker  *health.Tracker
	strategy Strategy
	rrCursor uint64
}

func New(p *pool.Pool, tr *health.Tracker, strategy Strategy) *Router {
	if strategy == "" {
		strategy = StrategyHealthAware
	}
	return &Router{pool: p, tracker: tr, strategy: strategy}
}

func (r *Router) candidatePool(vision bool) []pool.Endpoint {
	if vision {
		return r.pool.ImageEndpoints()
	}
	return r.pool.TextEndpoints()
}

// Select chooses one endpoint id, excluding any already in excluded
// (used by the Request Orchestrator to avoid repeating an endpoint within
// one call).
func (r *Router) Select(req Request, excluded map[string]bool) (string, error) {
	switch r.strategy {
	case StrategyPriorityOnly:
		return r.selectPriorityOnly(req, excluded)
	case StrategyHealthFirst:
		return r.selectHealthFirst(req, excluded)
	case StrategyRoundRobin:
		return r.selectRoundRobin(req, excluded)
	case StrategyRandom:
		return r.selectRandom(req, excluded)
	default:
		return r.selectHealthAware(req, excluded)
	}
}

func (r *Router) selectPriorityOnly(req Request, excluded map[string]bool) (string, error) {
	if req.Primary != "" && !excluded[req.Primary] {
		if _, ok := r.pool.Lookup(req.Primary); ok {
			return req.Primary, nil
		}
	}
	for _, id := range req.Fallbacks {
		if excluded[id] {
			continue
		}
		if _, ok := r.pool.Lookup(id); ok {
			return id, nil
		}
	}
	for _, e := range r.pool.ByPriority() {
		if !excluded[e.ID] {
			return e.ID, nil
		}
	}
	return "", gwerrors.New(gwerrors.NoAvailableModels, "no endpoints in catalog")
}

func (r *Router) selectHealthAware(req Request, excluded map[string]bool) (string, error) {
	byPriority := r.candidatePool(req.Vision)
	ids := make([]string, 0, len(byPriority))
	for _, e := range byPriority {
		ids = append(ids, e.ID)
	}
	available := make(map[string]bool)
	for _, id := range r.tracker.AvailableSubset(ids) {
		available[id] = true
	}

	if req.Primary != "" && available[req.Primary] && !excluded[req.Primary] {
		return req.Primary, nil
	}
	for _, id := range req.Fallbacks {
		if available[id] && !excluded[id] {
			return id, nil
		}
	}

	// Highest-priority available, breaking ties by score then catalog order.
	var best *pool.Endpoint
	var bestScore float64
	for i := range byPriority {
		e := &byPriority[i]
		if excluded[e.ID] || !available[e.ID] {
			continue
		}
		score := 1.0
		if entry, ok := r.tracker.Get(e.ID); ok {
			score = entry.Score
		}
		if best == nil || e.Tier < best.Tier || (e.Tier == best.Tier && score > bestScore) {
			best = e
			bestScore = score
		}
	}
	if best == nil {
		return "", gwerrors.New(gwerrors.NoAvailableModels, "no available endpoints")
	}
	return best.ID, nil
}

func (r *Router) selectHealthFirst(req Request, excluded map[string]bool) (string, error) {
	candidates := r.candidatePool(req.Vision)
	ids := make([]string, 0, len(candidates))
	for _, e := range candidates {
		ids = append(ids, e.ID)
	}
	available := r.tracker.AvailableSubset(ids)
	byHealth := r.tracker.ByHealth(available)
	for _, id := range byHealth {
		if !excluded[id] {
			return id, nil
		}
	}
	return "", gwerrors.New(gwerrors.NoAvailableModels, "no available endpoints")
}

func (r *Router) selectRoundRobin(req Request, excluded map[string]bool) (string, error) {
	candidates := r.candidatePool(req.Vision)
	ids := make([]string, 0, len(candidates))
	for _, e := range candidates {
		ids = append(ids, e.ID)
	}
	available := r.tracker.AvailableSubset(ids)
	var usable []string
	for _, id := range available {
		if !excluded[id] {
			usable = append(usable, id)
		}
	}
	if len(usable) == 0 {
		return "", gwerrors.New(gwerrors.NoAvailableModels, "no available endpoints")
	}
	idx := atomic.AddUint64(&r.rrCursor, 1) - 1
	return usable[int(idx%uint64(len(usable)))], nil
}

func (r *Router) selectRandom(req Request, excluded map[string]bool) (string, error) {
	candidates := r.candidatePool(req.Vision)
	ids := make([]string, 0, len(candidates))
	for _, e := range candidates {
		ids = append(ids, e.ID)
	}
	available := r.tracker.AvailableSubset(ids)
	var usable []string
	for _, id := range available {
		if !excluded[id] {
			usable = append(usable, id)
		}
	}
	if len(usable) == 0 {
		return "", gwerrors.New(gwerrors.NoAvailableModels, "no available endpoints")
	}
	return usable[rand.Intn(len(usable))], nil
}
