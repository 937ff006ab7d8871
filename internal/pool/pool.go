// Package pool implements the Model Pool (spec §4.1): an immutable,
// process-lifetime catalog of upstream model endpoints.
package pool

import (
	"fmt"
	"net/url"
	"sort"
)

// Dialect is the upstream API shape an endpoint speaks.
type Dialect string

const (
	DialectChat        Dialect = "chat"
	DialectCompletions Dialect = "completions"
	DialectCustom      Dialect = "custom"
)

// Capabilities are advisory flags the router and server consult.
type Capabilities struct {
	Streaming      bool
	FunctionCalling bool
	Vision          bool
}

// RateLimitHints are advisory only: neither the Upstream Client nor the
// Chat API rate limiter reads or enforces them.
type RateLimitHints struct {
	RequestsPerMinute int
	TokensPerMinute   int
}

// Endpoint is one addressable upstream chat-completion target.
type Endpoint struct {
	ID              string
	DisplayName     string
	Provider        string
	BaseURL         string
	Dialect         Dialect
	Tier            int // 1..5, lower preferred
	ContextWindow   int
	MaxOutputTokens int
	RateLimits      RateLimitHints
	Capabilities    Capabilities
}

// Pool is the immutable catalog. Constructed once at startup via New;
// never mutated afterward.
type Pool struct {
	byID     map[string]Endpoint
	ordered  []Endpoint // insertion order, used to break ties
}

// New validates and builds a Pool from a catalog. It is the only place
// catalog invariants are checked: unique ids, syntactically valid base
// URLs, and at least one tier-1 text endpoint.
func New(endpoints []Endpoint) (*Pool, error) {
	byID := make(map[string]Endpoint, len(endpoints))
	hasTier1Text := false

	for _, e := range endpoints {
		if e.ID == "" {
			return nil, fmt.Errorf("pool: endpoint with empty id")
		}
		if _, exists := byID[e.ID]; exists {
			return nil, fmt.Errorf("pool: duplicate endpoint id %q", e.ID)
		}
		if _, err := url.ParseRequestURI(e.BaseURL); err != nil {
			return nil, fmt.Errorf("pool: endpoint %q has invalid base url: %w", e.ID, err)
		}
		if e.Tier < 1 || e.Tier > 5 {
			return nil, fmt.Errorf("pool: endpoint %q has tier %d outside 1..5", e.ID, e.Tier)
		}
		if e.Tier == 1 && !e.Capabilities.Vision {
			hasTier1Text = true
		}
		byID[e.ID] = e
	}

	if !hasTier1Text {
		return nil, fmt.Errorf("pool: catalog must contain at least one tier-1 text endpoint")
	}

	return &Pool{byID: byID, ordered: append([]Endpoint(nil), endpoints...)}, nil
}

// Lookup returns the endpoint for id, or false if unknown. O(1).
func (p *Pool) Lookup(id string) (Endpoint, bool) {
	e, ok := p.byID[id]
	return e, ok
}

// ByPriority returns all endpoints, lowest tier number first, ties
// broken by catalog insertion order.
func (p *Pool) ByPriority() []Endpoint {
	out := append([]Endpoint(nil), p.ordered...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Tier < out[j].Tier
	})
	return out
}

// ByTier filters to endpoints in exactly tier t.
func (p *Pool) ByTier(t int) []Endpoint {
	var out []Endpoint
	for _, e := range p.ordered {
		if e.Tier == t {
			out = append(out, e)
		}
	}
	return out
}

// TextEndpoints returns endpoints without the vision capability flag.
func (p *Pool) TextEndpoints() []Endpoint {
	var out []Endpoint
	for _, e := range p.ordered {
		if !e.Capabilities.Vision {
			out = append(out, e)
		}
	}
	return out
}

// ImageEndpoints returns endpoints with the vision capability flag.
func (p *Pool) ImageEndpoints() []Endpoint {
	var out []Endpoint
	for _, e := range p.ordered {
		if e.Capabilities.Vision {
			out = append(out, e)
		}
	}
	return out
}

// All returns every endpoint in catalog insertion order.
func (p *Pool) All() []Endpoint {
	return append([]Endpoint(nil), p.ordered...)
}
