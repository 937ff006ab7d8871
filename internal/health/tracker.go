// Package health implements the Health Tracker (spec §4.2): per-endpoint
// outcome accounting, error-kind cooldowns, and a health score that feeds
// the Fallback Router.
package health

import (
	"sort"
	"sync"
	"time"

	"github.com/tributary-ai/agent-gateway/internal/gwerrors"
)

// Status is the derived availability class of an endpoint, driven purely
// by its health score and cooldown state (spec §4.9 state machine sketch).
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusCooldown Status = "cooldown"
)

// Entry is one endpoint's mutable health record.
type Entry struct {
	Success            int64
	Failure            int64
	Total              int64
	LastSuccess        time.Time
	LastFailure        time.Time
	LastErrorKind       gwerrors.Kind
	ConsecutiveFailures int
	CooldownUntil       time.Time
	EMALatencyMS        float64
	Score               float64
}

// Tracker is the single mutex-guarded map of endpoint health, matching the
// teacher's single-mutex-over-a-map discipline used by the rate limiter.
type Tracker struct {
	mu    sync.RWMutex
	now   func() time.Time
	byID  map[string]*Entry
}

func New() *Tracker {
	return &Tracker{now: time.Now, byID: make(map[string]*Entry)}
}

// NewWithClock allows tests to control time.
func NewWithClock(now func() time.Time) *Tracker {
	return &Tracker{now: now, byID: make(map[string]*Entry)}
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func scoreOf(e *Entry) float64 {
	if e.Total == 0 {
		return 1.0
	}
	raw := float64(e.Success)/float64(e.Total) - 0.1*float64(e.ConsecutiveFailures)
	return clampScore(raw)
}

func statusOf(score float64, cooldownActive bool) Status {
	if cooldownActive {
		return StatusCooldown
	}
	switch {
	case score >= 0.8:
		return StatusHealthy
	case score >= 0.5:
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}

// RecordSuccess updates counters for a successful call (spec §4.2).
func (t *Tracker) RecordSuccess(id string, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entryLocked(id)
	now := t.now()
	e.Total++
	e.Success++
	e.ConsecutiveFailures = 0
	e.LastErrorKind = ""
	e.LastSuccess = now

	ms := float64(latency.Microseconds()) / 1000.0
	if e.EMALatencyMS == 0 {
		e.EMALatencyMS = ms
	} else {
		e.EMALatencyMS = 0.9*e.EMALatencyMS + 0.1*ms
	}
	e.Score = scoreOf(e)
}

// RecordFailure updates counters for a failed call and sets the
// error-kind-dependent cooldown (spec §4.2 table).
func (t *Tracker) RecordFailure(id string, kind gwerrors.Kind) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entryLocked(id)
	now := t.now()
	e.Total++
	e.Failure++
	e.ConsecutiveFailures++
	e.LastErrorKind = kind
	e.LastFailure = now
	e.CooldownUntil = now.Add(time.Duration(kind.CooldownSeconds()) * time.Second)
	e.Score = scoreOf(e)
}

func (t *Tracker) entryLocked(id string) *Entry {
	e, ok := t.byID[id]
	if !ok {
		e = &Entry{Score: 1.0}
		t.byID[id] = e
	}
	return e
}

// IsAvailable reports whether id may be selected right now: true for an
// endpoint never observed, otherwise the cooldown must have elapsed and
// status must not be unhealthy or cooldown.
func (t *Tracker) IsAvailable(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.isAvailableLocked(id)
}

func (t *Tracker) isAvailableLocked(id string) bool {
	e, ok := t.byID[id]
	if !ok {
		return true
	}
	now := t.now()
	cooldownActive := now.Before(e.CooldownUntil)
	if cooldownActive {
		return false
	}
	st := statusOf(e.Score, false)
	return st != StatusUnhealthy && st != StatusCooldown
}

// Status returns the derived availability class for id (spec §4.2),
// healthy for an id with no recorded history yet.
func (t *Tracker) Status(id string) Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byID[id]
	if !ok {
		return StatusHealthy
	}
	cooldownActive := t.now().Before(e.CooldownUntil)
	return statusOf(e.Score, cooldownActive)
}

// Get returns a copy of the entry for id, and whether one exists.
func (t *Tracker) Get(id string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byID[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// AvailableSubset filters ids to those currently available.
func (t *Tracker) AvailableSubset(ids []string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for _, id := range ids {
		if t.isAvailableLocked(id) {
			out = append(out, id)
		}
	}
	return out
}

// ByHealth returns ids sorted by descending score, stable on ties so
// input order (catalog order) is preserved among equal scores.
func (t *Tracker) ByHealth(ids []string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := append([]string(nil), ids...)
	score := func(id string) float64 {
		if e, ok := t.byID[id]; ok {
			return e.Score
		}
		return 1.0
	}
	sort.SliceStable(out, func(i, j int) bool {
		return score(out[i]) > score(out[j])
	})
	return out
}

// Reset removes the tracked entry for id so the next observation starts
// fresh.
func (t *Tracker) Reset(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byID, id)
}
