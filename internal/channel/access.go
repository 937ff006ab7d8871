// Package channel implements the Channel Access Control, Inbound
// Pipeline, and Outbound Pipeline (spec §4.6-4.8). No domain example in
// the retrieval pack implements a messaging bridge; the concurrency
// shape here follows the teacher's mutex-guarded-map idiom from
// internal/security/ratelimit.go and the ticker-driven sweep from
// internal/security/audit.go.
package channel

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/tributary-ai/agent-gateway/internal/gwerrors"
	"github.com/tributary-ai/agent-gateway/internal/types"
)

const (
	PairingTTL = 300 * time.Second
)

var nonDigit = regexp.MustCompile(`[^0-9]`)

// NormalizeIdentifier strips all non-digit characters and prepends "+"
// when the result is nonempty and lacks a leading "+" (spec §4.6).
// Idempotent: NormalizeIdentifier(NormalizeIdentifier(x)) == NormalizeIdentifier(x).
func NormalizeIdentifier(raw string) string {
	digits := nonDigit.ReplaceAllString(raw, "")
	if digits == "" {
		return ""
	}
	return "+" + digits
}

// ValidIdentifier reports whether id is 8..15 digits after an optional "+".
func ValidIdentifier(id string) bool {
	digits := id
	if len(digits) > 0 && digits[0] == '+' {
		digits = digits[1:]
	}
	if len(digits) < 8 || len(digits) > 15 {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

type pairingEntry struct {
	code      string
	issuedAt  time.Time
}

// AccessControl owns the paired set, pending pairings, and group
// allowlist for one channel. All maps are guarded by a single mutex held
// only across map manipulation, never across I/O (spec §5).
type AccessControl struct {
	mu       sync.Mutex
	cfg      types.ChannelConfig
	selfID   string
	paired   map[string]bool
	pending  map[string]pairingEntry
	now      func() time.Time
}

func New(cfg types.ChannelConfig, selfID string) *AccessControl {
	return &AccessControl{
		cfg:     cfg,
		selfID:  selfID,
		paired:  make(map[string]bool),
		pending: make(map[string]pairingEntry),
		now:     time.Now,
	}
}

// Decision is the outcome of an access check.
type Decision struct {
	Allowed     bool
	Reason      string
	PairingCode string // set when a pairing code was just issued
}

// CheckDirect evaluates a direct-message sender against dm_policy
// (spec §4.6 decision table for DMs).
func (a *AccessControl) CheckDirect(sender string) Decision {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.cfg.DMPolicy {
	case "disabled":
		return Decision{Allowed: false, Reason: "DM access disabled"}
	case "allowlist":
		if a.matchesAllowlist(sender) {
			return Decision{Allowed: true}
		}
		return Decision{Allowed: false, Reason: "sender not in allowlist"}
	case "pairing":
		if a.paired[sender] {
			return Decision{Allowed: true}
		}
		code := a.issuePairingLocked(sender)
		return Decision{Allowed: false, Reason: "pairing required", PairingCode: code}
	case "open":
		return Decision{Allowed: true}
	default:
		return Decision{Allowed: false, Reason: fmt.Sprintf("unknown dm policy %q", a.cfg.DMPolicy)}
	}
}

func (a *AccessControl) matchesAllowlist(id string) bool {
	for _, entry := range a.cfg.Allowlist {
		if entry == "*" || entry == id {
			return true
		}
	}
	return false
}

func (a *AccessControl) matchesGroupAllowlist(groupID string) bool {
	for _, entry := range a.cfg.GroupAllowlist {
		if entry == "*" || entry == groupID {
			return true
		}
	}
	return false
}

// CheckGroup evaluates a group message against group_policy and, when
// set, group_require_mention (spec §4.6).
func (a *AccessControl) CheckGroup(groupID string, mentioned []string) Decision {
	a.mu.Lock()
	policy := a.cfg.GroupPolicy
	requireMention := a.cfg.GroupRequireMention
	a.mu.Unlock()

	switch policy {
	case "disabled":
		return Decision{Allowed: false, Reason: "group access disabled"}
	case "allowlist":
		if !a.matchesGroupAllowlist(groupID) {
			return Decision{Allowed: false, Reason: "group not in allowlist"}
		}
	case "open":
		// falls through to mention check
	default:
		return Decision{Allowed: false, Reason: fmt.Sprintf("unknown group policy %q", policy)}
	}

	if requireMention && !containsID(mentioned, a.selfID) {
		return Decision{Allowed: false, Reason: "self not mentioned"}
	}
	return Decision{Allowed: true}
}

func containsID(ids []string, target string) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

func (a *AccessControl) issuePairingLocked(sender string) string {
	code := generatePairingCode()
	a.pending[sender] = pairingEntry{code: code, issuedAt: a.now()}
	return code
}

func generatePairingCode() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	n := (uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])) % 1000000
	return fmt.Sprintf("%06d", n)
}

// VerifyPairing checks a submitted code against the pending entry for
// sender. The entry is consumed (single-shot) whether verification
// succeeds or fails (spec §4.6).
func (a *AccessControl) VerifyPairing(sender, code string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.pending[sender]
	delete(a.pending, sender) // single-shot regardless of outcome

	if !ok {
		return gwerrors.New(gwerrors.AccessDenied, "no pending pairing for sender")
	}
	if a.now().Sub(entry.issuedAt) > PairingTTL {
		return gwerrors.New(gwerrors.AccessDenied, "pairing code expired")
	}
	if entry.code != code {
		return gwerrors.New(gwerrors.AccessDenied, "pairing code mismatch")
	}

	a.paired[sender] = true
	return nil
}

// PurgeExpiredPairings removes pending entries older than the TTL. Called
// from a periodic sweep goroutine, matching the teacher's audit-flush
// ticker pattern.
func (a *AccessControl) PurgeExpiredPairings() {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	for sender, entry := range a.pending {
		if now.Sub(entry.issuedAt) > PairingTTL {
			delete(a.pending, sender)
		}
	}
}

// IsPaired reports whether sender has completed the pairing handshake.
func (a *AccessControl) IsPaired(sender string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.paired[sender]
}
