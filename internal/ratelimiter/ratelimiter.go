// Package ratelimiter implements the autonomous-action Rate Limiter
// (spec §4.9): cooldowns for post/comment actions with a daily cap,
// grounded on the teacher's internal/security/ratelimit.go struct shape
// but reworked from token-bucket refill to the spec's explicit
// cooldown-timestamp semantics.
package ratelimiter

import (
	"sync"
	"time"
)

const (
	PostCooldown    = 30 * time.Minute
	CommentCooldown = 20 * time.Second
	DailyCommentCap = 50

	dayMillis = 86_400_000
)

// RateLimiter tracks one instance's last-post/last-comment clocks and
// daily comment count. Single-owner by default; wrap in a mutex when
// shared, which this type already does.
type RateLimiter struct {
	mu            sync.Mutex
	lastPost      time.Time
	lastComment   time.Time
	countToday    int
	lastDayReset  time.Time
	now           func() time.Time
}

func New() *RateLimiter {
	return &RateLimiter{now: time.Now}
}

func dayFloor(t time.Time) int64 {
	return t.UnixMilli() / dayMillis
}

// rollDayLocked resets countToday when the current day-floor differs
// from the last reset's day-floor (spec §4.9, millisecond time base).
func (r *RateLimiter) rollDayLocked(now time.Time) {
	if r.lastDayReset.IsZero() {
		r.lastDayReset = now
		return
	}
	if dayFloor(now) > dayFloor(r.lastDayReset) {
		r.countToday = 0
		r.lastDayReset = now
	}
}

// CanPost reports whether enough time has elapsed since the last post.
func (r *RateLimiter) CanPost() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	return r.lastPost.IsZero() || now.Sub(r.lastPost) >= PostCooldown
}

// CanComment reports whether a comment is allowed: the daily cap has not
// been reached and the per-comment cooldown has elapsed.
func (r *RateLimiter) CanComment() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.rollDayLocked(now)
	if r.countToday >= DailyCommentCap {
		return false
	}
	return r.lastComment.IsZero() || now.Sub(r.lastComment) >= CommentCooldown
}

// RecordPost advances the post clock.
func (r *RateLimiter) RecordPost() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastPost = r.now()
}

// RecordComment advances the comment clock and increments today's count.
func (r *RateLimiter) RecordComment() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.rollDayLocked(now)
	r.lastComment = now
	r.countToday++
}

// RemainingUntilNextPost is max(0, cooldown - elapsed).
func (r *RateLimiter) RemainingUntilNextPost() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastPost.IsZero() {
		return 0
	}
	elapsed := r.now().Sub(r.lastPost)
	if elapsed >= PostCooldown {
		return 0
	}
	return PostCooldown - elapsed
}

// RemainingUntilNextComment is max(0, cooldown - elapsed).
func (r *RateLimiter) RemainingUntilNextComment() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastComment.IsZero() {
		return 0
	}
	elapsed := r.now().Sub(r.lastComment)
	if elapsed >= CommentCooldown {
		return 0
	}
	return CommentCooldown - elapsed
}
