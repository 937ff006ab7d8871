package health

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tributary-ai/agent-gateway/internal/gwerrors"
)

func TestNeverUsedEndpointIsAvailableAndUntracked(t *testing.T) {
	tr := New()
	assert.True(t, tr.IsAvailable("e1"))
	e, ok := tr.Get("e1")
	assert.False(t, ok)
	_ = e
}

func TestRecordSuccessThenFailureInvariant(t *testing.T) {
	tr := New()
	tr.RecordSuccess("e1", 50*time.Millisecond)
	tr.RecordFailure("e1", gwerrors.Network)

	e, ok := tr.Get("e1")
	assert.True(t, ok)
	assert.Equal(t, int64(2), e.Total)
	assert.Equal(t, e.Success+e.Failure, e.Total)
	assert.Equal(t, 1, e.ConsecutiveFailures)
}

func TestSuccessAfterFailureResetsConsecutiveOnly(t *testing.T) {
	tr := New()
	tr.RecordFailure("e1", gwerrors.Network)
	tr.RecordSuccess("e1", 10*time.Millisecond)

	e, _ := tr.Get("e1")
	assert.Equal(t, 0, e.ConsecutiveFailures)
	assert.Equal(t, int64(1), e.Failure)
	assert.Equal(t, int64(2), e.Total)
}

func TestCooldownMakesEndpointUnavailable(t *testing.T) {
	now := time.Now()
	cur := now
	tr := NewWithClock(func() time.Time { return cur })

	// Nine prior successes keep the score at 0.8 after one failure, so
	// only the cooldown (not an unhealthy score) gates availability.
	for i := 0; i < 9; i++ {
		tr.RecordSuccess("e1", time.Millisecond)
	}
	tr.RecordFailure("e1", gwerrors.RateLimit)
	assert.False(t, tr.IsAvailable("e1"))

	cur = now.Add(601 * time.Second)
	assert.True(t, tr.IsAvailable("e1"))
}

func TestStatusUnusedEndpointIsHealthy(t *testing.T) {
	tr := New()
	assert.Equal(t, StatusHealthy, tr.Status("e1"))
}

func TestStatusCooldownOverridesScore(t *testing.T) {
	now := time.Now()
	cur := now
	tr := NewWithClock(func() time.Time { return cur })

	tr.RecordFailure("e1", gwerrors.RateLimit)
	assert.Equal(t, StatusCooldown, tr.Status("e1"))

	cur = now.Add(601 * time.Second)
	assert.NotEqual(t, StatusCooldown, tr.Status("e1"))
}

func TestByHealthStableOnTies(t *testing.T) {
	tr := New()
	got := tr.ByHealth([]string{"a", "b", "c"})
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestAvailableSubsetFilters(t *testing.T) {
	tr := New()
	tr.RecordFailure("bad", gwerrors.RateLimit)
	got := tr.AvailableSubset([]string{"bad", "good"})
	assert.Equal(t, []string{"good"}, got)
}

func TestScoreInBounds(t *testing.T) {
	tr := New()
	for i := 0; i < 20; i++ {
		tr.RecordFailure("e1", gwerrors.Network)
	}
	e, _ := tr.Get("e1")
	assert.GreaterOrEqual(t, e.Score, 0.0)
	assert.LessOrEqual(t, e.Score, 1.0)
}

func TestConcurrentAccessIsSafe(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			tr.RecordSuccess("e1", time.Millisecond)
		}()
		go func() {
			defer wg.Done()
			_ = tr.IsAvailable("e1")
		}()
	}
	wg.Wait()
}
