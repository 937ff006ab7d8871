package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tributary-ai/agent-gateway/internal/types"
)

func TestDedupRejectsDuplicateWithinTTL(t *testing.T) {
	cur := time.Now()
	d := NewDedup()
	d.now = func() time.Time { return cur }

	assert.True(t, d.Accept("chat1", "msg1"))
	assert.False(t, d.Accept("chat1", "msg1"))
}

func TestDedupAtTTLBoundary(t *testing.T) {
	cur := time.Now()
	d := NewDedup()
	d.now = func() time.Time { return cur }

	require.True(t, d.Accept("chat1", "msg1"))

	cur2 := cur.Add(59999 * time.Millisecond)
	d.now = func() time.Time { return cur2 }
	assert.False(t, d.Accept("chat1", "msg1"))

	cur3 := cur.Add(60 * time.Second)
	d.now = func() time.Time { return cur3 }
	assert.True(t, d.Accept("chat1", "msg1"))
}

func TestDebouncerDisabledDeliversImmediately(t *testing.T) {
	deb := NewDebouncer(0)
	flushed, ready := deb.Enqueue(types.InboundMessage{MessageID: "1", Sender: "s1", Body: "hi"})
	assert.True(t, ready)
	assert.Len(t, flushed, 1)
}

func TestDebouncerCoalescesBurst(t *testing.T) {
	cur := time.Now()
	deb := NewDebouncer(500)
	deb.now = func() time.Time { return cur }

	_, ready := deb.Enqueue(types.InboundMessage{MessageID: "1", Sender: "s1", Body: "who"})
	assert.False(t, ready)
	_, ready = deb.Enqueue(types.InboundMessage{MessageID: "2", Sender: "s1", Body: "are"})
	assert.False(t, ready)
	_, ready = deb.Enqueue(types.InboundMessage{MessageID: "3", Sender: "s1", Body: "you"})
	assert.False(t, ready)

	cur = cur.Add(501 * time.Millisecond)
	flushed := deb.Sweep()
	require.Len(t, flushed, 1)
	assert.Equal(t, "who\nare\nyou", flushed[0].Body)
}

func TestCombineDedupesMentions(t *testing.T) {
	msgs := []types.InboundMessage{
		{Body: "a", Mentioned: []string{"x", "y"}},
		{Body: "", Mentioned: []string{"y", "z"}},
		{Body: "b", Mentioned: nil},
	}
	c := combine(msgs)
	assert.Equal(t, "a\nb", c.Body)
	assert.Equal(t, []string{"x", "y", "z"}, c.Mentioned)
}
