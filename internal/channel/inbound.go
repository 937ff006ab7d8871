package channel

import (
	"strings"
	"sync"
	"time"

	"github.com/tributary-ai/agent-gateway/internal/types"
)

const (
	DedupTTL = 60 * time.Second
)

type dedupEntry struct {
	firstSeen time.Time
}

// Dedup rejects repeated (chat, message-id) pairs within a TTL window
// (spec §4.7 step 1).
type Dedup struct {
	mu   sync.Mutex
	seen map[string]dedupEntry
	now  func() time.Time
}

func NewDedup() *Dedup {
	return &Dedup{seen: make(map[string]dedupEntry), now: time.Now}
}

func dedupKey(chatID, messageID string) string {
	return chatID + "\x00" + messageID
}

// Accept returns true the first time (chatID, messageID) is seen within
// the TTL window, false on a repeat.
func (d *Dedup) Accept(chatID, messageID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := dedupKey(chatID, messageID)
	now := d.now()
	if e, ok := d.seen[key]; ok && now.Sub(e.firstSeen) < DedupTTL {
		return false
	}
	d.seen[key] = dedupEntry{firstSeen: now}
	return true
}

// Len reports the current number of tracked dedup entries.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Sweep purges entries older than the TTL window.
func (d *Dedup) Sweep() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for k, e := range d.seen {
		if now.Sub(e.firstSeen) > DedupTTL {
			delete(d.seen, k)
		}
	}
}

// pendingQueue holds the per-sender messages awaiting a coalesce flush.
type pendingQueue struct {
	messages  []types.InboundMessage
	lastFlush time.Time
}

// Debouncer coalesces rapid consecutive messages from the same sender
// into one logical prompt (spec §4.7 step 3). A single mutex guards all
// per-sender queues, matching the teacher's single-mutex-over-a-map
// discipline.
type Debouncer struct {
	mu         sync.Mutex
	windowMS   int
	queues     map[string]*pendingQueue
	now        func() time.Time
}

func NewDebouncer(windowMS int) *Debouncer {
	return &Debouncer{windowMS: windowMS, queues: make(map[string]*pendingQueue), now: time.Now}
}

// Enqueue appends msg to the sender's pending queue. If debounce is
// disabled (windowMS <= 0), it returns the message immediately as a
// single-entry flush.
func (d *Debouncer) Enqueue(msg types.InboundMessage) (flushed []types.InboundMessage, ready bool) {
	if d.windowMS <= 0 {
		return []types.InboundMessage{msg}, true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	q, ok := d.queues[msg.Sender]
	if !ok {
		q = &pendingQueue{lastFlush: d.now()}
		d.queues[msg.Sender] = q
	}
	q.messages = append(q.messages, msg)
	return nil, false
}

// Len reports the current number of senders with a pending queue.
func (d *Debouncer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}

// Sweep flushes any sender queue whose debounce window has elapsed since
// its last flush, returning the combined messages ready for delivery.
// Called from a periodic sweep goroutine rather than a timer per sender
// (spec §9 design note).
func (d *Debouncer) Sweep() []types.InboundMessage {
	d.mu.Lock()
	defer d.mu.Unlock()

	var ready []types.InboundMessage
	now := d.now()
	window := time.Duration(d.windowMS) * time.Millisecond
	for sender, q := range d.queues {
		if len(q.messages) == 0 {
			continue
		}
		if now.Sub(q.lastFlush) >= window {
			ready = append(ready, combine(q.messages))
			q.messages = nil
			q.lastFlush = now
			delete(d.queues, sender)
		}
	}
	return ready
}

// combine merges multiple debounced messages into one, per spec §4.7:
// body is newline-joined non-empty bodies, metadata copied from the
// last entry, mentions are the deduplicated union.
func combine(msgs []types.InboundMessage) types.InboundMessage {
	if len(msgs) == 1 {
		return msgs[0]
	}

	var bodies []string
	mentionSet := make(map[string]bool)
	var mentionOrder []string
	for _, m := range msgs {
		if strings.TrimSpace(m.Body) != "" {
			bodies = append(bodies, m.Body)
		}
		for _, id := range m.Mentioned {
			if !mentionSet[id] {
				mentionSet[id] = true
				mentionOrder = append(mentionOrder, id)
			}
		}
	}

	last := msgs[len(msgs)-1]
	combined := last
	combined.Body = strings.Join(bodies, "\n")
	combined.Mentioned = mentionOrder
	return combined
}
