package channel

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/tributary-ai/agent-gateway/internal/gwerrors"
)

const (
	MaxChunkCodeUnits = 4000
	MaxRetries        = 3
	RetryPause        = 1 * time.Second
)

var (
	tableSeparatorRow = regexp.MustCompile(`^\s*\|?[\s:|-]+\|?\s*$`)
)

// retryableKinds are the transport error kinds the Outbound Pipeline
// retries. Timeout is included alongside the connection-failure kinds:
// spec §9's open question about whether a timed-out send should be
// retried is resolved here in favor of retrying it, since from the
// pipeline's point of view a send-side timeout is indistinguishable from
// a transient network failure, and the fixed retry budget bounds cost.
var retryableKinds = map[gwerrors.Kind]bool{
	gwerrors.Network: true,
	gwerrors.Timeout: true,
}

// StripMarkdownTable converts markdown table syntax to plain text by
// dropping separator rows and replacing pipes with single spaces
// (spec §4.8).
func StripMarkdownTable(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.Contains(line, "|") && tableSeparatorRow.MatchString(line) {
			continue
		}
		if strings.Contains(line, "|") {
			line = strings.ReplaceAll(line, "|", " ")
			line = strings.Join(strings.Fields(line), " ")
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// Chunk splits text into pieces of at most MaxChunkCodeUnits runes,
// breaking at the latest whitespace before the limit, or at the limit
// itself if no whitespace exists in range (spec §4.8).
func Chunk(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= MaxChunkCodeUnits {
			chunks = append(chunks, string(runes))
			break
		}

		limit := MaxChunkCodeUnits
		breakAt := -1
		for i := limit - 1; i >= 0; i-- {
			if runes[i] == ' ' || runes[i] == '\n' || runes[i] == '\t' {
				breakAt = i
				break
			}
		}
		if breakAt == -1 {
			chunks = append(chunks, string(runes[:limit]))
			runes = runes[limit:]
		} else {
			// The whitespace itself stays at the end of the first chunk.
			chunks = append(chunks, string(runes[:breakAt+1]))
			runes = runes[breakAt+1:]
		}
	}
	return chunks
}

// Transport is the narrow capability the Outbound Pipeline sends
// through; a MessagingBridge implements it.
type Transport interface {
	SendMessage(ctx context.Context, to, text string) (messageID string, err error)
	SendMedia(ctx context.Context, to, mediaPath, caption string) (messageID string, err error)
}

// Outbound delivers text and media replies via a Transport, applying
// table stripping, chunking, and bounded retry (spec §4.8).
type Outbound struct {
	transport Transport
	mediaMaxMB int
	sleep     func(time.Duration)
}

func NewOutbound(transport Transport, mediaMaxMB int) *Outbound {
	return &Outbound{transport: transport, mediaMaxMB: mediaMaxMB, sleep: time.Sleep}
}

// SendText transforms, chunks, and sends text, retrying each chunk per
// the retry policy. Returns the ordered list of transport-assigned
// message ids.
func (o *Outbound) SendText(ctx context.Context, to, text string) ([]string, error) {
	transformed := StripMarkdownTable(text)
	chunks := Chunk(transformed)

	ids := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		id, err := o.sendWithRetry(ctx, to, chunk)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (o *Outbound) sendWithRetry(ctx context.Context, to, text string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		id, err := o.transport.SendMessage(ctx, to, text)
		if err == nil {
			return id, nil
		}
		lastErr = err
		if !retryableKinds[gwerrors.KindOf(err)] {
			return "", err
		}
		if attempt == MaxRetries {
			break
		}
		o.sleep(RetryPause)
	}
	return "", gwerrors.Wrap(gwerrors.MaxRetriesExceeded, "exhausted retries sending chunk", lastErr)
}

// SendMedia rejects files over the configured size cap; otherwise
// delegates to the transport with a transformed caption (spec §4.8).
func (o *Outbound) SendMedia(ctx context.Context, to, mediaPath string, sizeBytes int64, caption string) (string, error) {
	maxBytes := int64(o.mediaMaxMB) * 1024 * 1024
	if sizeBytes > maxBytes {
		return "", gwerrors.New(gwerrors.MediaTooLarge, "media exceeds configured size cap")
	}
	return o.transport.SendMedia(ctx, to, mediaPath, StripMarkdownTable(caption))
}
