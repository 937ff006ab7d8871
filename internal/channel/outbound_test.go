package channel

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tributary-ai/agent-gateway/internal/gwerrors"
)

func TestStripMarkdownTable(t *testing.T) {
	in := "| a | b |\n| --- | --- |\n| 1 | 2 |\nprose"
	out := StripMarkdownTable(in)
	assert.NotContains(t, out, "|")
	assert.NotContains(t, out, "---")
	assert.Contains(t, out, "prose")
}

func TestChunkBoundaryAtSpace(t *testing.T) {
	body := strings.Repeat("a", 3499) + " " + strings.Repeat("b", 501)
	require.Len(t, []rune(body), 4001)

	chunks := Chunk(body)
	require.Len(t, chunks, 2)
	assert.Len(t, []rune(chunks[0]), 3500)
	assert.Len(t, []rune(chunks[1]), 501)
}

func TestChunkNoWhitespaceBreaksAtLimit(t *testing.T) {
	body := strings.Repeat("a", 4100)
	chunks := Chunk(body)
	require.Len(t, chunks, 2)
	assert.Len(t, []rune(chunks[0]), MaxChunkCodeUnits)
}

type fakeTransport struct {
	sendErrs []error
	sent     []string
}

func (f *fakeTransport) SendMessage(_ context.Context, _, text string) (string, error) {
	idx := len(f.sent)
	f.sent = append(f.sent, text)
	if idx < len(f.sendErrs) && f.sendErrs[idx] != nil {
		return "", f.sendErrs[idx]
	}
	return "msg-id", nil
}

func (f *fakeTransport) SendMedia(_ context.Context, _, _, _ string) (string, error) {
	return "media-id", nil
}

func TestSendTextRetriesTransientFailure(t *testing.T) {
	ft := &fakeTransport{sendErrs: []error{gwerrors.New(gwerrors.Network, "reset"), nil}}
	ob := NewOutbound(ft, 5)
	ob.sleep = func(d time.Duration) {}

	ids, err := ob.SendText(context.Background(), "to", "hello")
	require.NoError(t, err)
	assert.Len(t, ids, 1)
	assert.Len(t, ft.sent, 2)
}

func TestSendTextPropagatesNonRetryable(t *testing.T) {
	ft := &fakeTransport{sendErrs: []error{gwerrors.New(gwerrors.Auth, "401")}}
	ob := NewOutbound(ft, 5)

	_, err := ob.SendText(context.Background(), "to", "hello")
	assert.Error(t, err)
	assert.Len(t, ft.sent, 1)
}

func TestSendMediaRejectsOversized(t *testing.T) {
	ft := &fakeTransport{}
	ob := NewOutbound(ft, 1)

	_, err := ob.SendMedia(context.Background(), "to", "/tmp/x", 2*1024*1024, "")
	require.Error(t, err)
	assert.Equal(t, gwerrors.MediaTooLarge, gwerrors.KindOf(err))
}
