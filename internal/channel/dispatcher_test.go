package channel

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/agent-gateway/internal/metrics"
	"github.com/tributary-ai/agent-gateway/internal/routing"
	"github.com/tributary-ai/agent-gateway/internal/types"
)

type fakeResponder struct {
	resp *types.ChatResponse
	err  error
}

func (f *fakeResponder) Handle(ctx context.Context, req routing.Request, messages []types.Message, temperature *float64, maxTokens *int) (*types.ChatResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

// fakeTransport is shared with outbound_test.go, which declares it.

func newTestDispatcher(responder Responder, transport Transport, cfg types.ChannelConfig) (*Dispatcher, *fakeTransport) {
	ac := New(cfg, "self")
	ft, _ := transport.(*fakeTransport)
	ob := NewOutbound(transport, 16)
	d := NewDispatcher(ac, 0, responder, ob, routing.Request{Primary: "model-a"}, logrus.New(), metrics.New())
	return d, ft
}

func TestHandleInboundOpenPolicyDispatchesAndReplies(t *testing.T) {
	responder := &fakeResponder{resp: &types.ChatResponse{
		Choices: []types.Choice{{Message: types.Message{Role: "assistant", Content: "hello back"}}},
	}}
	transport := &fakeTransport{}
	d, ft := newTestDispatcher(responder, transport, types.ChannelConfig{DMPolicy: "open"})

	d.HandleInbound(context.Background(), types.InboundMessage{
		MessageID: "m1", ChatID: "+15551234567", ChatType: "direct", Sender: "+15551234567", Body: "hi",
	})

	require.Len(t, ft.sent, 1)
	assert.Equal(t, "hello back", ft.sent[0])
}

func TestHandleInboundPairingRequiredSendsCode(t *testing.T) {
	transport := &fakeTransport{}
	d, ft := newTestDispatcher(&fakeResponder{}, transport, types.ChannelConfig{DMPolicy: "pairing"})

	d.HandleInbound(context.Background(), types.InboundMessage{
		MessageID: "m1", ChatID: "+15551234567", ChatType: "direct", Sender: "+15551234567", Body: "hi",
	})

	require.Len(t, ft.sent, 1)
	assert.Contains(t, ft.sent[0], "Pairing code")
}

func TestHandleInboundDisabledPolicyDropsSilently(t *testing.T) {
	transport := &fakeTransport{}
	d, ft := newTestDispatcher(&fakeResponder{}, transport, types.ChannelConfig{DMPolicy: "disabled"})

	d.HandleInbound(context.Background(), types.InboundMessage{
		MessageID: "m1", ChatID: "+15551234567", ChatType: "direct", Sender: "+15551234567", Body: "hi",
	})

	assert.Empty(t, ft.sent)
}

func TestHandleInboundDuplicateMessageIsIgnored(t *testing.T) {
	responder := &fakeResponder{resp: &types.ChatResponse{
		Choices: []types.Choice{{Message: types.Message{Role: "assistant", Content: "hello back"}}},
	}}
	transport := &fakeTransport{}
	d, ft := newTestDispatcher(responder, transport, types.ChannelConfig{DMPolicy: "open"})

	msg := types.InboundMessage{MessageID: "m1", ChatID: "+15551234567", ChatType: "direct", Sender: "+15551234567", Body: "hi"}
	d.HandleInbound(context.Background(), msg)
	d.HandleInbound(context.Background(), msg)

	assert.Len(t, ft.sent, 1)
}

func TestHandleInboundDedupPrecedesAccessControl(t *testing.T) {
	transport := &fakeTransport{}
	d, ft := newTestDispatcher(&fakeResponder{}, transport, types.ChannelConfig{DMPolicy: "pairing"})

	msg := types.InboundMessage{MessageID: "m1", ChatID: "+15551234567", ChatType: "direct", Sender: "+15551234567", Body: "hi"}
	d.HandleInbound(context.Background(), msg)
	d.HandleInbound(context.Background(), msg)

	assert.Len(t, ft.sent, 1, "a retransmitted message id must be dropped by dedup before reaching access control")
}

func TestHandleInboundAgentErrorSendsApology(t *testing.T) {
	responder := &fakeResponder{err: errors.New("boom")}
	transport := &fakeTransport{}
	d, ft := newTestDispatcher(responder, transport, types.ChannelConfig{DMPolicy: "open"})

	d.HandleInbound(context.Background(), types.InboundMessage{
		MessageID: "m1", ChatID: "+15551234567", ChatType: "direct", Sender: "+15551234567", Body: "hi",
	})

	require.Len(t, ft.sent, 1)
	assert.Contains(t, ft.sent[0], "couldn't process")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	transport := &fakeTransport{}
	d, _ := newTestDispatcher(&fakeResponder{}, transport, types.ChannelConfig{DMPolicy: "open"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	cancel()
	<-done
}
