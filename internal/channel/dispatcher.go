package channel

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tributary-ai/agent-gateway/internal/metrics"
	"github.com/tributary-ai/agent-gateway/internal/routing"
	"github.com/tributary-ai/agent-gateway/internal/types"
)

// sweepInterval drives both the Dedup and Debouncer sweeps; it is
// independent of DedupTTL/debounce window, only bounding staleness.
const sweepInterval = 1 * time.Second

// Responder is the narrow orchestrator capability the Dispatcher drives;
// orchestrator.Orchestrator implements it.
type Responder interface {
	Handle(ctx context.Context, req routing.Request, messages []types.Message, temperature *float64, maxTokens *int) (*types.ChatResponse, error)
}

// Dispatcher wires one channel's Access Control, Inbound Pipeline, an
// agent Responder, and Outbound Pipeline together (spec §4.7's pipeline
// order: bridge notification -> dedup -> access control -> debounce ->
// orchestrator -> outbound). There is no HTTP route for this flow: it is
// driven entirely off bridge notifications, so it runs as a background
// loop started by cmd/gateway rather than a server.Server handler.
type Dispatcher struct {
	access    *AccessControl
	dedup     *Dedup
	debounce  *Debouncer
	responder Responder
	outbound  *Outbound
	model     routing.Request
	logger    *logrus.Logger
	metrics   *metrics.Registry

	stop chan struct{}
}

func NewDispatcher(access *AccessControl, debounceMS int, responder Responder, outbound *Outbound, model routing.Request, logger *logrus.Logger, reg *metrics.Registry) *Dispatcher {
	return &Dispatcher{
		access:    access,
		dedup:     NewDedup(),
		debounce:  NewDebouncer(debounceMS),
		responder: responder,
		outbound:  outbound,
		model:     model,
		logger:    logger,
		metrics:   reg,
		stop:      make(chan struct{}),
	}
}

// HandleInbound runs one bridge-delivered message through the dedup and
// access-control stages, in that order (spec §4.7): a retransmission of a
// message id already seen is dropped before it is ever evaluated against
// access control, so a bridge retry of a denied sender's message does not
// re-issue a pairing code on every retry. Messages that pass debounce
// coalescing are dispatched to the agent and replied to immediately;
// messages still pending in a debounce window return with nothing to do
// yet, and will surface from the periodic Sweep instead.
func (d *Dispatcher) HandleInbound(ctx context.Context, msg types.InboundMessage) {
	if !d.dedup.Accept(msg.ChatID, msg.MessageID) {
		return
	}

	var decision Decision
	switch msg.ChatType {
	case "group":
		decision = d.access.CheckGroup(msg.ChatID, msg.Mentioned)
	default:
		decision = d.access.CheckDirect(msg.Sender)
	}
	if !decision.Allowed {
		if decision.PairingCode != "" {
			d.logger.WithField("chat_id", msg.ChatID).Info("issued pairing code")
			d.outbound.SendText(ctx, msg.ChatID, "Pairing code: "+decision.PairingCode)
		}
		return
	}

	flushed, ready := d.debounce.Enqueue(msg)
	if !ready {
		return
	}
	d.respondToFlush(ctx, flushed)
}

func (d *Dispatcher) respondToFlush(ctx context.Context, flushed []types.InboundMessage) {
	for _, combined := range flushed {
		messages := []types.Message{{Role: "user", Content: combined.Body}}
		resp, err := d.responder.Handle(ctx, d.model, messages, nil, nil)
		if err != nil {
			d.logger.WithError(err).WithField("chat_id", combined.ChatID).Warn("agent dispatch failed")
			d.outbound.SendText(ctx, combined.ChatID, "Sorry, I couldn't process that right now.")
			continue
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if _, err := d.outbound.SendText(ctx, combined.ChatID, resp.Choices[0].Message.Content); err != nil {
			d.logger.WithError(err).WithField("chat_id", combined.ChatID).Warn("outbound send failed")
		}
	}
}

// Run starts the periodic dedup/pairing/debounce sweep loop, blocking until ctx
// is canceled or Stop is called.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case <-ticker.C:
			d.dedup.Sweep()
			d.access.PurgeExpiredPairings()
			flushed := d.debounce.Sweep()
			if d.metrics != nil {
				d.metrics.DedupQueueDepth.Set(float64(d.dedup.Len()))
				d.metrics.DebounceQueueDepth.Set(float64(d.debounce.Len()))
			}
			if len(flushed) > 0 {
				d.respondToFlush(ctx, flushed)
			}
		}
	}
}

// Stop ends the Run loop.
func (d *Dispatcher) Stop() {
	close(d.stop)
}
