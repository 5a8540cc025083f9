package asyncapi

import (
	"context"
	"time"

	"github.com/specgate/specgate/errors"
	"github.com/specgate/specgate/protocol"
	"github.com/specgate/specgate/types"
)

// Executor runs pub/sub wire requests over a channel protocol adapter. It
// wraps payloads in envelopes, manages the connect step, and maps the two
// channel operations onto the PubSub contract.
type Executor struct{}

// NewExecutor creates a pub/sub executor
func NewExecutor() *Executor { return &Executor{} }

// Family returns the pub/sub spec family
func (e *Executor) Family() types.SpecFamily { return types.FamilyPubSub }

// Execute performs one publish or subscribe operation over the adapter.
// Subscribe requests return the subscription handle; delivered messages flow
// through the adapter's dispatcher, not the response.
func (e *Executor) Execute(
	ctx context.Context, adapter protocol.Adapter, req *types.WireRequest,
) (*types.WireResponse, error) {
	ps, ok := adapter.(protocol.PubSub)
	if !ok {
		return nil, errors.NewKind(errors.KindUnsupportedProtocol,
			"Executor", "Execute", "pubsub endpoints require a channel adapter, got %q",
			string(adapter.Protocol()))
	}

	started := time.Now()

	connID, err := ps.Connect(ctx, req.Server)
	if err != nil {
		return nil, errors.Wrap(err, "Executor", "Execute", "connect to "+req.Server)
	}

	env := protocol.NewEnvelope(req.Address, string(req.Operation), flatten(req.Headers), req.Body)

	switch req.Operation {
	case types.OpPublish:
		if err := ps.Publish(ctx, connID, req.Address, env); err != nil {
			return nil, errors.Wrap(err, "Executor", "Execute", "publish to "+req.Address)
		}
		return &types.WireResponse{
			Protocol:  adapter.Protocol(),
			MessageID: env.ID,
			LatencyMs: time.Since(started).Milliseconds(),
		}, nil

	case types.OpSubscribe:
		subID, err := ps.Subscribe(ctx, connID, req.Address, noopHandler)
		if err != nil {
			return nil, errors.Wrap(err, "Executor", "Execute", "subscribe to "+req.Address)
		}
		return &types.WireResponse{
			Protocol:       adapter.Protocol(),
			SubscriptionID: subID,
			LatencyMs:      time.Since(started).Milliseconds(),
		}, nil

	default:
		return nil, errors.NewKind(errors.KindUnsupportedProtocol,
			"Executor", "Execute", "operation %q is not a channel operation",
			string(req.Operation))
	}
}

// noopHandler drops inbound messages; callers who need delivery register
// their own handler through SubscribeWith.
func noopHandler(protocol.Envelope) {}

// SubscribeWith performs a subscribe operation delivering inbound messages to
// the given handler.
func (e *Executor) SubscribeWith(
	ctx context.Context, adapter protocol.Adapter, req *types.WireRequest,
	handler protocol.MessageHandler,
) (*types.WireResponse, error) {
	ps, ok := adapter.(protocol.PubSub)
	if !ok {
		return nil, errors.NewKind(errors.KindUnsupportedProtocol,
			"Executor", "SubscribeWith", "pubsub endpoints require a channel adapter, got %q",
			string(adapter.Protocol()))
	}

	started := time.Now()

	connID, err := ps.Connect(ctx, req.Server)
	if err != nil {
		return nil, errors.Wrap(err, "Executor", "SubscribeWith", "connect to "+req.Server)
	}
	subID, err := ps.Subscribe(ctx, connID, req.Address, handler)
	if err != nil {
		return nil, errors.Wrap(err, "Executor", "SubscribeWith", "subscribe to "+req.Address)
	}
	return &types.WireResponse{
		Protocol:       adapter.Protocol(),
		SubscriptionID: subID,
		LatencyMs:      time.Since(started).Milliseconds(),
	}, nil
}

// flatten reduces multi-valued headers to their first value for envelope metadata
func flatten(headers map[string][]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for key, values := range headers {
		if len(values) > 0 {
			out[key] = values[0]
		}
	}
	return out
}
