// Package protocol defines the adapter boundary between the gateway core and
// the wire protocols it speaks. Request/response protocols implement Adapter;
// pub/sub protocols additionally implement PubSub, managing long-lived
// connections and subscriptions instead of one-shot calls.
package protocol

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/specgate/specgate/types"
)

// DefaultTimeout bounds one outbound wire call when the request carries none
const DefaultTimeout = 30 * time.Second

// Adapter executes a built request over one specific wire protocol
type Adapter interface {
	// Protocol returns the protocol this adapter speaks
	Protocol() types.Protocol

	// Execute runs one wire request and returns the normalized response.
	// Any backend status is a structurally successful call; only
	// transport-level failures return an error.
	Execute(ctx context.Context, req *types.WireRequest) (*types.WireResponse, error)

	// Close releases all resources held by the adapter
	Close(ctx context.Context) error
}

// MessageHandler is invoked once per inbound message on a subscription.
// Handlers run on a dispatch worker, decoupled from the connection's read
// loop; a panicking handler is recovered and logged, never allowed to tear
// down the connection.
type MessageHandler func(env Envelope)

// PubSub is the contract for channel-based protocols. Connections are cached
// by server identity; disconnecting a connection tears down every
// subscription that depends on it.
type PubSub interface {
	Adapter

	// Connect establishes (or reuses) a connection to the given server and
	// returns its handle. Connection failures are reported synchronously.
	Connect(ctx context.Context, server string) (string, error)

	// Publish sends an enveloped message to a channel over a connection
	Publish(ctx context.Context, connID, channel string, env Envelope) error

	// Subscribe registers a handler for inbound messages on a channel and
	// returns the subscription handle.
	Subscribe(ctx context.Context, connID, channel string, handler MessageHandler) (string, error)

	// Unsubscribe tears down one subscription
	Unsubscribe(subID string) error

	// Disconnect tears down a connection and all of its subscriptions
	Disconnect(ctx context.Context, connID string) error
}

// Envelope wraps a published payload with correlation metadata
type Envelope struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Channel   string            `json:"channel"`
	Operation string            `json:"operation"`
	Headers   map[string]string `json:"headers,omitempty"`
	Payload   any               `json:"payload"`
}

// NewEnvelope wraps a payload for publication on a channel
func NewEnvelope(channel, operation string, headers map[string]string, payload any) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Channel:   channel,
		Operation: operation,
		Headers:   headers,
		Payload:   payload,
	}
}

// Timeout returns the request's timeout, falling back to the default
func Timeout(req *types.WireRequest) time.Duration {
	if req.TimeoutSeconds > 0 {
		return time.Duration(req.TimeoutSeconds) * time.Second
	}
	return DefaultTimeout
}
