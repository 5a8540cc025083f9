// Package natsadapter executes publish and subscribe operations against NATS
// servers, caching one connection per server URL.
package natsadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/specgate/specgate/errors"
	"github.com/specgate/specgate/protocol"
	"github.com/specgate/specgate/types"
)

// Config holds configuration for the NATS adapter
type Config struct {
	ConnectTimeout int `json:"connect_timeout"`
	MaxReconnects  int `json:"max_reconnects"`
	ReconnectWait  int `json:"reconnect_wait"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.ConnectTimeout < 0 || c.ConnectTimeout > 300 {
		return errors.Wrap(errors.ErrInvalidConfig, "Config", "Validate",
			"connect_timeout must be between 0 and 300 seconds")
	}
	return nil
}

// DefaultConfig returns default configuration for the NATS adapter
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 10,
		MaxReconnects:  5,
		ReconnectWait:  2,
	}
}

// Adapter speaks the NATS protocol. One connection is held per server URL
// and reused across publishes and subscriptions.
type Adapter struct {
	config     Config
	logger     *slog.Logger
	conns      *protocol.Connections
	dispatcher *protocol.Dispatcher
}

// New creates a NATS adapter with the given configuration
func New(config Config, logger *slog.Logger) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		config:     config,
		logger:     logger,
		conns:      protocol.NewConnections(),
		dispatcher: protocol.NewDispatcher(logger),
	}, nil
}

// NewDefault creates a NATS adapter with default configuration
func NewDefault() (protocol.Adapter, error) {
	return New(DefaultConfig(), nil)
}

// Protocol returns the protocol this adapter speaks
func (a *Adapter) Protocol() types.Protocol { return types.ProtocolNATS }

// Execute runs one publish or subscribe request end to end
func (a *Adapter) Execute(ctx context.Context, req *types.WireRequest) (*types.WireResponse, error) {
	started := time.Now()

	connID, err := a.Connect(ctx, req.Server)
	if err != nil {
		return nil, err
	}

	switch req.Operation {
	case types.OpPublish:
		env := protocol.NewEnvelope(req.Address, string(req.Operation), nil, req.Body)
		if err := a.Publish(ctx, connID, req.Address, env); err != nil {
			return nil, err
		}
		return &types.WireResponse{
			Protocol:  types.ProtocolNATS,
			MessageID: env.ID,
			LatencyMs: time.Since(started).Milliseconds(),
		}, nil
	case types.OpSubscribe:
		subID, err := a.Subscribe(ctx, connID, req.Address, func(protocol.Envelope) {})
		if err != nil {
			return nil, err
		}
		return &types.WireResponse{
			Protocol:       types.ProtocolNATS,
			SubscriptionID: subID,
			LatencyMs:      time.Since(started).Milliseconds(),
		}, nil
	default:
		return nil, errors.NewKind(errors.KindUnsupportedProtocol,
			"Adapter", "Execute", "operation %q is not a channel operation", string(req.Operation))
	}
}

// Connect returns the cached connection for a server URL, dialing when absent
func (a *Adapter) Connect(_ context.Context, server string) (string, error) {
	if entry, ok := a.conns.ByServer(server); ok {
		return entry.ID, nil
	}

	conn, err := nats.Connect(server,
		nats.Timeout(time.Duration(a.config.ConnectTimeout)*time.Second),
		nats.MaxReconnects(a.config.MaxReconnects),
		nats.ReconnectWait(time.Duration(a.config.ReconnectWait)*time.Second),
	)
	if err != nil {
		return "", errors.WrapKind(errors.KindTransportConnection, err,
			"Adapter", "Connect", "dial "+server)
	}

	entry := a.conns.Add(server, conn)
	a.logger.Info("nats connection established", "server", server, "conn_id", entry.ID)
	return entry.ID, nil
}

// Publish sends one enveloped message to a subject
func (a *Adapter) Publish(_ context.Context, connID, channel string, env protocol.Envelope) error {
	conn, err := a.conn(connID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "Adapter", "Publish", "encode envelope")
	}
	if err := conn.Publish(channel, payload); err != nil {
		return errors.WrapKind(errors.KindTransportConnection, err,
			"Adapter", "Publish", "publish to "+channel)
	}
	return nil
}

// Subscribe registers a handler for messages on a subject
func (a *Adapter) Subscribe(_ context.Context, connID, channel string, handler protocol.MessageHandler) (string, error) {
	conn, err := a.conn(connID)
	if err != nil {
		return "", err
	}

	// Messages can arrive before the subscription handle is registered;
	// gate delivery until the ID is known.
	ready := make(chan struct{})
	var subID string
	sub, err := conn.Subscribe(channel, func(msg *nats.Msg) {
		<-ready
		a.dispatcher.Deliver(subID, decode(channel, msg.Data))
	})
	if err != nil {
		return "", errors.WrapKind(errors.KindTransportConnection, err,
			"Adapter", "Subscribe", "subscribe to "+channel)
	}

	entry, err := a.conns.AddSub(connID, channel, sub.Unsubscribe)
	if err != nil {
		close(ready)
		_ = sub.Unsubscribe()
		return "", err
	}
	subID = entry.ID
	a.dispatcher.Register(subID, handler)
	close(ready)
	return subID, nil
}

// Unsubscribe tears down one subscription
func (a *Adapter) Unsubscribe(subID string) error {
	sub, ok := a.conns.RemoveSub(subID)
	if !ok {
		return errors.Wrap(errors.ErrNotFound, "Adapter", "Unsubscribe", "subscription lookup")
	}
	a.dispatcher.Unregister(subID)
	if err := sub.Cancel(); err != nil {
		return errors.Wrap(err, "Adapter", "Unsubscribe", "cancel subscription")
	}
	return nil
}

// Disconnect drains a connection after tearing down its subscriptions
func (a *Adapter) Disconnect(_ context.Context, connID string) error {
	entry, subs := a.conns.RemoveConn(connID)
	if entry == nil {
		return errors.Wrap(errors.ErrNoConnection, "Adapter", "Disconnect", "connection lookup")
	}
	for _, sub := range subs {
		a.dispatcher.Unregister(sub.ID)
		if err := sub.Cancel(); err != nil {
			a.logger.Warn("unsubscribe during disconnect failed",
				"subscription", sub.ID, "channel", sub.Channel, "error", err)
		}
	}
	if conn, ok := entry.Conn.(*nats.Conn); ok {
		if err := conn.Drain(); err != nil {
			conn.Close()
		}
	}
	return nil
}

// Close disconnects every cached connection and stops the dispatcher
func (a *Adapter) Close(ctx context.Context) error {
	var firstErr error
	for _, entry := range a.conns.All() {
		if err := a.Disconnect(ctx, entry.ID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.dispatcher.Close()
	return firstErr
}

func (a *Adapter) conn(connID string) (*nats.Conn, error) {
	entry, ok := a.conns.ByID(connID)
	if !ok {
		return nil, errors.Wrap(errors.ErrNoConnection, "Adapter", "conn", "connection lookup")
	}
	conn, ok := entry.Conn.(*nats.Conn)
	if !ok || !conn.IsConnected() {
		return nil, errors.WrapKind(errors.KindTransportConnection, errors.ErrNoConnection,
			"Adapter", "conn", "connection state check")
	}
	return conn, nil
}

// decode unwraps an inbound payload into an envelope. Payloads published by
// other producers arrive unenveloped and are wrapped as-is.
func decode(channel string, data []byte) protocol.Envelope {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err == nil && env.ID != "" {
		return env
	}
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		payload = string(data)
	}
	env = protocol.NewEnvelope(channel, string(types.OpSubscribe), nil, payload)
	return env
}
