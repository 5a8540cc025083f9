// Package amqpadapter executes publish and subscribe operations against AMQP
// 0-9-1 brokers, caching one connection per broker URL. Channels map to
// queues on the default exchange.
package amqpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/specgate/specgate/errors"
	"github.com/specgate/specgate/protocol"
	"github.com/specgate/specgate/types"
)

// Config holds configuration for the AMQP adapter
type Config struct {
	ConnectTimeout int  `json:"connect_timeout"`
	DurableQueues  bool `json:"durable_queues"`
	AutoAck        bool `json:"auto_ack"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.ConnectTimeout < 0 || c.ConnectTimeout > 300 {
		return errors.Wrap(errors.ErrInvalidConfig, "Config", "Validate",
			"connect_timeout must be between 0 and 300 seconds")
	}
	return nil
}

// DefaultConfig returns default configuration for the AMQP adapter
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 10,
		DurableQueues:  true,
		AutoAck:        true,
	}
}

// amqpConn bundles a broker connection with its single channel
type amqpConn struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Adapter speaks AMQP 0-9-1. One connection with one channel is held per
// broker URL and reused across publishes and subscriptions.
type Adapter struct {
	config     Config
	logger     *slog.Logger
	conns      *protocol.Connections
	dispatcher *protocol.Dispatcher
}

// New creates an AMQP adapter with the given configuration
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

// NewDefault creates an AMQP adapter with default configuration
func NewDefault() (protocol.Adapter, error) {
	return New(DefaultConfig(), nil)
}

// Protocol returns the protocol this adapter speaks
func (a *Adapter) Protocol() types.Protocol { return types.ProtocolAMQP }

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
			Protocol:  types.ProtocolAMQP,
			MessageID: env.ID,
			LatencyMs: time.Since(started).Milliseconds(),
		}, nil
	case types.OpSubscribe:
		subID, err := a.Subscribe(ctx, connID, req.Address, func(protocol.Envelope) {})
		if err != nil {
			return nil, err
		}
		return &types.WireResponse{
			Protocol:       types.ProtocolAMQP,
			SubscriptionID: subID,
			LatencyMs:      time.Since(started).Milliseconds(),
		}, nil
	default:
		return nil, errors.NewKind(errors.KindUnsupportedProtocol,
			"Adapter", "Execute", "operation %q is not a channel operation", string(req.Operation))
	}
}

// Connect returns the cached connection for a broker URL, dialing when absent
func (a *Adapter) Connect(_ context.Context, server string) (string, error) {
	if entry, ok := a.conns.ByServer(server); ok {
		return entry.ID, nil
	}

	conn, err := amqp.DialConfig(server, amqp.Config{
		Dial: amqp.DefaultDial(time.Duration(a.config.ConnectTimeout) * time.Second),
	})
	if err != nil {
		return "", errors.WrapKind(errors.KindTransportConnection, err,
			"Adapter", "Connect", "dial "+server)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return "", errors.WrapKind(errors.KindTransportConnection, err,
			"Adapter", "Connect", "open channel on "+server)
	}

	entry := a.conns.Add(server, &amqpConn{conn: conn, ch: ch})
	a.logger.Info("amqp connection established", "server", server, "conn_id", entry.ID)
	return entry.ID, nil
}

// Publish sends one enveloped message to a queue via the default exchange
func (a *Adapter) Publish(ctx context.Context, connID, channel string, env protocol.Envelope) error {
	ac, err := a.channel(connID)
	if err != nil {
		return err
	}
	if _, err := a.declareQueue(ac, channel); err != nil {
		return errors.Wrap(err, "Adapter", "Publish", "declare queue "+channel)
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "Adapter", "Publish", "encode envelope")
	}
	err = ac.ch.PublishWithContext(ctx, "", channel, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   env.ID,
		Timestamp:   env.Timestamp,
		Body:        payload,
	})
	if err != nil {
		return errors.WrapKind(errors.KindTransportConnection, err,
			"Adapter", "Publish", "publish to "+channel)
	}
	return nil
}

// Subscribe registers a handler for messages on a queue
func (a *Adapter) Subscribe(_ context.Context, connID, channel string, handler protocol.MessageHandler) (string, error) {
	ac, err := a.channel(connID)
	if err != nil {
		return "", err
	}
	if _, err := a.declareQueue(ac, channel); err != nil {
		return "", errors.Wrap(err, "Adapter", "Subscribe", "declare queue "+channel)
	}

	entry, err := a.conns.AddSub(connID, channel, nil)
	if err != nil {
		return "", err
	}
	subID := entry.ID
	entry.Cancel = func() error { return ac.ch.Cancel(subID, false) }

	deliveries, err := ac.ch.Consume(channel, subID, a.config.AutoAck, false, false, false, nil)
	if err != nil {
		a.conns.RemoveSub(subID)
		return "", errors.WrapKind(errors.KindTransportConnection, err,
			"Adapter", "Subscribe", "consume from "+channel)
	}

	a.dispatcher.Register(subID, handler)
	go func() {
		for msg := range deliveries {
			a.dispatcher.Deliver(subID, decode(channel, msg.Body))
			if !a.config.AutoAck {
				_ = msg.Ack(false)
			}
		}
	}()
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
		return errors.Wrap(err, "Adapter", "Unsubscribe", "cancel consumer")
	}
	return nil
}

// Disconnect closes a connection after tearing down its subscriptions
func (a *Adapter) Disconnect(_ context.Context, connID string) error {
	entry, subs := a.conns.RemoveConn(connID)
	if entry == nil {
		return errors.Wrap(errors.ErrNoConnection, "Adapter", "Disconnect", "connection lookup")
	}
	for _, sub := range subs {
		a.dispatcher.Unregister(sub.ID)
		if err := sub.Cancel(); err != nil {
			a.logger.Warn("consumer cancel during disconnect failed",
				"subscription", sub.ID, "channel", sub.Channel, "error", err)
		}
	}
	if ac, ok := entry.Conn.(*amqpConn); ok {
		_ = ac.ch.Close()
		return ac.conn.Close()
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

func (a *Adapter) channel(connID string) (*amqpConn, error) {
	entry, ok := a.conns.ByID(connID)
	if !ok {
		return nil, errors.Wrap(errors.ErrNoConnection, "Adapter", "channel", "connection lookup")
	}
	ac, ok := entry.Conn.(*amqpConn)
	if !ok || ac.conn.IsClosed() {
		return nil, errors.WrapKind(errors.KindTransportConnection, errors.ErrNoConnection,
			"Adapter", "channel", "connection state check")
	}
	return ac, nil
}

func (a *Adapter) declareQueue(ac *amqpConn, name string) (amqp.Queue, error) {
	return ac.ch.QueueDeclare(name, a.config.DurableQueues, false, false, false, nil)
}

func decode(channel string, data []byte) protocol.Envelope {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err == nil && env.ID != "" {
		return env
	}
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		payload = string(data)
	}
	return protocol.NewEnvelope(channel, string(types.OpSubscribe), nil, payload)
}
