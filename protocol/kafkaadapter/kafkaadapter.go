// Package kafkaadapter executes publish and subscribe operations against
// Kafka clusters. Channels map to topics; one shared writer is held per
// broker address and each subscription runs its own reader.
package kafkaadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/specgate/specgate/errors"
	"github.com/specgate/specgate/protocol"
	"github.com/specgate/specgate/types"
)

// Config holds configuration for the Kafka adapter
type Config struct {
	BatchTimeout int    `json:"batch_timeout_ms"`
	GroupID      string `json:"group_id"`
	MinBytes     int    `json:"min_bytes"`
	MaxBytes     int    `json:"max_bytes"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.BatchTimeout < 0 {
		return errors.Wrap(errors.ErrInvalidConfig, "Config", "Validate",
			"batch_timeout_ms must not be negative")
	}
	if c.MaxBytes != 0 && c.MinBytes > c.MaxBytes {
		return errors.Wrap(errors.ErrInvalidConfig, "Config", "Validate",
			"min_bytes must not exceed max_bytes")
	}
	return nil
}

// DefaultConfig returns default configuration for the Kafka adapter
func DefaultConfig() Config {
	return Config{
		BatchTimeout: 100,
		GroupID:      "specgate",
		MinBytes:     1,
		MaxBytes:     10 << 20,
	}
}

// kafkaConn bundles the shared writer with the broker list it writes to
type kafkaConn struct {
	brokers []string
	writer  *kafka.Writer
}

// Adapter speaks the Kafka protocol
type Adapter struct {
	config     Config
	logger     *slog.Logger
	conns      *protocol.Connections
	dispatcher *protocol.Dispatcher
}

// New creates a Kafka adapter with the given configuration
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

// NewDefault creates a Kafka adapter with default configuration
func NewDefault() (protocol.Adapter, error) {
	return New(DefaultConfig(), nil)
}

// Protocol returns the protocol this adapter speaks
func (a *Adapter) Protocol() types.Protocol { return types.ProtocolKafka }

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
			Protocol:  types.ProtocolKafka,
			MessageID: env.ID,
			LatencyMs: time.Since(started).Milliseconds(),
		}, nil
	case types.OpSubscribe:
		subID, err := a.Subscribe(ctx, connID, req.Address, func(protocol.Envelope) {})
		if err != nil {
			return nil, err
		}
		return &types.WireResponse{
			Protocol:       types.ProtocolKafka,
			SubscriptionID: subID,
			LatencyMs:      time.Since(started).Milliseconds(),
		}, nil
	default:
		return nil, errors.NewKind(errors.KindUnsupportedProtocol,
			"Adapter", "Execute", "operation %q is not a channel operation", string(req.Operation))
	}
}

// Connect returns the cached writer handle for a broker list. Kafka sessions
// are cheap; the writer dials lazily on first publish.
func (a *Adapter) Connect(_ context.Context, server string) (string, error) {
	if entry, ok := a.conns.ByServer(server); ok {
		return entry.ID, nil
	}

	brokers := splitBrokers(server)
	if len(brokers) == 0 {
		return "", errors.NewKind(errors.KindTransportConnection,
			"Adapter", "Connect", "no broker address in %q", server)
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           time.Duration(a.config.BatchTimeout) * time.Millisecond,
		AllowAutoTopicCreation: true,
	}

	entry := a.conns.Add(server, &kafkaConn{brokers: brokers, writer: writer})
	a.logger.Info("kafka writer created", "server", server, "conn_id", entry.ID)
	return entry.ID, nil
}

// Publish sends one enveloped message to a topic
func (a *Adapter) Publish(ctx context.Context, connID, channel string, env protocol.Envelope) error {
	kc, err := a.conn(connID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "Adapter", "Publish", "encode envelope")
	}
	err = kc.writer.WriteMessages(ctx, kafka.Message{
		Topic: channel,
		Key:   []byte(env.ID),
		Value: payload,
		Time:  env.Timestamp,
	})
	if err != nil {
		if ctx.Err() != nil {
			return errors.WrapKind(errors.KindTransportTimeout, err,
				"Adapter", "Publish", "publish to "+channel)
		}
		return errors.WrapKind(errors.KindTransportConnection, err,
			"Adapter", "Publish", "publish to "+channel)
	}
	return nil
}

// Subscribe starts a reader loop for a topic
func (a *Adapter) Subscribe(_ context.Context, connID, channel string, handler protocol.MessageHandler) (string, error) {
	kc, err := a.conn(connID)
	if err != nil {
		return "", err
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kc.brokers,
		Topic:    channel,
		GroupID:  a.config.GroupID,
		MinBytes: a.config.MinBytes,
		MaxBytes: a.config.MaxBytes,
	})

	entry, err := a.conns.AddSub(connID, channel, reader.Close)
	if err != nil {
		_ = reader.Close()
		return "", err
	}
	subID := entry.ID
	a.dispatcher.Register(subID, handler)

	go func() {
		for {
			msg, err := reader.ReadMessage(context.Background())
			if err != nil {
				// Close surfaces as an error; the loop ends with the reader
				return
			}
			a.dispatcher.Deliver(subID, decode(msg.Topic, msg.Value))
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
		return errors.Wrap(err, "Adapter", "Unsubscribe", "close reader")
	}
	return nil
}

// Disconnect closes the writer after tearing down its subscriptions
func (a *Adapter) Disconnect(_ context.Context, connID string) error {
	entry, subs := a.conns.RemoveConn(connID)
	if entry == nil {
		return errors.Wrap(errors.ErrNoConnection, "Adapter", "Disconnect", "connection lookup")
	}
	for _, sub := range subs {
		a.dispatcher.Unregister(sub.ID)
		if err := sub.Cancel(); err != nil {
			a.logger.Warn("reader close during disconnect failed",
				"subscription", sub.ID, "channel", sub.Channel, "error", err)
		}
	}
	if kc, ok := entry.Conn.(*kafkaConn); ok {
		return kc.writer.Close()
	}
	return nil
}

// Close disconnects every cached writer and stops the dispatcher
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

func (a *Adapter) conn(connID string) (*kafkaConn, error) {
	entry, ok := a.conns.ByID(connID)
	if !ok {
		return nil, errors.Wrap(errors.ErrNoConnection, "Adapter", "conn", "connection lookup")
	}
	kc, ok := entry.Conn.(*kafkaConn)
	if !ok {
		return nil, errors.WrapKind(errors.KindTransportConnection, errors.ErrNoConnection,
			"Adapter", "conn", "connection state check")
	}
	return kc, nil
}

// splitBrokers splits a comma-separated broker list, trimming any scheme prefix
func splitBrokers(server string) []string {
	var brokers []string
	for _, broker := range strings.Split(server, ",") {
		broker = strings.TrimSpace(broker)
		broker = strings.TrimPrefix(broker, "kafka://")
		if broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
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
