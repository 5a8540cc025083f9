// Package mqttadapter executes publish and subscribe operations against MQTT
// brokers, caching one client per broker URL.
package mqttadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/specgate/specgate/errors"
	"github.com/specgate/specgate/protocol"
	"github.com/specgate/specgate/types"
)

// Config holds configuration for the MQTT adapter
type Config struct {
	ConnectTimeout int  `json:"connect_timeout"`
	QoS            byte `json:"qos"`
	CleanSession   bool `json:"clean_session"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.ConnectTimeout < 0 || c.ConnectTimeout > 300 {
		return errors.Wrap(errors.ErrInvalidConfig, "Config", "Validate",
			"connect_timeout must be between 0 and 300 seconds")
	}
	if c.QoS > 2 {
		return errors.Wrap(errors.ErrInvalidConfig, "Config", "Validate",
			"qos must be 0, 1 or 2")
	}
	return nil
}

// DefaultConfig returns default configuration for the MQTT adapter
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 10,
		QoS:            1,
		CleanSession:   true,
	}
}

// Adapter speaks the MQTT protocol. One client is held per broker URL and
// reused across publishes and subscriptions.
type Adapter struct {
	config     Config
	logger     *slog.Logger
	conns      *protocol.Connections
	dispatcher *protocol.Dispatcher
}

// New creates an MQTT adapter with the given configuration
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

// NewDefault creates an MQTT adapter with default configuration
func NewDefault() (protocol.Adapter, error) {
	return New(DefaultConfig(), nil)
}

// Protocol returns the protocol this adapter speaks
func (a *Adapter) Protocol() types.Protocol { return types.ProtocolMQTT }

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
			Protocol:  types.ProtocolMQTT,
			MessageID: env.ID,
			LatencyMs: time.Since(started).Milliseconds(),
		}, nil
	case types.OpSubscribe:
		subID, err := a.Subscribe(ctx, connID, req.Address, func(protocol.Envelope) {})
		if err != nil {
			return nil, err
		}
		return &types.WireResponse{
			Protocol:       types.ProtocolMQTT,
			SubscriptionID: subID,
			LatencyMs:      time.Since(started).Milliseconds(),
		}, nil
	default:
		return nil, errors.NewKind(errors.KindUnsupportedProtocol,
			"Adapter", "Execute", "operation %q is not a channel operation", string(req.Operation))
	}
}

// Connect returns the cached client for a broker URL, dialing when absent
func (a *Adapter) Connect(_ context.Context, server string) (string, error) {
	if entry, ok := a.conns.ByServer(server); ok {
		return entry.ID, nil
	}

	timeout := time.Duration(a.config.ConnectTimeout) * time.Second
	opts := mqtt.NewClientOptions().
		AddBroker(server).
		SetClientID("specgate-" + uuid.NewString()[:8]).
		SetConnectTimeout(timeout).
		SetCleanSession(a.config.CleanSession)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return "", errors.NewKind(errors.KindTransportTimeout,
			"Adapter", "Connect", "connect to %s timed out", server)
	}
	if err := token.Error(); err != nil {
		return "", errors.WrapKind(errors.KindTransportConnection, err,
			"Adapter", "Connect", "dial "+server)
	}

	entry := a.conns.Add(server, client)
	a.logger.Info("mqtt connection established", "server", server, "conn_id", entry.ID)
	return entry.ID, nil
}

// Publish sends one enveloped message to a topic
func (a *Adapter) Publish(_ context.Context, connID, channel string, env protocol.Envelope) error {
	client, err := a.client(connID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "Adapter", "Publish", "encode envelope")
	}
	token := client.Publish(channel, a.config.QoS, false, payload)
	if !token.WaitTimeout(protocol.DefaultTimeout) {
		return errors.NewKind(errors.KindTransportTimeout,
			"Adapter", "Publish", "publish to %s timed out", channel)
	}
	if err := token.Error(); err != nil {
		return errors.WrapKind(errors.KindTransportConnection, err,
			"Adapter", "Publish", "publish to "+channel)
	}
	return nil
}

// Subscribe registers a handler for messages on a topic filter
func (a *Adapter) Subscribe(_ context.Context, connID, channel string, handler protocol.MessageHandler) (string, error) {
	client, err := a.client(connID)
	if err != nil {
		return "", err
	}

	ready := make(chan struct{})
	var subID string
	token := client.Subscribe(channel, a.config.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		<-ready
		a.dispatcher.Deliver(subID, decode(msg.Topic(), msg.Payload()))
	})
	if !token.WaitTimeout(protocol.DefaultTimeout) {
		close(ready)
		return "", errors.NewKind(errors.KindTransportTimeout,
			"Adapter", "Subscribe", "subscribe to %s timed out", channel)
	}
	if err := token.Error(); err != nil {
		close(ready)
		return "", errors.WrapKind(errors.KindTransportConnection, err,
			"Adapter", "Subscribe", "subscribe to "+channel)
	}

	entry, err := a.conns.AddSub(connID, channel, func() error {
		t := client.Unsubscribe(channel)
		t.WaitTimeout(protocol.DefaultTimeout)
		return t.Error()
	})
	if err != nil {
		close(ready)
		client.Unsubscribe(channel)
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

// Disconnect closes a client after tearing down its subscriptions
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
	if client, ok := entry.Conn.(mqtt.Client); ok {
		client.Disconnect(250)
	}
	return nil
}

// Close disconnects every cached client and stops the dispatcher
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

func (a *Adapter) client(connID string) (mqtt.Client, error) {
	entry, ok := a.conns.ByID(connID)
	if !ok {
		return nil, errors.Wrap(errors.ErrNoConnection, "Adapter", "client", "connection lookup")
	}
	client, ok := entry.Conn.(mqtt.Client)
	if !ok || !client.IsConnected() {
		return nil, errors.WrapKind(errors.KindTransportConnection, errors.ErrNoConnection,
			"Adapter", "client", "connection state check")
	}
	return client, nil
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
