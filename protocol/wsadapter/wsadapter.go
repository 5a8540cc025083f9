// Package wsadapter executes publish and subscribe operations over
// WebSocket connections. The socket is a single duplex stream; every
// subscription on a connection sees every inbound message.
package wsadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/specgate/specgate/errors"
	"github.com/specgate/specgate/protocol"
	"github.com/specgate/specgate/types"
)

// Config holds configuration for the WebSocket adapter
type Config struct {
	ConnectTimeout int `json:"connect_timeout"`
	WriteTimeout   int `json:"write_timeout"`
	MaxMessageSize int `json:"max_message_size"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.ConnectTimeout < 0 || c.ConnectTimeout > 300 {
		return errors.Wrap(errors.ErrInvalidConfig, "Config", "Validate",
			"connect_timeout must be between 0 and 300 seconds")
	}
	if c.MaxMessageSize < 0 {
		return errors.Wrap(errors.ErrInvalidConfig, "Config", "Validate",
			"max_message_size must not be negative")
	}
	return nil
}

// DefaultConfig returns default configuration for the WebSocket adapter
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 10,
		WriteTimeout:   10,
		MaxMessageSize: 1 << 20,
	}
}

// wsConn serializes writes to one socket; gorilla permits one writer at a time
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	stop    chan struct{}
}

// Adapter speaks WebSocket. One socket is held per server URL; a read loop
// per socket fans inbound messages out to its subscriptions.
type Adapter struct {
	config     Config
	logger     *slog.Logger
	conns      *protocol.Connections
	dispatcher *protocol.Dispatcher

	mu       sync.Mutex
	connSubs map[string]map[string]struct{}
}

// New creates a WebSocket adapter with the given configuration
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
		connSubs:   make(map[string]map[string]struct{}),
	}, nil
}

// NewDefault creates a WebSocket adapter with default configuration
func NewDefault() (protocol.Adapter, error) {
	return New(DefaultConfig(), nil)
}

// Protocol returns the protocol this adapter speaks
func (a *Adapter) Protocol() types.Protocol { return types.ProtocolWebSocket }

// Execute runs one publish or subscribe request end to end
func (a *Adapter) Execute(ctx context.Context, req *types.WireRequest) (*types.WireResponse, error) {
	started := time.Now()

	server := req.Server
	if server == "" {
		server = req.Address
	}
	connID, err := a.Connect(ctx, server)
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
			Protocol:  types.ProtocolWebSocket,
			MessageID: env.ID,
			LatencyMs: time.Since(started).Milliseconds(),
		}, nil
	case types.OpSubscribe:
		subID, err := a.Subscribe(ctx, connID, req.Address, func(protocol.Envelope) {})
		if err != nil {
			return nil, err
		}
		return &types.WireResponse{
			Protocol:       types.ProtocolWebSocket,
			SubscriptionID: subID,
			LatencyMs:      time.Since(started).Milliseconds(),
		}, nil
	default:
		return nil, errors.NewKind(errors.KindUnsupportedProtocol,
			"Adapter", "Execute", "operation %q is not a channel operation", string(req.Operation))
	}
}

// Connect returns the cached socket for a server URL, dialing when absent
func (a *Adapter) Connect(ctx context.Context, server string) (string, error) {
	if entry, ok := a.conns.ByServer(server); ok {
		return entry.ID, nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: time.Duration(a.config.ConnectTimeout) * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, server, http.Header{})
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		if ctx.Err() != nil {
			return "", errors.WrapKind(errors.KindTransportTimeout, err,
				"Adapter", "Connect", "dial "+server)
		}
		return "", errors.WrapKind(errors.KindTransportConnection, err,
			"Adapter", "Connect", "dial "+server)
	}
	if a.config.MaxMessageSize > 0 {
		conn.SetReadLimit(int64(a.config.MaxMessageSize))
	}

	wc := &wsConn{conn: conn, stop: make(chan struct{})}
	entry := a.conns.Add(server, wc)

	a.mu.Lock()
	a.connSubs[entry.ID] = make(map[string]struct{})
	a.mu.Unlock()

	go a.readLoop(entry.ID, wc)
	a.logger.Info("websocket connection established", "server", server, "conn_id", entry.ID)
	return entry.ID, nil
}

// Publish writes one enveloped message to the socket
func (a *Adapter) Publish(_ context.Context, connID, channel string, env protocol.Envelope) error {
	wc, err := a.socket(connID)
	if err != nil {
		return err
	}
	wc.writeMu.Lock()
	defer wc.writeMu.Unlock()
	deadline := time.Now().Add(time.Duration(a.config.WriteTimeout) * time.Second)
	if err := wc.conn.SetWriteDeadline(deadline); err != nil {
		return errors.WrapKind(errors.KindTransportConnection, err,
			"Adapter", "Publish", "set write deadline")
	}
	if err := wc.conn.WriteJSON(env); err != nil {
		return errors.WrapKind(errors.KindTransportConnection, err,
			"Adapter", "Publish", "write to "+channel)
	}
	return nil
}

// Subscribe registers a handler for inbound messages on the socket
func (a *Adapter) Subscribe(_ context.Context, connID, channel string, handler protocol.MessageHandler) (string, error) {
	if _, err := a.socket(connID); err != nil {
		return "", err
	}

	entry, err := a.conns.AddSub(connID, channel, func() error { return nil })
	if err != nil {
		return "", err
	}
	subID := entry.ID
	a.dispatcher.Register(subID, handler)

	a.mu.Lock()
	if subs, ok := a.connSubs[connID]; ok {
		subs[subID] = struct{}{}
	}
	a.mu.Unlock()
	return subID, nil
}

// Unsubscribe tears down one subscription
func (a *Adapter) Unsubscribe(subID string) error {
	sub, ok := a.conns.RemoveSub(subID)
	if !ok {
		return errors.Wrap(errors.ErrNotFound, "Adapter", "Unsubscribe", "subscription lookup")
	}
	a.dispatcher.Unregister(subID)

	a.mu.Lock()
	if subs, ok := a.connSubs[sub.ConnID]; ok {
		delete(subs, subID)
	}
	a.mu.Unlock()
	return nil
}

// Disconnect closes a socket after tearing down its subscriptions
func (a *Adapter) Disconnect(_ context.Context, connID string) error {
	entry, subs := a.conns.RemoveConn(connID)
	if entry == nil {
		return errors.Wrap(errors.ErrNoConnection, "Adapter", "Disconnect", "connection lookup")
	}
	for _, sub := range subs {
		a.dispatcher.Unregister(sub.ID)
	}

	a.mu.Lock()
	delete(a.connSubs, connID)
	a.mu.Unlock()

	if wc, ok := entry.Conn.(*wsConn); ok {
		close(wc.stop)
		wc.writeMu.Lock()
		_ = wc.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		wc.writeMu.Unlock()
		return wc.conn.Close()
	}
	return nil
}

// Close disconnects every cached socket and stops the dispatcher
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

// readLoop drains the socket, fanning each inbound message out to every
// subscription on the connection.
func (a *Adapter) readLoop(connID string, wc *wsConn) {
	for {
		_, data, err := wc.conn.ReadMessage()
		if err != nil {
			select {
			case <-wc.stop:
			default:
				a.logger.Warn("websocket read loop ended", "conn_id", connID, "error", err)
			}
			return
		}
		env := decode(data)

		a.mu.Lock()
		subIDs := make([]string, 0, len(a.connSubs[connID]))
		for subID := range a.connSubs[connID] {
			subIDs = append(subIDs, subID)
		}
		a.mu.Unlock()

		for _, subID := range subIDs {
			a.dispatcher.Deliver(subID, env)
		}
	}
}

func (a *Adapter) socket(connID string) (*wsConn, error) {
	entry, ok := a.conns.ByID(connID)
	if !ok {
		return nil, errors.Wrap(errors.ErrNoConnection, "Adapter", "socket", "connection lookup")
	}
	wc, ok := entry.Conn.(*wsConn)
	if !ok {
		return nil, errors.WrapKind(errors.KindTransportConnection, errors.ErrNoConnection,
			"Adapter", "socket", "connection state check")
	}
	return wc, nil
}

func decode(data []byte) protocol.Envelope {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err == nil && env.ID != "" {
		return env
	}
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		payload = string(data)
	}
	return protocol.NewEnvelope("", string(types.OpSubscribe), nil, payload)
}
