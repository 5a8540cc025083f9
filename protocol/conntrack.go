package protocol

import (
	"sync"

	"github.com/google/uuid"

	"github.com/specgate/specgate/errors"
)

// ConnEntry is one tracked connection. Conn holds the protocol library's
// client value; adapters type-assert it back.
type ConnEntry struct {
	ID     string
	Server string
	Conn   any
	subs   map[string]*SubEntry
}

// SubEntry is one tracked subscription. Cancel runs the protocol library's
// unsubscribe when the subscription or its connection is torn down.
type SubEntry struct {
	ID      string
	ConnID  string
	Channel string
	Cancel  func() error
}

// Connections tracks the (server -> connection -> subscriptions) state every
// pub/sub adapter shares: one connection per server identity, reused across
// publishes and subscribes, with subscriptions torn down alongside it.
type Connections struct {
	mu       sync.Mutex
	byServer map[string]*ConnEntry
	byID     map[string]*ConnEntry
	subs     map[string]*SubEntry
}

// NewConnections creates an empty connection tracker
func NewConnections() *Connections {
	return &Connections{
		byServer: make(map[string]*ConnEntry),
		byID:     make(map[string]*ConnEntry),
		subs:     make(map[string]*SubEntry),
	}
}

// ByServer returns the cached connection for a server identity
func (c *Connections) ByServer(server string) (*ConnEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.byServer[server]
	return entry, ok
}

// ByID returns a connection by handle
func (c *Connections) ByID(connID string) (*ConnEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.byID[connID]
	return entry, ok
}

// Add registers a new connection and returns its entry
func (c *Connections) Add(server string, conn any) *ConnEntry {
	entry := &ConnEntry{
		ID:     uuid.NewString(),
		Server: server,
		Conn:   conn,
		subs:   make(map[string]*SubEntry),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byServer[server] = entry
	c.byID[entry.ID] = entry
	return entry
}

// AddSub registers a subscription on an existing connection
func (c *Connections) AddSub(connID, channel string, cancel func() error) (*SubEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.byID[connID]
	if !ok {
		return nil, errors.Wrap(errors.ErrNoConnection, "Connections", "AddSub", "connection lookup")
	}
	sub := &SubEntry{
		ID:      uuid.NewString(),
		ConnID:  connID,
		Channel: channel,
		Cancel:  cancel,
	}
	entry.subs[sub.ID] = sub
	c.subs[sub.ID] = sub
	return sub, nil
}

// RemoveSub detaches a subscription and returns it for cancellation
func (c *Connections) RemoveSub(subID string) (*SubEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[subID]
	if !ok {
		return nil, false
	}
	delete(c.subs, subID)
	if entry, ok := c.byID[sub.ConnID]; ok {
		delete(entry.subs, subID)
	}
	return sub, true
}

// RemoveConn detaches a connection and returns it with its remaining
// subscriptions, which the caller must cancel before closing the connection.
func (c *Connections) RemoveConn(connID string) (*ConnEntry, []*SubEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.byID[connID]
	if !ok {
		return nil, nil
	}
	delete(c.byID, connID)
	delete(c.byServer, entry.Server)

	subs := make([]*SubEntry, 0, len(entry.subs))
	for id, sub := range entry.subs {
		subs = append(subs, sub)
		delete(c.subs, id)
	}
	entry.subs = make(map[string]*SubEntry)
	return entry, subs
}

// All returns every tracked connection, for shutdown
func (c *Connections) All() []*ConnEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := make([]*ConnEntry, 0, len(c.byID))
	for _, entry := range c.byID {
		entries = append(entries, entry)
	}
	return entries
}
