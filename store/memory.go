package store

import (
	"context"
	"sort"
	"sync"

	"github.com/specgate/specgate/errors"
	"github.com/specgate/specgate/types"
)

// Memory is an in-process store. Every accessor copies on the way in and
// out, so callers can never alias the store's state.
type Memory struct {
	mu         sync.RWMutex
	specs      map[string]types.Specification
	docs       map[string]types.ApiDocument
	endpoints  map[string]types.Endpoint
	authConfs  map[string]types.AuthConfig
	authStates map[string]types.OAuth2AuthState
	userAuths  map[string]types.UserAuthorization
	users      map[string]types.User
	calls      []types.CallLog
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		specs:      make(map[string]types.Specification),
		docs:       make(map[string]types.ApiDocument),
		endpoints:  make(map[string]types.Endpoint),
		authConfs:  make(map[string]types.AuthConfig),
		authStates: make(map[string]types.OAuth2AuthState),
		userAuths:  make(map[string]types.UserAuthorization),
		users:      make(map[string]types.User),
	}
}

// SaveRegistration persists a specification, document, and endpoints in one step
func (m *Memory) SaveRegistration(_ context.Context, spec *types.Specification,
	doc *types.ApiDocument, endpoints []types.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.specs[spec.ID] = *spec
	m.docs[doc.ID] = *doc
	for _, ep := range endpoints {
		m.endpoints[ep.ID] = ep
	}
	return nil
}

// SaveSpecification stores or replaces a specification
func (m *Memory) SaveSpecification(_ context.Context, spec *types.Specification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.specs[spec.ID] = *spec
	return nil
}

// Specification returns one specification by ID
func (m *Memory) Specification(_ context.Context, id string) (*types.Specification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	spec, ok := m.specs[id]
	if !ok {
		return nil, errors.Wrap(errors.ErrNotFound, "Memory", "Specification", "lookup "+id)
	}
	return &spec, nil
}

// Specifications returns every stored specification
func (m *Memory) Specifications(_ context.Context) ([]types.Specification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Specification, 0, len(m.specs))
	for _, spec := range m.specs {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteSpecification removes a specification
func (m *Memory) DeleteSpecification(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.specs[id]; !ok {
		return errors.Wrap(errors.ErrNotFound, "Memory", "DeleteSpecification", "lookup "+id)
	}
	delete(m.specs, id)
	return nil
}

// SaveDocument stores or replaces an API document
func (m *Memory) SaveDocument(_ context.Context, doc *types.ApiDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = *doc
	return nil
}

// Document returns one API document by ID
func (m *Memory) Document(_ context.Context, id string) (*types.ApiDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, errors.Wrap(errors.ErrNotFound, "Memory", "Document", "lookup "+id)
	}
	return &doc, nil
}

// Documents returns every registered API document
func (m *Memory) Documents(_ context.Context) ([]types.ApiDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.ApiDocument, 0, len(m.docs))
	for _, doc := range m.docs {
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteDocument removes an API document and its endpoints
func (m *Memory) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return errors.Wrap(errors.ErrNotFound, "Memory", "DeleteDocument", "lookup "+id)
	}
	delete(m.docs, id)
	for epID, ep := range m.endpoints {
		if ep.ApiDocumentID == id {
			delete(m.endpoints, epID)
		}
	}
	return nil
}

// Endpoint returns one endpoint by ID
func (m *Memory) Endpoint(_ context.Context, id string) (*types.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ep, ok := m.endpoints[id]
	if !ok {
		return nil, errors.NewKind(errors.KindEndpointNotFound,
			"Memory", "Endpoint", "endpoint %q", id)
	}
	return &ep, nil
}

// EndpointsByDocument returns every endpoint of one API document
func (m *Memory) EndpointsByDocument(_ context.Context, docID string) ([]types.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.Endpoint
	for _, ep := range m.endpoints {
		if ep.ApiDocumentID == docID {
			out = append(out, ep)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AddressPattern != out[j].AddressPattern {
			return out[i].AddressPattern < out[j].AddressPattern
		}
		return out[i].Operation < out[j].Operation
	})
	return out, nil
}

// UpdateCallStats folds one call outcome into an endpoint's statistics
func (m *Memory) UpdateCallStats(_ context.Context, endpointID string, success bool, latencyMs int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ep, ok := m.endpoints[endpointID]
	if !ok {
		return errors.NewKind(errors.KindEndpointNotFound,
			"Memory", "UpdateCallStats", "endpoint %q", endpointID)
	}
	ep.Stats = foldStats(ep.Stats, success, latencyMs)
	m.endpoints[endpointID] = ep
	return nil
}

// SaveAuthConfig stores or replaces an auth config
func (m *Memory) SaveAuthConfig(_ context.Context, config *types.AuthConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authConfs[config.ID] = *config
	return nil
}

// AuthConfigsByDocument returns a document's auth configs, highest priority first
func (m *Memory) AuthConfigsByDocument(_ context.Context, docID string) ([]types.AuthConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.AuthConfig
	for _, config := range m.authConfs {
		if config.ApiDocumentID == docID || config.Global {
			out = append(out, config)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

// DeleteAuthConfig removes an auth config
func (m *Memory) DeleteAuthConfig(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.authConfs[id]; !ok {
		return errors.Wrap(errors.ErrNotFound, "Memory", "DeleteAuthConfig", "lookup "+id)
	}
	delete(m.authConfs, id)
	return nil
}

// SaveAuthState stores a pending OAuth2 flow state
func (m *Memory) SaveAuthState(_ context.Context, state *types.OAuth2AuthState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authStates[state.ID] = *state
	return nil
}

// AuthStateByValue returns the pending flow matching a state value
func (m *Memory) AuthStateByValue(_ context.Context, state string) (*types.OAuth2AuthState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, pending := range m.authStates {
		if pending.State == state {
			found := pending
			return &found, nil
		}
	}
	return nil, errors.NewKind(errors.KindInvalidState,
		"Memory", "AuthStateByValue", "no pending flow for state")
}

// ConsumeAuthState marks a pending flow used, exactly once
func (m *Memory) ConsumeAuthState(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.authStates[id]
	if !ok {
		return errors.NewKind(errors.KindInvalidState,
			"Memory", "ConsumeAuthState", "flow %q", id)
	}
	if state.Consumed {
		return errors.NewKind(errors.KindInvalidState,
			"Memory", "ConsumeAuthState", "flow %q already consumed", id)
	}
	state.Consumed = true
	m.authStates[id] = state
	return nil
}

// SaveUserAuthorization stores or replaces a user's tokens for a document
func (m *Memory) SaveUserAuthorization(_ context.Context, auth *types.UserAuthorization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// One authorization per (user, document) pair
	for id, existing := range m.userAuths {
		if existing.UserID == auth.UserID && existing.ApiDocumentID == auth.ApiDocumentID && id != auth.ID {
			delete(m.userAuths, id)
		}
	}
	m.userAuths[auth.ID] = *auth
	return nil
}

// UserAuthorization returns a user's tokens for a document
func (m *Memory) UserAuthorization(_ context.Context, userID, docID string) (*types.UserAuthorization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, auth := range m.userAuths {
		if auth.UserID == userID && auth.ApiDocumentID == docID {
			found := auth
			return &found, nil
		}
	}
	return nil, errors.Wrap(errors.ErrNotFound, "Memory", "UserAuthorization", "lookup")
}

// DeleteUserAuthorization removes a stored authorization
func (m *Memory) DeleteUserAuthorization(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.userAuths[id]; !ok {
		return errors.Wrap(errors.ErrNotFound, "Memory", "DeleteUserAuthorization", "lookup "+id)
	}
	delete(m.userAuths, id)
	return nil
}

// SaveUser stores or replaces a user
func (m *Memory) SaveUser(_ context.Context, user *types.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = *user
	return nil
}

// UserByID returns one user by ID
func (m *Memory) UserByID(_ context.Context, id string) (*types.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	if !ok {
		return nil, errors.Wrap(errors.ErrNotFound, "Memory", "UserByID", "lookup "+id)
	}
	return &user, nil
}

// UserByUsername returns one user by username
func (m *Memory) UserByUsername(_ context.Context, username string) (*types.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, user := range m.users {
		if user.Username == username {
			found := user
			return &found, nil
		}
	}
	return nil, errors.Wrap(errors.ErrNotFound, "Memory", "UserByUsername", "lookup "+username)
}

// AppendCallLog appends one call record
func (m *Memory) AppendCallLog(_ context.Context, log *types.CallLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, *log)
	return nil
}

// RecentCalls returns the newest call records, newest first
func (m *Memory) RecentCalls(_ context.Context, limit int) ([]types.CallLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lastCalls(m.calls, limit, func(types.CallLog) bool { return true }), nil
}

// ErrorLogs returns the newest failed call records, newest first
func (m *Memory) ErrorLogs(_ context.Context, limit int) ([]types.CallLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lastCalls(m.calls, limit, func(c types.CallLog) bool { return c.Error != "" }), nil
}

// Close is a no-op for the in-memory store
func (m *Memory) Close() error { return nil }

// foldStats computes the next running statistics after one call
func foldStats(stats types.CallStats, success bool, latencyMs int64) types.CallStats {
	total := stats.CallCount + 1
	stats.AvgLatencyMs = (stats.AvgLatencyMs*float64(stats.CallCount) + float64(latencyMs)) / float64(total)
	stats.CallCount = total
	if success {
		stats.SuccessCount++
	} else {
		stats.ErrorCount++
	}
	return stats
}

func lastCalls(calls []types.CallLog, limit int, keep func(types.CallLog) bool) []types.CallLog {
	if limit <= 0 {
		limit = 50
	}
	out := make([]types.CallLog, 0, limit)
	for i := len(calls) - 1; i >= 0 && len(out) < limit; i-- {
		if keep(calls[i]) {
			out = append(out, calls[i])
		}
	}
	return out
}
