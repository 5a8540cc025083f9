package gateway

import (
	"context"

	"github.com/google/uuid"

	"github.com/specgate/specgate/errors"
	"github.com/specgate/specgate/types"
)

// Documents lists all registered API documents
func (g *Gateway) Documents(ctx context.Context) ([]types.ApiDocument, error) {
	return g.store.Documents(ctx)
}

// Document returns one registered API document
func (g *Gateway) Document(ctx context.Context, id string) (*types.ApiDocument, error) {
	return g.store.Document(ctx, id)
}

// Endpoints lists a document's endpoints
func (g *Gateway) Endpoints(ctx context.Context, docID string) ([]types.Endpoint, error) {
	return g.store.EndpointsByDocument(ctx, docID)
}

// Endpoint returns one endpoint with its current statistics
func (g *Gateway) Endpoint(ctx context.Context, id string) (*types.Endpoint, error) {
	return g.store.Endpoint(ctx, id)
}

// DeleteDocument removes a document and its endpoints
func (g *Gateway) DeleteDocument(ctx context.Context, id string) error {
	if err := g.store.DeleteDocument(ctx, id); err != nil {
		return err
	}
	g.logger.Info("document deleted", "document", id)
	return nil
}

// ConfigureAuth attaches an auth config to a document. Unknown schemes are
// rejected before anything is stored.
func (g *Gateway) ConfigureAuth(ctx context.Context, config *types.AuthConfig) (*types.AuthConfig, error) {
	switch config.Scheme {
	case types.SchemeBasic, types.SchemeBearer, types.SchemeAPIKey, types.SchemeOAuth2:
	default:
		return nil, errors.NewKind(errors.KindAuthenticationFailed,
			"Gateway", "ConfigureAuth", "unknown auth scheme %q", string(config.Scheme))
	}
	if !config.Global {
		if _, err := g.store.Document(ctx, config.ApiDocumentID); err != nil {
			return nil, err
		}
	}

	now := g.now().UTC()
	if config.ID == "" {
		config.ID = uuid.NewString()
		config.CreatedAt = now
	}
	config.UpdatedAt = now
	if err := g.store.SaveAuthConfig(ctx, config); err != nil {
		return nil, errors.Wrap(err, "Gateway", "ConfigureAuth", "persist auth config")
	}
	g.logger.Info("auth config saved",
		"config", config.ID, "document", config.ApiDocumentID, "scheme", string(config.Scheme))
	return config, nil
}

// AuthConfigs lists a document's auth configs, highest priority first
func (g *Gateway) AuthConfigs(ctx context.Context, docID string) ([]types.AuthConfig, error) {
	return g.store.AuthConfigsByDocument(ctx, docID)
}

// BeginAuthorization starts the OAuth2 flow for a user against one of a
// document's oauth2 configs and returns the provider URL to redirect to.
func (g *Gateway) BeginAuthorization(ctx context.Context, userID, docID, redirectURI string) (string, error) {
	configs, err := g.store.AuthConfigsByDocument(ctx, docID)
	if err != nil {
		return "", errors.Wrap(err, "Gateway", "BeginAuthorization", "load auth configs")
	}
	for i := range configs {
		if configs[i].Scheme != types.SchemeOAuth2 {
			continue
		}
		authURL, _, err := g.flow.Begin(ctx, userID, &configs[i], redirectURI)
		if err != nil {
			g.metrics.RecordAuthFlow("oauth2", "error")
			return "", err
		}
		g.metrics.RecordAuthFlow("oauth2", "started")
		g.logger.Info("authorization started", "user", userID, "document", docID)
		return authURL, nil
	}
	return "", errors.NewKind(errors.KindAuthenticationFailed,
		"Gateway", "BeginAuthorization", "document %s has no oauth2 config", docID)
}

// CompleteAuthorization finishes an OAuth2 flow from the provider callback
func (g *Gateway) CompleteAuthorization(ctx context.Context, state, code string) (*types.UserAuthorization, error) {
	userAuth, err := g.flow.Complete(ctx, state, code)
	if err != nil {
		g.metrics.RecordAuthFlow("oauth2", "error")
		return nil, err
	}
	g.metrics.RecordAuthFlow("oauth2", "completed")
	g.logger.Info("authorization completed",
		"user", userAuth.UserID, "document", userAuth.ApiDocumentID)
	return userAuth, nil
}

// RefreshAuthorization exchanges a user's stored refresh token for fresh
// access tokens. Tokens are only renewed when this is called; expiry during a
// call surfaces as an error instead.
func (g *Gateway) RefreshAuthorization(ctx context.Context, userID, docID string) (*types.UserAuthorization, error) {
	userAuth, err := g.flow.Refresh(ctx, userID, docID)
	if err != nil {
		g.metrics.RecordAuthFlow("oauth2", "refresh_error")
		return nil, err
	}
	g.metrics.RecordAuthFlow("oauth2", "refreshed")
	g.logger.Info("authorization refreshed", "user", userID, "document", docID)
	return userAuth, nil
}

// RevokeAuthorization removes a user's stored tokens for a document
func (g *Gateway) RevokeAuthorization(ctx context.Context, userID, docID string) error {
	userAuth, err := g.store.UserAuthorization(ctx, userID, docID)
	if err != nil {
		return err
	}
	return g.store.DeleteUserAuthorization(ctx, userAuth.ID)
}

// DocumentStats aggregates call statistics across a document's endpoints
type DocumentStats struct {
	DocumentID   string           `json:"document_id"`
	Endpoints    int              `json:"endpoints"`
	CallCount    int64            `json:"call_count"`
	SuccessCount int64            `json:"success_count"`
	ErrorCount   int64            `json:"error_count"`
	PerEndpoint  []types.Endpoint `json:"per_endpoint"`
}

// Statistics returns per-endpoint and aggregate call statistics for a document
func (g *Gateway) Statistics(ctx context.Context, docID string) (*DocumentStats, error) {
	endpoints, err := g.store.EndpointsByDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	stats := &DocumentStats{
		DocumentID:  docID,
		Endpoints:   len(endpoints),
		PerEndpoint: endpoints,
	}
	for i := range endpoints {
		stats.CallCount += endpoints[i].Stats.CallCount
		stats.SuccessCount += endpoints[i].Stats.SuccessCount
		stats.ErrorCount += endpoints[i].Stats.ErrorCount
	}
	return stats, nil
}

// DocumentHealth summarizes a document's endpoints by status
type DocumentHealth struct {
	DocumentID string         `json:"document_id"`
	Status     string         `json:"status"`
	Endpoints  int            `json:"endpoints"`
	ByStatus   map[string]int `json:"by_status"`
}

// DocumentHealthStatus reports a document's status and how its endpoints
// break down by status.
func (g *Gateway) DocumentHealthStatus(ctx context.Context, docID string) (*DocumentHealth, error) {
	doc, err := g.store.Document(ctx, docID)
	if err != nil {
		return nil, err
	}
	endpoints, err := g.store.EndpointsByDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	health := &DocumentHealth{
		DocumentID: docID,
		Status:     doc.Status,
		Endpoints:  len(endpoints),
		ByStatus:   make(map[string]int),
	}
	for i := range endpoints {
		health.ByStatus[endpoints[i].Status]++
	}
	return health, nil
}

// RecentCalls returns the newest call log entries, up to limit
func (g *Gateway) RecentCalls(ctx context.Context, limit int) ([]types.CallLog, error) {
	return g.store.RecentCalls(ctx, limit)
}

// ErrorLogs returns the newest failed call log entries, up to limit
func (g *Gateway) ErrorLogs(ctx context.Context, limit int) ([]types.CallLog, error) {
	return g.store.ErrorLogs(ctx, limit)
}

// Health summarizes what the gateway can currently serve
type Health struct {
	Families  []string `json:"families"`
	Protocols []string `json:"protocols"`
	Documents int      `json:"documents"`
}

// HealthStatus reports registered families, protocols, and document count
func (g *Gateway) HealthStatus(ctx context.Context) (*Health, error) {
	docs, err := g.store.Documents(ctx)
	if err != nil {
		return nil, err
	}
	protocols := g.registry.Protocols()
	names := make([]string, 0, len(protocols))
	for _, p := range protocols {
		names = append(names, string(p))
	}
	return &Health{
		Families:  g.registry.Families(),
		Protocols: names,
		Documents: len(docs),
	}, nil
}

// EnsureAdminUser creates the bootstrap admin account when it does not
// already exist. A blank password skips the bootstrap.
func (g *Gateway) EnsureAdminUser(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return nil
	}
	if _, err := g.store.UserByUsername(ctx, username); err == nil {
		return nil
	} else if !errors.Is(err, errors.ErrNotFound) {
		return errors.Wrap(err, "Gateway", "EnsureAdminUser", "lookup admin user")
	}
	if _, err := g.sessions.CreateUser(ctx, username, "", password, "admin"); err != nil {
		return err
	}
	g.logger.Info("admin user created", "username", username)
	return nil
}
