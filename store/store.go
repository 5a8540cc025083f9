// Package store persists gateway state: specifications, registered
// documents, endpoints, auth material, users, and call history. Two
// implementations exist, a SQLite store for deployments and an in-memory
// store for tests and ephemeral runs.
package store

import (
	"context"

	"github.com/specgate/specgate/types"
)

// Store is the persistence boundary of the gateway. Implementations are safe
// for concurrent use.
type Store interface {
	// SaveRegistration persists a specification, its document, and its
	// endpoints atomically. Nothing is stored when any part fails.
	SaveRegistration(ctx context.Context, spec *types.Specification,
		doc *types.ApiDocument, endpoints []types.Endpoint) error

	// Specifications
	SaveSpecification(ctx context.Context, spec *types.Specification) error
	Specification(ctx context.Context, id string) (*types.Specification, error)
	Specifications(ctx context.Context) ([]types.Specification, error)
	DeleteSpecification(ctx context.Context, id string) error

	// API documents
	SaveDocument(ctx context.Context, doc *types.ApiDocument) error
	Document(ctx context.Context, id string) (*types.ApiDocument, error)
	Documents(ctx context.Context) ([]types.ApiDocument, error)
	DeleteDocument(ctx context.Context, id string) error

	// Endpoints
	Endpoint(ctx context.Context, id string) (*types.Endpoint, error)
	EndpointsByDocument(ctx context.Context, docID string) ([]types.Endpoint, error)

	// UpdateCallStats folds one call outcome into an endpoint's running
	// statistics. The update is atomic with respect to concurrent calls.
	UpdateCallStats(ctx context.Context, endpointID string, success bool, latencyMs int64) error

	// Auth configs
	SaveAuthConfig(ctx context.Context, config *types.AuthConfig) error
	AuthConfigsByDocument(ctx context.Context, docID string) ([]types.AuthConfig, error)
	DeleteAuthConfig(ctx context.Context, id string) error

	// OAuth2 flow state
	SaveAuthState(ctx context.Context, state *types.OAuth2AuthState) error
	AuthStateByValue(ctx context.Context, state string) (*types.OAuth2AuthState, error)
	// ConsumeAuthState marks a pending state used. It fails when the state
	// is unknown or already consumed, making consumption single-use.
	ConsumeAuthState(ctx context.Context, id string) error

	// User authorizations
	SaveUserAuthorization(ctx context.Context, auth *types.UserAuthorization) error
	UserAuthorization(ctx context.Context, userID, docID string) (*types.UserAuthorization, error)
	DeleteUserAuthorization(ctx context.Context, id string) error

	// Users
	SaveUser(ctx context.Context, user *types.User) error
	UserByID(ctx context.Context, id string) (*types.User, error)
	UserByUsername(ctx context.Context, username string) (*types.User, error)

	// Call history
	AppendCallLog(ctx context.Context, log *types.CallLog) error
	RecentCalls(ctx context.Context, limit int) ([]types.CallLog, error)
	ErrorLogs(ctx context.Context, limit int) ([]types.CallLog, error)

	Close() error
}
