// Package types contains shared domain types used across the specgate platform
package types

import (
	"fmt"
	"time"

	"github.com/specgate/specgate/errors"
)

// SpecFamily categorizes machine-readable API descriptions
type SpecFamily string

// Spec family constants
const (
	// FamilyREST covers request/response documents (OpenAPI 3.x)
	FamilyREST SpecFamily = "rest"
	// FamilyPubSub covers channel/message documents (AsyncAPI 2.x)
	FamilyPubSub SpecFamily = "pubsub"
)

// Validate ensures the spec family is a known value
func (f SpecFamily) Validate() error {
	switch f {
	case FamilyREST, FamilyPubSub:
		return nil
	default:
		return errors.WrapKind(errors.KindUnsupportedFamily, errors.ErrUnsupportedFamily,
			"SpecFamily", "Validate", fmt.Sprintf("family %q", string(f)))
	}
}

// Protocol identifies the wire protocol an endpoint speaks
type Protocol string

// Protocol constants
const (
	ProtocolHTTP      Protocol = "http"
	ProtocolWebSocket Protocol = "websocket"
	ProtocolMQTT      Protocol = "mqtt"
	ProtocolAMQP      Protocol = "amqp"
	ProtocolKafka     Protocol = "kafka"
	ProtocolNATS      Protocol = "nats"
	// ProtocolUnknown marks a channel with no recognized binding; endpoints
	// carrying it are rejected at registration time.
	ProtocolUnknown Protocol = "unknown"
)

// OperationKind identifies the operation an endpoint exposes: an HTTP verb
// for REST endpoints, publish/subscribe for channel endpoints.
type OperationKind string

// Operation kind constants
const (
	OpGet       OperationKind = "get"
	OpPost      OperationKind = "post"
	OpPut       OperationKind = "put"
	OpDelete    OperationKind = "delete"
	OpPatch     OperationKind = "patch"
	OpHead      OperationKind = "head"
	OpOptions   OperationKind = "options"
	OpTrace     OperationKind = "trace"
	OpPublish   OperationKind = "publish"
	OpSubscribe OperationKind = "subscribe"
)

// HTTPVerbs is the recognized set of REST operation kinds, in extraction order
var HTTPVerbs = []OperationKind{OpGet, OpPost, OpPut, OpDelete, OpPatch, OpHead, OpOptions, OpTrace}

// ParameterLocation identifies where a parameter is placed on the wire
type ParameterLocation string

// Parameter location constants
const (
	LocationPath    ParameterLocation = "path"
	LocationQuery   ParameterLocation = "query"
	LocationHeader  ParameterLocation = "header"
	LocationCookie  ParameterLocation = "cookie"
	LocationChannel ParameterLocation = "channel"
)

// Specification is a reusable spec template: the raw document plus its fully
// resolved form. Immutable once resolved; one Specification may back several
// registered API documents.
type Specification struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Family          SpecFamily     `json:"family"`
	RawContent      string         `json:"raw_content"`
	ResolvedContent map[string]any `json:"resolved_content"`
	Version         string         `json:"version"`
	Servers         []Server       `json:"servers"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Server describes one backend server declared by a specification
type Server struct {
	URL         string `json:"url"`
	Protocol    string `json:"protocol,omitempty"`
	Description string `json:"description,omitempty"`
}

// Registration status constants
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// ApiDocument is a named, versioned registration of a Specification with a
// concrete base address.
type ApiDocument struct {
	ID          string     `json:"id"`
	SpecID      string     `json:"spec_id"`
	Name        string     `json:"name"`
	Version     string     `json:"version"`
	BaseAddress string     `json:"base_address"`
	Family      SpecFamily `json:"family"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Parameter describes one declared endpoint parameter
type Parameter struct {
	Name     string            `json:"name"`
	Location ParameterLocation `json:"location"`
	Required bool              `json:"required"`
	Schema   map[string]any    `json:"schema,omitempty"`
}

// Endpoint is the gateway's uniform representation of one callable operation,
// regardless of source spec family. Created once at registration time;
// read-mostly afterward. CallStats is the only mutable part.
type Endpoint struct {
	ID             string         `json:"id"`
	ApiDocumentID  string         `json:"api_document_id"`
	AddressPattern string         `json:"address_pattern"`
	Protocol       Protocol       `json:"protocol"`
	Operation      OperationKind  `json:"operation"`
	OperationID    string         `json:"operation_id,omitempty"`
	Description    string         `json:"description,omitempty"`
	Parameters     []Parameter    `json:"parameters,omitempty"`
	RequestSchema  map[string]any `json:"request_schema,omitempty"`
	ResponseSchema map[string]any `json:"response_schema,omitempty"`
	Security       []SecurityRequirement `json:"security,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	Status         string         `json:"status"`
	Stats          CallStats      `json:"stats"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// SecurityRequirement names one security scheme an endpoint requires
type SecurityRequirement struct {
	Name   string   `json:"name"`
	Type   string   `json:"type,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
}

// CallStats holds per-endpoint call statistics, updated after every call
type CallStats struct {
	CallCount    int64   `json:"call_count"`
	SuccessCount int64   `json:"success_count"`
	ErrorCount   int64   `json:"error_count"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// AuthScheme identifies an authentication scheme the dispatcher implements
type AuthScheme string

// Auth scheme constants
const (
	SchemeBasic  AuthScheme = "basic"
	SchemeBearer AuthScheme = "bearer"
	SchemeAPIKey AuthScheme = "api_key"
	SchemeOAuth2 AuthScheme = "oauth2"
)

// AuthConfig binds one authentication scheme, with its secret material, to an
// API document. Configs are attempted in descending Priority order.
type AuthConfig struct {
	ID            string         `json:"id"`
	ApiDocumentID string         `json:"api_document_id"`
	Scheme        AuthScheme     `json:"scheme"`
	Config        map[string]any `json:"config"`
	Required      bool           `json:"required"`
	Global        bool           `json:"global"`
	Priority      int            `json:"priority"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// OAuth2AuthState is a pending authorization: created when a caller initiates
// the flow, consumed exactly once by the matching callback.
type OAuth2AuthState struct {
	ID            string    `json:"id"`
	AuthConfigID  string    `json:"auth_config_id"`
	UserID        string    `json:"user_id"`
	ApiDocumentID string    `json:"api_document_id"`
	State         string    `json:"state"`
	CodeVerifier  string    `json:"-"`
	CodeChallenge string    `json:"code_challenge"`
	RedirectURI   string    `json:"redirect_uri"`
	Scope         string    `json:"scope"`
	Consumed      bool      `json:"consumed"`
	ExpiresAt     time.Time `json:"expires_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// UserAuthorization holds the tokens a completed OAuth2 flow produced for one
// (user, document) pair.
type UserAuthorization struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	ApiDocumentID   string    `json:"api_document_id"`
	AuthConfigID    string    `json:"auth_config_id"`
	AccessToken     string    `json:"-"`
	RefreshToken    string    `json:"-"`
	TokenType       string    `json:"token_type"`
	Scope           string    `json:"scope,omitempty"`
	ProviderSubject string    `json:"provider_subject,omitempty"`
	ExpiresAt       time.Time `json:"expires_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Expired reports whether the authorization is past its expiry at the given time
func (ua *UserAuthorization) Expired(now time.Time) bool {
	return !ua.ExpiresAt.IsZero() && now.After(ua.ExpiresAt)
}

// User is a gateway user account
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// CallLog is one append-only record of a gateway call
type CallLog struct {
	ID         string    `json:"id"`
	EndpointID string    `json:"endpoint_id"`
	Protocol   Protocol  `json:"protocol"`
	Operation  string    `json:"operation"`
	Address    string    `json:"address"`
	Request    string    `json:"request,omitempty"`
	Response   string    `json:"response,omitempty"`
	Status     int       `json:"status,omitempty"`
	Error      string    `json:"error,omitempty"`
	LatencyMs  int64     `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}
