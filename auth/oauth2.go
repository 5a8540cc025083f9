package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/specgate/specgate/errors"
	"github.com/specgate/specgate/store"
	"github.com/specgate/specgate/types"
)

// StateTTL bounds how long a started authorization may remain pending
const StateTTL = 10 * time.Minute

// ExchangeTimeout bounds the token endpoint round trip
const ExchangeTimeout = 30 * time.Second

// Flow drives the OAuth2 authorization-code flow with PKCE. Every started
// flow records a single-use state; the matching callback exchanges the code
// and persists the tokens for the (user, document) pair.
type Flow struct {
	store           store.Store
	now             func() time.Time
	exchangeTimeout time.Duration
}

// NewFlow creates an OAuth2 flow manager over the given store
func NewFlow(s store.Store) *Flow {
	return &Flow{store: s, now: time.Now, exchangeTimeout: ExchangeTimeout}
}

// providerConfig builds the oauth2 endpoint config from an auth config's
// settings.
func providerConfig(config *types.AuthConfig, redirectURI string) (*oauth2.Config, error) {
	clientID, _ := config.Config["client_id"].(string)
	authURL, _ := config.Config["auth_url"].(string)
	tokenURL, _ := config.Config["token_url"].(string)
	if clientID == "" || authURL == "" || tokenURL == "" {
		return nil, errors.NewKind(errors.KindAuthenticationFailed,
			"Flow", "providerConfig", "oauth2 config requires client_id, auth_url and token_url")
	}
	clientSecret, _ := config.Config["client_secret"].(string)

	var scopes []string
	if scope, _ := config.Config["scope"].(string); scope != "" {
		scopes = append(scopes, scope)
	}

	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  authURL,
			TokenURL: tokenURL,
		},
	}, nil
}

// Begin starts an authorization flow. It records a pending single-use state
// with a fresh PKCE verifier and returns the provider URL to send the caller
// to.
func (f *Flow) Begin(ctx context.Context, userID string, config *types.AuthConfig,
	redirectURI string) (string, *types.OAuth2AuthState, error) {
	provider, err := providerConfig(config, redirectURI)
	if err != nil {
		return "", nil, err
	}

	verifier := oauth2.GenerateVerifier()
	now := f.now().UTC()
	state := &types.OAuth2AuthState{
		ID:            uuid.NewString(),
		AuthConfigID:  config.ID,
		UserID:        userID,
		ApiDocumentID: config.ApiDocumentID,
		State:         uuid.NewString(),
		CodeVerifier:  verifier,
		CodeChallenge: oauth2.S256ChallengeFromVerifier(verifier),
		RedirectURI:   redirectURI,
		Scope:         joinScopes(provider.Scopes),
		ExpiresAt:     now.Add(StateTTL),
		CreatedAt:     now,
	}
	if err := f.store.SaveAuthState(ctx, state); err != nil {
		return "", nil, errors.Wrap(err, "Flow", "Begin", "persist pending state")
	}

	authURL := provider.AuthCodeURL(state.State,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier))
	return authURL, state, nil
}

// Complete finishes an authorization flow from the provider callback. The
// state must match a pending flow, be unexpired, and not have been used
// before; consumption happens before the exchange, so a failed exchange
// still burns the state.
func (f *Flow) Complete(ctx context.Context, stateValue, code string) (*types.UserAuthorization, error) {
	pending, err := f.store.AuthStateByValue(ctx, stateValue)
	if err != nil {
		return nil, err
	}
	now := f.now().UTC()
	if now.After(pending.ExpiresAt) {
		return nil, errors.NewKind(errors.KindExpiredState,
			"Flow", "Complete", "flow expired at %s", pending.ExpiresAt.Format(time.RFC3339))
	}
	if err := f.store.ConsumeAuthState(ctx, pending.ID); err != nil {
		return nil, err
	}

	config, err := f.authConfig(ctx, pending)
	if err != nil {
		return nil, err
	}
	provider, err := providerConfig(config, pending.RedirectURI)
	if err != nil {
		return nil, err
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, f.exchangeTimeout)
	defer cancel()
	token, err := provider.Exchange(exchangeCtx, code, oauth2.VerifierOption(pending.CodeVerifier))
	if err != nil {
		if exchangeCtx.Err() == context.DeadlineExceeded {
			return nil, errors.WrapKind(errors.KindTransportTimeout, err,
				"Flow", "Complete", "token exchange")
		}
		return nil, errors.WrapKind(errors.KindAuthenticationFailed, err,
			"Flow", "Complete", "token exchange")
	}

	auth := &types.UserAuthorization{
		ID:            uuid.NewString(),
		UserID:        pending.UserID,
		ApiDocumentID: pending.ApiDocumentID,
		AuthConfigID:  pending.AuthConfigID,
		AccessToken:   token.AccessToken,
		RefreshToken:  token.RefreshToken,
		TokenType:     token.TokenType,
		Scope:         pending.Scope,
		ExpiresAt:     token.Expiry,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := f.store.SaveUserAuthorization(ctx, auth); err != nil {
		return nil, errors.Wrap(err, "Flow", "Complete", "persist authorization")
	}
	return auth, nil
}

// Refresh exchanges a stored refresh token for fresh access tokens. Refresh
// is always explicit; expired authorizations are never renewed behind the
// caller's back.
func (f *Flow) Refresh(ctx context.Context, userID, documentID string) (*types.UserAuthorization, error) {
	auth, err := f.store.UserAuthorization(ctx, userID, documentID)
	if err != nil {
		return nil, err
	}
	if auth.RefreshToken == "" {
		return nil, errors.NewKind(errors.KindAuthenticationFailed,
			"Flow", "Refresh", "authorization has no refresh token")
	}

	configs, err := f.store.AuthConfigsByDocument(ctx, documentID)
	if err != nil {
		return nil, errors.Wrap(err, "Flow", "Refresh", "load auth configs")
	}
	var config *types.AuthConfig
	for i := range configs {
		if configs[i].ID == auth.AuthConfigID {
			config = &configs[i]
			break
		}
	}
	if config == nil {
		return nil, errors.NewKind(errors.KindInvalidState,
			"Flow", "Refresh", "auth config %q no longer exists", auth.AuthConfigID)
	}
	provider, err := providerConfig(config, "")
	if err != nil {
		return nil, err
	}

	refreshCtx, cancel := context.WithTimeout(ctx, f.exchangeTimeout)
	defer cancel()
	seed := &oauth2.Token{RefreshToken: auth.RefreshToken}
	token, err := provider.TokenSource(refreshCtx, seed).Token()
	if err != nil {
		if refreshCtx.Err() == context.DeadlineExceeded {
			return nil, errors.WrapKind(errors.KindTransportTimeout, err,
				"Flow", "Refresh", "token refresh")
		}
		return nil, errors.WrapKind(errors.KindAuthenticationFailed, err,
			"Flow", "Refresh", "token refresh")
	}

	auth.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		auth.RefreshToken = token.RefreshToken
	}
	if token.TokenType != "" {
		auth.TokenType = token.TokenType
	}
	auth.ExpiresAt = token.Expiry
	auth.UpdatedAt = f.now().UTC()
	if err := f.store.SaveUserAuthorization(ctx, auth); err != nil {
		return nil, errors.Wrap(err, "Flow", "Refresh", "persist authorization")
	}
	return auth, nil
}

// authConfig finds the auth config a pending flow was started against
func (f *Flow) authConfig(ctx context.Context, pending *types.OAuth2AuthState) (*types.AuthConfig, error) {
	configs, err := f.store.AuthConfigsByDocument(ctx, pending.ApiDocumentID)
	if err != nil {
		return nil, errors.Wrap(err, "Flow", "authConfig", "load auth configs")
	}
	for i := range configs {
		if configs[i].ID == pending.AuthConfigID {
			return &configs[i], nil
		}
	}
	return nil, errors.NewKind(errors.KindInvalidState,
		"Flow", "authConfig", "auth config %q no longer exists", pending.AuthConfigID)
}

func joinScopes(scopes []string) string {
	switch len(scopes) {
	case 0:
		return ""
	case 1:
		return scopes[0]
	default:
		out := scopes[0]
		for _, s := range scopes[1:] {
			out += " " + s
		}
		return out
	}
}
