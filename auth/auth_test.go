package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specgate/specgate/errors"
	"github.com/specgate/specgate/store"
	"github.com/specgate/specgate/types"
)

func wireRequest() *types.WireRequest {
	return &types.WireRequest{
		Protocol:  types.ProtocolHTTP,
		Operation: "get",
		Address:   "https://api.example.com/pets",
	}
}

func TestDispatcher_AppliesFirstWorkableConfig(t *testing.T) {
	d := NewDispatcher()
	req := wireRequest()

	configs := []types.AuthConfig{
		{Scheme: types.SchemeBasic, Config: map[string]any{}, Priority: 10},
		{Scheme: types.SchemeBearer, Config: map[string]any{"token": "tok-123"}, Priority: 5},
	}

	err := d.Apply(req, configs, nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", req.Headers.Get("Authorization"))
}

func TestDispatcher_NoConfigsIsNoop(t *testing.T) {
	req := wireRequest()
	require.NoError(t, NewDispatcher().Apply(req, nil, nil))
	assert.Nil(t, req.Headers)
}

func TestDispatcher_RequiredAllFail(t *testing.T) {
	configs := []types.AuthConfig{
		{Scheme: types.SchemeBasic, Config: map[string]any{}, Required: true},
		{Scheme: types.SchemeBearer, Config: map[string]any{}},
	}

	err := NewDispatcher().Apply(wireRequest(), configs, nil)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindAuthenticationFailed))
	assert.Contains(t, err.Error(), "basic:")
	assert.Contains(t, err.Error(), "bearer:")
}

func TestDispatcher_OptionalAllFailIsNoop(t *testing.T) {
	configs := []types.AuthConfig{
		{Scheme: types.SchemeBearer, Config: map[string]any{}},
	}
	require.NoError(t, NewDispatcher().Apply(wireRequest(), configs, nil))
}

func TestDispatcher_Basic(t *testing.T) {
	req := wireRequest()
	configs := []types.AuthConfig{
		{Scheme: types.SchemeBasic, Config: map[string]any{"username": "svc", "password": "s3cret"}},
	}
	require.NoError(t, NewDispatcher().Apply(req, configs, nil))
	// base64("svc:s3cret")
	assert.Equal(t, "Basic c3ZjOnMzY3JldA==", req.Headers.Get("Authorization"))
}

func TestDispatcher_APIKeyLocations(t *testing.T) {
	t.Run("header default", func(t *testing.T) {
		req := wireRequest()
		configs := []types.AuthConfig{
			{Scheme: types.SchemeAPIKey, Config: map[string]any{"key": "k-1"}},
		}
		require.NoError(t, NewDispatcher().Apply(req, configs, nil))
		assert.Equal(t, "k-1", req.Headers.Get("X-API-Key"))
	})

	t.Run("query", func(t *testing.T) {
		req := wireRequest()
		configs := []types.AuthConfig{
			{Scheme: types.SchemeAPIKey, Config: map[string]any{"key": "k-2", "name": "api_key", "in": "query"}},
		}
		require.NoError(t, NewDispatcher().Apply(req, configs, nil))
		assert.Equal(t, "k-2", req.Query["api_key"])
	})

	t.Run("cookie", func(t *testing.T) {
		req := wireRequest()
		configs := []types.AuthConfig{
			{Scheme: types.SchemeAPIKey, Config: map[string]any{"key": "k-3", "name": "session", "in": "cookie"}},
		}
		require.NoError(t, NewDispatcher().Apply(req, configs, nil))
		assert.Equal(t, "session=k-3", req.Headers.Get("Cookie"))
	})
}

func TestDispatcher_OAuth2(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := NewDispatcher()
	d.now = func() time.Time { return now }

	configs := []types.AuthConfig{
		{Scheme: types.SchemeOAuth2, Config: map[string]any{}, Required: true},
	}

	t.Run("valid token applied", func(t *testing.T) {
		req := wireRequest()
		userAuth := &types.UserAuthorization{
			AccessToken: "at-1",
			ExpiresAt:   now.Add(time.Hour),
		}
		require.NoError(t, d.Apply(req, configs, userAuth))
		assert.Equal(t, "Bearer at-1", req.Headers.Get("Authorization"))
	})

	t.Run("expired surfaces its own kind", func(t *testing.T) {
		userAuth := &types.UserAuthorization{
			AccessToken: "at-2",
			ExpiresAt:   now.Add(-time.Minute),
		}
		err := d.Apply(wireRequest(), configs, userAuth)
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.KindAuthorizationExpired))
	})

	t.Run("no authorization fails", func(t *testing.T) {
		err := d.Apply(wireRequest(), configs, nil)
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.KindAuthenticationFailed))
	})
}

func oauth2Config(authURL, tokenURL string) *types.AuthConfig {
	return &types.AuthConfig{
		ID:            "ac-1",
		ApiDocumentID: "doc-1",
		Scheme:        types.SchemeOAuth2,
		Config: map[string]any{
			"client_id":     "client-1",
			"client_secret": "shh",
			"auth_url":      authURL,
			"token_url":     tokenURL,
			"scope":         "read:pets",
		},
		Required: true,
	}
}

func TestFlow_BeginAndComplete(t *testing.T) {
	var gotVerifier string
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotVerifier = r.FormValue("code_verifier")
		assert.Equal(t, "auth-code-1", r.FormValue("code"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-xyz","token_type":"Bearer","refresh_token":"rt-xyz","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	s := store.NewMemory()
	flow := NewFlow(s)
	config := oauth2Config("https://idp.example.com/authorize", tokenSrv.URL)
	require.NoError(t, s.SaveAuthConfig(context.Background(), config))

	authURL, state, err := flow.Begin(context.Background(), "user-1", config, "https://gw.example.com/callback")
	require.NoError(t, err)
	assert.Contains(t, authURL, "https://idp.example.com/authorize")
	assert.Contains(t, authURL, "state="+state.State)
	assert.Contains(t, authURL, "code_challenge="+state.CodeChallenge)
	assert.Contains(t, authURL, "code_challenge_method=S256")
	assert.NotEmpty(t, state.CodeVerifier)

	auth, err := flow.Complete(context.Background(), state.State, "auth-code-1")
	require.NoError(t, err)
	assert.Equal(t, state.CodeVerifier, gotVerifier)
	assert.Equal(t, "at-xyz", auth.AccessToken)
	assert.Equal(t, "rt-xyz", auth.RefreshToken)
	assert.Equal(t, "user-1", auth.UserID)
	assert.Equal(t, "doc-1", auth.ApiDocumentID)

	saved, err := s.UserAuthorization(context.Background(), "user-1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "at-xyz", saved.AccessToken)
}

func TestFlow_StateIsSingleUse(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	s := store.NewMemory()
	flow := NewFlow(s)
	config := oauth2Config("https://idp.example.com/authorize", tokenSrv.URL)
	require.NoError(t, s.SaveAuthConfig(context.Background(), config))

	_, state, err := flow.Begin(context.Background(), "user-1", config, "https://gw.example.com/callback")
	require.NoError(t, err)

	_, err = flow.Complete(context.Background(), state.State, "code")
	require.NoError(t, err)

	_, err = flow.Complete(context.Background(), state.State, "code")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidState))
}

func TestFlow_ExchangeTimesOut(t *testing.T) {
	// The handler must block on a test-owned channel rather than
	// r.Context().Done(): with an unread request body the server never
	// starts its background read, so the client's disconnect is never
	// observed and tokenSrv.Close() would deadlock.
	done := make(chan struct{})
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-done:
		}
	}))
	defer tokenSrv.Close()
	defer close(done)

	s := store.NewMemory()
	flow := NewFlow(s)
	flow.exchangeTimeout = 100 * time.Millisecond
	config := oauth2Config("https://idp.example.com/authorize", tokenSrv.URL)
	require.NoError(t, s.SaveAuthConfig(context.Background(), config))

	_, state, err := flow.Begin(context.Background(), "user-1", config, "https://gw.example.com/callback")
	require.NoError(t, err)

	started := time.Now()
	_, err = flow.Complete(context.Background(), state.State, "code")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindTransportTimeout))
	assert.Less(t, time.Since(started), 5*time.Second)
}

func TestFlow_Refresh(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.FormValue("grant_type"))
		assert.Equal(t, "rt-old", r.FormValue("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-new","token_type":"Bearer","refresh_token":"rt-new","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	s := store.NewMemory()
	flow := NewFlow(s)
	config := oauth2Config("https://idp.example.com/authorize", tokenSrv.URL)
	require.NoError(t, s.SaveAuthConfig(context.Background(), config))
	require.NoError(t, s.SaveUserAuthorization(context.Background(), &types.UserAuthorization{
		ID:            "ua-1",
		UserID:        "user-1",
		ApiDocumentID: "doc-1",
		AuthConfigID:  config.ID,
		AccessToken:   "at-old",
		RefreshToken:  "rt-old",
		ExpiresAt:     time.Now().Add(-time.Hour),
	}))

	auth, err := flow.Refresh(context.Background(), "user-1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "at-new", auth.AccessToken)
	assert.Equal(t, "rt-new", auth.RefreshToken)

	saved, err := s.UserAuthorization(context.Background(), "user-1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "at-new", saved.AccessToken)
	assert.Equal(t, "rt-new", saved.RefreshToken)
}

func TestFlow_RefreshWithoutToken(t *testing.T) {
	s := store.NewMemory()
	flow := NewFlow(s)
	require.NoError(t, s.SaveUserAuthorization(context.Background(), &types.UserAuthorization{
		ID:            "ua-1",
		UserID:        "user-1",
		ApiDocumentID: "doc-1",
		AccessToken:   "at",
	}))

	_, err := flow.Refresh(context.Background(), "user-1", "doc-1")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindAuthenticationFailed))
}

func TestFlow_UnknownState(t *testing.T) {
	flow := NewFlow(store.NewMemory())
	_, err := flow.Complete(context.Background(), "never-issued", "code")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalidState))
}

func TestFlow_ExpiredState(t *testing.T) {
	s := store.NewMemory()
	flow := NewFlow(s)
	config := oauth2Config("https://idp.example.com/authorize", "https://idp.example.com/token")
	require.NoError(t, s.SaveAuthConfig(context.Background(), config))

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	flow.now = func() time.Time { return started }
	_, state, err := flow.Begin(context.Background(), "user-1", config, "https://gw.example.com/callback")
	require.NoError(t, err)

	flow.now = func() time.Time { return started.Add(StateTTL + time.Second) }
	_, err = flow.Complete(context.Background(), state.State, "code")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindExpiredState))
}

func TestSessions_CreateAndAuthenticate(t *testing.T) {
	s := NewSessions(store.NewMemory(), []byte("test-secret"))

	user, err := s.CreateUser(context.Background(), "alice", "alice@example.com", "hunter2", "admin")
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.NotEqual(t, "hunter2", user.PasswordHash)
	assert.True(t, strings.HasPrefix(user.PasswordHash, "$2"))

	token, got, err := s.Authenticate(context.Background(), "alice", "hunter2")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, user.ID, got.ID)

	_, _, err = s.Authenticate(context.Background(), "alice", "wrong")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindAuthenticationFailed))

	_, _, err = s.Authenticate(context.Background(), "nobody", "hunter2")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindAuthenticationFailed))
}

func TestSessions_TokenRoundTrip(t *testing.T) {
	s := NewSessions(store.NewMemory(), []byte("test-secret"))

	user, err := s.CreateUser(context.Background(), "bob", "", "pass", "")
	require.NoError(t, err)
	assert.Equal(t, "user", user.Role)

	token, _, err := s.Authenticate(context.Background(), "bob", "pass")
	require.NoError(t, err)

	got, err := s.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = s.ValidateToken(context.Background(), token+"tampered")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindAuthenticationFailed))
}

func TestSessions_Invalidate(t *testing.T) {
	s := NewSessions(store.NewMemory(), []byte("test-secret"))

	_, err := s.CreateUser(context.Background(), "dave", "", "pass", "")
	require.NoError(t, err)
	token, _, err := s.Authenticate(context.Background(), "dave", "pass")
	require.NoError(t, err)

	_, err = s.ValidateToken(context.Background(), token)
	require.NoError(t, err)

	require.NoError(t, s.Invalidate(token))
	_, err = s.ValidateToken(context.Background(), token)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindAuthenticationFailed))

	// a fresh sign-in issues a new token that still works
	token2, _, err := s.Authenticate(context.Background(), "dave", "pass")
	require.NoError(t, err)
	_, err = s.ValidateToken(context.Background(), token2)
	require.NoError(t, err)
}

func TestSessions_InvalidateRejectsGarbage(t *testing.T) {
	s := NewSessions(store.NewMemory(), []byte("test-secret"))
	err := s.Invalidate("not-a-token")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindAuthenticationFailed))
}

func TestSessions_ExpiredToken(t *testing.T) {
	s := NewSessions(store.NewMemory(), []byte("test-secret"))
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return issued }

	_, err := s.CreateUser(context.Background(), "carol", "", "pass", "")
	require.NoError(t, err)
	token, _, err := s.Authenticate(context.Background(), "carol", "pass")
	require.NoError(t, err)

	s.now = func() time.Time { return issued.Add(AccessTokenTTL + time.Minute) }
	_, err = s.ValidateToken(context.Background(), token)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindAuthenticationFailed))
}
