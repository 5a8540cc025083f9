package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specgate/specgate/config"
	"github.com/specgate/specgate/gateway"
	"github.com/specgate/specgate/pluginregistry"
	"github.com/specgate/specgate/registry"
	"github.com/specgate/specgate/store"
)

func petstoreSpec(serverURL string) []byte {
	return []byte(fmt.Sprintf(`{
		"openapi": "3.0.0",
		"info": {"title": "Petstore", "version": "1.0.0"},
		"servers": [{"url": %q}],
		"paths": {
			"/pets/{petId}": {
				"get": {
					"operationId": "getPet",
					"parameters": [
						{"name": "petId", "in": "path", "required": true, "schema": {"type": "integer"}}
					]
				}
			}
		}
	}`, serverURL))
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	reg := registry.New()
	require.NoError(t, pluginregistry.Register(reg))

	g, err := gateway.New(gateway.Options{
		Store:     store.NewMemory(),
		Registry:  reg,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		JWTSecret: []byte("test-secret"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close(context.Background()) })

	srv := New(g, config.DefaultConfig().Server, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func doJSON(t *testing.T, method, url string, body any, token string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if raw, ok := body.([]byte); ok {
		reader = bytes.NewReader(raw)
	} else if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 && data[0] == '{' {
		require.NoError(t, json.Unmarshal(data, &decoded))
	}
	return resp, decoded
}

func registerPetstore(t *testing.T, ts *httptest.Server, backendURL string) (docID, endpointID string) {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/specs?name=petstore", petstoreSpec(backendURL), "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	doc, ok := body["document"].(map[string]any)
	require.True(t, ok)
	endpoints, ok := body["endpoints"].([]any)
	require.True(t, ok)
	require.Len(t, endpoints, 1)
	first, ok := endpoints[0].(map[string]any)
	require.True(t, ok)
	return doc["id"].(string), first["id"].(string)
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/health", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["families"])
	assert.NotEmpty(t, body["protocols"])
}

func TestRegisterAndListDocuments(t *testing.T) {
	_, ts := newTestServer(t)
	docID, _ := registerPetstore(t, ts, "https://api.example.com")

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/v1/documents/"+docID, nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/v1/documents/"+docID+"/endpoints", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRegisterSpec_Invalid(t *testing.T) {
	_, ts := newTestServer(t)
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/specs", []byte(`{"openapi": "3.0.0"}`), "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["kind"], "invalid_specification")
}

func TestCallEndpointRoute(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"path": r.URL.Path})
	}))
	defer backend.Close()

	_, ts := newTestServer(t)
	_, endpointID := registerPetstore(t, ts, backend.URL)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/endpoints/"+endpointID+"/call",
		map[string]any{"params": map[string]any{"petId": 7}}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	inner, ok := body["body"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/pets/7", inner["path"])
}

func TestCallEndpointRoute_ErrorMapping(t *testing.T) {
	_, ts := newTestServer(t)
	_, endpointID := registerPetstore(t, ts, "https://api.example.com")

	// Missing required path parameter maps to 400
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/endpoints/"+endpointID+"/call", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["kind"], "missing_required_parameter")

	// Unknown endpoint maps to 404
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/v1/endpoints/unknown/call", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCallByAddressRoute(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer backend.Close()

	_, ts := newTestServer(t)
	docID, _ := registerPetstore(t, ts, backend.URL)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/v1/documents/"+docID+"/call",
		map[string]any{"operation": "get", "address": "/pets/3"}, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Missing operation/address is rejected before the gateway
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/v1/documents/"+docID+"/call",
		map[string]any{"address": "/pets/3"}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSignupTokenAuthorizeFlow(t *testing.T) {
	_, ts := newTestServer(t)
	docID, _ := registerPetstore(t, ts, "https://api.example.com")

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/auth/v1/signup",
		map[string]any{"username": "alice", "password": "hunter2"}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/auth/v1/token",
		map[string]any{"username": "alice", "password": "hunter2"}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token, ok := body["access_token"].(string)
	require.True(t, ok)
	require.NotEmpty(t, token)

	// Authorize without a session is rejected
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/v1/documents/"+docID+"/authorize", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// With a session but no oauth2 config the gateway rejects it
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/v1/documents/"+docID+"/authorize", nil, token)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// A bad token is rejected outright
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/v1/documents/"+docID+"/authorize", nil, "garbage")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogoutRoute(t *testing.T) {
	_, ts := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/auth/v1/signup",
		map[string]any{"username": "bob", "password": "pass"}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/auth/v1/token",
		map[string]any{"username": "bob", "password": "pass"}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := body["access_token"].(string)

	// The session works, then logout kills it
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/v1/documents", nil, token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/auth/v1/logout", nil, token)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/v1/documents", nil, token)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Logout without a token is rejected
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/auth/v1/logout", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDocumentHealthRoute(t *testing.T) {
	_, ts := newTestServer(t)
	docID, _ := registerPetstore(t, ts, "https://api.example.com")

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/v1/documents/"+docID+"/health", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "active", body["status"])
	assert.Equal(t, float64(1), body["endpoints"])

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/v1/documents/unknown/health", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRefreshAuthorizationRoute_RequiresUser(t *testing.T) {
	_, ts := newTestServer(t)
	docID, _ := registerPetstore(t, ts, "https://api.example.com")

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/v1/documents/"+docID+"/authorize/refresh", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestOAuthCallback_Validation(t *testing.T) {
	_, ts := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/oauth/callback", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/oauth/callback?state=bogus&code=x", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["kind"], "invalid_state")
}

func TestRecentCallsRoute(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	_, ts := newTestServer(t)
	_, endpointID := registerPetstore(t, ts, backend.URL)
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/v1/endpoints/"+endpointID+"/call",
		map[string]any{"params": map[string]any{"petId": 1}}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/calls/recent?limit=5", nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	var calls []map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&calls))
	assert.Len(t, calls, 1)
}

func TestDeleteDocumentRoute(t *testing.T) {
	_, ts := newTestServer(t)
	docID, _ := registerPetstore(t, ts, "https://api.example.com")

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/documents/"+docID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	res, _ := doJSON(t, http.MethodGet, ts.URL+"/api/v1/documents/"+docID, nil, "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}
