package httpadapter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specgate/specgate/errors"
	"github.com/specgate/specgate/types"
)

func TestConfig_Validate(t *testing.T) {
	valid := DefaultConfig()
	require.NoError(t, valid.Validate())

	invalid := Config{Timeout: 9999}
	require.Error(t, invalid.Validate())
}

func TestExecute_JSONRoundTrip(t *testing.T) {
	var gotMethod, gotPath, gotQuery, gotContentType string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("limit")
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "pet-1"})
	}))
	defer srv.Close()

	adapter, err := New(DefaultConfig())
	require.NoError(t, err)
	defer adapter.Close(context.Background())

	resp, err := adapter.Execute(context.Background(), &types.WireRequest{
		Protocol:  types.ProtocolHTTP,
		Operation: types.OpPost,
		Address:   srv.URL + "/pets",
		Query:     map[string]string{"limit": "5"},
		Body:      map[string]any{"name": "rex"},
	})
	require.NoError(t, err)

	assert.Equal(t, "POST", gotMethod)
	assert.Equal(t, "/pets", gotPath)
	assert.Equal(t, "5", gotQuery)
	assert.Equal(t, "application/json", gotContentType)
	assert.JSONEq(t, `{"name":"rex"}`, string(gotBody))

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	body, ok := resp.Body.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "pet-1", body["id"])
	assert.NotEmpty(t, resp.RawBody)
}

func TestExecute_BackendErrorIsNotTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	adapter, err := New(DefaultConfig())
	require.NoError(t, err)
	defer adapter.Close(context.Background())

	resp, err := adapter.Execute(context.Background(), &types.WireRequest{
		Operation: types.OpGet,
		Address:   srv.URL + "/fail",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestExecute_DefaultHeaders(t *testing.T) {
	var gotUserAgent, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserAgent = r.Header.Get("User-Agent")
		gotContentType = r.Header.Get("Content-Type")
	}))
	defer srv.Close()

	adapter, err := New(DefaultConfig())
	require.NoError(t, err)
	defer adapter.Close(context.Background())

	headers := make(http.Header)
	headers.Set("User-Agent", "custom-client/2.0")
	headers.Set("Content-Type", "application/vnd.custom+json")

	_, err = adapter.Execute(context.Background(), &types.WireRequest{
		Operation: types.OpPost,
		Address:   srv.URL,
		Headers:   headers,
		Body:      map[string]any{"k": "v"},
	})
	require.NoError(t, err)

	// caller-provided values survive; defaults apply only when absent
	assert.Equal(t, "custom-client/2.0", gotUserAgent)
	assert.Equal(t, "application/vnd.custom+json", gotContentType)
}

func TestExecute_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	adapter, err := New(DefaultConfig())
	require.NoError(t, err)
	defer adapter.Close(context.Background())

	_, err = adapter.Execute(context.Background(), &types.WireRequest{
		Operation:      types.OpGet,
		Address:        srv.URL,
		TimeoutSeconds: 1,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = adapter.Execute(ctx, &types.WireRequest{
		Operation: types.OpGet,
		Address:   srv.URL,
	})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindTransportTimeout))
}

func TestExecute_ConnectionRefused(t *testing.T) {
	adapter, err := New(DefaultConfig())
	require.NoError(t, err)
	defer adapter.Close(context.Background())

	_, err = adapter.Execute(context.Background(), &types.WireRequest{
		Operation: types.OpGet,
		Address:   "http://127.0.0.1:1/unreachable",
	})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindTransportConnection))
}

func TestDecodeBody(t *testing.T) {
	assert.Nil(t, decodeBody(nil, "application/json"))

	decoded := decodeBody([]byte(`{"a":1}`), "application/json; charset=utf-8")
	m, ok := decoded.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), m["a"])

	assert.Equal(t, "plain text", decodeBody([]byte("plain text"), "text/plain"))
	// malformed JSON falls back to the raw string
	assert.Equal(t, "{broken", decodeBody([]byte("{broken"), "application/json"))
}
