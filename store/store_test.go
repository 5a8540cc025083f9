package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specgate/specgate/errors"
	"github.com/specgate/specgate/types"
)

// compile-time interface checks
var (
	_ Store = (*Memory)(nil)
	_ Store = (*SQLite)(nil)
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLite(t.TempDir() + "/gateway.db")
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}
}

func sampleRegistration(n int) (*types.Specification, *types.ApiDocument, []types.Endpoint) {
	now := time.Now().UTC().Truncate(time.Second)
	spec := &types.Specification{
		ID:              fmt.Sprintf("spec-%d", n),
		Name:            "Petstore",
		Family:          types.FamilyREST,
		RawContent:      "openapi: 3.0.0",
		ResolvedContent: map[string]any{"openapi": "3.0.0"},
		Version:         "3.0.0",
		Servers:         []types.Server{{URL: "https://api.example.com"}},
		CreatedAt:       now,
	}
	doc := &types.ApiDocument{
		ID:          fmt.Sprintf("doc-%d", n),
		SpecID:      spec.ID,
		Name:        "petstore-prod",
		Version:     "1.0.0",
		BaseAddress: "https://api.example.com/v1",
		Family:      types.FamilyREST,
		Status:      "active",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	endpoints := []types.Endpoint{
		{
			ID:             fmt.Sprintf("ep-%d-1", n),
			ApiDocumentID:  doc.ID,
			AddressPattern: "/pets/{petId}",
			Protocol:       types.ProtocolHTTP,
			Operation:      types.OpGet,
			OperationID:    "getPet",
			Parameters: []types.Parameter{
				{Name: "petId", Location: types.LocationPath, Required: true},
			},
			Status:    "active",
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:             fmt.Sprintf("ep-%d-2", n),
			ApiDocumentID:  doc.ID,
			AddressPattern: "/pets",
			Protocol:       types.ProtocolHTTP,
			Operation:      types.OpPost,
			OperationID:    "createPet",
			Status:         "active",
			CreatedAt:      now,
			UpdatedAt:      now,
		},
	}
	return spec, doc, endpoints
}

func TestSaveRegistration_RoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			spec, doc, endpoints := sampleRegistration(1)
			require.NoError(t, s.SaveRegistration(ctx, spec, doc, endpoints))

			gotSpec, err := s.Specification(ctx, spec.ID)
			require.NoError(t, err)
			assert.Equal(t, spec.Name, gotSpec.Name)
			assert.Equal(t, "3.0.0", gotSpec.ResolvedContent["openapi"])
			require.Len(t, gotSpec.Servers, 1)

			gotDoc, err := s.Document(ctx, doc.ID)
			require.NoError(t, err)
			assert.Equal(t, doc.BaseAddress, gotDoc.BaseAddress)

			eps, err := s.EndpointsByDocument(ctx, doc.ID)
			require.NoError(t, err)
			require.Len(t, eps, 2)

			// detail fields survive the round trip
			getPet, err := s.Endpoint(ctx, endpoints[0].ID)
			require.NoError(t, err)
			require.Len(t, getPet.Parameters, 1)
			assert.Equal(t, "petId", getPet.Parameters[0].Name)
			assert.True(t, getPet.Parameters[0].Required)
		})
	}
}

func TestEndpoint_NotFound(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Endpoint(context.Background(), "missing")
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindEndpointNotFound))
		})
	}
}

func TestUpdateCallStats(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			spec, doc, endpoints := sampleRegistration(2)
			require.NoError(t, s.SaveRegistration(ctx, spec, doc, endpoints))

			id := endpoints[0].ID
			require.NoError(t, s.UpdateCallStats(ctx, id, true, 100))
			require.NoError(t, s.UpdateCallStats(ctx, id, true, 200))
			require.NoError(t, s.UpdateCallStats(ctx, id, false, 300))

			ep, err := s.Endpoint(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, int64(3), ep.Stats.CallCount)
			assert.Equal(t, int64(2), ep.Stats.SuccessCount)
			assert.Equal(t, int64(1), ep.Stats.ErrorCount)
			assert.InDelta(t, 200.0, ep.Stats.AvgLatencyMs, 0.01)

			err = s.UpdateCallStats(ctx, "missing", true, 1)
			require.Error(t, err)
		})
	}
}

func TestUpdateCallStats_Concurrent(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			spec, doc, endpoints := sampleRegistration(3)
			require.NoError(t, s.SaveRegistration(ctx, spec, doc, endpoints))

			id := endpoints[0].ID
			var wg sync.WaitGroup
			errs := make(chan error, 20)
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					errs <- s.UpdateCallStats(ctx, id, true, 10)
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			ep, err := s.Endpoint(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, int64(20), ep.Stats.CallCount)
		})
	}
}

func TestAuthConfigs_PriorityOrder(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC()
			low := &types.AuthConfig{ID: "ac-1", ApiDocumentID: "doc-x",
				Scheme: types.SchemeBasic, Config: map[string]any{"username": "u"},
				Priority: 1, CreatedAt: now, UpdatedAt: now}
			high := &types.AuthConfig{ID: "ac-2", ApiDocumentID: "doc-x",
				Scheme: types.SchemeBearer, Config: map[string]any{"token": "t"},
				Priority: 10, CreatedAt: now, UpdatedAt: now}
			global := &types.AuthConfig{ID: "ac-3", ApiDocumentID: "other",
				Scheme: types.SchemeAPIKey, Config: map[string]any{"key": "k"},
				Global: true, Priority: 5, CreatedAt: now, UpdatedAt: now}

			require.NoError(t, s.SaveAuthConfig(ctx, low))
			require.NoError(t, s.SaveAuthConfig(ctx, high))
			require.NoError(t, s.SaveAuthConfig(ctx, global))

			configs, err := s.AuthConfigsByDocument(ctx, "doc-x")
			require.NoError(t, err)
			require.Len(t, configs, 3)
			assert.Equal(t, "ac-2", configs[0].ID)
			assert.Equal(t, "ac-3", configs[1].ID)
			assert.Equal(t, "ac-1", configs[2].ID)
		})
	}
}

func TestConsumeAuthState_SingleUse(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC()
			state := &types.OAuth2AuthState{
				ID: "st-1", AuthConfigID: "ac-1", UserID: "u-1", ApiDocumentID: "doc-1",
				State: "random-state", CodeVerifier: "verifier", CodeChallenge: "challenge",
				RedirectURI: "https://gw.example.com/callback",
				ExpiresAt:   now.Add(10 * time.Minute), CreatedAt: now,
			}
			require.NoError(t, s.SaveAuthState(ctx, state))

			found, err := s.AuthStateByValue(ctx, "random-state")
			require.NoError(t, err)
			assert.Equal(t, "verifier", found.CodeVerifier)
			assert.False(t, found.Consumed)

			require.NoError(t, s.ConsumeAuthState(ctx, "st-1"))

			err = s.ConsumeAuthState(ctx, "st-1")
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindInvalidState))

			_, err = s.AuthStateByValue(ctx, "unknown-state")
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindInvalidState))
		})
	}
}

func TestUserAuthorization_Upsert(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC()
			auth := &types.UserAuthorization{
				ID: "ua-1", UserID: "u-1", ApiDocumentID: "doc-1", AuthConfigID: "ac-1",
				AccessToken: "tok-1", TokenType: "Bearer",
				ExpiresAt: now.Add(time.Hour), CreatedAt: now, UpdatedAt: now,
			}
			require.NoError(t, s.SaveUserAuthorization(ctx, auth))

			auth.AccessToken = "tok-2"
			require.NoError(t, s.SaveUserAuthorization(ctx, auth))

			got, err := s.UserAuthorization(ctx, "u-1", "doc-1")
			require.NoError(t, err)
			assert.Equal(t, "tok-2", got.AccessToken)

			_, err = s.UserAuthorization(ctx, "u-2", "doc-1")
			require.Error(t, err)
		})
	}
}

func TestUsers(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			user := &types.User{
				ID: "u-1", Username: "admin", Email: "admin@example.com",
				PasswordHash: "hash", Role: "admin", Active: true,
				CreatedAt: time.Now().UTC(),
			}
			require.NoError(t, s.SaveUser(ctx, user))

			byName, err := s.UserByUsername(ctx, "admin")
			require.NoError(t, err)
			assert.Equal(t, "u-1", byName.ID)

			byID, err := s.UserByID(ctx, "u-1")
			require.NoError(t, err)
			assert.Equal(t, "admin", byID.Username)

			_, err = s.UserByUsername(ctx, "ghost")
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrNotFound))
		})
	}
}

func TestCallLogs(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().UTC().Add(-time.Minute)
			for i := 0; i < 5; i++ {
				log := &types.CallLog{
					ID:         fmt.Sprintf("call-%d", i),
					EndpointID: "ep-1",
					Protocol:   types.ProtocolHTTP,
					Operation:  "get",
					Address:    "https://api.example.com/pets",
					Status:     200,
					LatencyMs:  int64(10 * i),
					CreatedAt:  base.Add(time.Duration(i) * time.Second),
				}
				if i%2 == 1 {
					log.Error = "connection refused"
					log.Status = 0
				}
				require.NoError(t, s.AppendCallLog(ctx, log))
			}

			recent, err := s.RecentCalls(ctx, 3)
			require.NoError(t, err)
			require.Len(t, recent, 3)
			assert.Equal(t, "call-4", recent[0].ID)

			failures, err := s.ErrorLogs(ctx, 10)
			require.NoError(t, err)
			require.Len(t, failures, 2)
			for _, log := range failures {
				assert.NotEmpty(t, log.Error)
			}
		})
	}
}

func TestDeleteDocument_CascadesEndpoints(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			spec, doc, endpoints := sampleRegistration(4)
			require.NoError(t, s.SaveRegistration(ctx, spec, doc, endpoints))

			require.NoError(t, s.DeleteDocument(ctx, doc.ID))

			_, err := s.Document(ctx, doc.ID)
			require.Error(t, err)
			eps, err := s.EndpointsByDocument(ctx, doc.ID)
			require.NoError(t, err)
			assert.Empty(t, eps)
		})
	}
}
