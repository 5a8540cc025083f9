package openapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specgate/specgate/errors"
	"github.com/specgate/specgate/types"
)

func petstoreDoc() map[string]any {
	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "Petstore",
			"version": "1.0.0",
		},
		"servers": []any{
			map[string]any{"url": "https://api.example.com/v1"},
		},
		"security": []any{
			map[string]any{"apiKeyAuth": []any{}},
		},
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"apiKeyAuth": map[string]any{"type": "apiKey", "in": "header", "name": "X-API-Key"},
				"oauth":      map[string]any{"type": "oauth2"},
			},
		},
		"paths": map[string]any{
			"/pets": map[string]any{
				"get": map[string]any{
					"operationId": "listPets",
					"summary":     "List pets",
					"parameters": []any{
						map[string]any{
							"name": "limit", "in": "query",
							"schema": map[string]any{"type": "integer"},
						},
					},
					"responses": map[string]any{"200": map[string]any{"description": "ok"}},
				},
				"post": map[string]any{
					"operationId": "createPet",
					"requestBody": map[string]any{
						"required": true,
						"content": map[string]any{
							"application/json": map[string]any{
								"schema": map[string]any{"type": "object"},
							},
						},
					},
					"security": []any{
						map[string]any{"oauth": []any{"pets:write"}},
					},
					"tags": []any{"pets"},
				},
			},
			"/pets/{petId}": map[string]any{
				"parameters": []any{
					map[string]any{
						"name": "petId", "in": "path", "required": true,
						"schema": map[string]any{"type": "string"},
					},
				},
				"get": map[string]any{"operationId": "getPet"},
				"delete": map[string]any{
					"operationId": "deletePet",
					"parameters": []any{
						map[string]any{
							"name": "petId", "in": "path", "required": true,
							"schema": map[string]any{"type": "integer"},
						},
					},
				},
			},
		},
	}
}

func TestCanParse(t *testing.T) {
	p := NewParser()

	assert.True(t, p.CanParse(map[string]any{"openapi": "3.0.0"}))
	assert.True(t, p.CanParse(map[string]any{"openapi": "3.1.0"}))
	assert.False(t, p.CanParse(map[string]any{"openapi": "2.0"}))
	assert.False(t, p.CanParse(map[string]any{"swagger": "2.0"}))
	assert.False(t, p.CanParse(map[string]any{"asyncapi": "2.6.0"}))
}

func TestParse_Valid(t *testing.T) {
	model, err := NewParser().Parse("", petstoreDoc())
	require.NoError(t, err)

	assert.Equal(t, types.FamilyREST, model.Family())
	assert.Equal(t, "3.0.3", model.Version())
	assert.Equal(t, "Petstore", model.Name())

	servers := model.Servers()
	require.Len(t, servers, 1)
	assert.Equal(t, "https://api.example.com/v1", servers[0].URL)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  map[string]any
	}{
		{"missing openapi", map[string]any{
			"info": map[string]any{"title": "x"}, "paths": map[string]any{},
		}},
		{"wrong major version", map[string]any{
			"openapi": "2.0",
			"info":    map[string]any{"title": "x"},
			"paths":   map[string]any{},
		}},
		{"missing info", map[string]any{
			"openapi": "3.0.0", "paths": map[string]any{},
		}},
		{"empty title", map[string]any{
			"openapi": "3.0.0",
			"info":    map[string]any{"title": ""},
			"paths":   map[string]any{},
		}},
		{"missing paths", map[string]any{
			"openapi": "3.0.0",
			"info":    map[string]any{"title": "x"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewParser().Parse("", tt.doc)
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindInvalidSpecification))
		})
	}
}

func TestExtractEndpoints(t *testing.T) {
	p := NewParser()
	model, err := p.Parse("", petstoreDoc())
	require.NoError(t, err)

	endpoints, err := p.ExtractEndpoints(model)
	require.NoError(t, err)

	// 2 operations on /pets, 2 on /pets/{petId}
	require.Len(t, endpoints, 4)

	byOp := make(map[string]types.Endpoint, len(endpoints))
	for _, ep := range endpoints {
		assert.Equal(t, types.ProtocolHTTP, ep.Protocol)
		assert.Equal(t, "active", ep.Status)
		byOp[ep.OperationID] = ep
	}

	list := byOp["listPets"]
	assert.Equal(t, "/pets", list.AddressPattern)
	assert.Equal(t, types.OpGet, list.Operation)
	assert.Equal(t, "List pets", list.Description)
	require.Len(t, list.Parameters, 1)
	assert.Equal(t, types.LocationQuery, list.Parameters[0].Location)

	create := byOp["createPet"]
	assert.Equal(t, types.OpPost, create.Operation)
	require.NotNil(t, create.RequestSchema)
	assert.Equal(t, true, create.RequestSchema["required"])
	assert.Equal(t, []string{"pets"}, create.Tags)
}

func TestExtractEndpoints_ParameterPrecedence(t *testing.T) {
	p := NewParser()
	model, err := p.Parse("", petstoreDoc())
	require.NoError(t, err)

	endpoints, err := p.ExtractEndpoints(model)
	require.NoError(t, err)

	var get, del types.Endpoint
	for _, ep := range endpoints {
		switch ep.OperationID {
		case "getPet":
			get = ep
		case "deletePet":
			del = ep
		}
	}

	// getPet inherits the path-level parameter
	require.Len(t, get.Parameters, 1)
	assert.Equal(t, "petId", get.Parameters[0].Name)
	assert.Equal(t, "string", get.Parameters[0].Schema["type"])

	// deletePet redeclares petId; the operation-level schema wins
	require.Len(t, del.Parameters, 1)
	assert.Equal(t, "integer", del.Parameters[0].Schema["type"])
}

func TestExtractEndpoints_Security(t *testing.T) {
	p := NewParser()
	model, err := p.Parse("", petstoreDoc())
	require.NoError(t, err)

	endpoints, err := p.ExtractEndpoints(model)
	require.NoError(t, err)

	for _, ep := range endpoints {
		switch ep.OperationID {
		case "createPet":
			// operation-level security overrides the global requirement
			require.Len(t, ep.Security, 1)
			assert.Equal(t, "oauth", ep.Security[0].Name)
			assert.Equal(t, "oauth2", ep.Security[0].Type)
			assert.Equal(t, []string{"pets:write"}, ep.Security[0].Scopes)
		case "listPets":
			require.Len(t, ep.Security, 1)
			assert.Equal(t, "apiKeyAuth", ep.Security[0].Name)
			assert.Equal(t, "apiKey", ep.Security[0].Type)
		}
	}
}

func TestExtractEndpoints_SkipsUnknownKeys(t *testing.T) {
	doc := map[string]any{
		"openapi": "3.0.0",
		"info":    map[string]any{"title": "x"},
		"paths": map[string]any{
			"/a": map[string]any{
				"get":         map[string]any{"operationId": "getA"},
				"description": "not an operation",
				"x-internal":  true,
			},
		},
	}
	p := NewParser()
	model, err := p.Parse("", doc)
	require.NoError(t, err)

	endpoints, err := p.ExtractEndpoints(model)
	require.NoError(t, err)
	require.Len(t, endpoints, 1)
	assert.Equal(t, "getA", endpoints[0].OperationID)
}
