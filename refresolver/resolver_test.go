package refresolver

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specgate/specgate/errors"
)

func TestResolve_InternalRef(t *testing.T) {
	raw := []byte(`{
		"openapi": "3.0.0",
		"components": {"schemas": {"Pet": {"type": "object", "properties": {"name": {"type": "string"}}}}},
		"paths": {"/pets": {"get": {"responses": {"200": {"content": {"application/json": {"schema": {"$ref": "#/components/schemas/Pet"}}}}}}}}
	}`)

	resolved, err := New().Resolve(raw)
	require.NoError(t, err)

	schema := dig(t, resolved, "paths", "/pets", "get", "responses", "200",
		"content", "application/json", "schema")
	assert.Equal(t, "object", schema["type"])
	_, hasRef := schema["$ref"]
	assert.False(t, hasRef, "resolved schema must not keep its $ref")
}

func TestResolve_YAMLInput(t *testing.T) {
	raw := []byte("openapi: \"3.0.0\"\ninfo:\n  title: T\npaths: {}\n")

	resolved, err := New().Resolve(raw)
	require.NoError(t, err)
	info, ok := resolved["info"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "T", info["title"])
}

func TestResolve_Idempotent(t *testing.T) {
	raw := []byte(`{
		"openapi": "3.0.0",
		"components": {"schemas": {"A": {"type": "string"}}},
		"paths": {"/a": {"get": {"parameters": [{"name": "x", "schema": {"$ref": "#/components/schemas/A"}}]}}}
	}`)

	first, err := New().Resolve(raw)
	require.NoError(t, err)
	second, err := New().Resolve(raw)
	require.NoError(t, err)

	if !reflect.DeepEqual(first, second) {
		t.Error("resolving the same document twice must yield identical trees")
	}
}

func TestResolve_SelfReferentialSchema(t *testing.T) {
	// A tree node type referencing itself must terminate with a circular
	// marker exactly at the re-entrant point.
	raw := []byte(`{
		"openapi": "3.0.0",
		"components": {"schemas": {"Node": {
			"type": "object",
			"properties": {"children": {"type": "array", "items": {"$ref": "#/components/schemas/Node"}}}
		}}},
		"paths": {"/tree": {"get": {"responses": {"200": {"content": {"application/json": {"schema": {"$ref": "#/components/schemas/Node"}}}}}}}}
	}`)

	resolved, err := New().Resolve(raw)
	require.NoError(t, err)

	schema := dig(t, resolved, "paths", "/tree", "get", "responses", "200",
		"content", "application/json", "schema")
	items := dig(t, schema, "properties", "children", "items")
	assert.Equal(t, "#/components/schemas/Node", items["$ref"])
	assert.Equal(t, true, items[CircularKey])
}

func TestResolve_IndirectCycle(t *testing.T) {
	raw := []byte(`{
		"openapi": "3.0.0",
		"components": {"schemas": {
			"A": {"type": "object", "properties": {"b": {"$ref": "#/components/schemas/B"}}},
			"B": {"type": "object", "properties": {"a": {"$ref": "#/components/schemas/A"}}}
		}},
		"paths": {"/x": {"get": {"parameters": [{"name": "p", "schema": {"$ref": "#/components/schemas/A"}}]}}}
	}`)

	resolved, err := New().Resolve(raw)
	require.NoError(t, err)

	params := dig(t, resolved, "paths", "/x", "get")["parameters"].([]any)
	schema := params[0].(map[string]any)["schema"]
	assert.True(t, hasCircularMarker(schema, 0),
		"an indirect cycle must be truncated with a circular marker")
}

// hasCircularMarker reports whether a circular marker appears anywhere in the
// resolved subtree, within a bounded depth.
func hasCircularMarker(node any, depth int) bool {
	if depth > 20 {
		return false
	}
	switch v := node.(type) {
	case map[string]any:
		if v[CircularKey] == true {
			return true
		}
		for _, value := range v {
			if hasCircularMarker(value, depth+1) {
				return true
			}
		}
	case []any:
		for _, item := range v {
			if hasCircularMarker(item, depth+1) {
				return true
			}
		}
	}
	return false
}

func TestResolve_MissingPointer(t *testing.T) {
	raw := []byte(`{"openapi": "3.0.0", "paths": {"/x": {"get": {"parameters": [{"schema": {"$ref": "#/components/schemas/Missing"}}]}}}}`)

	_, err := New().Resolve(raw)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindMalformedReference))
}

func TestResolve_RelativeRefUnsupported(t *testing.T) {
	raw := []byte(`{"openapi": "3.0.0", "paths": {"/x": {"get": {"parameters": [{"schema": {"$ref": "./schemas/pet.yaml"}}]}}}}`)

	_, err := New().Resolve(raw)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindUnsupportedReference))
}

func TestResolve_ExternalRef(t *testing.T) {
	external := []byte(`{"components": {"schemas": {"User": {"type": "object", "properties": {"id": {"type": "integer"}}}}}}`)

	fetches := 0
	resolver := NewWithFetcher(func(url string) ([]byte, error) {
		fetches++
		if url != "https://example.com/common.json" {
			return nil, fmt.Errorf("unexpected fetch: %s", url)
		}
		return external, nil
	})

	raw := []byte(`{
		"openapi": "3.0.0",
		"paths": {"/users": {"get": {"parameters": [
			{"name": "a", "schema": {"$ref": "https://example.com/common.json#/components/schemas/User"}},
			{"name": "b", "schema": {"$ref": "https://example.com/common.json#/components/schemas/User"}}
		]}}}
	}`)

	resolved, err := resolver.Resolve(raw)
	require.NoError(t, err)
	assert.Equal(t, 1, fetches, "external documents must be fetched once per resolve call")

	params := dig(t, resolved, "paths", "/users", "get")["parameters"].([]any)
	schema := params[0].(map[string]any)["schema"].(map[string]any)
	assert.Equal(t, "object", schema["type"])
}

func TestResolve_PointerEscapes(t *testing.T) {
	raw := []byte(`{
		"openapi": "3.0.0",
		"components": {"schemas": {"a/b": {"type": "string"}}},
		"paths": {"/x": {"get": {"parameters": [{"schema": {"$ref": "#/components/schemas/a~1b"}}]}}}
	}`)

	resolved, err := New().Resolve(raw)
	require.NoError(t, err)
	params := dig(t, resolved, "paths", "/x", "get")["parameters"].([]any)
	schema := params[0].(map[string]any)["schema"].(map[string]any)
	assert.Equal(t, "string", schema["type"])
}

func TestDecode_Empty(t *testing.T) {
	_, err := Decode([]byte("   "))
	require.Error(t, err)
}

// dig walks nested map keys, failing the test on a missing or mistyped node
func dig(t *testing.T, node map[string]any, keys ...string) map[string]any {
	t.Helper()
	current := node
	for _, key := range keys {
		next, ok := current[key].(map[string]any)
		require.True(t, ok, "missing or non-object key %q", key)
		current = next
	}
	return current
}
