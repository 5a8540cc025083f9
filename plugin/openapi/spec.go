// Package openapi implements the REST spec family: an OpenAPI 3.x model,
// parser, endpoint extractor, and executor.
package openapi

import (
	"strings"

	"github.com/specgate/specgate/errors"
	"github.com/specgate/specgate/registry"
	"github.com/specgate/specgate/types"
)

// Family is the registry name of the REST spec family
const Family = "rest"

// Model is the SpecModel over one resolved OpenAPI 3.x document
type Model struct {
	name string
	doc  map[string]any
}

// NewModel creates a Model over a resolved document. It is the family's
// ModelConstructor; structural validation happens in Validate.
func NewModel(name string, doc map[string]any) (registry.SpecModel, error) {
	if doc == nil {
		return nil, errors.NewKind(errors.KindInvalidSpecification,
			"Model", "NewModel", "document is nil")
	}
	m := &Model{name: name, doc: doc}
	if m.name == "" {
		m.name = stringField(m.Info(), "title")
	}
	return m, nil
}

// Family returns the REST spec family
func (m *Model) Family() types.SpecFamily { return types.FamilyREST }

// Version returns the declared openapi version
func (m *Model) Version() string { return stringField(m.doc, "openapi") }

// Name returns the document's display name
func (m *Model) Name() string { return m.name }

// Document returns the resolved document tree
func (m *Model) Document() map[string]any { return m.doc }

// Info returns the document's info object
func (m *Model) Info() map[string]any { return mapField(m.doc, "info") }

// Servers returns the declared backend servers
func (m *Model) Servers() []types.Server {
	raw, _ := m.doc["servers"].([]any)
	servers := make([]types.Server, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		servers = append(servers, types.Server{
			URL:         stringField(entry, "url"),
			Description: stringField(entry, "description"),
		})
	}
	return servers
}

// SecuritySchemes returns components.securitySchemes
func (m *Model) SecuritySchemes() map[string]any {
	return mapField(mapField(m.doc, "components"), "securitySchemes")
}

// GlobalSecurity returns the document-level security requirements
func (m *Model) GlobalSecurity() []any {
	raw, _ := m.doc["security"].([]any)
	return raw
}

// Paths returns the operations container
func (m *Model) Paths() map[string]any { return mapField(m.doc, "paths") }

// Validate checks the minimal structural rules: a 3.x family marker, an
// info.title, and a paths container. It reports the first offending field
// rather than attempting full schema-correctness validation.
func (m *Model) Validate() error {
	version, ok := m.doc["openapi"].(string)
	if !ok || version == "" {
		return errors.NewKind(errors.KindInvalidSpecification,
			"Model", "Validate", "missing field %q", "openapi")
	}
	if !strings.HasPrefix(version, "3.") {
		return errors.NewKind(errors.KindInvalidSpecification,
			"Model", "Validate", "unsupported openapi version %q", version)
	}

	info, ok := m.doc["info"].(map[string]any)
	if !ok {
		return errors.NewKind(errors.KindInvalidSpecification,
			"Model", "Validate", "missing field %q", "info")
	}
	if stringField(info, "title") == "" {
		return errors.NewKind(errors.KindInvalidSpecification,
			"Model", "Validate", "missing field %q", "info.title")
	}

	if _, ok := m.doc["paths"].(map[string]any); !ok {
		return errors.NewKind(errors.KindInvalidSpecification,
			"Model", "Validate", "missing field %q", "paths")
	}
	return nil
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func mapField(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	v, _ := m[key].(map[string]any)
	return v
}
