// Package asyncapi implements the pub/sub spec family: an AsyncAPI 2.x
// model, parser, endpoint extractor, and executor.
package asyncapi

import (
	"strings"

	"github.com/specgate/specgate/errors"
	"github.com/specgate/specgate/registry"
	"github.com/specgate/specgate/types"
)

// Family is the registry name of the pub/sub spec family
const Family = "pubsub"

// Model is the SpecModel over one resolved AsyncAPI 2.x document
type Model struct {
	name string
	doc  map[string]any
}

// NewModel creates a Model over a resolved document
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

// Family returns the pub/sub spec family
func (m *Model) Family() types.SpecFamily { return types.FamilyPubSub }

// Version returns the declared asyncapi version
func (m *Model) Version() string { return stringField(m.doc, "asyncapi") }

// Name returns the document's display name
func (m *Model) Name() string { return m.name }

// Document returns the resolved document tree
func (m *Model) Document() map[string]any { return m.doc }

// Info returns the document's info object
func (m *Model) Info() map[string]any { return mapField(m.doc, "info") }

// Servers returns the declared broker servers with their protocols
func (m *Model) Servers() []types.Server {
	raw := mapField(m.doc, "servers")
	servers := make([]types.Server, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		servers = append(servers, types.Server{
			URL:         stringField(entry, "url"),
			Protocol:    stringField(entry, "protocol"),
			Description: stringField(entry, "description"),
		})
	}
	return servers
}

// SecuritySchemes returns components.securitySchemes
func (m *Model) SecuritySchemes() map[string]any {
	return mapField(mapField(m.doc, "components"), "securitySchemes")
}

// Channels returns the operations container
func (m *Model) Channels() map[string]any { return mapField(m.doc, "channels") }

// Validate checks the minimal structural rules: a 2.x family marker, an
// info.title, and a channels container.
func (m *Model) Validate() error {
	version, ok := m.doc["asyncapi"].(string)
	if !ok || version == "" {
		return errors.NewKind(errors.KindInvalidSpecification,
			"Model", "Validate", "missing field %q", "asyncapi")
	}
	if !strings.HasPrefix(version, "2.") {
		return errors.NewKind(errors.KindInvalidSpecification,
			"Model", "Validate", "unsupported asyncapi version %q", version)
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

	if _, ok := m.doc["channels"].(map[string]any); !ok {
		return errors.NewKind(errors.KindInvalidSpecification,
			"Model", "Validate", "missing field %q", "channels")
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
