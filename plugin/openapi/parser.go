package openapi

import (
	"strings"

	"github.com/specgate/specgate/errors"
	"github.com/specgate/specgate/registry"
	"github.com/specgate/specgate/types"
)

// Parser parses OpenAPI 3.x documents and extracts their endpoints
type Parser struct{}

// NewParser creates an OpenAPI parser
func NewParser() *Parser { return &Parser{} }

// CanParse reports whether the document declares a 3.x openapi marker
func (p *Parser) CanParse(doc map[string]any) bool {
	version, ok := doc["openapi"].(string)
	return ok && strings.HasPrefix(version, "3.")
}

// Parse validates the document and returns its model
func (p *Parser) Parse(name string, doc map[string]any) (registry.SpecModel, error) {
	model, err := NewModel(name, doc)
	if err != nil {
		return nil, err
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}
	return model, nil
}

// ExtractEndpoints produces one endpoint per (path, verb) pair for verbs in
// the recognized HTTP set. Path-level parameters are merged with
// operation-level parameters; operation-level wins on name collision.
func (p *Parser) ExtractEndpoints(model registry.SpecModel) ([]types.Endpoint, error) {
	m, ok := model.(*Model)
	if !ok {
		return nil, errors.NewKind(errors.KindInvalidSpecification,
			"Parser", "ExtractEndpoints", "model is not an openapi model")
	}

	var endpoints []types.Endpoint
	for path, rawItem := range m.Paths() {
		pathItem, ok := rawItem.(map[string]any)
		if !ok {
			continue
		}
		pathParams := parseParameters(pathItem["parameters"])

		for _, verb := range types.HTTPVerbs {
			rawOp, ok := pathItem[string(verb)]
			if !ok {
				continue
			}
			operation, ok := rawOp.(map[string]any)
			if !ok {
				continue
			}

			endpoint := types.Endpoint{
				AddressPattern: path,
				Protocol:       types.ProtocolHTTP,
				Operation:      verb,
				OperationID:    stringField(operation, "operationId"),
				Description:    firstNonEmpty(stringField(operation, "summary"), stringField(operation, "description")),
				Parameters:     mergeParameters(pathParams, parseParameters(operation["parameters"])),
				RequestSchema:  parseRequestBody(operation),
				ResponseSchema: parseResponses(operation),
				Security:       parseSecurity(operation, m),
				Tags:           parseTags(operation),
				Status:         "active",
			}
			endpoints = append(endpoints, endpoint)
		}
	}
	return endpoints, nil
}

// mergeParameters merges path-level and operation-level parameters by name,
// operation-level taking precedence.
func mergeParameters(pathLevel, opLevel []types.Parameter) []types.Parameter {
	merged := make([]types.Parameter, 0, len(pathLevel)+len(opLevel))
	seen := make(map[string]int)

	for _, param := range pathLevel {
		seen[param.Name] = len(merged)
		merged = append(merged, param)
	}
	for _, param := range opLevel {
		if i, ok := seen[param.Name]; ok {
			merged[i] = param
			continue
		}
		seen[param.Name] = len(merged)
		merged = append(merged, param)
	}
	return merged
}

func parseParameters(raw any) []types.Parameter {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	params := make([]types.Parameter, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		required, _ := entry["required"].(bool)
		params = append(params, types.Parameter{
			Name:     stringField(entry, "name"),
			Location: types.ParameterLocation(stringField(entry, "in")),
			Required: required,
			Schema:   mapField(entry, "schema"),
		})
	}
	return params
}

func parseRequestBody(operation map[string]any) map[string]any {
	body := mapField(operation, "requestBody")
	if body == nil {
		return nil
	}
	required, _ := body["required"].(bool)
	return map[string]any{
		"required": required,
		"content":  mapField(body, "content"),
	}
}

func parseResponses(operation map[string]any) map[string]any {
	return mapField(operation, "responses")
}

// parseSecurity resolves the operation's security requirements, falling back
// to the document's global security, against the declared schemes.
func parseSecurity(operation map[string]any, m *Model) []types.SecurityRequirement {
	raw, ok := operation["security"].([]any)
	if !ok {
		raw = m.GlobalSecurity()
	}
	schemes := m.SecuritySchemes()

	var requirements []types.SecurityRequirement
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		for name, rawScopes := range entry {
			requirement := types.SecurityRequirement{Name: name}
			if scheme := mapField(schemes, name); scheme != nil {
				requirement.Type = stringField(scheme, "type")
			}
			if scopes, ok := rawScopes.([]any); ok {
				for _, scope := range scopes {
					if s, ok := scope.(string); ok {
						requirement.Scopes = append(requirement.Scopes, s)
					}
				}
			}
			requirements = append(requirements, requirement)
		}
	}
	return requirements
}

func parseTags(operation map[string]any) []string {
	raw, ok := operation["tags"].([]any)
	if !ok {
		return nil
	}
	tags := make([]string, 0, len(raw))
	for _, item := range raw {
		if tag, ok := item.(string); ok {
			tags = append(tags, tag)
		}
	}
	return tags
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
