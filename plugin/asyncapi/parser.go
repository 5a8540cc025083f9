package asyncapi

import (
	"strings"

	"github.com/specgate/specgate/errors"
	"github.com/specgate/specgate/registry"
	"github.com/specgate/specgate/types"
)

// opKinds is the recognized set of channel operation kinds, in extraction order
var opKinds = []types.OperationKind{types.OpPublish, types.OpSubscribe}

// bindingProtocols maps AsyncAPI binding keys to wire protocols
var bindingProtocols = map[string]types.Protocol{
	"ws":         types.ProtocolWebSocket,
	"websockets": types.ProtocolWebSocket,
	"mqtt":       types.ProtocolMQTT,
	"amqp":       types.ProtocolAMQP,
	"kafka":      types.ProtocolKafka,
	"nats":       types.ProtocolNATS,
}

// Parser parses AsyncAPI 2.x documents and extracts their channel endpoints
type Parser struct{}

// NewParser creates an AsyncAPI parser
func NewParser() *Parser { return &Parser{} }

// CanParse reports whether the document declares a 2.x asyncapi marker
func (p *Parser) CanParse(doc map[string]any) bool {
	version, ok := doc["asyncapi"].(string)
	return ok && strings.HasPrefix(version, "2.")
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

// ExtractEndpoints produces one endpoint per (channel, operation) pair for the
// publish and subscribe operations a channel declares. The channel's declared
// parameters attach to every endpoint the channel yields.
func (p *Parser) ExtractEndpoints(model registry.SpecModel) ([]types.Endpoint, error) {
	m, ok := model.(*Model)
	if !ok {
		return nil, errors.NewKind(errors.KindInvalidSpecification,
			"Parser", "ExtractEndpoints", "model is not an asyncapi model")
	}

	serverProtocol := fallbackProtocol(m.Servers())

	var endpoints []types.Endpoint
	for channel, rawItem := range m.Channels() {
		channelItem, ok := rawItem.(map[string]any)
		if !ok {
			continue
		}
		params := parseChannelParameters(channelItem)
		protocol := channelProtocol(channelItem, serverProtocol)

		for _, kind := range opKinds {
			rawOp, ok := channelItem[string(kind)]
			if !ok {
				continue
			}
			operation, ok := rawOp.(map[string]any)
			if !ok {
				continue
			}

			endpoint := types.Endpoint{
				AddressPattern: channel,
				Protocol:       protocol,
				Operation:      kind,
				OperationID:    stringField(operation, "operationId"),
				Description:    firstNonEmpty(stringField(operation, "summary"), stringField(operation, "description")),
				Parameters:     params,
				RequestSchema:  messagePayload(operation),
				Security:       parseSecurity(m),
				Tags:           parseTags(operation),
				Status:         "active",
			}
			endpoints = append(endpoints, endpoint)
		}
	}
	return endpoints, nil
}

// channelProtocol derives an endpoint's protocol from the channel's bindings,
// falling back to the servers' declared protocol when the channel carries none.
func channelProtocol(channelItem map[string]any, fallback types.Protocol) types.Protocol {
	bindings := mapField(channelItem, "bindings")
	for key, protocol := range bindingProtocols {
		if _, ok := bindings[key]; ok {
			return protocol
		}
	}
	return fallback
}

// fallbackProtocol picks the protocol shared by the declared servers, or
// unknown when servers disagree or declare none recognized.
func fallbackProtocol(servers []types.Server) types.Protocol {
	protocol := types.ProtocolUnknown
	for _, server := range servers {
		p, ok := serverProtocols[normalizeServerProtocol(server.Protocol)]
		if !ok {
			continue
		}
		if protocol != types.ProtocolUnknown && protocol != p {
			return types.ProtocolUnknown
		}
		protocol = p
	}
	return protocol
}

// serverProtocols maps AsyncAPI server protocol names to wire protocols
var serverProtocols = map[string]types.Protocol{
	"ws":         types.ProtocolWebSocket,
	"wss":        types.ProtocolWebSocket,
	"websockets": types.ProtocolWebSocket,
	"mqtt":       types.ProtocolMQTT,
	"mqtts":      types.ProtocolMQTT,
	"amqp":       types.ProtocolAMQP,
	"amqps":      types.ProtocolAMQP,
	"kafka":      types.ProtocolKafka,
	"nats":       types.ProtocolNATS,
}

func normalizeServerProtocol(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}

// parseChannelParameters maps the channel's parameters object to channel
// parameters on the endpoint.
func parseChannelParameters(channelItem map[string]any) []types.Parameter {
	raw := mapField(channelItem, "parameters")
	if len(raw) == 0 {
		return nil
	}
	params := make([]types.Parameter, 0, len(raw))
	for name, item := range raw {
		entry, _ := item.(map[string]any)
		params = append(params, types.Parameter{
			Name:     name,
			Location: types.LocationChannel,
			Required: true,
			Schema:   mapField(entry, "schema"),
		})
	}
	return params
}

// messagePayload extracts the operation's message payload schema
func messagePayload(operation map[string]any) map[string]any {
	message := mapField(operation, "message")
	if message == nil {
		return nil
	}
	// oneOf message groups carry no single payload schema; keep the group
	if group, ok := message["oneOf"].([]any); ok {
		return map[string]any{"oneOf": group}
	}
	return mapField(message, "payload")
}

// parseSecurity resolves server security requirements against the declared
// schemes. AsyncAPI 2.x scopes security to servers; the gateway attributes
// every server requirement to each endpoint the document yields.
func parseSecurity(m *Model) []types.SecurityRequirement {
	schemes := m.SecuritySchemes()

	var raw []any
	if servers := mapField(m.Document(), "servers"); servers != nil {
		for _, item := range servers {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if sec, ok := entry["security"].([]any); ok {
				raw = append(raw, sec...)
			}
		}
	}

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
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if name := stringField(entry, "name"); name != "" {
			tags = append(tags, name)
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
