// Package pluginregistry wires the built-in spec families and protocol
// adapters into a registry. It is the single place new families or
// transports are added.
package pluginregistry

import (
	stderrors "errors"

	pkgerrors "github.com/specgate/specgate/errors"
	"github.com/specgate/specgate/plugin/asyncapi"
	"github.com/specgate/specgate/plugin/openapi"
	"github.com/specgate/specgate/protocol/amqpadapter"
	"github.com/specgate/specgate/protocol/httpadapter"
	"github.com/specgate/specgate/protocol/kafkaadapter"
	"github.com/specgate/specgate/protocol/mqttadapter"
	"github.com/specgate/specgate/protocol/natsadapter"
	"github.com/specgate/specgate/protocol/wsadapter"
	"github.com/specgate/specgate/registry"
	"github.com/specgate/specgate/types"
)

// Register registers all built-in spec families and protocol adapters with
// the provided registry:
//
// Spec families:
//   - rest (OpenAPI 3.x)
//   - pubsub (AsyncAPI 2.x)
//
// Protocol adapters:
//   - http (request/response)
//   - websocket, mqtt, amqp, kafka, nats (channel protocols)
//
// Adapter instances are created lazily on first use, so registering a
// protocol costs nothing until an endpoint speaks it.
func Register(reg *registry.Registry) error {
	if reg == nil {
		return pkgerrors.Wrap(
			stderrors.New("registry cannot be nil"),
			"PluginRegistry", "Register", "registry validation")
	}

	// Spec families
	if err := reg.RegisterSpecFamily(openapi.Family,
		openapi.NewModel, openapi.NewParser(), openapi.NewExecutor()); err != nil {
		return pkgerrors.Wrap(err, "PluginRegistry", "Register", "rest family registration")
	}
	if err := reg.RegisterSpecFamily(asyncapi.Family,
		asyncapi.NewModel, asyncapi.NewParser(), asyncapi.NewExecutor()); err != nil {
		return pkgerrors.Wrap(err, "PluginRegistry", "Register", "pubsub family registration")
	}

	// Protocol adapters
	protocols := []struct {
		name    types.Protocol
		factory registry.AdapterFactory
	}{
		{types.ProtocolHTTP, httpadapter.NewDefault},
		{types.ProtocolWebSocket, wsadapter.NewDefault},
		{types.ProtocolMQTT, mqttadapter.NewDefault},
		{types.ProtocolAMQP, amqpadapter.NewDefault},
		{types.ProtocolKafka, kafkaadapter.NewDefault},
		{types.ProtocolNATS, natsadapter.NewDefault},
	}
	for _, p := range protocols {
		if err := reg.RegisterProtocol(p.name, p.factory); err != nil {
			return pkgerrors.Wrap(err, "PluginRegistry", "Register",
				string(p.name)+" adapter registration")
		}
	}
	return nil
}
