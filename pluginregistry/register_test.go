package pluginregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specgate/specgate/registry"
	"github.com/specgate/specgate/types"
)

func TestRegister(t *testing.T) {
	reg := registry.New()
	require.NoError(t, Register(reg))

	for _, family := range []string{"rest", "pubsub"} {
		completeness := reg.ValidateCompleteness(family)
		assert.True(t, completeness.Complete, "family %s incomplete", family)
	}

	for _, protocol := range []types.Protocol{
		types.ProtocolHTTP, types.ProtocolWebSocket, types.ProtocolMQTT,
		types.ProtocolAMQP, types.ProtocolKafka, types.ProtocolNATS,
	} {
		assert.True(t, reg.HasProtocol(protocol), "protocol %s unregistered", protocol)
	}
	assert.False(t, reg.HasProtocol(types.ProtocolUnknown))
}

func TestRegister_DetectsFamilies(t *testing.T) {
	reg := registry.New()
	require.NoError(t, Register(reg))

	family, err := reg.DetectFamily(map[string]any{"openapi": "3.0.0"})
	require.NoError(t, err)
	assert.Equal(t, "rest", family)

	family, err = reg.DetectFamily(map[string]any{"asyncapi": "2.6.0"})
	require.NoError(t, err)
	assert.Equal(t, "pubsub", family)

	_, err = reg.DetectFamily(map[string]any{"swagger": "2.0"})
	require.Error(t, err)
}

func TestRegister_NilRegistry(t *testing.T) {
	require.Error(t, Register(nil))
}
