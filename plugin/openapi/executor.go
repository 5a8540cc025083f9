package openapi

import (
	"context"

	"github.com/specgate/specgate/errors"
	"github.com/specgate/specgate/protocol"
	"github.com/specgate/specgate/types"
)

// Executor runs REST wire requests. The HTTP adapter owns transport
// semantics; the executor guards the family/protocol pairing.
type Executor struct{}

// NewExecutor creates a REST executor
func NewExecutor() *Executor { return &Executor{} }

// Family returns the REST spec family
func (e *Executor) Family() types.SpecFamily { return types.FamilyREST }

// Execute performs one request/response call over the adapter
func (e *Executor) Execute(
	ctx context.Context, adapter protocol.Adapter, req *types.WireRequest,
) (*types.WireResponse, error) {
	if adapter.Protocol() != types.ProtocolHTTP {
		return nil, errors.NewKind(errors.KindUnsupportedProtocol,
			"Executor", "Execute", "rest endpoints require the http adapter, got %q",
			string(adapter.Protocol()))
	}
	return adapter.Execute(ctx, req)
}
