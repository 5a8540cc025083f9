// Package registry maps spec-family names to their model constructors,
// parsers, and executors, and protocol names to adapter factories. It is the
// sole extension point for adding a new spec family or transport without
// touching the gateway core.
package registry

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/specgate/specgate/errors"
	"github.com/specgate/specgate/protocol"
	"github.com/specgate/specgate/types"
)

// SpecModel exposes a uniform accessor API over one validated document,
// regardless of spec family.
type SpecModel interface {
	// Family returns the spec family the model belongs to
	Family() types.SpecFamily
	// Version returns the declared document version (e.g. "3.0.0")
	Version() string
	// Name returns the document's display name (info.title unless overridden)
	Name() string
	// Document returns the resolved document tree
	Document() map[string]any
	// Info returns the document's info object
	Info() map[string]any
	// Servers returns the declared backend servers
	Servers() []types.Server
	// SecuritySchemes returns declared security schemes by name
	SecuritySchemes() map[string]any
	// Validate checks minimal structural rules, failing with the first
	// missing or malformed field.
	Validate() error
}

// ModelConstructor creates a SpecModel over a resolved document
type ModelConstructor func(name string, doc map[string]any) (SpecModel, error)

// Parser detects and parses one spec family and extracts its endpoints
type Parser interface {
	// CanParse reports whether the document declares this parser's family
	CanParse(doc map[string]any) bool
	// Parse validates the document and returns its model
	Parse(name string, doc map[string]any) (SpecModel, error)
	// ExtractEndpoints walks the model's operations container and produces
	// normalized endpoint records.
	ExtractEndpoints(model SpecModel) ([]types.Endpoint, error)
}

// Executor runs a built wire request over an adapter, applying any
// family-specific request or response handling.
type Executor interface {
	// Family returns the spec family the executor serves
	Family() types.SpecFamily
	// Execute performs the call over the given adapter
	Execute(ctx context.Context, adapter protocol.Adapter, req *types.WireRequest) (*types.WireResponse, error)
}

// AdapterFactory creates a protocol adapter instance
type AdapterFactory func() (protocol.Adapter, error)

// familyRegistration holds the three roles of one spec family
type familyRegistration struct {
	model    ModelConstructor
	parser   Parser
	executor Executor
}

// Completeness reports which roles a family has registered
type Completeness struct {
	Family      string `json:"family"`
	HasModel    bool   `json:"has_model"`
	HasParser   bool   `json:"has_parser"`
	HasExecutor bool   `json:"has_executor"`
	Complete    bool   `json:"complete"`
}

// Registry is a thread-safe table of spec families and protocol adapters.
// Registration is last-write-wins per name; lookup is O(1). Adapter
// instances are created lazily from their factories and cached.
type Registry struct {
	mu        sync.RWMutex
	families  map[string]*familyRegistration
	factories map[types.Protocol]AdapterFactory
	adapters  map[types.Protocol]protocol.Adapter
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		families:  make(map[string]*familyRegistration),
		factories: make(map[types.Protocol]AdapterFactory),
		adapters:  make(map[types.Protocol]protocol.Adapter),
	}
}

// RegisterSpecFamily registers the model constructor, parser, and executor
// for one spec family. A later registration under the same name replaces the
// earlier one wholesale.
func (r *Registry) RegisterSpecFamily(name string, model ModelConstructor, parser Parser, executor Executor) error {
	if name == "" {
		return errors.Wrap(errors.ErrInvalidConfig, "Registry", "RegisterSpecFamily", "family name validation")
	}
	if model == nil {
		return errors.Wrap(errors.ErrInvalidConfig, "Registry", "RegisterSpecFamily", "model constructor validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.families[name] = &familyRegistration{model: model, parser: parser, executor: executor}
	return nil
}

// RegisterProtocol registers an adapter factory for a protocol. Last write
// wins; a cached instance from a previous factory is discarded.
func (r *Registry) RegisterProtocol(name types.Protocol, factory AdapterFactory) error {
	if name == "" || name == types.ProtocolUnknown {
		return errors.Wrap(errors.ErrInvalidConfig, "Registry", "RegisterProtocol", "protocol name validation")
	}
	if factory == nil {
		return errors.Wrap(errors.ErrInvalidConfig, "Registry", "RegisterProtocol", "factory validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
	delete(r.adapters, name)
	return nil
}

// Model returns the model constructor for a family
func (r *Registry) Model(family string) (ModelConstructor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.families[family]
	if !ok || reg.model == nil {
		return nil, errors.NewKind(errors.KindUnsupportedFamily,
			"Registry", "Model", "family %q", family)
	}
	return reg.model, nil
}

// Parser returns the parser for a family
func (r *Registry) Parser(family string) (Parser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.families[family]
	if !ok || reg.parser == nil {
		return nil, errors.NewKind(errors.KindUnsupportedFamily,
			"Registry", "Parser", "family %q", family)
	}
	return reg.parser, nil
}

// Executor returns the executor for a family
func (r *Registry) Executor(family string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.families[family]
	if !ok || reg.executor == nil {
		return nil, errors.NewKind(errors.KindUnsupportedFamily,
			"Registry", "Executor", "family %q", family)
	}
	return reg.executor, nil
}

// Adapter returns the adapter instance for a protocol, creating it from its
// factory on first use.
func (r *Registry) Adapter(name types.Protocol) (protocol.Adapter, error) {
	r.mu.RLock()
	if adapter, ok := r.adapters[name]; ok {
		r.mu.RUnlock()
		return adapter, nil
	}
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.NewKind(errors.KindUnsupportedProtocol,
			"Registry", "Adapter", "protocol %q", string(name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another caller may have won the race
	if adapter, ok := r.adapters[name]; ok {
		return adapter, nil
	}
	adapter, err := factory()
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "Adapter", "adapter construction")
	}
	r.adapters[name] = adapter
	return adapter, nil
}

// HasProtocol reports whether a protocol has a registered factory
func (r *Registry) HasProtocol(name types.Protocol) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// DetectFamily returns the name of the first registered family whose parser
// recognizes the document.
func (r *Registry) DetectFamily(doc map[string]any) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, reg := range r.families {
		if reg.parser != nil && reg.parser.CanParse(doc) {
			return name, nil
		}
	}
	return "", errors.NewKind(errors.KindUnsupportedFamily,
		"Registry", "DetectFamily", "no registered family recognizes the document")
}

// Families returns the registered family names
func (r *Registry) Families() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.families))
	for name := range r.families {
		names = append(names, name)
	}
	return names
}

// Protocols returns the registered protocol names
func (r *Registry) Protocols() []types.Protocol {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]types.Protocol, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// ValidateCompleteness reports whether a family has all three roles registered
func (r *Registry) ValidateCompleteness(family string) Completeness {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := Completeness{Family: family}
	if reg, ok := r.families[family]; ok {
		result.HasModel = reg.model != nil
		result.HasParser = reg.parser != nil
		result.HasExecutor = reg.executor != nil
	}
	result.Complete = result.HasModel && result.HasParser && result.HasExecutor
	return result
}

// Close shuts down every instantiated adapter
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	adapters := make([]protocol.Adapter, 0, len(r.adapters))
	for _, adapter := range r.adapters {
		adapters = append(adapters, adapter)
	}
	r.adapters = make(map[types.Protocol]protocol.Adapter)
	r.mu.Unlock()

	group, gctx := errgroup.WithContext(ctx)
	for _, adapter := range adapters {
		group.Go(func() error { return adapter.Close(gctx) })
	}
	return group.Wait()
}
