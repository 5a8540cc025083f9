// Package gateway is the composition root of specgate. It registers API
// specifications, turns caller arguments into wire requests, applies
// authentication, executes calls over the protocol adapters, and records
// call history and statistics.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/specgate/specgate/auth"
	"github.com/specgate/specgate/errors"
	"github.com/specgate/specgate/metric"
	"github.com/specgate/specgate/refresolver"
	"github.com/specgate/specgate/registry"
	"github.com/specgate/specgate/request"
	"github.com/specgate/specgate/store"
	"github.com/specgate/specgate/types"
)

// Options configures a Gateway
type Options struct {
	Store    store.Store
	Registry *registry.Registry
	Metrics  *metric.Metrics
	Logger   *slog.Logger
	// JWTSecret signs gateway session tokens
	JWTSecret []byte
	// CallTimeout is applied to calls that do not carry their own
	CallTimeout time.Duration
}

// Gateway wires the spec registry, persistence, auth, and protocol adapters
// into the call path.
type Gateway struct {
	store       store.Store
	registry    *registry.Registry
	metrics     *metric.Metrics
	logger      *slog.Logger
	resolver    *refresolver.Resolver
	dispatcher  *auth.Dispatcher
	flow        *auth.Flow
	sessions    *auth.Sessions
	matcher     *request.Matcher
	callTimeout time.Duration
	now         func() time.Time
}

// New creates a gateway over the given store and registry
func New(opts Options) (*Gateway, error) {
	if opts.Store == nil {
		return nil, errors.Wrap(errors.ErrInvalidConfig, "Gateway", "New", "store is required")
	}
	if opts.Registry == nil {
		return nil, errors.Wrap(errors.ErrInvalidConfig, "Gateway", "New", "registry is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metric.NewMetrics()
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}

	return &Gateway{
		store:       opts.Store,
		registry:    opts.Registry,
		metrics:     opts.Metrics,
		logger:      opts.Logger.With("component", "gateway"),
		resolver:    refresolver.New(),
		dispatcher:  auth.NewDispatcher(),
		flow:        auth.NewFlow(opts.Store),
		sessions:    auth.NewSessions(opts.Store, opts.JWTSecret),
		matcher:     request.NewMatcher(),
		callTimeout: opts.CallTimeout,
		now:         time.Now,
	}, nil
}

// Sessions returns the user session manager
func (g *Gateway) Sessions() *auth.Sessions {
	return g.sessions
}

// RegisterSpecification ingests a raw OpenAPI or AsyncAPI document. The
// document is reference-resolved, parsed by its detected family, and stored
// atomically with its extracted endpoints. A document yielding an endpoint
// on a protocol without a registered adapter is rejected whole.
func (g *Gateway) RegisterSpecification(ctx context.Context, name string, raw []byte) (*types.ApiDocument, []types.Endpoint, error) {
	resolved, err := g.resolver.Resolve(raw)
	if err != nil {
		g.metrics.RecordSpecRegistration("unknown", "error")
		return nil, nil, err
	}

	family, err := g.registry.DetectFamily(resolved)
	if err != nil {
		g.metrics.RecordSpecRegistration("unknown", "error")
		return nil, nil, err
	}

	parser, err := g.registry.Parser(family)
	if err != nil {
		g.metrics.RecordSpecRegistration(family, "error")
		return nil, nil, err
	}
	model, err := parser.Parse(name, resolved)
	if err != nil {
		g.metrics.RecordSpecRegistration(family, "error")
		return nil, nil, err
	}
	endpoints, err := parser.ExtractEndpoints(model)
	if err != nil {
		g.metrics.RecordSpecRegistration(family, "error")
		return nil, nil, err
	}

	for i := range endpoints {
		if !g.registry.HasProtocol(endpoints[i].Protocol) {
			g.metrics.RecordSpecRegistration(family, "error")
			return nil, nil, errors.NewKind(errors.KindUnsupportedProtocol,
				"Gateway", "RegisterSpecification", "endpoint %s uses unsupported protocol %q",
				endpoints[i].AddressPattern, string(endpoints[i].Protocol))
		}
	}

	now := g.now().UTC()
	spec := &types.Specification{
		ID:              uuid.NewString(),
		Name:            model.Name(),
		Family:          model.Family(),
		RawContent:      string(raw),
		ResolvedContent: resolved,
		Version:         model.Version(),
		Servers:         model.Servers(),
		CreatedAt:       now,
	}

	doc := &types.ApiDocument{
		ID:          uuid.NewString(),
		SpecID:      spec.ID,
		Name:        name,
		Version:     model.Version(),
		BaseAddress: firstServer(spec.Servers),
		Family:      model.Family(),
		Status:      types.StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for i := range endpoints {
		endpoints[i].ID = uuid.NewString()
		endpoints[i].ApiDocumentID = doc.ID
		endpoints[i].Status = types.StatusActive
		endpoints[i].CreatedAt = now
		endpoints[i].UpdatedAt = now
	}

	if err := g.store.SaveRegistration(ctx, spec, doc, endpoints); err != nil {
		g.metrics.RecordSpecRegistration(family, "error")
		return nil, nil, errors.Wrap(err, "Gateway", "RegisterSpecification", "persist registration")
	}

	g.metrics.RecordSpecRegistration(family, "success")
	g.metrics.SetEndpointsRegistered(family, len(endpoints))
	g.logger.Info("specification registered",
		"document", doc.ID,
		"name", name,
		"family", family,
		"version", model.Version(),
		"endpoints", len(endpoints))
	return doc, endpoints, nil
}

// CallEndpoint executes one endpoint by ID. Caller params flow through path
// substitution and location routing, auth configs are applied in priority
// order, and the outcome lands in the call log and the endpoint statistics.
func (g *Gateway) CallEndpoint(ctx context.Context, endpointID, userID string,
	params map[string]any, headers map[string]string, body any) (*types.WireResponse, error) {
	endpoint, err := g.store.Endpoint(ctx, endpointID)
	if err != nil {
		return nil, err
	}
	doc, err := g.store.Document(ctx, endpoint.ApiDocumentID)
	if err != nil {
		return nil, err
	}
	return g.call(ctx, endpoint, doc, userID, params, headers, body)
}

// CallByAddress executes the endpoint of a document whose pattern matches
// the concrete address and operation. Parameters extracted from the address
// are merged under the caller's, the caller winning on conflict.
func (g *Gateway) CallByAddress(ctx context.Context, docID, operation, address, userID string,
	params map[string]any, headers map[string]string, body any) (*types.WireResponse, error) {
	doc, err := g.store.Document(ctx, docID)
	if err != nil {
		return nil, err
	}
	endpoints, err := g.store.EndpointsByDocument(ctx, docID)
	if err != nil {
		return nil, err
	}

	for i := range endpoints {
		if string(endpoints[i].Operation) != operation {
			continue
		}
		extracted, ok := g.matcher.Match(endpoints[i].AddressPattern, address)
		if !ok {
			continue
		}
		merged := make(map[string]any, len(extracted)+len(params))
		for name, value := range extracted {
			merged[name] = value
		}
		for name, value := range params {
			merged[name] = value
		}
		return g.call(ctx, &endpoints[i], doc, userID, merged, headers, body)
	}

	return nil, errors.NewKind(errors.KindEndpointNotFound,
		"Gateway", "CallByAddress", "no endpoint matches %s %s", operation, address)
}

func (g *Gateway) call(ctx context.Context, endpoint *types.Endpoint, doc *types.ApiDocument,
	userID string, params map[string]any, headers map[string]string, body any) (*types.WireResponse, error) {
	req, err := request.Build(endpoint, doc, params, headers, body)
	if err != nil {
		return nil, err
	}
	if req.TimeoutSeconds == 0 {
		req.TimeoutSeconds = int(g.callTimeout.Seconds())
	}

	if err := g.applyAuth(ctx, req, doc, userID); err != nil {
		return nil, err
	}

	executor, err := g.registry.Executor(string(doc.Family))
	if err != nil {
		return nil, err
	}
	adapter, err := g.registry.Adapter(endpoint.Protocol)
	if err != nil {
		return nil, err
	}

	protoLabel := string(endpoint.Protocol)
	g.metrics.CallStarted(protoLabel)
	started := g.now()
	resp, err := executor.Execute(ctx, adapter, req)
	latency := time.Since(started)
	g.metrics.CallFinished(protoLabel)

	g.record(ctx, endpoint, req, resp, err, latency)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// applyAuth loads the document's auth configs and the caller's stored OAuth2
// authorization and decorates the request.
func (g *Gateway) applyAuth(ctx context.Context, req *types.WireRequest,
	doc *types.ApiDocument, userID string) error {
	configs, err := g.store.AuthConfigsByDocument(ctx, doc.ID)
	if err != nil {
		return errors.Wrap(err, "Gateway", "applyAuth", "load auth configs")
	}
	if len(configs) == 0 {
		return nil
	}

	var userAuth *types.UserAuthorization
	if userID != "" {
		userAuth, err = g.store.UserAuthorization(ctx, userID, doc.ID)
		if err != nil && !errors.Is(err, errors.ErrNotFound) {
			return errors.Wrap(err, "Gateway", "applyAuth", "load user authorization")
		}
	}

	return g.dispatcher.Apply(req, configs, userAuth)
}

// record writes the call log entry and folds the outcome into endpoint stats.
// Bookkeeping failures are logged, never surfaced to the caller.
func (g *Gateway) record(ctx context.Context, endpoint *types.Endpoint,
	req *types.WireRequest, resp *types.WireResponse, callErr error, latency time.Duration) {
	success := callErr == nil
	latencyMs := latency.Milliseconds()

	entry := &types.CallLog{
		ID:         uuid.NewString(),
		EndpointID: endpoint.ID,
		Protocol:   req.Protocol,
		Operation:  string(req.Operation),
		Address:    req.Address,
		Request:    requestSummary(req),
		LatencyMs:  latencyMs,
		CreatedAt:  g.now().UTC(),
	}
	status := "success"
	if callErr != nil {
		entry.Error = callErr.Error()
		status = "error"
		g.metrics.RecordError("Gateway", kindLabel(callErr))
	} else if resp != nil {
		entry.Status = resp.StatusCode
	}

	family := familyForProtocol(endpoint.Protocol)
	g.metrics.RecordCall(family, string(req.Protocol), string(req.Operation), status)
	g.metrics.RecordCallDuration(family, string(req.Protocol), latency)

	if err := g.store.AppendCallLog(ctx, entry); err != nil {
		g.logger.Warn("append call log failed", "endpoint", endpoint.ID, "error", err)
	}
	if err := g.store.UpdateCallStats(ctx, endpoint.ID, success, latencyMs); err != nil {
		g.logger.Warn("update call stats failed", "endpoint", endpoint.ID, "error", err)
	}

	g.logger.Debug("endpoint called",
		"endpoint", endpoint.ID,
		"operation", req.Operation,
		"address", req.Address,
		"status", status,
		"latency_ms", latencyMs)
}

// Close releases the registry's cached adapters
func (g *Gateway) Close(ctx context.Context) error {
	return g.registry.Close(ctx)
}

func firstServer(servers []types.Server) string {
	if len(servers) == 0 {
		return ""
	}
	return servers[0].URL
}

// requestSummary renders the logged view of a request. Auth material is
// masked before anything touches the log.
func requestSummary(req *types.WireRequest) string {
	summary := struct {
		Headers http.Header       `json:"headers,omitempty"`
		Query   map[string]string `json:"query,omitempty"`
	}{
		Headers: req.RedactedHeaders(),
		Query:   req.Query,
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return ""
	}
	return string(data)
}

func familyForProtocol(p types.Protocol) string {
	if p == types.ProtocolHTTP {
		return string(types.FamilyREST)
	}
	return string(types.FamilyPubSub)
}

func kindLabel(err error) string {
	if kind := errors.KindOf(err); kind != errors.KindUnknown {
		return kind.String()
	}
	return "internal"
}
