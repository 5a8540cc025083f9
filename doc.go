// Package specgate is a dynamic API gateway built from API descriptions.
//
// specgate ingests OpenAPI 3.x and AsyncAPI 2.x documents, resolves their
// references, and normalizes every operation they declare into a uniform
// endpoint record. Registered endpoints can then be called live: the gateway
// substitutes parameters, applies the document's authentication schemes, and
// executes the request over the matching protocol adapter.
//
// # Layers
//
// The repo separates the description side from the wire side:
//
// Description layer:
//   - refresolver: $ref resolution with cycle truncation
//   - plugin/openapi, plugin/asyncapi: family parsers producing endpoints
//   - registry: maps families to parsers/executors and protocols to adapters
//
// Wire layer:
//   - protocol: adapter contracts, delivery dispatch, connection tracking
//   - protocol/httpadapter, wsadapter, mqttadapter, amqpadapter,
//     kafkaadapter, natsadapter: one adapter per transport
//
// Around both sits the gateway package (registration and call orchestration),
// the store package (SQLite or in-memory persistence), the auth package
// (scheme dispatch, OAuth2 PKCE flows, user sessions), the web package (HTTP
// front-end), and cmd/specgate (CLI).
//
// Adding a spec family or a transport touches only the registry's
// registration tables; the gateway core stays unchanged.
package specgate
