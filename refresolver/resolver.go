// Package refresolver expands $ref pointers in API specification documents
// into fully inlined trees. It handles internal fragment references, external
// HTTP(S) document references, and detects circular references, truncating
// them with an explicit marker instead of recursing forever.
package refresolver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/specgate/specgate/errors"
)

const (
	// maxFetchSize bounds external document bodies to prevent resource exhaustion
	maxFetchSize = 10 * 1024 * 1024

	// defaultFetchTimeout bounds one external document fetch
	defaultFetchTimeout = 30 * time.Second
)

// CircularKey marks the truncation point of a circular reference in a
// resolved document: {"$ref": "<ref>", "circular": true}.
const CircularKey = "circular"

// Fetcher retrieves the body of an external reference document
type Fetcher func(url string) ([]byte, error)

// Resolver expands $ref pointers in a raw specification document.
// A Resolver value is single-use per Resolve call with respect to its
// resolution stack; memoized refs and fetched documents live for the
// lifetime of one call.
type Resolver struct {
	fetch Fetcher
}

// New creates a Resolver that fetches external documents over HTTP with a
// bounded timeout.
func New() *Resolver {
	client := &http.Client{Timeout: defaultFetchTimeout}
	return &Resolver{fetch: func(rawURL string) ([]byte, error) {
		resp, err := client.Get(rawURL)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, rawURL)
		}
		return io.ReadAll(io.LimitReader(resp.Body, maxFetchSize))
	}}
}

// NewWithFetcher creates a Resolver with a caller-supplied fetcher, used by
// tests and by deployments that restrict outbound access.
func NewWithFetcher(fetch Fetcher) *Resolver {
	return &Resolver{fetch: fetch}
}

// resolution carries the per-call state: the stack of refs currently being
// expanded, memoized results, and the external document cache.
type resolution struct {
	root     map[string]any
	stack    map[string]bool
	order    []string
	resolved map[string]any
	external map[string]map[string]any
	fetch    Fetcher
}

// Resolve parses a raw JSON or YAML document and expands every $ref it
// contains. A ref revisited while still being expanded is returned as
// {"$ref": ref, "circular": true} so self-referential schemas terminate.
func (r *Resolver) Resolve(raw []byte) (map[string]any, error) {
	doc, err := Decode(raw)
	if err != nil {
		return nil, errors.WrapKind(errors.KindInvalidSpecification, err,
			"Resolver", "Resolve", "document decode")
	}

	res := &resolution{
		root:     doc,
		stack:    make(map[string]bool),
		resolved: make(map[string]any),
		external: make(map[string]map[string]any),
		fetch:    r.fetch,
	}

	out, err := res.walk(doc)
	if err != nil {
		return nil, err
	}
	resolved, ok := out.(map[string]any)
	if !ok {
		return nil, errors.NewKind(errors.KindInvalidSpecification,
			"Resolver", "Resolve", "document root must be an object")
	}
	return resolved, nil
}

// Decode parses raw bytes as JSON when they open with '{', YAML otherwise
func Decode(raw []byte) (map[string]any, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, fmt.Errorf("empty document")
	}

	var doc map[string]any
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		return doc, nil
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	return doc, nil
}

// walk resolves every $ref below node depth-first
func (res *resolution) walk(node any) (any, error) {
	switch v := node.(type) {
	case map[string]any:
		if ref, ok := v["$ref"].(string); ok {
			return res.resolveRef(ref)
		}
		out := make(map[string]any, len(v))
		for key, value := range v {
			resolved, err := res.walk(value)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil

	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := res.walk(item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil

	default:
		return node, nil
	}
}

// resolveRef expands a single $ref, consulting the memo and the in-progress
// stack before dispatching on the reference form.
func (res *resolution) resolveRef(ref string) (any, error) {
	if res.stack[ref] {
		// Re-entrant ref: truncate with a marker instead of recursing.
		return map[string]any{"$ref": ref, CircularKey: true}, nil
	}
	if cached, ok := res.resolved[ref]; ok {
		return cached, nil
	}

	res.stack[ref] = true
	res.order = append(res.order, ref)
	defer func() {
		delete(res.stack, ref)
		res.order = res.order[:len(res.order)-1]
	}()

	var (
		value any
		err   error
	)
	switch {
	case strings.HasPrefix(ref, "#"):
		value, err = res.resolveInternal(ref, res.root)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		value, err = res.resolveExternal(ref)
	default:
		return nil, errors.NewKind(errors.KindUnsupportedReference,
			"Resolver", "resolveRef", "relative reference %q not supported", ref)
	}
	if err != nil {
		return nil, err
	}

	res.resolved[ref] = value
	return value, nil
}

// resolveInternal navigates a "#/path/to/component" pointer from the given
// document root and resolves the target's own refs.
func (res *resolution) resolveInternal(ref string, root map[string]any) (any, error) {
	pointer := strings.TrimPrefix(ref, "#")
	if pointer == "" || pointer == "/" {
		return res.walk(root)
	}

	parts := strings.Split(strings.TrimPrefix(pointer, "/"), "/")
	current := any(root)
	for i, part := range parts {
		part = unescapePointerToken(part)
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[part]
			if !ok {
				return nil, errors.NewKind(errors.KindMalformedReference,
					"Resolver", "resolveInternal",
					"reference %q not found (missing key %q at #/%s)",
					ref, part, strings.Join(parts[:i+1], "/"))
			}
			current = next
		case []any:
			index, convErr := strconv.Atoi(part)
			if convErr != nil || index < 0 || index >= len(v) {
				return nil, errors.NewKind(errors.KindMalformedReference,
					"Resolver", "resolveInternal",
					"reference %q has invalid array index %q", ref, part)
			}
			current = v[index]
		default:
			return nil, errors.NewKind(errors.KindMalformedReference,
				"Resolver", "resolveInternal",
				"reference %q cannot traverse into %T", ref, v)
		}
	}

	return res.walk(current)
}

// resolveExternal fetches an http(s) reference, caches the base document for
// the lifetime of the resolve call, and navigates any fragment within it.
func (res *resolution) resolveExternal(ref string) (any, error) {
	parsed, err := url.Parse(ref)
	if err != nil {
		return nil, errors.WrapKind(errors.KindMalformedReference, err,
			"Resolver", "resolveExternal", "reference URL parse")
	}

	fragment := parsed.Fragment
	parsed.Fragment = ""
	baseURL := parsed.String()

	doc, ok := res.external[baseURL]
	if !ok {
		if res.fetch == nil {
			return nil, errors.NewKind(errors.KindUnsupportedReference,
				"Resolver", "resolveExternal", "no fetcher configured for %q", baseURL)
		}
		body, fetchErr := res.fetch(baseURL)
		if fetchErr != nil {
			return nil, errors.WrapKind(errors.KindMalformedReference, fetchErr,
				"Resolver", "resolveExternal", "external document fetch")
		}
		doc, err = Decode(body)
		if err != nil {
			return nil, errors.WrapKind(errors.KindMalformedReference, err,
				"Resolver", "resolveExternal", "external document decode")
		}
		res.external[baseURL] = doc
	}

	if fragment == "" {
		return res.walk(doc)
	}
	return res.resolveInternal("#"+fragment, doc)
}

// unescapePointerToken reverses RFC 6901 escaping: ~1 -> /, ~0 -> ~
func unescapePointerToken(token string) string {
	token = strings.ReplaceAll(token, "~1", "/")
	return strings.ReplaceAll(token, "~0", "~")
}
