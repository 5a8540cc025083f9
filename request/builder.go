// Package request turns an endpoint plus caller arguments into a
// fully-addressed wire request, and matches concrete addresses back to
// endpoint patterns.
package request

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/specgate/specgate/errors"
	"github.com/specgate/specgate/types"
)

// Build produces a wire request for one endpoint call. Caller parameters are
// consumed by the path template first; whatever remains is placed per the
// endpoint's declared locations, with undeclared leftovers going to the
// query string for REST endpoints and to channel parameters otherwise.
func Build(
	endpoint *types.Endpoint, doc *types.ApiDocument,
	params map[string]any, headers map[string]string, body any,
) (*types.WireRequest, error) {
	if endpoint == nil {
		return nil, errors.Wrap(errors.ErrInvalidConfig, "Builder", "Build", "endpoint validation")
	}

	coerced, err := coerceAll(endpoint, params)
	if err != nil {
		return nil, err
	}
	if err := checkRequired(endpoint, coerced, body); err != nil {
		return nil, err
	}

	address, consumed, err := substitutePath(endpoint.AddressPattern, coerced)
	if err != nil {
		return nil, err
	}

	req := &types.WireRequest{
		Protocol:  endpoint.Protocol,
		Operation: endpoint.Operation,
		Body:      body,
		Headers:   make(http.Header),
	}
	for key, value := range headers {
		req.Headers.Set(key, value)
	}

	// Route the unconsumed parameters to their declared locations
	declared := declaredLocations(endpoint)
	for name, value := range coerced {
		if consumed[name] {
			continue
		}
		switch declared[strings.ToLower(name)] {
		case types.LocationHeader:
			req.Headers.Set(name, stringify(value))
		case types.LocationCookie:
			req.Headers.Add("Cookie", name+"="+stringify(value))
		case types.LocationChannel:
			addChannelParam(req, name, stringify(value))
		case types.LocationQuery:
			addQueryParam(req, name, stringify(value))
		default:
			// undeclared leftovers follow the endpoint's protocol family
			if endpoint.Protocol == types.ProtocolHTTP {
				addQueryParam(req, name, stringify(value))
			} else {
				addChannelParam(req, name, stringify(value))
			}
		}
	}

	if endpoint.Protocol == types.ProtocolHTTP {
		req.Address = JoinURL(baseAddress(doc), address)
		if body != nil {
			req.SetHeaderIfAbsent("Content-Type", "application/json")
		}
	} else {
		req.Address = address
		req.Server = baseAddress(doc)
	}
	return req, nil
}

func baseAddress(doc *types.ApiDocument) string {
	if doc == nil {
		return ""
	}
	return doc.BaseAddress
}

// JoinURL joins a base address and a path. A base with no path component is
// concatenated directly; a base carrying a sub-path keeps it, with the
// relative path appended.
func JoinURL(base, path string) string {
	if base == "" {
		return path
	}
	if path == "" {
		return base
	}
	base = strings.TrimSuffix(base, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

// substitutePath replaces {name} tokens with parameter values, recording
// which parameters the template consumed.
func substitutePath(pattern string, params map[string]any) (string, map[string]bool, error) {
	consumed := make(map[string]bool)
	var out strings.Builder

	rest := pattern
	for {
		open := strings.Index(rest, "{")
		if open < 0 {
			out.WriteString(rest)
			return out.String(), consumed, nil
		}
		closing := strings.Index(rest[open:], "}")
		if closing < 0 {
			out.WriteString(rest)
			return out.String(), consumed, nil
		}
		name := rest[open+1 : open+closing]
		out.WriteString(rest[:open])

		value, ok := params[name]
		if !ok {
			return "", nil, errors.NewKind(errors.KindMissingRequiredParameter,
				"Builder", "substitutePath", "path parameter %q", name)
		}
		out.WriteString(stringify(value))
		consumed[name] = true
		rest = rest[open+closing+1:]
	}
}

// checkRequired verifies every declared required parameter is present. A
// required body is checked against the endpoint's request schema.
func checkRequired(endpoint *types.Endpoint, params map[string]any, body any) error {
	for _, param := range endpoint.Parameters {
		if !param.Required {
			continue
		}
		if _, ok := params[param.Name]; !ok {
			return errors.NewKind(errors.KindMissingRequiredParameter,
				"Builder", "Build", "parameter %q (%s)", param.Name, string(param.Location))
		}
	}
	if endpoint.RequestSchema != nil {
		if required, _ := endpoint.RequestSchema["required"].(bool); required && body == nil {
			return errors.NewKind(errors.KindMissingRequiredParameter,
				"Builder", "Build", "request body")
		}
	}
	return nil
}

// coerceAll validates each supplied parameter against its declared schema
// type, coercing string representations where they parse cleanly.
func coerceAll(endpoint *types.Endpoint, params map[string]any) (map[string]any, error) {
	declared := make(map[string]*types.Parameter, len(endpoint.Parameters))
	for i := range endpoint.Parameters {
		declared[endpoint.Parameters[i].Name] = &endpoint.Parameters[i]
	}

	out := make(map[string]any, len(params))
	for name, value := range params {
		param, ok := declared[name]
		if !ok || param.Schema == nil {
			out[name] = value
			continue
		}
		schemaType, _ := param.Schema["type"].(string)
		coerced, err := coerce(value, schemaType)
		if err != nil {
			return nil, errors.NewKind(errors.KindTypeMismatch,
				"Builder", "Build", "parameter %q: %v", name, err)
		}
		out[name] = coerced
	}
	return out, nil
}

// coerce converts a value to the schema type when a clean conversion exists
func coerce(value any, schemaType string) (any, error) {
	switch schemaType {
	case "", "string":
		return value, nil
	case "integer":
		switch v := value.(type) {
		case int, int32, int64:
			return v, nil
		case float64:
			if v == float64(int64(v)) {
				return int64(v), nil
			}
			return nil, fmt.Errorf("%v is not an integer", v)
		case string:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not an integer", v)
			}
			return n, nil
		}
	case "number":
		switch v := value.(type) {
		case int, int32, int64, float32, float64:
			return v, nil
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not a number", v)
			}
			return f, nil
		}
	case "boolean":
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("%q is not a boolean", v)
			}
			return b, nil
		}
	case "array":
		if _, ok := value.([]any); ok {
			return value, nil
		}
		if s, ok := value.(string); ok {
			var arr []any
			if err := json.Unmarshal([]byte(s), &arr); err == nil {
				return arr, nil
			}
			// comma-separated fallback
			parts := strings.Split(s, ",")
			arr = make([]any, len(parts))
			for i, p := range parts {
				arr[i] = strings.TrimSpace(p)
			}
			return arr, nil
		}
	case "object":
		if _, ok := value.(map[string]any); ok {
			return value, nil
		}
		if s, ok := value.(string); ok {
			var obj map[string]any
			if err := json.Unmarshal([]byte(s), &obj); err == nil {
				return obj, nil
			}
			return nil, fmt.Errorf("%q is not an object", s)
		}
	default:
		return value, nil
	}
	return nil, fmt.Errorf("value of type %T does not satisfy %s", value, schemaType)
}

func declaredLocations(endpoint *types.Endpoint) map[string]types.ParameterLocation {
	locations := make(map[string]types.ParameterLocation, len(endpoint.Parameters))
	for _, param := range endpoint.Parameters {
		locations[strings.ToLower(param.Name)] = param.Location
	}
	return locations
}

func addQueryParam(req *types.WireRequest, name, value string) {
	if req.Query == nil {
		req.Query = make(map[string]string)
	}
	req.Query[name] = value
}

func addChannelParam(req *types.WireRequest, name, value string) {
	if req.ChannelParams == nil {
		req.ChannelParams = make(map[string]string)
	}
	req.ChannelParams[name] = value
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		if raw, err := json.Marshal(v); err == nil {
			s := string(raw)
			return strings.Trim(s, `"`)
		}
		return fmt.Sprintf("%v", v)
	}
}
