package types

import (
	"net/http"
	"strings"
)

// WireRequest is a fully-addressed request ready for a protocol adapter.
// For request/response protocols Address is a URL; for pub/sub protocols it
// is the channel name and Server carries the broker address.
type WireRequest struct {
	Protocol  Protocol       `json:"protocol"`
	Operation OperationKind  `json:"operation"`
	Address   string         `json:"address"`
	Server    string         `json:"server,omitempty"`
	Query     map[string]string `json:"query,omitempty"`
	Headers   http.Header    `json:"headers,omitempty"`
	Body      any            `json:"body,omitempty"`
	// ChannelParams holds substituted channel parameters for pub/sub requests
	ChannelParams map[string]string `json:"channel_params,omitempty"`
	// TimeoutSeconds bounds the outbound call; adapters apply their default
	// when zero.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// SetHeaderIfAbsent sets a default header without overwriting caller or auth values
func (r *WireRequest) SetHeaderIfAbsent(key, value string) {
	if r.Headers == nil {
		r.Headers = make(http.Header)
	}
	if r.Headers.Get(key) == "" {
		r.Headers.Set(key, value)
	}
}

// RedactedHeaders returns a copy of the headers with secret material masked,
// safe for call logs and error payloads.
func (r *WireRequest) RedactedHeaders() http.Header {
	if r.Headers == nil {
		return nil
	}
	out := make(http.Header, len(r.Headers))
	for key, values := range r.Headers {
		if isSecretHeader(key) {
			out[key] = []string{"REDACTED"}
			continue
		}
		out[key] = append([]string(nil), values...)
	}
	return out
}

func isSecretHeader(key string) bool {
	switch strings.ToLower(key) {
	case "authorization", "proxy-authorization", "cookie", "set-cookie", "x-api-key":
		return true
	}
	return false
}

// WireResponse is the normalized result of executing a WireRequest
type WireResponse struct {
	Protocol   Protocol    `json:"protocol"`
	StatusCode int         `json:"status_code,omitempty"`
	Headers    http.Header `json:"headers,omitempty"`
	Body       any         `json:"body,omitempty"`
	RawBody    string      `json:"raw_body,omitempty"`
	// MessageID identifies the published message for pub/sub operations
	MessageID string `json:"message_id,omitempty"`
	// SubscriptionID identifies the created subscription for subscribe operations
	SubscriptionID string `json:"subscription_id,omitempty"`
	LatencyMs      int64  `json:"latency_ms"`
}
