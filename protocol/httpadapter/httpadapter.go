// Package httpadapter executes request/response calls over HTTP
package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/specgate/specgate/errors"
	"github.com/specgate/specgate/protocol"
	"github.com/specgate/specgate/types"
)

// defaultUserAgent identifies the gateway on outbound calls when the caller
// sets no User-Agent of their own.
const defaultUserAgent = "specgate/1.0"

// maxResponseBytes bounds how much of a backend response body is read
const maxResponseBytes = 10 << 20

// Config holds configuration for the HTTP adapter
type Config struct {
	Timeout   int    `json:"timeout"`
	UserAgent string `json:"user_agent"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Timeout < 0 || c.Timeout > 300 {
		return errors.Wrap(errors.ErrInvalidConfig, "Config", "Validate",
			"timeout must be between 0 and 300 seconds")
	}
	return nil
}

// DefaultConfig returns default configuration for the HTTP adapter
func DefaultConfig() Config {
	return Config{
		Timeout:   int(protocol.DefaultTimeout / time.Second),
		UserAgent: defaultUserAgent,
	}
}

// Adapter executes wire requests over HTTP. Any backend status code is a
// structurally successful call; only transport failures return errors.
type Adapter struct {
	client    *http.Client
	userAgent string
}

// New creates an HTTP adapter with the given configuration
func New(config Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	timeout := time.Duration(config.Timeout) * time.Second
	if timeout == 0 {
		timeout = protocol.DefaultTimeout
	}
	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Adapter{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}, nil
}

// NewDefault creates an HTTP adapter with default configuration
func NewDefault() (protocol.Adapter, error) {
	return New(DefaultConfig())
}

// Protocol returns the protocol this adapter speaks
func (a *Adapter) Protocol() types.Protocol { return types.ProtocolHTTP }

// Execute runs one HTTP call and normalizes the response
func (a *Adapter) Execute(ctx context.Context, req *types.WireRequest) (*types.WireResponse, error) {
	address, err := withQuery(req.Address, req.Query)
	if err != nil {
		return nil, errors.Wrap(err, "Adapter", "Execute", "build request URL")
	}

	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, errors.Wrap(err, "Adapter", "Execute", "encode request body")
	}

	ctx, cancel := context.WithTimeout(ctx, protocol.Timeout(req))
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, verb(req.Operation), address, body)
	if err != nil {
		return nil, errors.Wrap(err, "Adapter", "Execute", "build request")
	}
	for key, values := range req.Headers {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" && contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", a.userAgent)
	}

	started := time.Now()
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err, address)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.WrapKind(errors.KindTransportConnection, err,
			"Adapter", "Execute", "read response body")
	}

	return &types.WireResponse{
		Protocol:   types.ProtocolHTTP,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       decodeBody(raw, resp.Header.Get("Content-Type")),
		RawBody:    string(raw),
		LatencyMs:  time.Since(started).Milliseconds(),
	}, nil
}

// Close releases the adapter's pooled connections
func (a *Adapter) Close(context.Context) error {
	a.client.CloseIdleConnections()
	return nil
}

func verb(op types.OperationKind) string {
	return strings.ToUpper(string(op))
}

// withQuery appends query parameters to an address, preserving any the
// address already carries.
func withQuery(address string, query map[string]string) (string, error) {
	if len(query) == 0 {
		return address, nil
	}
	u, err := url.Parse(address)
	if err != nil {
		return "", err
	}
	values := u.Query()
	for key, value := range query {
		values.Set(key, value)
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}

// encodeBody turns a request body into a reader plus its implied content type
func encodeBody(body any) (io.Reader, string, error) {
	switch v := body.(type) {
	case nil:
		return nil, "", nil
	case string:
		return strings.NewReader(v), "", nil
	case []byte:
		return bytes.NewReader(v), "", nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(raw), "application/json", nil
	}
}

// decodeBody parses a JSON response body into a structured value, falling
// back to the raw string for other content types.
func decodeBody(raw []byte, contentType string) any {
	if len(raw) == 0 {
		return nil
	}
	if strings.Contains(contentType, "json") {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			return decoded
		}
	}
	return string(raw)
}

// classifyTransportError maps client errors onto the transport error kinds
func classifyTransportError(err error, address string) error {
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.WrapKind(errors.KindTransportTimeout, err,
			"Adapter", "Execute", fmt.Sprintf("call %s", address))
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.WrapKind(errors.KindTransportTimeout, err,
			"Adapter", "Execute", fmt.Sprintf("call %s", address))
	}
	return errors.WrapKind(errors.KindTransportConnection, err,
		"Adapter", "Execute", fmt.Sprintf("call %s", address))
}
