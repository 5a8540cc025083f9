// Package errors provides standardized error handling for specgate components.
// It defines the gateway's error kinds, standard error variables, and helpers
// for consistent error wrapping and inspection across the system.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies gateway errors for handling and reporting purposes.
// Front-ends map kinds to their own status codes; the core never does.
type Kind int

const (
	// KindUnknown is the zero value for unclassified errors
	KindUnknown Kind = iota
	// KindMalformedReference indicates a $ref pointer that cannot be located
	KindMalformedReference
	// KindUnsupportedReference indicates a reference form not yet implemented
	KindUnsupportedReference
	// KindInvalidSpecification indicates a structurally invalid API document
	KindInvalidSpecification
	// KindUnsupportedFamily indicates no registered spec family can parse a document
	KindUnsupportedFamily
	// KindUnsupportedProtocol indicates a protocol with no registered adapter
	KindUnsupportedProtocol
	// KindMissingRequiredParameter indicates a required caller parameter was absent
	KindMissingRequiredParameter
	// KindTypeMismatch indicates a caller value that cannot be coerced to its schema type
	KindTypeMismatch
	// KindEndpointNotFound indicates no endpoint matched an ID or address
	KindEndpointNotFound
	// KindAuthenticationFailed indicates every applicable auth scheme was rejected
	KindAuthenticationFailed
	// KindInvalidState indicates an OAuth2 state mismatch or reuse
	KindInvalidState
	// KindExpiredState indicates an OAuth2 authorization state past its expiry
	KindExpiredState
	// KindAuthorizationExpired indicates a stored user authorization past its expiry
	KindAuthorizationExpired
	// KindTransportTimeout indicates an outbound call exceeded its deadline
	KindTransportTimeout
	// KindTransportConnection indicates the backend could not be reached
	KindTransportConnection
)

// String returns the string representation of a Kind
func (k Kind) String() string {
	switch k {
	case KindMalformedReference:
		return "malformed_reference"
	case KindUnsupportedReference:
		return "unsupported_reference"
	case KindInvalidSpecification:
		return "invalid_specification"
	case KindUnsupportedFamily:
		return "unsupported_family"
	case KindUnsupportedProtocol:
		return "unsupported_protocol"
	case KindMissingRequiredParameter:
		return "missing_required_parameter"
	case KindTypeMismatch:
		return "type_mismatch"
	case KindEndpointNotFound:
		return "endpoint_not_found"
	case KindAuthenticationFailed:
		return "authentication_failed"
	case KindInvalidState:
		return "invalid_state"
	case KindExpiredState:
		return "expired_state"
	case KindAuthorizationExpired:
		return "authorization_expired"
	case KindTransportTimeout:
		return "transport_timeout"
	case KindTransportConnection:
		return "transport_connection"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Reference resolution errors
	ErrMalformedReference   = errors.New("malformed reference")
	ErrUnsupportedReference = errors.New("unsupported reference")

	// Specification and registry errors
	ErrInvalidSpecification = errors.New("invalid specification")
	ErrUnsupportedFamily    = errors.New("unsupported specification family")
	ErrUnsupportedProtocol  = errors.New("unsupported protocol")

	// Request building errors
	ErrMissingRequiredParameter = errors.New("missing required parameter")
	ErrTypeMismatch             = errors.New("parameter type mismatch")
	ErrEndpointNotFound         = errors.New("endpoint not found")

	// Authentication errors
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrInvalidState         = errors.New("invalid authorization state")
	ErrExpiredState         = errors.New("authorization state expired")
	ErrAuthorizationExpired = errors.New("authorization expired")

	// Transport errors
	ErrTransportTimeout    = errors.New("transport timeout")
	ErrTransportConnection = errors.New("transport connection failed")

	// Lifecycle and configuration errors
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrNoConnection   = errors.New("no connection available")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrNotFound       = errors.New("record not found")
)

// kindSentinels maps each kind to its standard variable so that wrapped
// sentinels and explicitly-kinded errors classify identically.
var kindSentinels = map[Kind]error{
	KindMalformedReference:       ErrMalformedReference,
	KindUnsupportedReference:     ErrUnsupportedReference,
	KindInvalidSpecification:     ErrInvalidSpecification,
	KindUnsupportedFamily:        ErrUnsupportedFamily,
	KindUnsupportedProtocol:      ErrUnsupportedProtocol,
	KindMissingRequiredParameter: ErrMissingRequiredParameter,
	KindTypeMismatch:             ErrTypeMismatch,
	KindEndpointNotFound:         ErrEndpointNotFound,
	KindAuthenticationFailed:     ErrAuthenticationFailed,
	KindInvalidState:             ErrInvalidState,
	KindExpiredState:             ErrExpiredState,
	KindAuthorizationExpired:     ErrAuthorizationExpired,
	KindTransportTimeout:         ErrTransportTimeout,
	KindTransportConnection:      ErrTransportConnection,
}

// KindError wraps an error with its kind and originating component context
type KindError struct {
	Kind      Kind
	Err       error
	Component string
	Operation string
}

// Error implements the error interface
func (ke *KindError) Error() string {
	return ke.Err.Error()
}

// Unwrap returns the underlying error
func (ke *KindError) Unwrap() error {
	return ke.Err
}

// KindOf returns the kind of an error, walking the wrap chain.
// Context deadline errors classify as transport timeouts so callers can
// distinguish "backend slow" from "backend rejected".
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}

	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransportTimeout
	}

	return KindUnknown
}

// IsKind reports whether the error carries the given kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapKind wraps an error with an explicit kind and context
func WrapKind(kind Kind, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return &KindError{
		Kind:      kind,
		Err:       Wrap(err, component, method, action),
		Component: component,
		Operation: method,
	}
}

// NewKind creates a kinded error from a formatted message, rooted at the
// kind's standard variable so errors.Is still matches.
func NewKind(kind Kind, component, method, format string, args ...any) error {
	sentinel, ok := kindSentinels[kind]
	if !ok {
		sentinel = errors.New(kind.String())
	}
	msg := fmt.Sprintf(format, args...)
	return &KindError{
		Kind:      kind,
		Err:       fmt.Errorf("%s.%s: %s: %w", component, method, msg, sentinel),
		Component: component,
		Operation: method,
	}
}

// New creates a plain error. Re-exported so callers need only one errors import.
func New(text string) error {
	return errors.New(text)
}

// Errorf creates a formatted error supporting %w
func Errorf(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}

// Is re-exports the standard library errors.Is
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As re-exports the standard library errors.As
func As(err error, target any) bool {
	return errors.As(err, target)
}
