// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package errors

import (
	stderr "errors"
	"fmt"
	"log/slog"
)

type (
	// Error represents a structured aggregator error.
	Error struct {
		Message string
		Kind    Kind

		NestedError error

		PropertyName  string
		PropertyValue any
	}

	// Kind defines the type of error being returned.
	Kind int
)

// The following are the defined error kinds.
const (
	// TransportUnavailable means the MQTT broker is unreachable or the
	// connection dropped. It is recovered by reconnecting and never fatal.
	TransportUnavailable Kind = iota

	// DecodeError means an inbound message could not be decoded. Such
	// messages are logged and dropped.
	DecodeError

	// StoreUnavailable means the segment store could not be reached.
	StoreUnavailable

	// ConfigError means required startup configuration is missing or
	// invalid. It is fatal.
	ConfigError
)

// String returns the name of the error kind.
func (k Kind) String() string {
	switch k {
	case TransportUnavailable:
		return "TransportUnavailable"
	case DecodeError:
		return "DecodeError"
	case StoreUnavailable:
		return "StoreUnavailable"
	case ConfigError:
		return "ConfigError"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error returns the error as a string.
func (e *Error) Error() string {
	if e.NestedError != nil {
		return e.Message + ": " + e.NestedError.Error()
	}
	return e.Message
}

// Unwrap returns the nested error.
func (e *Error) Unwrap() error {
	return e.NestedError
}

// Attrs exposes the error fields for structured logging.
func (e *Error) Attrs() []slog.Attr {
	a := make([]slog.Attr, 0, 4)
	a = append(a, slog.String("kind", e.Kind.String()))
	if e.PropertyName != "" {
		a = append(a, slog.String("property_name", e.PropertyName))
	}
	if e.PropertyValue != nil {
		a = append(a, slog.Any("property_value", e.PropertyValue))
	}
	if e.NestedError != nil {
		a = append(a, slog.String("nested_error", e.NestedError.Error()))
	}
	return a
}

// IsKind reports whether any error in err's chain is an *Error of the given
// kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return stderr.As(err, &e) && e.Kind == kind
}

// Store wraps a store failure as StoreUnavailable.
func Store(msg string, err error) error {
	return &Error{
		Message:     msg,
		Kind:        StoreUnavailable,
		NestedError: err,
	}
}

// Config reports an invalid configuration property.
func Config(name string, value any, msg string) error {
	return &Error{
		Message:       msg,
		Kind:          ConfigError,
		PropertyName:  name,
		PropertyValue: value,
	}
}
