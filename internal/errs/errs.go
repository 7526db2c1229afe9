// Package errs provides classified error handling for the I/O engine.
// Errors carry a kind (configuration, I/O, or state), the component and
// operation that produced them, and wrap the underlying cause so callers
// can use errors.Is / errors.As on the chain.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for handling purposes
type Kind int

const (
	// KindConfig represents malformed or missing descriptor fields,
	// surfaced before the engine starts stepping
	KindConfig Kind = iota
	// KindIO represents file open/read/write/close failures and
	// dimension, rank, or variable mismatches
	KindIO
	// KindState represents operations invoked out of lifecycle order
	KindState
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindIO:
		return "io"
	case KindState:
		return "state"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	ErrNotInitialized   = errors.New("engine not initialized")
	ErrAlreadyFinalized = errors.New("engine already finalized")
	ErrVarNotFound      = errors.New("variable not found")
	ErrTimeNotFound     = errors.New("time value not present in file")
	ErrDefineMode       = errors.New("file still in define mode")
	ErrDataMode         = errors.New("file already in data mode")
	ErrUnsupportedRank  = errors.New("unsupported field rank")
	ErrShapeMismatch    = errors.New("field shape does not match grid partition")
	ErrOutsideValidity  = errors.New("time outside stream validity window")
)

// Error wraps an underlying cause with its classification and the
// component/operation that produced it
type Error struct {
	Kind      Kind
	Component string
	Op        string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Component, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Component, e.Op, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// WrapConfig wraps err as a configuration error with context
func WrapConfig(err error, component, op, message string) error {
	return &Error{Kind: KindConfig, Component: component, Op: op, Message: message, Err: err}
}

// WrapIO wraps err as an I/O error with context
func WrapIO(err error, component, op, message string) error {
	return &Error{Kind: KindIO, Component: component, Op: op, Message: message, Err: err}
}

// WrapState wraps err as a state error with context
func WrapState(err error, component, op, message string) error {
	return &Error{Kind: KindState, Component: component, Op: op, Message: message, Err: err}
}

// Configf creates a new configuration error
func Configf(component, op, format string, args ...interface{}) error {
	return &Error{Kind: KindConfig, Component: component, Op: op, Message: fmt.Sprintf(format, args...)}
}

// IOf creates a new I/O error
func IOf(component, op, format string, args ...interface{}) error {
	return &Error{Kind: KindIO, Component: component, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Statef creates a new state error
func Statef(component, op, format string, args ...interface{}) error {
	return &Error{Kind: KindState, Component: component, Op: op, Message: fmt.Sprintf(format, args...)}
}

// IsKind reports whether any error in err's chain carries the given kind
func IsKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// IsConfig reports whether err is classified as a configuration error
func IsConfig(err error) bool { return IsKind(err, KindConfig) }

// IsIO reports whether err is classified as an I/O error
func IsIO(err error) bool { return IsKind(err, KindIO) }

// IsState reports whether err is classified as a state error
func IsState(err error) bool { return IsKind(err, KindState) }
