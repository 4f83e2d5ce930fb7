package errors

import (
	"errors"
	"fmt"
	"time"
)

// Error types for the intmaps storage system
type ErrorType string

const (
	// Caller errors
	ErrorTypeArgument ErrorType = "argument"
	ErrorTypeCallback ErrorType = "callback"

	// Storage errors
	ErrorTypeClosed    ErrorType = "closed"
	ErrorTypeCorrupted ErrorType = "corrupted"
	ErrorTypeIO        ErrorType = "io"
	ErrorTypeCapacity  ErrorType = "capacity"

	// Configuration errors
	ErrorTypeConfig ErrorType = "config"

	// Internal errors
	ErrorTypeInternal ErrorType = "internal"
)

var (
	// ErrClosed matches any StorageError of type ErrorTypeClosed via errors.Is
	ErrClosed = errors.New("storage is closed")

	// ErrCorrupted matches any StorageError of type ErrorTypeCorrupted via errors.Is
	ErrCorrupted = errors.New("storage is corrupted")

	// ErrCapacityExceeded matches any StorageError of type ErrorTypeCapacity via errors.Is
	ErrCapacityExceeded = errors.New("storage capacity exceeded")
)

// ArgumentError reports a reserved or otherwise invalid argument value
type ArgumentError struct {
	Type      ErrorType
	Param     string
	Value     any
	Reason    string
	Timestamp time.Time
}

// NewArgumentError creates a new argument error
func NewArgumentError(param string, value any, reason string) *ArgumentError {
	return &ArgumentError{
		Type:      ErrorTypeArgument,
		Param:     param,
		Value:     value,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// Error implements the error interface
func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s(=%v): %s", e.Param, e.Value, e.Reason)
}

// InvariantError reports an internal state that must never happen.
// It is raised through panic, never returned.
type InvariantError struct {
	Type      ErrorType
	Operation string
	Detail    string
	Timestamp time.Time
}

// NewInvariantError creates a new invariant violation
func NewInvariantError(op, detail string) *InvariantError {
	return &InvariantError{
		Type:      ErrorTypeInternal,
		Operation: op,
		Detail:    detail,
		Timestamp: time.Now(),
	}
}

// Error implements the error interface
func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated in %s: %s", e.Operation, e.Detail)
}

// StorageError represents a failure of the durable storage layer
type StorageError struct {
	Type       ErrorType
	Path       string
	Operation  string
	Underlying error
	Timestamp  time.Time
}

// NewStorageError creates a new I/O storage error
func NewStorageError(op, path string, err error) *StorageError {
	return &StorageError{
		Type:       ErrorTypeIO,
		Path:       path,
		Operation:  op,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// NewClosedError creates the error returned by any access to a closed storage
func NewClosedError(op, path string) *StorageError {
	return &StorageError{
		Type:       ErrorTypeClosed,
		Path:       path,
		Operation:  op,
		Underlying: ErrClosed,
		Timestamp:  time.Now(),
	}
}

// NewCorruptedError creates an error for on-disk data that fails validation
func NewCorruptedError(op, path string, detail string) *StorageError {
	return &StorageError{
		Type:       ErrorTypeCorrupted,
		Path:       path,
		Operation:  op,
		Underlying: fmt.Errorf("%w: %s", ErrCorrupted, detail),
		Timestamp:  time.Now(),
	}
}

// NewCapacityError creates an error for a storage that cannot grow any further
func NewCapacityError(op, path string, detail string) *StorageError {
	return &StorageError{
		Type:       ErrorTypeCapacity,
		Path:       path,
		Operation:  op,
		Underlying: fmt.Errorf("%w: %s", ErrCapacityExceeded, detail),
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("storage %s failed for %s: %v", e.Operation, e.Path, e.Underlying)
	}
	return fmt.Sprintf("storage %s failed: %v", e.Operation, e.Underlying)
}

// Unwrap returns the underlying error for errors.Is/As
func (e *StorageError) Unwrap() error {
	return e.Underlying
}

// CallbackError carries an error raised by a caller-supplied callback
// (acceptor, creator, processor) out of the iteration that invoked it
type CallbackError struct {
	Type       ErrorType
	Operation  string
	Underlying error
	Timestamp  time.Time
}

// NewCallbackError wraps err, preserving it for errors.Is/As
func NewCallbackError(op string, err error) *CallbackError {
	return &CallbackError{
		Type:       ErrorTypeCallback,
		Operation:  op,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *CallbackError) Error() string {
	return fmt.Sprintf("callback failed during %s: %v", e.Operation, e.Underlying)
}

// Unwrap returns the underlying error
func (e *CallbackError) Unwrap() error {
	return e.Underlying
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field      string
	Value      string
	Underlying error
	Timestamp  time.Time
}

// NewConfigError creates a new config error
func NewConfigError(field, value string, err error) *ConfigError {
	return &ConfigError{
		Field:      field,
		Value:      value,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error for field %s (value %s): %v", e.Field, e.Value, e.Underlying)
}

// Unwrap returns the underlying error
func (e *ConfigError) Unwrap() error {
	return e.Underlying
}

// MultiError represents multiple errors
type MultiError struct {
	Errors []error
}

// NewMultiError creates a new multi-error
func NewMultiError(errs []error) *MultiError {
	// Filter out nil errors
	filtered := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	return &MultiError{Errors: filtered}
}

// ErrorOrNil returns nil when no errors were collected
func (e *MultiError) ErrorOrNil() error {
	if e == nil || len(e.Errors) == 0 {
		return nil
	}
	return e
}

// Error implements the error interface
func (e *MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors: %v", len(e.Errors), e.Errors)
}

// Unwrap returns all errors
func (e *MultiError) Unwrap() []error {
	return e.Errors
}
