// Package apperrors holds the error taxonomy shared by the pipeline stages.
package apperrors

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// StoreUnavailableError reports that the document or profile store could not
// be reached. It is fatal to a pipeline run.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable: %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// StoreUnavailable wraps err as a StoreUnavailableError.
func StoreUnavailable(op string, err error) error {
	return &StoreUnavailableError{Op: op, Err: err}
}

// Validation codes.
const (
	CodeInvalid   = "invalid"
	CodeNotFound  = "not_found"
	CodeForbidden = "forbidden"
)

// ValidationError rejects a trigger before any work is started.
type ValidationError struct {
	Code    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// Invalid builds a ValidationError for a malformed field.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Code: CodeInvalid, Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a ValidationError for a reference that does not resolve.
func NotFound(field, id string) error {
	return &ValidationError{Code: CodeNotFound, Field: field, Message: fmt.Sprintf("%q not found", id)}
}

// Forbidden builds a ValidationError for a reference the caller may not use.
func Forbidden(field, format string, args ...any) error {
	return &ValidationError{Code: CodeForbidden, Field: field, Message: fmt.Sprintf(format, args...)}
}

// OracleKind classifies oracle failures.
type OracleKind string

const (
	OracleTimeout              OracleKind = "timeout"
	OracleRateLimited          OracleKind = "rate_limited"
	OracleInvalidResponseShape OracleKind = "invalid_response_shape"
	OracleUnavailable          OracleKind = "unavailable"
)

// OracleError is returned by the oracle client.
type OracleError struct {
	Kind OracleKind
	Err  error
}

func (e *OracleError) Error() string {
	if e.Err == nil {
		return "oracle " + string(e.Kind)
	}
	return fmt.Sprintf("oracle %s: %v", e.Kind, e.Err)
}

func (e *OracleError) Unwrap() error { return e.Err }

// Oracle builds an OracleError of the given kind.
func Oracle(kind OracleKind, err error) error {
	return &OracleError{Kind: kind, Err: err}
}

// DeliveryError records a failed delivery of one artifact.
type DeliveryError struct {
	Key       string
	Attempts  int
	Transient bool
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery of %s failed after %d attempt(s): %v", e.Key, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsStoreUnavailable reports whether err carries a StoreUnavailableError.
func IsStoreUnavailable(err error) bool {
	var target *StoreUnavailableError
	return errors.As(err, &target)
}

// AsValidation extracts a ValidationError from err.
func AsValidation(err error) (*ValidationError, bool) {
	var target *ValidationError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// KindOf returns the oracle kind carried by err, if any.
func KindOf(err error) (OracleKind, bool) {
	var target *OracleError
	if errors.As(err, &target) {
		return target.Kind, true
	}
	return "", false
}

// Retryable reports whether an oracle failure is transient.
func Retryable(err error) bool {
	kind, ok := KindOf(err)
	return ok && (kind == OracleTimeout || kind == OracleRateLimited)
}

// Wrap adds context to err, keeping the taxonomy reachable through errors.As.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return eris.Wrap(err, msg)
}
