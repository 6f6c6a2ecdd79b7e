// Package apperrors defines the error kinds protocol adapters translate
// into wire-level codes, generalizing the teacher's pkg/errors pattern
// (typed struct + Error()/Unwrap() + New*/Wrap* constructor pair) across
// the eight kinds spec.md §7 names.
package apperrors

import "fmt"

// InvalidParamsError reports that the caller violated a documented
// precondition. JSON-RPC -32602, HTTP 400.
type InvalidParamsError struct {
	Field   string
	Message string
	Wrapped error
}

func (e *InvalidParamsError) Error() string {
	return fmt.Sprintf("invalid params on '%s': %s", e.Field, e.Message)
}

func (e *InvalidParamsError) Unwrap() error { return e.Wrapped }
func (e *InvalidParamsError) Code() string  { return "InvalidParams" }

// NewInvalidParamsError creates an InvalidParamsError.
func NewInvalidParamsError(field, message string) error {
	return &InvalidParamsError{Field: field, Message: message}
}

// WrapInvalidParamsError attaches a causal error to an existing
// InvalidParamsError, or wraps a plain error as a new one.
func WrapInvalidParamsError(err error, cause error) error {
	if ipe, ok := err.(*InvalidParamsError); ok {
		ipe.Wrapped = cause
		return ipe
	}
	return &InvalidParamsError{Field: "unknown", Message: err.Error(), Wrapped: cause}
}

// NotFoundError reports a session/task/proof id that is unknown or expired.
// HTTP 404, JSON-RPC -32001.
type NotFoundError struct {
	Kind    string
	ID      string
	Wrapped error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s '%s' not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return e.Wrapped }
func (e *NotFoundError) Code() string  { return "NotFound" }

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// InvalidStateTransitionError reports a status mutation rejected by the
// valid-transition table. HTTP 400, JSON-RPC -32002.
type InvalidStateTransitionError struct {
	From    string
	To      string
	Wrapped error
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition %s -> %s", e.From, e.To)
}

func (e *InvalidStateTransitionError) Unwrap() error { return e.Wrapped }
func (e *InvalidStateTransitionError) Code() string  { return "InvalidStateTransition" }

// NewInvalidStateTransitionError creates an InvalidStateTransitionError.
func NewInvalidStateTransitionError(from, to string) error {
	return &InvalidStateTransitionError{From: from, To: to}
}

// RateLimitedError carries a machine-readable retry-after duration in
// seconds.
type RateLimitedError struct {
	Subject    string
	RetryAfter int
	Wrapped    error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited for '%s', retry after %ds", e.Subject, e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error { return e.Wrapped }
func (e *RateLimitedError) Code() string  { return "RateLimited" }

// NewRateLimitedError creates a RateLimitedError.
func NewRateLimitedError(subject string, retryAfter int) error {
	return &RateLimitedError{Subject: subject, RetryAfter: retryAfter}
}

// UnreachableDependencyError reports an enclave, facilitator, or RPC call
// that could not be completed. Retried where policy allows; otherwise HTTP
// 502 / JSON-RPC -32603.
type UnreachableDependencyError struct {
	Dependency string
	Message    string
	Wrapped    error
}

func (e *UnreachableDependencyError) Error() string {
	return fmt.Sprintf("unreachable dependency '%s': %s", e.Dependency, e.Message)
}

func (e *UnreachableDependencyError) Unwrap() error { return e.Wrapped }
func (e *UnreachableDependencyError) Code() string  { return "UnreachableDependency" }

// NewUnreachableDependencyError creates an UnreachableDependencyError.
func NewUnreachableDependencyError(dependency, message string) error {
	return &UnreachableDependencyError{Dependency: dependency, Message: message}
}

// WrapUnreachableDependencyError attaches a causal error to an existing
// UnreachableDependencyError, or wraps a plain error as a new one.
func WrapUnreachableDependencyError(err error, cause error) error {
	if ude, ok := err.(*UnreachableDependencyError); ok {
		ude.Wrapped = cause
		return ude
	}
	return &UnreachableDependencyError{Dependency: "unknown", Message: err.Error(), Wrapped: cause}
}

// VerificationRevertError represents an on-chain verifier revert. This is
// NOT treated as a failed call by adapters — it carries valid=false and the
// revert reason in a successful response envelope.
type VerificationRevertError struct {
	Reason  string
	Wrapped error
}

func (e *VerificationRevertError) Error() string {
	return fmt.Sprintf("verification reverted: %s", e.Reason)
}

func (e *VerificationRevertError) Unwrap() error { return e.Wrapped }
func (e *VerificationRevertError) Code() string  { return "VerificationRevert" }

// NewVerificationRevertError creates a VerificationRevertError.
func NewVerificationRevertError(reason string) error {
	return &VerificationRevertError{Reason: reason}
}

// AttestationInvalidError represents an attestation envelope that parsed
// but failed a verification check. Returned as a structured result inside
// the attestation endpoint, not propagated as an adapter-level failure.
type AttestationInvalidError struct {
	Check   string
	Message string
	Wrapped error
}

func (e *AttestationInvalidError) Error() string {
	return fmt.Sprintf("attestation invalid (%s): %s", e.Check, e.Message)
}

func (e *AttestationInvalidError) Unwrap() error { return e.Wrapped }
func (e *AttestationInvalidError) Code() string  { return "AttestationInvalid" }

// NewAttestationInvalidError creates an AttestationInvalidError.
func NewAttestationInvalidError(check, message string) error {
	return &AttestationInvalidError{Check: check, Message: message}
}

// InternalError is the catch-all: logged with full context, returned to
// callers without leaking internals.
type InternalError struct {
	Message string
	Wrapped error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %s", e.Message)
}

func (e *InternalError) Unwrap() error { return e.Wrapped }
func (e *InternalError) Code() string  { return "InternalError" }

// NewInternalError creates an InternalError.
func NewInternalError(message string) error {
	return &InternalError{Message: message}
}

// WrapInternalError wraps a causal error as an InternalError.
func WrapInternalError(message string, cause error) error {
	return &InternalError{Message: message, Wrapped: cause}
}

// Coded is implemented by every error kind in this package, letting
// adapters map an error to a wire-level code without string-matching.
type Coded interface {
	error
	Code() string
}
