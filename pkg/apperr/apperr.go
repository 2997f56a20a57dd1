// Package apperr defines the error kinds surfaced by the messaging core.
// Every repository operation returns either nil or an error that
// classifies as exactly one of these kinds.
package apperr

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindPermission Kind = "permission"
	KindTransient  Kind = "transient_store"
	KindUnknown    Kind = "unknown"
)

// Coded is implemented by every error kind in this package.
type Coded interface {
	error
	Kind() Kind
	Code() int
}

// ValidationError reports malformed input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }
func (e *ValidationError) Kind() Kind    { return KindValidation }
func (e *ValidationError) Code() int     { return http.StatusBadRequest }

// NotFoundError reports an operation on a nonexistent thread or message.
type NotFoundError struct {
	Resource string
	ID       string
	// Message overrides the rendered text, e.g. for errors relayed from a
	// remote API.
	Message string
}

func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}
func (e *NotFoundError) Kind() Kind { return KindNotFound }
func (e *NotFoundError) Code() int  { return http.StatusNotFound }

// PermissionError reports an acting user who is not a participant.
type PermissionError struct {
	UserID   string
	ThreadID string
	Message  string
}

func (e *PermissionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("user %q is not a participant of thread %q", e.UserID, e.ThreadID)
}
func (e *PermissionError) Kind() Kind { return KindPermission }
func (e *PermissionError) Code() int  { return http.StatusForbidden }

// TransientStoreError wraps a failure of the underlying store that may
// succeed on retry.
type TransientStoreError struct {
	Op    string
	Cause error
}

func (e *TransientStoreError) Error() string {
	if e.Cause == nil {
		return "store unavailable: " + e.Op
	}
	return "store unavailable: " + e.Op + ": " + e.Cause.Error()
}
func (e *TransientStoreError) Unwrap() error { return e.Cause }
func (e *TransientStoreError) Kind() Kind    { return KindTransient }
func (e *TransientStoreError) Code() int     { return http.StatusServiceUnavailable }

func Validation(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

func Permission(userID, threadID string) error {
	return &PermissionError{UserID: userID, ThreadID: threadID}
}

// Permissionf builds a PermissionError with a custom message.
func Permissionf(format string, args ...any) error {
	return &PermissionError{Message: fmt.Sprintf(format, args...)}
}

// Transient wraps cause as a TransientStoreError. A nil cause returns nil.
func Transient(op string, cause error) error {
	if cause == nil {
		return nil
	}
	var te *TransientStoreError
	if errors.As(cause, &te) {
		return cause
	}
	return &TransientStoreError{Op: op, Cause: errors.WithStack(cause)}
}

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsPermission(err error) bool {
	var e *PermissionError
	return errors.As(err, &e)
}

func IsTransient(err error) bool {
	var e *TransientStoreError
	return errors.As(err, &e)
}

// KindOf classifies err, looking through wrapping.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var c Coded
	if errors.As(err, &c) {
		return c.Kind()
	}
	return KindUnknown
}

// StatusCode maps err to an HTTP status; unclassified errors are 500.
func StatusCode(err error) int {
	var c Coded
	if errors.As(err, &c) {
		return c.Code()
	}
	return http.StatusInternalServerError
}

// FromStatus rebuilds an error kind from an HTTP status and message, as
// returned by a remote API.
func FromStatus(status int, message string) error {
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return &ValidationError{Message: message}
	case status == http.StatusNotFound:
		return &NotFoundError{Resource: "resource", Message: message}
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		return &PermissionError{Message: message}
	case status == http.StatusTooManyRequests || status >= 500:
		return &TransientStoreError{Op: "remote", Cause: errors.New(message)}
	default:
		return errors.Newf("unexpected status %d: %s", status, message)
	}
}
