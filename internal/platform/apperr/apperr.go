// Package apperr defines the error taxonomy shared by the workflow services
// and its translation to HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Kind categorizes an error for callers deciding whether to fix input, retry or give up.
type Kind string

const (
	KindValidation              Kind = "validation"
	KindAuthorization           Kind = "authorization"
	KindNotFound                Kind = "not_found"
	KindStateConflict           Kind = "state_conflict"
	KindCollaboratorUnavailable Kind = "collaborator_unavailable"
	KindInternal                Kind = "internal"
)

// Error is a classified service error.
type Error struct {
	Kind    Kind                   `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Validation reports missing or malformed input.
func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Authorization reports a missing identity or a role that may not perform the operation.
func Authorization(format string, args ...interface{}) *Error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports an entity that is absent or not owned by the caller.
// The two cases are deliberately indistinguishable.
func NotFound(entity string) *Error {
	return &Error{Kind: KindNotFound, Message: entity + " not found"}
}

// StateConflict reports a transition that is not allowed from current.
func StateConflict(current, message string) *Error {
	return &Error{
		Kind:    KindStateConflict,
		Message: message,
		Details: map[string]interface{}{"current_status": current},
	}
}

// Unavailable reports an unreachable collaborator.
func Unavailable(collaborator string, cause error) *Error {
	return &Error{
		Kind:    KindCollaboratorUnavailable,
		Message: collaborator + " unavailable",
		Cause:   cause,
	}
}

// Internal wraps an unexpected failure, typically from storage.
func Internal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, Cause: cause}
}

// KindOf returns the Kind of err, or KindInternal when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// StatusCode maps a Kind to its HTTP status.
func StatusCode(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindStateConflict:
		return http.StatusConflict
	case KindCollaboratorUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPError converts err into an echo HTTP error. Internal causes are not
// exposed to the client.
func HTTPError(err error) *echo.HTTPError {
	var e *Error
	if !errors.As(err, &e) {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
	if e.Kind == KindInternal {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
	body := map[string]interface{}{
		"error": e.Message,
		"kind":  e.Kind,
	}
	for k, v := range e.Details {
		body[k] = v
	}
	return echo.NewHTTPError(StatusCode(e.Kind), body)
}

// Classify returns err unchanged when it already carries a Kind, otherwise
// wraps it as Internal with message.
func Classify(message string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Internal(message, err)
}
