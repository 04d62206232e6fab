// Package domain defines core types, interfaces, and errors for the service agent.
package domain

import (
	"errors"
	"fmt"
)

// KindedError is implemented by every error the agent surfaces to callers.
// Kind returns a stable machine-readable identifier.
type KindedError interface {
	error
	Kind() string
}

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// Kind implements KindedError.
func (e *NotFoundError) Kind() string { return "NotFound" }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Kind implements KindedError.
func (e *ValidationError) Kind() string { return "Validation" }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// === Auth ===

// AuthErrorKind enumerates authentication and authorization failures.
type AuthErrorKind string

const (
	AuthInvalidToken    AuthErrorKind = "InvalidToken"
	AuthUnauthenticated AuthErrorKind = "Unauthenticated"
	AuthForbidden       AuthErrorKind = "Forbidden"
)

// AuthError is returned by the token verifier and the authorization guard.
type AuthError struct {
	Code    AuthErrorKind
	Message string
}

func (e *AuthError) Error() string { return e.Message }

// Kind implements KindedError.
func (e *AuthError) Kind() string { return string(e.Code) }

// ErrInvalidToken creates an AuthError for a malformed, forged, or expired token.
func ErrInvalidToken(format string, args ...interface{}) *AuthError {
	return &AuthError{Code: AuthInvalidToken, Message: fmt.Sprintf(format, args...)}
}

// ErrUnauthenticated creates an AuthError for a missing principal.
func ErrUnauthenticated(format string, args ...interface{}) *AuthError {
	return &AuthError{Code: AuthUnauthenticated, Message: fmt.Sprintf(format, args...)}
}

// ErrForbidden creates an AuthError for an authenticated but insufficient principal.
func ErrForbidden(format string, args ...interface{}) *AuthError {
	return &AuthError{Code: AuthForbidden, Message: fmt.Sprintf(format, args...)}
}

// === Config ===

// ConfigErrorKind enumerates configuration store failures.
type ConfigErrorKind string

const (
	ConfigNotFound     ConfigErrorKind = "NotFound"
	ConfigInvalidScope ConfigErrorKind = "InvalidScope"
)

// ConfigError is returned by the config resolver and its repository.
type ConfigError struct {
	Code    ConfigErrorKind
	Message string
}

func (e *ConfigError) Error() string { return e.Message }

// Kind implements KindedError.
func (e *ConfigError) Kind() string { return string(e.Code) }

// ErrConfigNotFound creates a ConfigError for a missing entry.
func ErrConfigNotFound(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Code: ConfigNotFound, Message: fmt.Sprintf(format, args...)}
}

// ErrInvalidScope creates a ConfigError for a malformed, overlapping, or ambiguous scope.
func ErrInvalidScope(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Code: ConfigInvalidScope, Message: fmt.Sprintf(format, args...)}
}

// === Service control ===

// ServiceErrorKind enumerates service control failures.
type ServiceErrorKind string

const (
	ServiceStartFailed         ServiceErrorKind = "StartFailed"
	ServiceStopFailed          ServiceErrorKind = "StopFailed"
	ServiceRestartFailed       ServiceErrorKind = "RestartFailed"
	ServiceUpdateFetchFailed   ServiceErrorKind = "UpdateFetchFailed"
	ServiceUpdateBuildFailed   ServiceErrorKind = "UpdateBuildFailed"
	ServiceBusy                ServiceErrorKind = "Busy"
	ServiceTimeout             ServiceErrorKind = "Timeout"
	ServiceExecutorUnreachable ServiceErrorKind = "ExecutorUnreachable"
	ServiceInvalidTransition   ServiceErrorKind = "InvalidTransition"
)

// ServiceError is returned by the service controller. Detail carries the
// executor's own diagnostic text (truncated), never internal stack information.
type ServiceError struct {
	Code    ServiceErrorKind
	Service string
	Phase   string // which half of a composite operation failed, if any
	Message string
	Detail  string
}

func (e *ServiceError) Error() string {
	if e.Phase != "" {
		return fmt.Sprintf("%s (%s phase): %s", e.Service, e.Phase, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Service, e.Message)
}

// Kind implements KindedError.
func (e *ServiceError) Kind() string { return string(e.Code) }

// ErrUnavailable marks executor errors caused by the executor itself being
// unreachable (missing binary, daemon down) rather than the command failing.
var ErrUnavailable = errors.New("executor unavailable")

// ErrorKind returns the stable kind string of err, or "Internal" for errors
// that carry no kind.
func ErrorKind(err error) string {
	var k KindedError
	if errors.As(err, &k) {
		return k.Kind()
	}
	return "Internal"
}
