// Package apperr carries the error taxonomy shared by the generation
// pipeline and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error class.
type Code string

const (
	CodeUnknown               Code = "unknown"
	CodeInvalidParam          Code = "invalid_param"
	CodeNotFound              Code = "not_found"
	CodeSessionBusy           Code = "session_busy"
	CodeProviderNotConfigured Code = "provider_not_configured"
	CodeUpstream              Code = "upstream_error"
	CodeTransport             Code = "transport_error"
	CodeIdleTimeout           Code = "idle_timeout"
	CodeDeployFailed          Code = "deploy_failed"
	CodeStorage               Code = "storage_error"
)

// AppError is an error with a code, a user-facing message and an HTTP status.
type AppError struct {
	Code       Code
	Message    string
	Detail     string
	HTTPStatus int
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	if e.Detail != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail returns a copy carrying detail.
func (e *AppError) WithDetail(detail string) *AppError {
	cp := *e
	cp.Detail = detail
	return &cp
}

// WithStatus returns a copy with a different HTTP status.
func (e *AppError) WithStatus(status int) *AppError {
	cp := *e
	cp.HTTPStatus = status
	return &cp
}

// New creates an AppError with the status mapped from code.
func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: codeToHTTPStatus(code)}
}

// Wrap attaches err as the cause.
func Wrap(err error, code Code, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: codeToHTTPStatus(code), Err: err}
}

// Upstream builds the error for a provider that answered with a non-2xx
// status before streaming; the status is mirrored to the caller.
func Upstream(provider string, status int, detail string) *AppError {
	if status < 400 {
		status = http.StatusBadGateway
	}
	return &AppError{
		Code:       CodeUpstream,
		Message:    provider + " API error",
		Detail:     detail,
		HTTPStatus: status,
	}
}

func codeToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidParam:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeSessionBusy:
		return http.StatusConflict
	case CodeUpstream, CodeTransport:
		return http.StatusBadGateway
	case CodeIdleTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// As converts any error into an AppError.
func As(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, CodeUnknown, "Internal server error")
}

// Is reports whether err is an AppError with the given code.
func Is(err error, code Code) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}
