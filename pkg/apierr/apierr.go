// Package apierr provides structured API error types and HTTP status mapping
// for the gateway's JSON surface.
package apierr

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// ErrorType constants.
const (
	TypeBackendError      = "backend_error"
	TypeInvalidRequest    = "invalid_request_error"
	TypeAuthenticationErr = "authentication_error"
	TypeNotFound          = "not_found_error"
	TypeConflict          = "conflict_error"
	TypeServerError       = "server_error"
)

// Code constants.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeInvalidRequest  = "invalid_request"
	CodeNotFound        = "not_found"
	CodeConflict        = "conflict"
	CodeBackendError    = "backend_error"
	CodeTransportError  = "transport_error"
	CodeRequestTimeout  = "request_timeout"
	CodeInternalError   = "internal_error"
)

// APIError is the structured error returned to clients.
type (
	APIError struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	}
	envelope struct {
		Error APIError `json:"error"`
	}
)

// Write writes the error as JSON to the fasthttp response with the given HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message, errType, code string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: APIError{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
	ctx.SetBody(body)
}

// WriteUnauthenticated writes the single undifferentiated 401 used for every
// credential failure. The message is deliberately constant so callers cannot
// distinguish unknown, revoked, and expired credentials.
func WriteUnauthenticated(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusUnauthorized, "invalid credentials", TypeAuthenticationErr, CodeUnauthenticated)
}

// WriteInvalid writes a 400 invalid-request error.
func WriteInvalid(ctx *fasthttp.RequestCtx, msg string) {
	Write(ctx, fasthttp.StatusBadRequest, msg, TypeInvalidRequest, CodeInvalidRequest)
}

// WriteBackendError surfaces an upstream failure with the backend's own
// status when it is a valid HTTP status, else 502.
func WriteBackendError(ctx *fasthttp.RequestCtx, backendStatus int, msg string) {
	status := backendStatus
	if status < 400 || status > 599 {
		status = fasthttp.StatusBadGateway
	}
	Write(ctx, status, msg, TypeBackendError, CodeBackendError)
}

// WriteTransportError writes a 502 for failures to reach the backend at all.
func WriteTransportError(ctx *fasthttp.RequestCtx, msg string) {
	Write(ctx, fasthttp.StatusBadGateway, msg, TypeBackendError, CodeTransportError)
}

// WriteTimeout writes a 504 timeout error.
func WriteTimeout(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusGatewayTimeout, "backend request timed out", TypeBackendError, CodeRequestTimeout)
}
