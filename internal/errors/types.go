package errors

import (
	"fmt"
	"net/http"
)

// APIError is the error envelope returned by every HTTP surface of the gateway.
type APIError struct {
	HTTPStatus int
	Code       string
	Message    string
	Type       string
	Param      string
	Details    map[string]interface{}
}

// Envelope mirrors the JSON body written for an APIError.
type Envelope struct {
	Error struct {
		Message string                 `json:"message"`
		Type    string                 `json:"type"`
		Code    string                 `json:"code,omitempty"`
		Param   string                 `json:"param,omitempty"`
		Details map[string]interface{} `json:"details,omitempty"`
	} `json:"error"`
}

func New(status int, code, typ, message string) *APIError {
	return &APIError{HTTPStatus: status, Code: code, Type: typ, Message: message}
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.HTTPStatus, e.Message)
}

// WithDetail attaches a key/value to the error details and returns e.
func (e *APIError) WithDetail(key string, value interface{}) *APIError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithParam names the offending request field.
func (e *APIError) WithParam(param string) *APIError {
	e.Param = param
	return e
}

// Body renders the envelope.
func (e *APIError) Body() Envelope {
	var env Envelope
	env.Error.Message = e.Message
	env.Error.Type = e.Type
	env.Error.Code = e.Code
	env.Error.Param = e.Param
	env.Error.Details = e.Details
	return env
}

func BadRequest(message string) *APIError {
	return New(http.StatusBadRequest, "invalid_request", "invalid_request_error", message)
}

func Unauthorized(message string) *APIError {
	return New(http.StatusUnauthorized, "invalid_api_key", "authentication_error", message)
}

func NotFound(message string) *APIError {
	return New(http.StatusNotFound, "not_found", "invalid_request_error", message)
}

// RateLimited is used for pool exhaustion and upstream throttling alike.
func RateLimited(code, message string) *APIError {
	if code == "" {
		code = "rate_limit_exceeded"
	}
	return New(http.StatusTooManyRequests, code, "rate_limit_error", message)
}

func Internal(message string) *APIError {
	return New(http.StatusInternalServerError, "server_error", "server_error", message)
}

func Upstream(code, message string) *APIError {
	if code == "" {
		code = "upstream_error"
	}
	return New(http.StatusBadGateway, code, "upstream_error", message)
}
