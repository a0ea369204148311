package errors

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"

	"grok2api-go/internal/batch"
	"grok2api-go/internal/credential"
	"grok2api-go/internal/imagine"
	"grok2api-go/internal/storage"
	"grok2api-go/internal/upstream"
)

// FromError maps domain errors to the HTTP envelope. Unknown errors become 500.
func FromError(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case stderrors.Is(err, credential.ErrNoAvailableToken):
		return RateLimited("no_available_token", err.Error())
	case stderrors.Is(err, credential.ErrTokenNotFound):
		return NotFound(err.Error())
	case stderrors.Is(err, batch.ErrTaskNotFound):
		return New(http.StatusNotFound, "task_not_found", "invalid_request_error", err.Error())
	case stderrors.Is(err, storage.ErrLockTimeout):
		return New(http.StatusServiceUnavailable, "lock_timeout", "server_error", err.Error())
	case stderrors.Is(err, upstream.ErrNoClearance):
		return New(http.StatusBadRequest, "cf_clearance_required", "invalid_request_error", err.Error())
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return MapNetworkError(err)
	}

	if code := imagine.CodeOf(err); code != "" {
		return FromImagineCode(code, err.Error())
	}
	var se *upstream.StatusError
	if stderrors.As(err, &se) {
		return MapHTTPError(se.Status, []byte(se.Body))
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return MapNetworkError(err)
	}
	return Internal(err.Error())
}

// FromImagineCode maps generation failures: request validation is 400, pool
// exhaustion and upstream throttling are 429, everything else 502.
func FromImagineCode(code, message string) *APIError {
	switch code {
	case imagine.CodeInvalidCount:
		return New(http.StatusBadRequest, code, "invalid_request_error", message).WithParam("n")
	case imagine.CodeModelNotSupported:
		return New(http.StatusBadRequest, code, "invalid_request_error", message).WithParam("model")
	case imagine.CodeNoAvailableSSO, upstream.ImagineCodeRateLimited:
		return RateLimited(code, message)
	default:
		return Upstream(code, message)
	}
}
