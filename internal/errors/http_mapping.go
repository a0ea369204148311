package errors

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

type statusMapping struct {
	code, errType, fallback string
}

// grok.com answers the rate-limits, assets and auth endpoints with these.
var upstreamStatuses = map[int]statusMapping{
	http.StatusBadRequest:         {"invalid_request_error", "invalid_request_error", "invalid request"},
	http.StatusUnauthorized:       {"unauthorized", "authentication_error", "sso token rejected by grok"},
	http.StatusForbidden:          {"permission_denied", "permission_error", "forbidden by grok"},
	http.StatusNotFound:           {"not_found", "invalid_request_error", "resource not found"},
	http.StatusTooManyRequests:    {"rate_limit_exceeded", "rate_limit_error", "grok rate limit exceeded"},
	http.StatusBadGateway:         {"service_unavailable", "server_error", "grok unavailable"},
	http.StatusServiceUnavailable: {"service_unavailable", "server_error", "grok unavailable"},
	http.StatusGatewayTimeout:     {"timeout", "timeout_error", "grok timed out"},
}

// MapHTTPError maps a grok.com status code and body to an APIError. A 403
// carrying a Cloudflare challenge page is reported as cf_challenge so the
// operator knows to refresh cf_clearance.
func MapHTTPError(statusCode int, upstreamBody []byte) *APIError {
	msg := extractUpstreamMessage(upstreamBody)
	if statusCode == http.StatusForbidden && isCloudflareChallenge(upstreamBody) {
		return New(statusCode, "cf_challenge", "permission_error", "blocked by cloudflare challenge; refresh cf_clearance")
	}
	if m, ok := upstreamStatuses[statusCode]; ok {
		return New(statusCode, m.code, m.errType, firstNonEmpty(msg, m.fallback))
	}
	code := "unknown_error"
	if statusCode >= 500 {
		code = "server_error"
	}
	return New(statusCode, code, "server_error", firstNonEmpty(msg, fmt.Sprintf("grok returned HTTP %d", statusCode)))
}

func isCloudflareChallenge(body []byte) bool {
	s := string(body)
	return strings.Contains(s, "Just a moment") || strings.Contains(s, "cf-chl") || strings.Contains(s, "challenge-platform")
}

// extractUpstreamMessage prefers JSON error fields and falls back to the
// first 200 bytes of the raw body.
func extractUpstreamMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if gjson.ValidBytes(body) {
		for _, path := range []string{"error.message", "error", "message", "code"} {
			if v := gjson.GetBytes(body, path); v.Type == gjson.String && v.String() != "" {
				return v.String()
			}
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		return msg[:200] + "..."
	}
	return msg
}

func firstNonEmpty(strs ...string) string {
	for _, s := range strs {
		if s != "" {
			return s
		}
	}
	return ""
}
