package logging

import "net/http"

// ErrorKind labels a served request for the access log. hasErr is true when
// a handler attached errors to the gin context.
func ErrorKind(status int, hasErr bool) string {
	switch {
	case status == 0 && hasErr:
		return "aborted"
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return "auth"
	case status == http.StatusBadGateway, status == http.StatusGatewayTimeout:
		return "upstream"
	case status >= 500:
		return "server_error"
	case status >= 400:
		return "client_error"
	case hasErr:
		return "error"
	}
	return "ok"
}
