package errors

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// MapNetworkError classifies transport failures towards grok.com. Typed
// errors are checked first; the message is only inspected for wrapped
// errors that lost their type (e.g. websocket handshake failures).
func MapNetworkError(err error) *APIError {
	msg := err.Error()
	var dnsErr *net.DNSError
	var netErr net.Error

	switch {
	case stderrors.Is(err, context.Canceled):
		return New(http.StatusRequestTimeout, "request_canceled", "timeout_error", "request canceled: "+msg)
	case stderrors.Is(err, context.DeadlineExceeded):
		return New(http.StatusGatewayTimeout, "timeout", "timeout_error", "upstream timeout: "+msg)
	case stderrors.As(err, &dnsErr):
		return New(http.StatusBadGateway, "dns_error", "server_error", "upstream dns: "+msg)
	case stderrors.Is(err, syscall.ECONNREFUSED):
		return New(http.StatusBadGateway, "connection_error", "server_error", "upstream refused connection: "+msg)
	case stderrors.As(err, &netErr) && netErr.Timeout():
		return New(http.StatusGatewayTimeout, "timeout", "timeout_error", "upstream timeout: "+msg)
	}

	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "timeout"):
		return New(http.StatusGatewayTimeout, "timeout", "timeout_error", "upstream timeout: "+msg)
	case strings.Contains(lower, "no such host"):
		return New(http.StatusBadGateway, "dns_error", "server_error", "upstream dns: "+msg)
	case strings.Contains(lower, "connection reset"), strings.Contains(lower, "eof"):
		return New(http.StatusBadGateway, "connection_error", "server_error", "upstream connection dropped: "+msg)
	case strings.Contains(lower, "x509"), strings.Contains(lower, "tls"):
		return New(http.StatusBadGateway, "tls_error", "server_error", "upstream tls: "+msg)
	}
	return New(http.StatusBadGateway, "network_error", "server_error", "upstream unreachable: "+msg)
}
