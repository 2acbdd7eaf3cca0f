package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// Pseudo status codes for failures that never produced an HTTP response.
const (
	StatusUnknownError          = -1
	StatusTimedOut              = -1001
	StatusCannotConnectToHost   = -1004
	StatusNetworkConnectionLost = -1005
)

// ErrorStatus maps a request error onto a pseudo status code.
func ErrorStatus(err error) int {
	if err == nil {
		return 0
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return StatusTimedOut
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return StatusNetworkConnectionLost
	}

	var dnsErr *net.DNSError
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.As(err, &dnsErr) {
		return StatusCannotConnectToHost
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "broken pipe"):
		return StatusNetworkConnectionLost
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
		return StatusCannotConnectToHost
	}
	return StatusUnknownError
}

// Reason buckets a failed attempt for metrics labels.
func Reason(err error, status int) string {
	if err != nil {
		switch ErrorStatus(err) {
		case StatusTimedOut:
			return "timeout"
		case StatusNetworkConnectionLost:
			return "connection_lost"
		case StatusCannotConnectToHost:
			return "host_unreachable"
		}
		return "network"
	}
	switch {
	case status == 429:
		return "http_429"
	case status >= 500:
		return "http_5xx"
	case status >= 400:
		return "http_4xx"
	}
	return "other"
}
