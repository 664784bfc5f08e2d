package relay

import (
	"context"
	"errors"
	"net"
	"strings"
)

// httpStatusCoder is implemented by provider errors that carry the upstream
// HTTP status. Preferred over text matching when available.
type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Classify maps a provider or transport error to the relay taxonomy.
// Priority: connectivity/timeout before auth before internal. Structured
// error values win; substring matching on the error text is the fallback
// for provider SDKs that expose nothing better.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var relayErr *Error
	if errors.As(err, &relayErr) {
		return relayErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return newError(CodeUpstreamUnavailable, "upstream call timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return newError(CodeUpstreamUnavailable, "upstream unreachable", err)
	}
	var coder httpStatusCoder
	if errors.As(err, &coder) {
		switch status := coder.HTTPStatusCode(); {
		case status == 401 || status == 403:
			return newError(CodeUpstreamAuthFailed, "upstream rejected credentials", err)
		case status == 408 || status == 429 || status >= 500:
			return newError(CodeUpstreamUnavailable, "upstream unavailable", err)
		default:
			return newError(CodeInternalError, "upstream request failed", err)
		}
	}

	// Last-resort text matching for opaque SDK errors.
	text := strings.ToLower(err.Error())
	switch {
	case containsAny(text, "401", "unauthorized", "authentication", "invalid api key", "api key"):
		return newError(CodeUpstreamAuthFailed, "upstream rejected credentials", err)
	case containsAny(text, "connection refused", "no such host", "timeout", "timed out", "network", "unexpected eof", "broken pipe", "connection reset"):
		return newError(CodeUpstreamUnavailable, "upstream unreachable", err)
	}
	return newError(CodeInternalError, "upstream request failed", err)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
