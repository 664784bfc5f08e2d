package relay

import (
	"fmt"
	"net/http"
)

// Code is the stable error category exposed to clients. Raw upstream error
// text never leaves the server; only the code does.
type Code string

const (
	// Validation failures, always actionable by the caller.
	CodeInvalidContentType   Code = "InvalidContentType"
	CodeMalformedJSON        Code = "MalformedJSON"
	CodeInvalidMessagesShape Code = "InvalidMessagesShape"
	CodeEmptyConversation    Code = "EmptyConversation"
	CodeConversationTooLong  Code = "ConversationTooLong"
	CodeInvalidMessageFormat Code = "InvalidMessageFormat"
	CodeMessageTooLong       Code = "MessageTooLong"
	CodeRequestTooLarge      Code = "RequestTooLarge"

	// Operator-actionable misconfiguration.
	CodeServerMisconfigured Code = "ServerMisconfigured"

	// Upstream provider failures.
	CodeUpstreamUnavailable Code = "UpstreamUnavailable"
	CodeUpstreamAuthFailed  Code = "UpstreamAuthFailed"

	// Everything unclassified.
	CodeInternalError Code = "InternalError"
)

// Error carries a category code, a short operator-facing reason, and the
// wrapped cause. The cause is for server-side logs only.
type Error struct {
	Code   Code
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("relay: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("relay: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Status maps the category to its HTTP response status.
func (e *Error) Status() int {
	switch e.Code {
	case CodeInvalidContentType, CodeMalformedJSON, CodeInvalidMessagesShape,
		CodeEmptyConversation, CodeConversationTooLong,
		CodeInvalidMessageFormat, CodeMessageTooLong:
		return http.StatusBadRequest
	case CodeRequestTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeUpstreamAuthFailed:
		return http.StatusUnauthorized
	case CodeUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func newError(code Code, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
