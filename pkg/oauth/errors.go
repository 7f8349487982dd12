package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrorCode is a stable OAuth 2.0 error code per RFC 6749 §5.2.
// Callers branch on these codes instead of matching error text.
type ErrorCode string

const (
	ErrorCodeInvalidRequest       ErrorCode = "invalid_request"
	ErrorCodeInvalidClient        ErrorCode = "invalid_client"
	ErrorCodeInvalidGrant         ErrorCode = "invalid_grant"
	ErrorCodeUnauthorizedClient   ErrorCode = "unauthorized_client"
	ErrorCodeAccessDenied         ErrorCode = "access_denied"
	ErrorCodeUnsupportedGrantType ErrorCode = "unsupported_grant_type"
	ErrorCodeInvalidScope         ErrorCode = "invalid_scope"
	ErrorCodeServerError          ErrorCode = "server_error"
	ErrorCodeTemporarilyUnavail   ErrorCode = "temporarily_unavailable"
	ErrorCodeUnknown              ErrorCode = "unknown_error"
)

// knownErrorCodes is the set of RFC 6749 error codes mapped verbatim.
var knownErrorCodes = map[string]ErrorCode{
	"invalid_request":         ErrorCodeInvalidRequest,
	"invalid_client":          ErrorCodeInvalidClient,
	"invalid_grant":           ErrorCodeInvalidGrant,
	"unauthorized_client":     ErrorCodeUnauthorizedClient,
	"access_denied":           ErrorCodeAccessDenied,
	"unsupported_grant_type":  ErrorCodeUnsupportedGrantType,
	"invalid_scope":           ErrorCodeInvalidScope,
	"server_error":            ErrorCodeServerError,
	"temporarily_unavailable": ErrorCodeTemporarilyUnavail,
}

// Error is a typed OAuth protocol error from a token endpoint.
// Protocol errors are semantic failures and are never retried.
type Error struct {
	// Code is the stable OAuth error code.
	Code ErrorCode

	// Description is the human-readable error_description, if present.
	Description string

	// Status is the HTTP status the token endpoint responded with.
	Status int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("oauth error %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("oauth error %s", e.Code)
}

// errorResponse is the RFC 6749 §5.2 error body.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ParseErrorResponse maps a non-2xx token endpoint response to a typed Error.
// Known RFC 6749 codes map verbatim; unknown or missing codes default by
// HTTP status: >= 500 maps to server_error, anything else to unknown_error.
func ParseErrorResponse(status int, body []byte) *Error {
	var resp errorResponse
	// Malformed bodies fall through to the status-based default.
	_ = json.Unmarshal(body, &resp)

	if code, ok := knownErrorCodes[resp.Error]; ok {
		return &Error{Code: code, Description: resp.ErrorDescription, Status: status}
	}

	code := ErrorCodeUnknown
	if status >= 500 {
		code = ErrorCodeServerError
	}
	return &Error{Code: code, Description: resp.ErrorDescription, Status: status}
}

// IsOAuthError reports whether err (or any error in its chain) is a typed
// OAuth protocol error.
func IsOAuthError(err error) bool {
	var oe *Error
	return errors.As(err, &oe)
}

// ErrMissingAccessToken indicates a 2xx token response without the required
// access_token field. This is a protocol violation and is never retried.
var ErrMissingAccessToken = errors.New("token response missing access_token")

// AudienceMismatchError indicates the token endpoint issued a token for a
// different audience than requested. Treated as a token substitution attempt
// and never retried.
type AudienceMismatchError struct {
	Requested string
	Got       string
}

// Error implements the error interface.
func (e *AudienceMismatchError) Error() string {
	return fmt.Sprintf("audience mismatch: requested %q, got %q", e.Requested, e.Got)
}

// networkErrorSubstrings are matched case-insensitively against error text as
// a fallback when the error chain carries no typed network error. These cover
// the transient failure classes worth retrying: reset, refusal, timeout, DNS
// failure, and aborted transfers.
var networkErrorSubstrings = []string{
	"connection reset",
	"connection refused",
	"connection closed",
	"broken pipe",
	"timeout",
	"timed out",
	"no such host",
	"dns",
	"network is unreachable",
	"request canceled",
	"abort",
	"eof",
}

// IsNetworkError reports whether err is a transient network-class failure
// that the token manager may retry with backoff. OAuth protocol errors are
// explicitly excluded.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	// Protocol errors are semantic failures even when wrapped.
	if IsOAuthError(err) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errLower := strings.ToLower(err.Error())
	for _, pattern := range networkErrorSubstrings {
		if strings.Contains(errLower, pattern) {
			return true
		}
	}

	return false
}

// Is401Error checks if an error message indicates a 401 Unauthorized response.
func Is401Error(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "401") ||
		strings.Contains(strings.ToLower(errStr), "unauthorized")
}
