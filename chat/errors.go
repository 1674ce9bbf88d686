package chat

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"

	"github.com/onnwee/multichat/twitchapi"
)

var (
	// ErrMissingCredential means no token is on file for the platform yet.
	ErrMissingCredential = errors.New("no stored credential")
	// ErrInvalidCredential means the platform rejected the stored token.
	ErrInvalidCredential = errors.New("credential rejected by platform")
	// ErrConfigMissing means a required setting (e.g. the Kick channel) is absent.
	ErrConfigMissing = errors.New("required configuration missing")
)

// ErrorClass groups adapter failures by how the supervisor should treat them.
type ErrorClass int

const (
	ErrorClassUnknown ErrorClass = iota
	// ErrorClassMissingCredential is an expected state: report not connected.
	ErrorClassMissingCredential
	// ErrorClassInvalidCredential stays disconnected until the next refresh.
	ErrorClassInvalidCredential
	// ErrorClassTransient is handled locally by the owning adapter.
	ErrorClassTransient
	// ErrorClassConfigMissing makes connect a no-op.
	ErrorClassConfigMissing
)

// String returns a human-readable name for the error class.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassMissingCredential:
		return "missing_credential"
	case ErrorClassInvalidCredential:
		return "invalid_credential"
	case ErrorClassTransient:
		return "transient"
	case ErrorClassConfigMissing:
		return "config_missing"
	default:
		return "unknown"
	}
}

// ClassifyError maps an adapter error into the taxonomy.
//
// Sentinels win first, then typed API errors (Helix and Google) by status code,
// then network errors, then a few message patterns from transports that only
// return strings.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	switch {
	case errors.Is(err, ErrMissingCredential):
		return ErrorClassMissingCredential
	case errors.Is(err, ErrInvalidCredential), errors.Is(err, twitchapi.ErrInvalidToken):
		return ErrorClassInvalidCredential
	case errors.Is(err, ErrConfigMissing):
		return ErrorClassConfigMissing
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorClassTransient
	}

	var helixErr *twitchapi.APIError
	if errors.As(err, &helixErr) {
		return classifyStatus(helixErr.StatusCode)
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return classifyStatus(gErr.Code)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassTransient
	}

	lower := strings.ToLower(err.Error())
	for _, p := range []string{"login authentication failed", "improperly formatted auth", "invalid oauth"} {
		if strings.Contains(lower, p) {
			return ErrorClassInvalidCredential
		}
	}
	for _, p := range []string{"connection reset", "connection refused", "timeout", "eof", "broken pipe", "no such host"} {
		if strings.Contains(lower, p) {
			return ErrorClassTransient
		}
	}
	return ErrorClassUnknown
}

func classifyStatus(code int) ErrorClass {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrorClassInvalidCredential
	case code == http.StatusTooManyRequests || code >= 500:
		return ErrorClassTransient
	default:
		return ErrorClassUnknown
	}
}
