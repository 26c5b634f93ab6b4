package domain

import "errors"

var (
	ErrValidation         = errors.New("invalid request")
	ErrModelNotConfigured = errors.New("no backend configured for model")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrBackendProtocol    = errors.New("backend returned malformed response")
	ErrBackendRejected    = errors.New("backend rejected request")
	ErrRequestTimeout     = errors.New("request timed out")
	ErrTooManyRequests    = errors.New("too many concurrent requests")
)

// ErrorKind returns the taxonomy label for an error, used in logs,
// metrics labels and error payloads.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrModelNotConfigured):
		return "validation"
	case errors.Is(err, ErrBackendUnavailable):
		return "backend_unavailable"
	case errors.Is(err, ErrBackendProtocol):
		return "backend_protocol"
	case errors.Is(err, ErrBackendRejected):
		return "backend_rejected"
	case errors.Is(err, ErrRequestTimeout):
		return "timeout"
	case errors.Is(err, ErrTooManyRequests):
		return "overloaded"
	default:
		return "internal"
	}
}
