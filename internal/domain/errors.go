package domain

import "errors"

// Error kinds the core distinguishes. Components wrap these with context via
// fmt.Errorf("...: %w", err); handlers map them to HTTP status codes with
// errors.Is.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotFound           = errors.New("not found")
	ErrOverloaded         = errors.New("overloaded")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrEmbedderFailed     = errors.New("embedder failed")
	ErrStoreFailed        = errors.New("store failed")
	ErrGraphDisabled      = errors.New("graph provider is disabled")
)

// ErrorCode returns the stable machine-readable code for an error kind.
// Unrecognized errors report "internal".
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrOverloaded):
		return "overloaded"
	case errors.Is(err, ErrBackendUnavailable):
		return "backend_unavailable"
	case errors.Is(err, ErrEmbedderFailed):
		return "embedder_failed"
	case errors.Is(err, ErrStoreFailed):
		return "store_failed"
	case errors.Is(err, ErrGraphDisabled):
		return "graph_disabled"
	default:
		return "internal"
	}
}
