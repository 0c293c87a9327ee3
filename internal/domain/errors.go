package domain

import "errors"

// Error kinds surfaced by session operations.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrInvalidStep     = errors.New("invalid step")
	ErrGeneration      = errors.New("generation failed")
	ErrInvalidInput    = errors.New("invalid input")
)

// Kind is a stable caller-facing error classification.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindExpired      Kind = "expired"
	KindInvalidStep  Kind = "invalid_step"
	KindInvalidInput Kind = "invalid_input"
	KindUpstream     Kind = "upstream_error"
	KindInternal     Kind = "internal_error"
)

// KindOf maps an error to its classification.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return KindNotFound
	case errors.Is(err, ErrSessionExpired):
		return KindExpired
	case errors.Is(err, ErrInvalidStep):
		return KindInvalidStep
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrGeneration):
		return KindUpstream
	default:
		return KindInternal
	}
}
