package occurrence

import "errors"

// Errores del núcleo. Stores y servicios los devuelven envueltos con %w;
// los callers comparan con errors.Is.
var (
	ErrNotFound            = errors.New("occurrence not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrStaleState          = errors.New("stale occurrence state")
	ErrDuplicateProtocol   = errors.New("duplicate protocol")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	ErrInvalidInput    = errors.New("invalid input")
	ErrTriageDowngrade = errors.New("triage can only be raised")
	ErrTerminal        = errors.New("occurrence is in a terminal status")
)
