package middleware

import (
	"errors"
	"net/http"

	"clinical-occurrences/internal/domain/occurrence"
)

// StatusFor traduce los errores del núcleo a códigos HTTP.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, occurrence.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, occurrence.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, occurrence.ErrStaleState),
		errors.Is(err, occurrence.ErrDuplicateProtocol),
		errors.Is(err, occurrence.ErrTerminal):
		return http.StatusConflict
	case errors.Is(err, occurrence.ErrInvalidTransition),
		errors.Is(err, occurrence.ErrTriageDowngrade):
		return http.StatusUnprocessableEntity
	case errors.Is(err, occurrence.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteError responde con el texto del error salvo en 500, donde no se filtra.
func WriteError(w http.ResponseWriter, err error) {
	code := StatusFor(err)
	if code == http.StatusInternalServerError {
		http.Error(w, "internal error", code)
		return
	}
	http.Error(w, err.Error(), code)
}
