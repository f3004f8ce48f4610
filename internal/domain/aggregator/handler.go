package aggregator

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"clinical-occurrences/internal/domain/occurrence"
	"clinical-occurrences/internal/middleware"
)

func RegisterRoutes(r chi.Router, agg *Aggregator) {
	r.Group(func(pr chi.Router) {
		pr.Use(middleware.RequireClaims)
		pr.Get("/occurrences", listOccurrencesHandler(agg))
		pr.Get("/occurrences/{kind}/{id}", getOccurrenceHandler(agg))

		// Ids viejos sin namespace ("<uuid>") o "kind:id".
		pr.Get("/occurrences/lookup/{ref}", lookupOccurrenceHandler(agg))
	})

	// Link público: el token es la credencial.
	r.Get("/public/occurrences/{token}", publicOccurrenceHandler(agg))
}

// listOccurrencesHandler godoc
// @Summary Listar ocurrencias
// @Description Lista las ocurrencias del tenant de las cinco fuentes, ordenadas por fecha de creación descendente. Filtros opcionales por fuente, status y triage.
// @Tags occurrences
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param X-Debug-Tenant-ID header string false "Solo en modo dev, tenant"
// @Param Authorization header string false "Bearer token en producción"
// @Param kind query string false "Fuente" Enums(review,nursing,patient,generic,administrative)
// @Param status query string false "Status" Enums(registered,triaging,under_review,action_in_progress,completed,not_applicable)
// @Param triage query string false "Clasificación" Enums(risk_circumstance,near_miss,incident_no_harm,adverse_event,sentinel_event)
// @Success 200 {array} occurrence.View
// @Failure 400 {string} string "filtro inválido"
// @Failure 401 {string} string "unauthorized"
// @Failure 500 {string} string "internal error"
// @Router /occurrences [get]
func listOccurrencesHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := middleware.GetClaims(r.Context())

		filter, err := parseFilter(r)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}

		items, err := agg.ListAll(r.Context(), claims.TenantID, filter)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}

		out := make([]occurrence.View, 0, len(items))
		for _, o := range items {
			out = append(out, o.View())
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func parseFilter(r *http.Request) (Filter, error) {
	var (
		f   Filter
		err error
	)
	q := r.URL.Query()
	if v := strings.TrimSpace(q.Get("kind")); v != "" {
		if f.Kind, err = occurrence.ParseKind(v); err != nil {
			return Filter{}, err
		}
	}
	if v := strings.TrimSpace(q.Get("status")); v != "" {
		if f.Status, err = occurrence.ParseStatus(v); err != nil {
			return Filter{}, err
		}
	}
	if v := strings.TrimSpace(q.Get("triage")); v != "" {
		if f.Triage, err = occurrence.ParseTriage(v); err != nil {
			return Filter{}, err
		}
	}
	return f, nil
}

// getOccurrenceHandler godoc
// @Summary Obtener ocurrencia
// @Description Devuelve la ocurrencia con su historial, comentarios y adjuntos.
// @Tags occurrences
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param X-Debug-Tenant-ID header string false "Solo en modo dev, tenant"
// @Param Authorization header string false "Bearer token en producción"
// @Param kind path string true "Fuente"
// @Param id path string true "ID de la ocurrencia"
// @Success 200 {object} occurrence.View
// @Failure 401 {string} string "unauthorized"
// @Failure 404 {string} string "not found"
// @Router /occurrences/{kind}/{id} [get]
func getOccurrenceHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, err := occurrence.ParseKind(chi.URLParam(r, "kind"))
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		writeOwned(w, r, agg, occurrence.Ref{Kind: kind, ID: chi.URLParam(r, "id")})
	}
}

// lookupOccurrenceHandler godoc
// @Summary Buscar ocurrencia por id
// @Description Acepta `kind:id` o un id sin namespace (links antiguos). Sin namespace se prueban las fuentes en orden: review, nursing, patient, generic, administrative.
// @Tags occurrences
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param X-Debug-Tenant-ID header string false "Solo en modo dev, tenant"
// @Param Authorization header string false "Bearer token en producción"
// @Param ref path string true "kind:id o id"
// @Success 200 {object} occurrence.View
// @Failure 400 {string} string "id inválido"
// @Failure 401 {string} string "unauthorized"
// @Failure 404 {string} string "not found"
// @Router /occurrences/lookup/{ref} [get]
func lookupOccurrenceHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, err := occurrence.ParseRef(chi.URLParam(r, "ref"))
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		writeOwned(w, r, agg, ref)
	}
}

func writeOwned(w http.ResponseWriter, r *http.Request, agg *Aggregator, ref occurrence.Ref) {
	claims, _ := middleware.GetClaims(r.Context())
	o, err := agg.GetOne(r.Context(), ref)
	if err == nil && o.TenantID != claims.TenantID {
		// Otro tenant: no revelamos que existe.
		err = fmt.Errorf("%w: %s", occurrence.ErrNotFound, ref)
	}
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o.View())
}

// publicOccurrenceHandler godoc
// @Summary Ver ocurrencia por link público
// @Description Resuelve el share token generado al encaminar una revisión o al finalizar. No requiere autenticación.
// @Tags public
// @Produce json
// @Param token path string true "Share token"
// @Success 200 {object} occurrence.View
// @Failure 404 {string} string "not found"
// @Router /public/occurrences/{token} [get]
func publicOccurrenceHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o, err := agg.GetByShareToken(r.Context(), chi.URLParam(r, "token"))
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, o.PublicView())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
