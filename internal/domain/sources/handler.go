package sources

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"clinical-occurrences/internal/domain/occurrence"
	"clinical-occurrences/internal/middleware"
)

func RegisterRoutes(r chi.Router, svc *Service) {
	r.With(middleware.RequireClaims).Post("/occurrences/{kind}", createOccurrenceHandler(svc))
}

// createOccurrenceHandler godoc
// @Summary Registrar ocurrencia
// @Description Registra una ocurrencia en la fuente indicada por `kind` (review, nursing, patient, generic, administrative). El cuerpo es el registro propio de esa fuente; fechas en RFC3339. Asigna protocolo y deja la ocurrencia en `registered`. Autenticación: `X-Debug-User-ID` + `X-Debug-Tenant-ID` (dev) o `Authorization: Bearer <token>` (prod).
// @Tags occurrences
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param X-Debug-Tenant-ID header string false "Solo en modo dev, tenant"
// @Param Authorization header string false "Bearer token en producción"
// @Param kind path string true "Fuente" Enums(review,nursing,patient,generic,administrative)
// @Param payload body object true "Registro de la fuente (ReviewRecord, NursingRecord, PatientRecord, GenericRecord o AdministrativeRecord)"
// @Success 201 {object} occurrence.View
// @Failure 400 {string} string "invalid json / campos obligatorios"
// @Failure 401 {string} string "unauthorized"
// @Failure 409 {string} string "protocolo duplicado"
// @Failure 502 {string} string "upstream unavailable"
// @Router /occurrences/{kind} [post]
func createOccurrenceHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := middleware.GetClaims(r.Context())
		by := Author{TenantID: claims.TenantID, UserID: claims.UserID}

		kind, err := occurrence.ParseKind(chi.URLParam(r, "kind"))
		if err != nil {
			middleware.WriteError(w, err)
			return
		}

		dec := json.NewDecoder(r.Body)
		var (
			o    occurrence.Occurrence
			derr error
		)
		switch kind {
		case occurrence.KindReview:
			var in ReviewRecord
			if derr = dec.Decode(&in); derr == nil {
				o, err = svc.CreateReview(r.Context(), by, in)
			}
		case occurrence.KindNursing:
			var in NursingRecord
			if derr = dec.Decode(&in); derr == nil {
				o, err = svc.CreateNursing(r.Context(), by, in)
			}
		case occurrence.KindPatient:
			var in PatientRecord
			if derr = dec.Decode(&in); derr == nil {
				o, err = svc.CreatePatient(r.Context(), by, in)
			}
		case occurrence.KindGeneric:
			var in GenericRecord
			if derr = dec.Decode(&in); derr == nil {
				o, err = svc.CreateGeneric(r.Context(), by, in)
			}
		case occurrence.KindAdministrative:
			var in AdministrativeRecord
			if derr = dec.Decode(&in); derr == nil {
				o, err = svc.CreateAdministrative(r.Context(), by, in)
			}
		}
		if derr != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err != nil {
			middleware.WriteError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, o.View())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
