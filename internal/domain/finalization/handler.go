package finalization

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"clinical-occurrences/internal/domain/occurrence"
	"clinical-occurrences/internal/middleware"
	"clinical-occurrences/internal/ports/capabilities"
)

func RegisterRoutes(r chi.Router, p *Pipeline, resolver capabilities.CapabilitiesResolver, logger *zap.Logger) {
	r.With(
		middleware.RequireClaims,
		middleware.RequireCapability(resolver, capabilities.ManageOccurrences, logger),
	).Post("/occurrences/{kind}/{id}/report", generateReportHandler(p))
}

// generateReportHandler godoc
// @Summary Regenerar reporte
// @Description Vuelve a generar el artefacto de una ocurrencia completed y reemplaza la referencia guardada. No cambia el status; reintenta la notificación de cierre solo si nunca se entregó. Requiere capability `occurrences:manage`.
// @Tags finalization
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param X-Debug-Tenant-ID header string false "Solo en modo dev, tenant"
// @Param Authorization header string false "Bearer token en producción"
// @Param kind path string true "Fuente"
// @Param id path string true "ID de la ocurrencia"
// @Success 200 {object} occurrence.View
// @Failure 400 {string} string "la ocurrencia no está completed"
// @Failure 401 {string} string "unauthorized"
// @Failure 403 {string} string "forbidden"
// @Failure 404 {string} string "not found"
// @Failure 502 {string} string "renderer o blob store no disponible"
// @Router /occurrences/{kind}/{id}/report [post]
func generateReportHandler(p *Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := middleware.GetClaims(r.Context())
		kind, err := occurrence.ParseKind(chi.URLParam(r, "kind"))
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		ref := occurrence.Ref{Kind: kind, ID: chi.URLParam(r, "id")}

		cur, err := p.reader.GetOne(r.Context(), ref)
		if err == nil && cur.TenantID != claims.TenantID {
			err = fmt.Errorf("%w: %s", occurrence.ErrNotFound, ref)
		}
		if err != nil {
			middleware.WriteError(w, err)
			return
		}

		o, err := p.GenerateReport(r.Context(), ref, claims.UserID)
		if err != nil {
			middleware.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, o.View())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
