package lifecycle

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"clinical-occurrences/internal/domain/occurrence"
	"clinical-occurrences/internal/middleware"
	"clinical-occurrences/internal/ports/capabilities"
)

const maxUploadBytes = 25 << 20

type handlers struct {
	svc    *Service
	logger *zap.Logger
}

func RegisterRoutes(r chi.Router, svc *Service, resolver capabilities.CapabilitiesResolver, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := handlers{svc: svc, logger: logger}
	manage := middleware.RequireCapability(resolver, capabilities.ManageOccurrences, logger)

	const base = "/occurrences/{kind}/{id}"
	r.Group(func(or chi.Router) {
		or.Use(middleware.RequireClaims)

		or.With(manage).Post(base+"/triage", h.recordTriage)
		or.With(manage).Post(base+"/outcome", h.recordOutcome)
		or.With(manage).Post(base+"/transitions", h.transition)

		or.Post(base+"/comments", h.appendComment)
		or.Post(base+"/attachments", h.uploadAttachment)
		or.Patch(base+"/patient", h.updatePatient)
		or.Patch(base+"/description", h.updateDescription)

		// Solo ocurrencias de revisión de examen.
		or.Post(base+"/routing", h.routeForReview)
		or.Post(base+"/routing/messages", h.addRoutingMessage)
	})
}

// owned lee la ref de la URL y verifica que la ocurrencia sea del tenant.
func (h handlers) owned(w http.ResponseWriter, r *http.Request) (occurrence.Ref, string, bool) {
	claims, _ := middleware.GetClaims(r.Context())
	kind, err := occurrence.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		middleware.WriteError(w, err)
		return occurrence.Ref{}, "", false
	}
	ref := occurrence.Ref{Kind: kind, ID: chi.URLParam(r, "id")}
	o, err := h.svc.reader.GetOne(r.Context(), ref)
	if err == nil && o.TenantID != claims.TenantID {
		err = fmt.Errorf("%w: %s", occurrence.ErrNotFound, ref)
	}
	if err != nil {
		middleware.WriteError(w, err)
		return occurrence.Ref{}, "", false
	}
	return ref, claims.UserID, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

type triageRequest struct {
	Classification occurrence.TriageLevel `json:"classification" enums:"risk_circumstance,near_miss,incident_no_harm,adverse_event,sentinel_event"`
}

// recordTriage godoc
// @Summary Registrar triage
// @Description Fija la clasificación. Desde `registered` o `triaging` la ocurrencia pasa a `under_review` en la misma operación. Una reclasificación solo puede subir la severidad. Requiere capability `occurrences:manage`.
// @Tags lifecycle
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param X-Debug-Tenant-ID header string false "Solo en modo dev, tenant"
// @Param Authorization header string false "Bearer token en producción"
// @Param kind path string true "Fuente"
// @Param id path string true "ID de la ocurrencia"
// @Param payload body triageRequest true "Clasificación"
// @Success 200 {object} occurrence.View
// @Failure 400 {string} string "clasificación inválida"
// @Failure 403 {string} string "forbidden"
// @Failure 404 {string} string "not found"
// @Failure 409 {string} string "estado concurrente / ocurrencia cerrada"
// @Failure 422 {string} string "reclasificación a menor severidad"
// @Router /occurrences/{kind}/{id}/triage [post]
func (h handlers) recordTriage(w http.ResponseWriter, r *http.Request) {
	ref, actor, ok := h.owned(w, r)
	if !ok {
		return
	}
	var req triageRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := h.svc.RecordTriage(r.Context(), ref, req.Classification, actor)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o.View())
}

type outcomeRequest struct {
	Tags          []string `json:"tags"`
	Justification string   `json:"justification"`
	Primary       string   `json:"primary"`
}

// recordOutcome godoc
// @Summary Registrar desenlace (CAPA)
// @Description Adjunta tags de desenlace, justificación y desenlace principal (debe estar entre los tags). No cambia el status. Requiere capability `occurrences:manage`.
// @Tags lifecycle
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param X-Debug-Tenant-ID header string false "Solo en modo dev, tenant"
// @Param Authorization header string false "Bearer token en producción"
// @Param kind path string true "Fuente"
// @Param id path string true "ID de la ocurrencia"
// @Param payload body outcomeRequest true "Desenlace"
// @Success 200 {object} occurrence.View
// @Failure 400 {string} string "tags/justificación inválidos"
// @Failure 404 {string} string "not found"
// @Failure 409 {string} string "ocurrencia cerrada o editada en paralelo"
// @Router /occurrences/{kind}/{id}/outcome [post]
func (h handlers) recordOutcome(w http.ResponseWriter, r *http.Request) {
	ref, actor, ok := h.owned(w, r)
	if !ok {
		return
	}
	var req outcomeRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := h.svc.RecordOutcome(r.Context(), ref, OutcomeInput(req), actor)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o.View())
}

type transitionRequest struct {
	Expected occurrence.Status `json:"expected"`
	Next     occurrence.Status `json:"next"`
	Reason   string            `json:"reason"`
}

type transitionFailure struct {
	Error      string          `json:"error"`
	Occurrence occurrence.View `json:"occurrence"`
}

// transition godoc
// @Summary Cambiar status
// @Description Aplica `expected -> next` si la arista es válida y el status guardado sigue siendo `expected`. Al llegar a `completed` genera el reporte y notifica antes de responder; si eso falla, el cambio de status queda hecho y se responde 502 con la ocurrencia. `not_applicable` exige `reason`. Requiere capability `occurrences:manage`.
// @Tags lifecycle
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param X-Debug-Tenant-ID header string false "Solo en modo dev, tenant"
// @Param Authorization header string false "Bearer token en producción"
// @Param kind path string true "Fuente"
// @Param id path string true "ID de la ocurrencia"
// @Param payload body transitionRequest true "Transición"
// @Success 200 {object} occurrence.View
// @Failure 400 {string} string "status desconocido / falta reason"
// @Failure 404 {string} string "not found"
// @Failure 409 {string} string "status cambió (stale)"
// @Failure 422 {string} string "transición inválida"
// @Failure 502 {object} transitionFailure
// @Router /occurrences/{kind}/{id}/transitions [post]
func (h handlers) transition(w http.ResponseWriter, r *http.Request) {
	ref, actor, ok := h.owned(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if !decode(w, r, &req) {
		return
	}
	expected, err := occurrence.ParseStatus(string(req.Expected))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	next, err := occurrence.ParseStatus(string(req.Next))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	o, err := h.svc.TransitionStatus(r.Context(), ref, expected, next, actor, req.Reason)
	if err != nil {
		if o.Ref.ID != "" {
			// El status ya se persistió; falló la finalización.
			h.logger.Error("finalization failed after committed transition",
				zap.String("occurrence", o.Ref.String()),
				zap.Error(err),
			)
			writeJSON(w, middleware.StatusFor(err), transitionFailure{Error: err.Error(), Occurrence: o.View()})
			return
		}
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o.View())
}

type commentRequest struct {
	Body string `json:"body"`
}

type lengthResponse struct {
	Count int `json:"count"`
}

// appendComment godoc
// @Summary Agregar comentario
// @Tags lifecycle
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param X-Debug-Tenant-ID header string false "Solo en modo dev, tenant"
// @Param Authorization header string false "Bearer token en producción"
// @Param kind path string true "Fuente"
// @Param id path string true "ID de la ocurrencia"
// @Param payload body commentRequest true "Comentario"
// @Success 201 {object} lengthResponse
// @Failure 400 {string} string "comentario vacío"
// @Failure 404 {string} string "not found"
// @Router /occurrences/{kind}/{id}/comments [post]
func (h handlers) appendComment(w http.ResponseWriter, r *http.Request) {
	ref, actor, ok := h.owned(w, r)
	if !ok {
		return
	}
	var req commentRequest
	if !decode(w, r, &req) {
		return
	}
	n, err := h.svc.AppendComment(r.Context(), ref, actor, req.Body)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, lengthResponse{Count: n})
}

// uploadAttachment godoc
// @Summary Subir adjunto
// @Description multipart/form-data con el campo `file`. Los bytes van al blob store; la ocurrencia guarda la metadata y el path.
// @Tags lifecycle
// @Accept mpfd
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param X-Debug-Tenant-ID header string false "Solo en modo dev, tenant"
// @Param Authorization header string false "Bearer token en producción"
// @Param kind path string true "Fuente"
// @Param id path string true "ID de la ocurrencia"
// @Param file formData file true "Archivo"
// @Success 201 {object} occurrence.AttachmentView
// @Failure 400 {string} string "archivo inválido"
// @Failure 404 {string} string "not found"
// @Failure 502 {string} string "blob store no disponible"
// @Router /occurrences/{kind}/{id}/attachments [post]
func (h handlers) uploadAttachment(w http.ResponseWriter, r *http.Request) {
	ref, actor, ok := h.owned(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "cannot read file", http.StatusBadRequest)
		return
	}
	mime := header.Header.Get("Content-Type")
	if mime == "" {
		mime = http.DetectContentType(data)
	}

	a, err := h.svc.UploadAttachment(r.Context(), ref, actor, Upload{
		Name:     header.Filename,
		MimeType: mime,
		Data:     data,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, occurrence.AttachmentView(a))
}

type patientRequest struct {
	Name      *string `json:"name"`
	Phone     *string `json:"phone"`
	BirthDate *string `json:"birthDate"` // YYYY-MM-DD o RFC3339
	ExamType  *string `json:"examType"`
	ExamDate  *string `json:"examDate"`
}

func parseDate(s *string) (*time.Time, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, nil
	}
	v := strings.TrimSpace(*s)
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: invalid date %q", occurrence.ErrInvalidInput, v)
}

// updatePatient godoc
// @Summary Editar datos del paciente
// @Description Campos omitidos se conservan. Cada fuente acepta solo los campos que guarda.
// @Tags lifecycle
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param X-Debug-Tenant-ID header string false "Solo en modo dev, tenant"
// @Param Authorization header string false "Bearer token en producción"
// @Param kind path string true "Fuente"
// @Param id path string true "ID de la ocurrencia"
// @Param payload body patientRequest true "Paciente"
// @Success 200 {object} occurrence.View
// @Failure 400 {string} string "campo no soportado por la fuente / fecha inválida"
// @Failure 404 {string} string "not found"
// @Failure 409 {string} string "ocurrencia cerrada o editada en paralelo"
// @Router /occurrences/{kind}/{id}/patient [patch]
func (h handlers) updatePatient(w http.ResponseWriter, r *http.Request) {
	ref, _, ok := h.owned(w, r)
	if !ok {
		return
	}
	var req patientRequest
	if !decode(w, r, &req) {
		return
	}
	birth, err := parseDate(req.BirthDate)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	exam, err := parseDate(req.ExamDate)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	o, err := h.svc.UpdatePatient(r.Context(), ref, occurrence.Patient{
		Name:      req.Name,
		Phone:     req.Phone,
		BirthDate: birth,
		ExamType:  req.ExamType,
		ExamDate:  exam,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o.View())
}

type descriptionRequest struct {
	Description string `json:"description"`
}

// updateDescription godoc
// @Summary Editar descripción
// @Tags lifecycle
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param X-Debug-Tenant-ID header string false "Solo en modo dev, tenant"
// @Param Authorization header string false "Bearer token en producción"
// @Param kind path string true "Fuente"
// @Param id path string true "ID de la ocurrencia"
// @Param payload body descriptionRequest true "Descripción"
// @Success 200 {object} occurrence.View
// @Failure 400 {string} string "descripción vacía"
// @Failure 404 {string} string "not found"
// @Failure 409 {string} string "ocurrencia cerrada o editada en paralelo"
// @Router /occurrences/{kind}/{id}/description [patch]
func (h handlers) updateDescription(w http.ResponseWriter, r *http.Request) {
	ref, _, ok := h.owned(w, r)
	if !ok {
		return
	}
	var req descriptionRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := h.svc.UpdateDescription(r.Context(), ref, req.Description)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o.View())
}

type routingRequest struct {
	Reviewer string `json:"reviewer"`
	Message  string `json:"message"`
}

// routeForReview godoc
// @Summary Encaminar revisión
// @Description Asigna un revisor destino a una revisión de examen y genera el link público (share token) si no existe.
// @Tags lifecycle
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param X-Debug-Tenant-ID header string false "Solo en modo dev, tenant"
// @Param Authorization header string false "Bearer token en producción"
// @Param kind path string true "Fuente (solo review)"
// @Param id path string true "ID de la ocurrencia"
// @Param payload body routingRequest true "Revisor y mensaje opcional"
// @Success 200 {object} occurrence.View
// @Failure 400 {string} string "no es una revisión / revisor vacío"
// @Failure 404 {string} string "not found"
// @Router /occurrences/{kind}/{id}/routing [post]
func (h handlers) routeForReview(w http.ResponseWriter, r *http.Request) {
	ref, actor, ok := h.owned(w, r)
	if !ok {
		return
	}
	var req routingRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := h.svc.RouteForReview(r.Context(), ref, req.Reviewer, req.Message, actor)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o.View())
}

// addRoutingMessage godoc
// @Summary Mensaje en revisión encaminada
// @Tags lifecycle
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param X-Debug-Tenant-ID header string false "Solo en modo dev, tenant"
// @Param Authorization header string false "Bearer token en producción"
// @Param kind path string true "Fuente (solo review)"
// @Param id path string true "ID de la ocurrencia"
// @Param payload body commentRequest true "Mensaje"
// @Success 200 {object} occurrence.View
// @Failure 400 {string} string "mensaje vacío"
// @Failure 404 {string} string "not found"
// @Router /occurrences/{kind}/{id}/routing/messages [post]
func (h handlers) addRoutingMessage(w http.ResponseWriter, r *http.Request) {
	ref, actor, ok := h.owned(w, r)
	if !ok {
		return
	}
	var req commentRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := h.svc.AddRoutingMessage(r.Context(), ref, actor, req.Body)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o.View())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
