package sources

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"clinical-occurrences/internal/domain/occurrence"
	"clinical-occurrences/internal/domain/protocol"
)

// ProtocolIssuer es lo que intake necesita del generador de protocolos.
type ProtocolIssuer interface {
	Generate(ctx context.Context, tenantID string) (protocol.Code, error)
}

// Service expone los cinco puntos de entrada de creación.
type Service struct {
	store    RecordStore
	protocol ProtocolIssuer
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(store RecordStore, issuer ProtocolIssuer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		protocol: issuer,
		logger:   logger,
		now:      time.Now,
	}
}

// Author identifica quién registra y en qué tenant.
type Author struct {
	TenantID string
	UserID   string
}

func (a Author) validate() error {
	if strings.TrimSpace(a.TenantID) == "" || strings.TrimSpace(a.UserID) == "" {
		return fmt.Errorf("%w: tenant and user are required", occurrence.ErrInvalidInput)
	}
	return nil
}

func required(fields map[string]string) error {
	missing := make([]string, 0)
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: missing %s", occurrence.ErrInvalidInput, strings.Join(missing, ", "))
	}
	return nil
}

func (s *Service) CreateReview(ctx context.Context, by Author, in ReviewRecord) (occurrence.Occurrence, error) {
	if err := required(map[string]string{
		"patient_name": in.PatientName,
		"exam_type":    in.ExamType,
		"findings":     in.Findings,
	}); err != nil {
		return occurrence.Occurrence{}, err
	}
	r := in
	return s.create(ctx, by, Record{Ref: occurrence.Ref{Kind: occurrence.KindReview}, Review: &r})
}

func (s *Service) CreateNursing(ctx context.Context, by Author, in NursingRecord) (occurrence.Occurrence, error) {
	if err := required(map[string]string{
		"category":  in.Category,
		"narrative": in.Narrative,
	}); err != nil {
		return occurrence.Occurrence{}, err
	}
	r := in
	return s.create(ctx, by, Record{Ref: occurrence.Ref{Kind: occurrence.KindNursing}, Nursing: &r})
}

func (s *Service) CreatePatient(ctx context.Context, by Author, in PatientRecord) (occurrence.Occurrence, error) {
	if err := required(map[string]string{"complaint": in.Complaint}); err != nil {
		return occurrence.Occurrence{}, err
	}
	if !in.Anonymous && strings.TrimSpace(in.ReporterName) == "" && strings.TrimSpace(in.PatientName) == "" {
		return occurrence.Occurrence{}, fmt.Errorf("%w: identified reports need a reporter or patient name", occurrence.ErrInvalidInput)
	}
	r := in
	return s.create(ctx, by, Record{Ref: occurrence.Ref{Kind: occurrence.KindPatient}, Patient: &r})
}

func (s *Service) CreateGeneric(ctx context.Context, by Author, in GenericRecord) (occurrence.Occurrence, error) {
	if err := required(map[string]string{
		"title":       in.Title,
		"description": in.Description,
	}); err != nil {
		return occurrence.Occurrence{}, err
	}
	r := in
	return s.create(ctx, by, Record{Ref: occurrence.Ref{Kind: occurrence.KindGeneric}, Generic: &r})
}

func (s *Service) CreateAdministrative(ctx context.Context, by Author, in AdministrativeRecord) (occurrence.Occurrence, error) {
	if err := required(map[string]string{
		"department":  in.Department,
		"category":    in.Category,
		"description": in.Description,
	}); err != nil {
		return occurrence.Occurrence{}, err
	}
	r := in
	return s.create(ctx, by, Record{Ref: occurrence.Ref{Kind: occurrence.KindAdministrative}, Administrative: &r})
}

func (s *Service) create(ctx context.Context, by Author, rec Record) (occurrence.Occurrence, error) {
	if err := by.validate(); err != nil {
		return occurrence.Occurrence{}, err
	}
	adapter, err := AdapterFor(rec.Ref.Kind)
	if err != nil {
		return occurrence.Occurrence{}, err
	}

	now := s.now()
	rec.Ref.ID = uuid.NewString()
	rec.TenantID = strings.TrimSpace(by.TenantID)
	rec.CreatedBy = strings.TrimSpace(by.UserID)
	rec.CreatedAt = now
	rec.UpdatedAt = now
	st := occurrence.NewState(rec.CreatedBy, now)

	// Un duplicado por la vía de la secuencia solo puede venir de un
	// protocolo emitido antes por el fallback: reintentamos una vez.
	for attempt := 0; ; attempt++ {
		code, err := s.protocol.Generate(ctx, rec.TenantID)
		if err != nil {
			return occurrence.Occurrence{}, err
		}
		rec.Protocol = code.Value

		err = s.store.Create(ctx, rec, st)
		if err == nil {
			break
		}
		if errors.Is(err, occurrence.ErrDuplicateProtocol) && !code.Fallback && attempt == 0 {
			s.logger.Warn("protocol collision, retrying",
				zap.String("tenant_id", rec.TenantID),
				zap.String("protocol", code.Value),
			)
			continue
		}
		return occurrence.Occurrence{}, err
	}

	s.logger.Info("occurrence registered",
		zap.String("occurrence", rec.Ref.String()),
		zap.String("protocol", rec.Protocol),
		zap.String("tenant_id", rec.TenantID),
	)
	return adapter.Normalize(rec, st)
}
