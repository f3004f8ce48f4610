package finalization

import (
	"context"
	"fmt"
	"time"

	"clinical-occurrences/internal/domain/occurrence"
)

// URLSigner firma paths del blob store para links temporales.
type URLSigner interface {
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}

type Links struct {
	Signer  URLSigner
	TTL     time.Duration
	BaseURL string
}

// Payload es el contrato JSON que consume la automatización externa.
type Payload struct {
	Event        string                        `json:"event"`
	OccurrenceID string                        `json:"occurrenceId"`
	Protocol     string                        `json:"protocol"`
	Type         string                        `json:"type"`
	Subtype      string                        `json:"subtype"`
	Status       occurrence.Status             `json:"status"`
	Triage       *occurrence.TriageLevel       `json:"triage"`
	Description  string                        `json:"description"`
	Patient      PatientPayload                `json:"patient"`
	Outcome      *OutcomePayload               `json:"outcome"`
	History      []occurrence.HistoryEntryWire `json:"history"`
	Attachments  []AttachmentPayload           `json:"attachments"`
	FinalizedAt  *time.Time                    `json:"finalizedAt"`
	FinalizedBy  string                        `json:"finalizedBy"`
	ReportURL    string                        `json:"reportUrl"`
	DeepLink     string                        `json:"deepLink"`
}

type PatientPayload struct {
	Name      *string `json:"name"`
	Phone     *string `json:"phone"`
	BirthDate *string `json:"birthDate"`
	ExamType  *string `json:"examType"`
	ExamDate  *string `json:"examDate"`
}

type OutcomePayload struct {
	Tags          []string  `json:"tags"`
	Justification string    `json:"justification"`
	Primary       *string   `json:"primary"`
	DefinedBy     string    `json:"definedBy"`
	DefinedAt     time.Time `json:"definedAt"`
}

type AttachmentPayload struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	URL      string `json:"url"`
}

func dateOnly(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.DateOnly)
	return &s
}

// DeepLink apunta a la vista de la ocurrencia en la app.
func DeepLink(baseURL string, ref occurrence.Ref) string {
	return fmt.Sprintf("%s/occurrences/%s/%s", baseURL, ref.Kind, ref.ID)
}

// BuildPayload arma el payload de occurrence_completed. Los links de
// adjuntos y reporte son URLs firmadas; sin Signer quedan vacíos.
func BuildPayload(ctx context.Context, o occurrence.Occurrence, l Links) (Payload, error) {
	p := Payload{
		Event:        EventOccurrenceCompleted,
		OccurrenceID: o.Ref.String(),
		Protocol:     o.Protocol,
		Type:         o.Type,
		Subtype:      o.Subtype,
		Status:       o.Status,
		Triage:       o.Triage,
		Description:  o.Description,
		Patient: PatientPayload{
			Name:      o.Patient.Name,
			Phone:     o.Patient.Phone,
			BirthDate: dateOnly(o.Patient.BirthDate),
			ExamType:  o.Patient.ExamType,
			ExamDate:  dateOnly(o.Patient.ExamDate),
		},
		History:     occurrence.HistoryToWire(o.History),
		Attachments: make([]AttachmentPayload, 0, len(o.Attachments)),
		FinalizedAt: o.FinalizedAt,
		FinalizedBy: o.FinalizedBy,
		DeepLink:    DeepLink(l.BaseURL, o.Ref),
	}
	if o.Outcome != nil {
		p.Outcome = &OutcomePayload{
			Tags:          append([]string(nil), o.Outcome.Tags...),
			Justification: o.Outcome.Justification,
			Primary:       o.Outcome.Primary,
			DefinedBy:     o.Outcome.DefinedBy,
			DefinedAt:     o.Outcome.DefinedAt.UTC(),
		}
	}

	for _, a := range o.Attachments {
		ap := AttachmentPayload{Name: a.Name, MimeType: a.MimeType}
		if l.Signer != nil {
			u, err := l.Signer.SignedURL(ctx, a.StoragePath, l.TTL)
			if err != nil {
				return Payload{}, fmt.Errorf("sign attachment %s: %w", a.Name, err)
			}
			ap.URL = u
		}
		p.Attachments = append(p.Attachments, ap)
	}

	if o.Report != nil && l.Signer != nil {
		u, err := l.Signer.SignedURL(ctx, o.Report.Path, l.TTL)
		if err != nil {
			return Payload{}, fmt.Errorf("sign report: %w", err)
		}
		p.ReportURL = u
	}
	return p, nil
}
