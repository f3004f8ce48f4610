package sources

import (
	"time"

	"clinical-occurrences/internal/domain/occurrence"
)

// Record es la variante etiquetada: Ref.Kind indica cuál de los cinco
// payloads está presente.
type Record struct {
	Ref       occurrence.Ref
	TenantID  string
	Protocol  string
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time

	Review         *ReviewRecord
	Nursing        *NursingRecord
	Patient        *PatientRecord
	Generic        *GenericRecord
	Administrative *AdministrativeRecord
}

// StoredRecord es lo que devuelve el store: registro + estado del ciclo de vida.
type StoredRecord struct {
	Record Record
	State  occurrence.State
}

// ReviewRecord: revisión de examen/laudo (discrepancia, adendo, etc).
type ReviewRecord struct {
	ReviewKind          string     `json:"review_kind"`
	PatientName         string     `json:"patient_name"`
	PatientBirthDate    *time.Time `json:"patient_birth_date,omitempty"`
	PatientPhone        string     `json:"patient_phone,omitempty"`
	ExamType            string     `json:"exam_type"`
	ExamDate            *time.Time `json:"exam_date,omitempty"`
	Accession           string     `json:"accession,omitempty"`
	Modality            string     `json:"modality,omitempty"`
	RequestingPhysician string     `json:"requesting_physician,omitempty"`
	ReportingPhysician  string     `json:"reporting_physician,omitempty"`
	Findings            string     `json:"findings"`
}

// NursingRecord: notificación del equipo de enfermería.
type NursingRecord struct {
	Category         string     `json:"category"`
	PatientName      string     `json:"patient_name,omitempty"`
	PatientBirthDate *time.Time `json:"patient_birth_date,omitempty"`
	Unit             string     `json:"unit,omitempty"`
	Bed              string     `json:"bed,omitempty"`
	Shift            string     `json:"shift,omitempty"`
	Narrative        string     `json:"narrative"`
	ImmediateActions string     `json:"immediate_actions,omitempty"`
}

// PatientRecord: relato enviado por el propio paciente o acompañante.
type PatientRecord struct {
	Category         string     `json:"category"`
	Anonymous        bool       `json:"anonymous"`
	ReporterName     string     `json:"reporter_name,omitempty"`
	ReporterPhone    string     `json:"reporter_phone,omitempty"`
	ReporterEmail    string     `json:"reporter_email,omitempty"`
	PatientName      string     `json:"patient_name,omitempty"`
	PatientBirthDate *time.Time `json:"patient_birth_date,omitempty"`
	ExamType         string     `json:"exam_type,omitempty"`
	VisitDate        *time.Time `json:"visit_date,omitempty"`
	Complaint        string     `json:"complaint"`
}

// GenericRecord: formulario libre.
type GenericRecord struct {
	Title        string     `json:"title"`
	Type         string     `json:"type"`
	Subtype      string     `json:"subtype,omitempty"`
	PatientName  string     `json:"patient_name,omitempty"`
	PatientPhone string     `json:"patient_phone,omitempty"`
	OccurredAt   *time.Time `json:"occurred_at,omitempty"`
	Description  string     `json:"description"`
}

// AdministrativeRecord: ocurrencia administrativa (agenda, facturación, recepción).
type AdministrativeRecord struct {
	Department  string `json:"department"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory,omitempty"`
	PatientName string `json:"patient_name,omitempty"`
	Description string `json:"description"`
}
