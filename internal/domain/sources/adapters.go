package sources

import (
	"fmt"
	"strings"

	"clinical-occurrences/internal/domain/occurrence"
)

// Adapter normaliza un tipo de registro a la ocurrencia canónica.
// No depende de nada más que del registro y su estado.
type Adapter interface {
	Kind() occurrence.SourceKind
	Normalize(rec Record, st occurrence.State) (occurrence.Occurrence, error)
	ApplyPatient(rec *Record, p occurrence.Patient) error
	ApplyDescription(rec *Record, description string) error
}

// Adapters devuelve los cinco adapters indexados por kind.
func Adapters() map[occurrence.SourceKind]Adapter {
	return map[occurrence.SourceKind]Adapter{
		occurrence.KindReview:         reviewAdapter{},
		occurrence.KindNursing:        nursingAdapter{},
		occurrence.KindPatient:        patientAdapter{},
		occurrence.KindGeneric:        genericAdapter{},
		occurrence.KindAdministrative: administrativeAdapter{},
	}
}

func AdapterFor(kind occurrence.SourceKind) (Adapter, error) {
	a, ok := Adapters()[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter for kind %q", occurrence.ErrInvalidInput, kind)
	}
	return a, nil
}

func base(rec Record, st occurrence.State) occurrence.Occurrence {
	return occurrence.Occurrence{
		Ref:       rec.Ref,
		TenantID:  rec.TenantID,
		Protocol:  rec.Protocol,
		CreatedBy: rec.CreatedBy,
		CreatedAt: rec.CreatedAt,
		State:     st,
	}
}

func payloadMissing(rec Record) error {
	return fmt.Errorf("%w: %s record without payload", occurrence.ErrInvalidInput, rec.Ref)
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// ---- review ----

type reviewAdapter struct{}

func (reviewAdapter) Kind() occurrence.SourceKind { return occurrence.KindReview }

func (reviewAdapter) Normalize(rec Record, st occurrence.State) (occurrence.Occurrence, error) {
	r := rec.Review
	if r == nil {
		return occurrence.Occurrence{}, payloadMissing(rec)
	}
	o := base(rec, st)
	o.Type = "exam_review"
	o.Subtype = strings.TrimSpace(r.ReviewKind)
	o.Description = r.Findings
	o.Patient = occurrence.Patient{
		Name:      occurrence.StrPtr(r.PatientName),
		Phone:     occurrence.StrPtr(r.PatientPhone),
		BirthDate: r.PatientBirthDate,
		ExamType:  occurrence.StrPtr(r.ExamType),
		ExamDate:  r.ExamDate,
	}
	return o, nil
}

func (reviewAdapter) ApplyPatient(rec *Record, p occurrence.Patient) error {
	if rec.Review == nil {
		return payloadMissing(*rec)
	}
	rec.Review.PatientName = str(p.Name)
	rec.Review.PatientPhone = str(p.Phone)
	rec.Review.PatientBirthDate = p.BirthDate
	rec.Review.ExamType = str(p.ExamType)
	rec.Review.ExamDate = p.ExamDate
	return nil
}

func (reviewAdapter) ApplyDescription(rec *Record, d string) error {
	if rec.Review == nil {
		return payloadMissing(*rec)
	}
	rec.Review.Findings = d
	return nil
}

// ---- nursing ----

type nursingAdapter struct{}

func (nursingAdapter) Kind() occurrence.SourceKind { return occurrence.KindNursing }

func (nursingAdapter) Normalize(rec Record, st occurrence.State) (occurrence.Occurrence, error) {
	n := rec.Nursing
	if n == nil {
		return occurrence.Occurrence{}, payloadMissing(rec)
	}
	o := base(rec, st)
	o.Type = "nursing"
	o.Subtype = strings.TrimSpace(n.Category)
	o.Description = n.Narrative
	o.Patient = occurrence.Patient{
		Name:      occurrence.StrPtr(n.PatientName),
		BirthDate: n.PatientBirthDate,
	}
	return o, nil
}

func (nursingAdapter) ApplyPatient(rec *Record, p occurrence.Patient) error {
	if rec.Nursing == nil {
		return payloadMissing(*rec)
	}
	if p.Phone != nil || p.ExamType != nil || p.ExamDate != nil {
		return fmt.Errorf("%w: nursing records only carry patient name and birth date", occurrence.ErrInvalidInput)
	}
	rec.Nursing.PatientName = str(p.Name)
	rec.Nursing.PatientBirthDate = p.BirthDate
	return nil
}

func (nursingAdapter) ApplyDescription(rec *Record, d string) error {
	if rec.Nursing == nil {
		return payloadMissing(*rec)
	}
	rec.Nursing.Narrative = d
	return nil
}

// ---- patient ----

type patientAdapter struct{}

func (patientAdapter) Kind() occurrence.SourceKind { return occurrence.KindPatient }

func (patientAdapter) Normalize(rec Record, st occurrence.State) (occurrence.Occurrence, error) {
	p := rec.Patient
	if p == nil {
		return occurrence.Occurrence{}, payloadMissing(rec)
	}
	o := base(rec, st)
	o.Type = "patient_report"
	o.Subtype = strings.TrimSpace(p.Category)
	o.Description = p.Complaint

	name := p.PatientName
	if strings.TrimSpace(name) == "" {
		name = p.ReporterName
	}
	o.Patient = occurrence.Patient{
		Name:      occurrence.StrPtr(name),
		Phone:     occurrence.StrPtr(p.ReporterPhone),
		BirthDate: p.PatientBirthDate,
		ExamType:  occurrence.StrPtr(p.ExamType),
		ExamDate:  p.VisitDate,
	}
	// Anónimo: no exponemos datos de contacto.
	if p.Anonymous {
		o.Patient.Name = nil
		o.Patient.Phone = nil
	}
	return o, nil
}

func (patientAdapter) ApplyPatient(rec *Record, p occurrence.Patient) error {
	if rec.Patient == nil {
		return payloadMissing(*rec)
	}
	rec.Patient.PatientName = str(p.Name)
	rec.Patient.ReporterPhone = str(p.Phone)
	rec.Patient.PatientBirthDate = p.BirthDate
	rec.Patient.ExamType = str(p.ExamType)
	rec.Patient.VisitDate = p.ExamDate
	return nil
}

func (patientAdapter) ApplyDescription(rec *Record, d string) error {
	if rec.Patient == nil {
		return payloadMissing(*rec)
	}
	rec.Patient.Complaint = d
	return nil
}

// ---- generic ----

type genericAdapter struct{}

func (genericAdapter) Kind() occurrence.SourceKind { return occurrence.KindGeneric }

func (genericAdapter) Normalize(rec Record, st occurrence.State) (occurrence.Occurrence, error) {
	g := rec.Generic
	if g == nil {
		return occurrence.Occurrence{}, payloadMissing(rec)
	}
	o := base(rec, st)
	o.Type = strings.TrimSpace(g.Type)
	if o.Type == "" {
		o.Type = "generic"
	}
	o.Subtype = strings.TrimSpace(g.Subtype)
	o.Description = g.Description
	o.Patient = occurrence.Patient{
		Name:  occurrence.StrPtr(g.PatientName),
		Phone: occurrence.StrPtr(g.PatientPhone),
	}
	return o, nil
}

func (genericAdapter) ApplyPatient(rec *Record, p occurrence.Patient) error {
	if rec.Generic == nil {
		return payloadMissing(*rec)
	}
	if p.BirthDate != nil || p.ExamType != nil || p.ExamDate != nil {
		return fmt.Errorf("%w: generic records only carry patient name and phone", occurrence.ErrInvalidInput)
	}
	rec.Generic.PatientName = str(p.Name)
	rec.Generic.PatientPhone = str(p.Phone)
	return nil
}

func (genericAdapter) ApplyDescription(rec *Record, d string) error {
	if rec.Generic == nil {
		return payloadMissing(*rec)
	}
	rec.Generic.Description = d
	return nil
}

// ---- administrative ----

type administrativeAdapter struct{}

func (administrativeAdapter) Kind() occurrence.SourceKind { return occurrence.KindAdministrative }

func (administrativeAdapter) Normalize(rec Record, st occurrence.State) (occurrence.Occurrence, error) {
	a := rec.Administrative
	if a == nil {
		return occurrence.Occurrence{}, payloadMissing(rec)
	}
	o := base(rec, st)
	o.Type = "administrative"
	o.Subtype = strings.TrimSpace(a.Category)
	if sub := strings.TrimSpace(a.Subcategory); sub != "" {
		o.Subtype += "/" + sub
	}
	o.Description = a.Description
	o.Patient = occurrence.Patient{
		Name: occurrence.StrPtr(a.PatientName),
	}
	return o, nil
}

func (administrativeAdapter) ApplyPatient(rec *Record, p occurrence.Patient) error {
	if rec.Administrative == nil {
		return payloadMissing(*rec)
	}
	if p.Phone != nil || p.BirthDate != nil || p.ExamType != nil || p.ExamDate != nil {
		return fmt.Errorf("%w: administrative records only carry patient name", occurrence.ErrInvalidInput)
	}
	rec.Administrative.PatientName = str(p.Name)
	return nil
}

func (administrativeAdapter) ApplyDescription(rec *Record, d string) error {
	if rec.Administrative == nil {
		return payloadMissing(*rec)
	}
	rec.Administrative.Description = d
	return nil
}
