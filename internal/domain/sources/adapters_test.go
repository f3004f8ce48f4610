package sources

import (
	"errors"
	"testing"
	"time"

	"clinical-occurrences/internal/domain/occurrence"
)

func stored(kind occurrence.SourceKind) Record {
	at := time.Date(2025, 5, 2, 14, 0, 0, 0, time.UTC)
	return Record{
		Ref:       occurrence.Ref{Kind: kind, ID: "id-1"},
		TenantID:  "t1",
		Protocol:  "2025000007",
		CreatedBy: "u1",
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestNormalize_TypePerSource(t *testing.T) {
	st := occurrence.NewState("u1", time.Now())

	cases := []struct {
		name    string
		rec     func() Record
		typ     string
		subtype string
		desc    string
	}{
		{"review", func() Record {
			r := stored(occurrence.KindReview)
			r.Review = &ReviewRecord{ReviewKind: "discrepancia", PatientName: "Ana", ExamType: "TC", Findings: "laudo divergente"}
			return r
		}, "exam_review", "discrepancia", "laudo divergente"},
		{"nursing", func() Record {
			r := stored(occurrence.KindNursing)
			r.Nursing = &NursingRecord{Category: "queda", Narrative: "caiu do leito"}
			return r
		}, "nursing", "queda", "caiu do leito"},
		{"patient", func() Record {
			r := stored(occurrence.KindPatient)
			r.Patient = &PatientRecord{Category: "atendimento", Complaint: "demora", ReporterName: "João"}
			return r
		}, "patient_report", "atendimento", "demora"},
		{"generic default type", func() Record {
			r := stored(occurrence.KindGeneric)
			r.Generic = &GenericRecord{Title: "t", Description: "d"}
			return r
		}, "generic", "", "d"},
		{"generic custom type", func() Record {
			r := stored(occurrence.KindGeneric)
			r.Generic = &GenericRecord{Title: "t", Type: "equipment", Subtype: "tomografo", Description: "d"}
			return r
		}, "equipment", "tomografo", "d"},
		{"administrative", func() Record {
			r := stored(occurrence.KindAdministrative)
			r.Administrative = &AdministrativeRecord{Department: "faturamento", Category: "cobranca", Subcategory: "glosa", Description: "x"}
			return r
		}, "administrative", "cobranca/glosa", "x"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := tc.rec()
			a, err := AdapterFor(rec.Ref.Kind)
			if err != nil {
				t.Fatalf("AdapterFor: %v", err)
			}
			o, err := a.Normalize(rec, st)
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if o.Type != tc.typ || o.Subtype != tc.subtype || o.Description != tc.desc {
				t.Fatalf("got type=%q subtype=%q desc=%q", o.Type, o.Subtype, o.Description)
			}
			if o.Ref != rec.Ref || o.Protocol != rec.Protocol || o.TenantID != "t1" {
				t.Fatalf("identity not carried: %+v", o.Ref)
			}
			if o.Status != occurrence.StatusRegistered {
				t.Fatalf("status=%s", o.Status)
			}
		})
	}
}

func TestNormalize_MissingPayload(t *testing.T) {
	for kind, a := range Adapters() {
		_, err := a.Normalize(stored(kind), occurrence.State{})
		if !errors.Is(err, occurrence.ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", kind, err)
		}
	}
}

func TestNormalize_UnknownFieldsAreNil(t *testing.T) {
	rec := stored(occurrence.KindNursing)
	rec.Nursing = &NursingRecord{Category: "queda", Narrative: "n", PatientName: "  "}
	o, err := nursingAdapter{}.Normalize(rec, occurrence.State{})
	if err != nil {
		t.Fatal(err)
	}
	if o.Patient.Name != nil || o.Patient.Phone != nil || o.Patient.ExamType != nil {
		t.Fatalf("expected nil patient fields, got %+v", o.Patient)
	}
}

func TestNormalize_AnonymousPatientHidesContact(t *testing.T) {
	rec := stored(occurrence.KindPatient)
	rec.Patient = &PatientRecord{Complaint: "c", Anonymous: true, ReporterName: "Maria", ReporterPhone: "1199999"}
	o, err := patientAdapter{}.Normalize(rec, occurrence.State{})
	if err != nil {
		t.Fatal(err)
	}
	if o.Patient.Name != nil || o.Patient.Phone != nil {
		t.Fatalf("anonymous report leaked contact: %+v", o.Patient)
	}
}

func TestApplyPatient_RejectsUnsupportedFields(t *testing.T) {
	phone := "1133334444"
	rec := stored(occurrence.KindAdministrative)
	rec.Administrative = &AdministrativeRecord{Department: "d", Category: "c", Description: "x"}
	err := administrativeAdapter{}.ApplyPatient(&rec, occurrence.Patient{Phone: &phone})
	if !errors.Is(err, occurrence.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	name := "Carlos"
	if err := (administrativeAdapter{}).ApplyPatient(&rec, occurrence.Patient{Name: &name}); err != nil {
		t.Fatal(err)
	}
	if rec.Administrative.PatientName != "Carlos" {
		t.Fatalf("name not applied: %q", rec.Administrative.PatientName)
	}
}

func TestApplyDescription_RoundTrip(t *testing.T) {
	for kind, a := range Adapters() {
		rec := stored(kind)
		switch kind {
		case occurrence.KindReview:
			rec.Review = &ReviewRecord{}
		case occurrence.KindNursing:
			rec.Nursing = &NursingRecord{}
		case occurrence.KindPatient:
			rec.Patient = &PatientRecord{}
		case occurrence.KindGeneric:
			rec.Generic = &GenericRecord{}
		case occurrence.KindAdministrative:
			rec.Administrative = &AdministrativeRecord{}
		}
		if err := a.ApplyDescription(&rec, "nova descricao"); err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		o, err := a.Normalize(rec, occurrence.State{})
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if o.Description != "nova descricao" {
			t.Fatalf("%s: description=%q", kind, o.Description)
		}
	}
}
