package occurrence

import (
	"fmt"
	"slices"
	"strings"
)

// SourceKind identifica de qué registro de origen sale una ocurrencia.
type SourceKind string

const (
	KindReview         SourceKind = "review"
	KindNursing        SourceKind = "nursing"
	KindPatient        SourceKind = "patient"
	KindGeneric        SourceKind = "generic"
	KindAdministrative SourceKind = "administrative"
)

// Kinds en orden de prioridad para búsquedas por id sin namespace.
var Kinds = []SourceKind{KindReview, KindNursing, KindPatient, KindGeneric, KindAdministrative}

func ParseKind(s string) (SourceKind, error) {
	k := SourceKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown source kind %q", ErrInvalidInput, s)
}

type Status string

const (
	StatusRegistered       Status = "registered"
	StatusTriaging         Status = "triaging"
	StatusUnderReview      Status = "under_review"
	StatusActionInProgress Status = "action_in_progress"
	StatusCompleted        Status = "completed"
	StatusNotApplicable    Status = "not_applicable"
)

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(AllStatuses(), st) {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
	}
	return st, nil
}

// TriageLevel es la clasificación de severidad. El orden importa: ver Rank.
type TriageLevel string

const (
	TriageRiskCircumstance TriageLevel = "risk_circumstance"
	TriageNearMiss         TriageLevel = "near_miss"
	TriageIncidentNoHarm   TriageLevel = "incident_no_harm"
	TriageAdverseEvent     TriageLevel = "adverse_event"
	TriageSentinelEvent    TriageLevel = "sentinel_event"
)

var triageOrder = []TriageLevel{
	TriageRiskCircumstance,
	TriageNearMiss,
	TriageIncidentNoHarm,
	TriageAdverseEvent,
	TriageSentinelEvent,
}

// Rank devuelve la posición de severidad (0 = menor). -1 si no es válida.
func (t TriageLevel) Rank() int {
	for i, lvl := range triageOrder {
		if lvl == t {
			return i
		}
	}
	return -1
}

func (t TriageLevel) Valid() bool { return t.Rank() >= 0 }

func ParseTriage(s string) (TriageLevel, error) {
	t := TriageLevel(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown triage classification %q", ErrInvalidInput, s)
	}
	return t, nil
}
