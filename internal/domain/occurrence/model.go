package occurrence

import (
	"fmt"
	"strings"
	"time"
)

// Ref es el id con namespace: el mismo uuid en dos fuentes distintas
// son dos ocurrencias distintas.
type Ref struct {
	Kind SourceKind
	ID   string
}

func (r Ref) String() string { return string(r.Kind) + ":" + r.ID }

func (r Ref) IsZero() bool { return r.Kind == "" && r.ID == "" }

// ParseRef acepta "kind:id". Un id sin namespace devuelve Kind vacío.
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ref{}, fmt.Errorf("%w: empty occurrence id", ErrInvalidInput)
	}
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return Ref{ID: s}, nil
	}
	k, err := ParseKind(kind)
	if err != nil {
		return Ref{}, err
	}
	if strings.TrimSpace(id) == "" {
		return Ref{}, fmt.Errorf("%w: empty occurrence id", ErrInvalidInput)
	}
	return Ref{Kind: k, ID: strings.TrimSpace(id)}, nil
}

// Patient: los campos opcionales son nil cuando se desconocen, en todas las fuentes.
type Patient struct {
	Name      *string
	Phone     *string
	BirthDate *time.Time
	ExamType  *string
	ExamDate  *time.Time
}

type Outcome struct {
	Tags          []string
	Justification string
	Primary       *string
	DefinedBy     string
	DefinedAt     time.Time
}

type HistoryEntry struct {
	FromStatus Status
	ToStatus   Status
	Actor      string
	Timestamp  time.Time
	Reason     string
}

type Comment struct {
	Author    string
	Body      string
	CreatedAt time.Time
}

type Attachment struct {
	Name        string
	MimeType    string
	Size        int64
	StoragePath string
	IsImage     bool
	Uploader    string
	UploadedAt  time.Time
}

type RoutingMessage struct {
	Author    string
	Body      string
	CreatedAt time.Time
}

// ReviewRouting solo aplica a ocurrencias de tipo review.
type ReviewRouting struct {
	DestinationReviewer string
	Messages            []RoutingMessage
	RoutedAt            *time.Time
}

type ReportRef struct {
	Path        string
	GeneratedAt time.Time
}

// State es la parte mutable por el ciclo de vida, común a las cinco fuentes.
type State struct {
	Status      Status
	Triage      *TriageLevel
	Outcome     *Outcome
	History     []HistoryEntry
	Comments    []Comment
	Attachments []Attachment

	FinalizedAt *time.Time
	FinalizedBy string
	Report      *ReportRef
	NotifiedAt  *time.Time

	ShareToken    string
	ReviewRouting *ReviewRouting

	UpdatedAt time.Time
}

// Version es la guarda de concurrencia optimista: largo del historial.
func (s State) Version() int { return len(s.History) }

// Occurrence es la vista canónica producida por los adapters.
type Occurrence struct {
	Ref      Ref
	TenantID string
	Protocol string

	Type    string
	Subtype string

	Patient     Patient
	Description string

	CreatedBy     string
	CreatedByName string
	CreatedAt     time.Time

	State
}

// FirstImage devuelve el primer adjunto de imagen, si existe.
func (o Occurrence) FirstImage() (Attachment, bool) {
	for _, a := range o.Attachments {
		if a.IsImage {
			return a, true
		}
	}
	return Attachment{}, false
}

// InitialHistory es la primera entrada de toda ocurrencia.
func InitialHistory(actor string, at time.Time) HistoryEntry {
	return HistoryEntry{
		FromStatus: StatusRegistered,
		ToStatus:   StatusRegistered,
		Actor:      actor,
		Timestamp:  at,
		Reason:     "occurrence registered",
	}
}

// NewState arma el estado inicial de una ocurrencia recién ingresada.
func NewState(actor string, at time.Time) State {
	return State{
		Status:    StatusRegistered,
		History:   []HistoryEntry{InitialHistory(actor, at)},
		UpdatedAt: at,
	}
}

func StrPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func IsImageMime(mime string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mime)), "image/")
}
