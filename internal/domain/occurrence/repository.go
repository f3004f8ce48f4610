package occurrence

import (
	"context"
	"time"
)

// Store persiste el estado del ciclo de vida. Cada método es atómico:
// las implementaciones no pueden componerlo de lecturas y escrituras sueltas.
type Store interface {
	// ApplyTransition compara status y Version contra lo esperado y, si coinciden,
	// persiste el nuevo status y agrega la entrada al historial. Si no, ErrStaleState.
	ApplyTransition(ctx context.Context, ref Ref, w TransitionWrite) (State, error)

	// RecordTriage fija la clasificación y, si corresponde, avanza el status en
	// la misma escritura.
	RecordTriage(ctx context.Context, ref Ref, w TriageWrite) (State, error)

	SetOutcome(ctx context.Context, ref Ref, o Outcome, at time.Time) (State, error)

	// AppendComment y AddAttachments devuelven el nuevo largo de la secuencia.
	AppendComment(ctx context.Context, ref Ref, c Comment) (int, error)
	AddAttachments(ctx context.Context, ref Ref, in []Attachment) (int, error)

	// EnsureShareToken guarda candidate solo si no hay token; devuelve el guardado.
	EnsureShareToken(ctx context.Context, ref Ref, candidate string) (string, error)
	FindByShareToken(ctx context.Context, token string) (Ref, error)

	SetReport(ctx context.Context, ref Ref, r ReportRef) error

	// MarkNotified registra la primera notificación entregada; no la pisa.
	MarkNotified(ctx context.Context, ref Ref, at time.Time) error

	UpdateReviewRouting(ctx context.Context, ref Ref, w RoutingWrite) (State, error)
}

type TransitionWrite struct {
	ExpectedStatus  Status
	ExpectedVersion int
	Entry           HistoryEntry

	// Solo al entrar en completed; el store no lo pisa si ya existe.
	FinalizedAt *time.Time
	FinalizedBy string
}

type TriageWrite struct {
	ExpectedStatus  Status
	ExpectedVersion int
	Level           TriageLevel
	At              time.Time

	// nil cuando la clasificación no mueve el status ni se audita.
	Entry *HistoryEntry
}

type RoutingWrite struct {
	DestinationReviewer string
	RoutedAt            *time.Time
	Message             *RoutingMessage
	At                  time.Time
}
