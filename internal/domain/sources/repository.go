package sources

import (
	"context"
	"time"

	"clinical-occurrences/internal/domain/occurrence"
)

// RecordStore guarda los cinco tipos de registro. Una misma implementación
// suele cumplir también occurrence.Store.
type RecordStore interface {
	// Create persiste registro + estado inicial. Protocolo repetido en el
	// tenant => occurrence.ErrDuplicateProtocol.
	Create(ctx context.Context, rec Record, st occurrence.State) error
	Get(ctx context.Context, ref occurrence.Ref) (StoredRecord, error)
	List(ctx context.Context, tenantID string, kind occurrence.SourceKind) ([]StoredRecord, error)

	// UpdateRecord reescribe solo los campos del payload; nunca el status.
	// Si el registro cambió desde readAt (su UpdatedAt leído), devuelve
	// occurrence.ErrStaleState.
	UpdateRecord(ctx context.Context, rec Record, readAt time.Time) error

	CountRecords(ctx context.Context, tenantID string) (int, error)
}
