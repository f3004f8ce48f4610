package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"clinical-occurrences/internal/domain/occurrence"
)

// Sequence usa una fila por scope en protocol_sequences. El upsert toma el
// lock de la fila, así que cada llamada recibe un número distinto.
type Sequence struct {
	db *sql.DB
}

func NewSequence(db *sql.DB) *Sequence {
	return &Sequence{db: db}
}

func (s *Sequence) NextProtocolNumber(ctx context.Context, scope string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("%w: postgres sequence not configured", occurrence.ErrUpstreamUnavailable)
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return 0, fmt.Errorf("%w: empty sequence scope", occurrence.ErrInvalidInput)
	}

	var n int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO protocol_sequences (scope, value) VALUES ($1, 1)
		ON CONFLICT (scope) DO UPDATE SET value = protocol_sequences.value + 1
		RETURNING value
	`, scope).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("protocol sequence: %w", errors.Join(occurrence.ErrUpstreamUnavailable, err))
	}
	return n, nil
}
