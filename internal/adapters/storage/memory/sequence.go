package memory

import (
	"context"
	"sync"
)

// Sequence es la secuencia de protocolos para dev/tests.
type Sequence struct {
	mu   sync.Mutex
	next map[string]int64
}

func NewSequence() *Sequence {
	return &Sequence{next: make(map[string]int64)}
}

func (s *Sequence) NextProtocolNumber(ctx context.Context, scope string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next[scope]++
	return s.next[scope], nil
}

// Set fija el último número emitido del scope (seed de datos migrados).
func (s *Sequence) Set(scope string, last int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next[scope] = last
}
