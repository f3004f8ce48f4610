package protocol

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"clinical-occurrences/internal/domain/occurrence"
)

const digits = 6

// Sequence emite números atómicos por scope (tenant/año).
type Sequence interface {
	NextProtocolNumber(ctx context.Context, scope string) (int64, error)
}

// Counter cuenta los registros existentes del tenant (las cinco fuentes).
type Counter interface {
	CountRecords(ctx context.Context, tenantID string) (int, error)
}

// FallbackObserver recibe un aviso cada vez que se usa la numeración local.
type FallbackObserver interface {
	ProtocolFallback(tenantID string)
}

type Generator struct {
	seq      Sequence
	counter  Counter
	logger   *zap.Logger
	observer FallbackObserver
	now      func() time.Time
}

func NewGenerator(seq Sequence, counter Counter, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		seq:     seq,
		counter: counter,
		logger:  logger,
		now:     time.Now,
	}
}

func (g *Generator) WithObserver(o FallbackObserver) *Generator {
	g.observer = o
	return g
}

// Scope es la clave de la secuencia: reinicia por año.
func Scope(tenantID string, year int) string {
	return fmt.Sprintf("%s/%04d", strings.TrimSpace(tenantID), year)
}

func Format(year int, n int64) string {
	return fmt.Sprintf("%04d%0*d", year, digits, n)
}

// Generate devuelve un protocolo nuevo. Usa la secuencia atómica y, si falla,
// cae a año + (cantidad de registros + 1).
//
// El fallback NO es seguro con llamadas concurrentes: dos callers pueden
// calcular el mismo número. El store lo detecta (ErrDuplicateProtocol), no
// este método. Ver Sequence para la vía sin colisiones.
func (g *Generator) Generate(ctx context.Context, tenantID string) (Code, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return Code{}, fmt.Errorf("%w: tenant required", occurrence.ErrInvalidInput)
	}
	year := g.now().Year()

	if g.seq != nil {
		n, err := g.seq.NextProtocolNumber(ctx, Scope(tenantID, year))
		if err == nil {
			return Code{Value: Format(year, n)}, nil
		}
		g.logger.Warn("protocol sequence unavailable, using local fallback",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
	}

	if g.counter == nil {
		return Code{}, fmt.Errorf("%w: no protocol sequence or counter configured", occurrence.ErrUpstreamUnavailable)
	}
	count, err := g.counter.CountRecords(ctx, tenantID)
	if err != nil {
		return Code{}, fmt.Errorf("protocol fallback count: %w", errors.Join(occurrence.ErrUpstreamUnavailable, err))
	}
	if g.observer != nil {
		g.observer.ProtocolFallback(tenantID)
	}
	return Code{Value: Format(year, int64(count)+1), Fallback: true}, nil
}

// Code es el protocolo emitido. Fallback indica que salió de la numeración
// local y puede colisionar.
type Code struct {
	Value    string
	Fallback bool
}

func (c Code) String() string { return c.Value }
