package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"clinical-occurrences/internal/domain/occurrence"
	"clinical-occurrences/internal/domain/sources"
)

const UnknownName = "unknown"

// IdentityLookup resuelve un user id a nombre visible.
type IdentityLookup interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// ShareTokenFinder resuelve un token público a la ocurrencia.
type ShareTokenFinder interface {
	FindByShareToken(ctx context.Context, token string) (occurrence.Ref, error)
}

// LatencyObserver mide cuánto tarda cada fuente en listarse.
type LatencyObserver interface {
	ObserveSourceLatency(kind occurrence.SourceKind, d time.Duration)
}

type Aggregator struct {
	records  sources.RecordStore
	tokens   ShareTokenFinder
	adapters map[occurrence.SourceKind]sources.Adapter
	identity IdentityLookup
	logger   *zap.Logger
	latency  LatencyObserver
}

type Options struct {
	Identity IdentityLookup
	Logger   *zap.Logger
	Latency  LatencyObserver
}

func New(records sources.RecordStore, tokens ShareTokenFinder, opts Options) *Aggregator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		records:  records,
		tokens:   tokens,
		adapters: sources.Adapters(),
		identity: opts.Identity,
		logger:   logger,
		latency:  opts.Latency,
	}
}

// Filter es opcional; campos vacíos no filtran.
type Filter struct {
	Kind   occurrence.SourceKind
	Status occurrence.Status
	Triage occurrence.TriageLevel
}

func (f Filter) match(o occurrence.Occurrence) bool {
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.Triage != "" && (o.Triage == nil || *o.Triage != f.Triage) {
		return false
	}
	return true
}

// ListAll une las cinco fuentes, ordenadas por createdAt desc.
func (a *Aggregator) ListAll(ctx context.Context, tenantID string, filter Filter) ([]occurrence.Occurrence, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant required", occurrence.ErrInvalidInput)
	}

	kinds := occurrence.Kinds
	if filter.Kind != "" {
		kinds = []occurrence.SourceKind{filter.Kind}
	}

	perKind := make([][]occurrence.Occurrence, len(kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		g.Go(func() error {
			start := time.Now()
			items, err := a.listKind(gctx, tenantID, kind)
			if a.latency != nil {
				a.latency.ObserveSourceLatency(kind, time.Since(start))
			}
			if err != nil {
				return fmt.Errorf("list %s: %w", kind, err)
			}
			perKind[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]occurrence.Occurrence, 0)
	for _, items := range perKind {
		for _, o := range items {
			if filter.match(o) {
				out = append(out, o)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Protocol > out[j].Protocol
	})

	a.resolveNames(ctx, out)
	return out, nil
}

func (a *Aggregator) listKind(ctx context.Context, tenantID string, kind occurrence.SourceKind) ([]occurrence.Occurrence, error) {
	adapter, ok := a.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter for %q", occurrence.ErrInvalidInput, kind)
	}
	recs, err := a.records.List(ctx, tenantID, kind)
	if err != nil {
		return nil, err
	}
	out := make([]occurrence.Occurrence, 0, len(recs))
	for _, r := range recs {
		o, err := adapter.Normalize(r.Record, r.State)
		if err != nil {
			// Un registro roto no tumba el listado completo.
			a.logger.Error("skipping record that cannot be normalized",
				zap.String("occurrence", r.Record.Ref.String()),
				zap.Error(err),
			)
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// GetOne busca por ref con namespace. Con un id sin kind, prueba las fuentes
// en orden de prioridad y devuelve el primer hit.
func (a *Aggregator) GetOne(ctx context.Context, ref occurrence.Ref) (occurrence.Occurrence, error) {
	if strings.TrimSpace(ref.ID) == "" {
		return occurrence.Occurrence{}, fmt.Errorf("%w: empty occurrence id", occurrence.ErrInvalidInput)
	}
	if ref.Kind != "" {
		o, err := a.getKind(ctx, ref)
		if err != nil {
			return occurrence.Occurrence{}, err
		}
		a.resolveName(ctx, &o, map[string]string{})
		return o, nil
	}
	return a.probe(ctx, ref.ID)
}

func (a *Aggregator) probe(ctx context.Context, id string) (occurrence.Occurrence, error) {
	var (
		found occurrence.Occurrence
		hit   bool
	)
	for _, kind := range occurrence.Kinds {
		o, err := a.getKind(ctx, occurrence.Ref{Kind: kind, ID: id})
		if errors.Is(err, occurrence.ErrNotFound) {
			continue
		}
		if err != nil {
			return occurrence.Occurrence{}, err
		}
		if !hit {
			found, hit = o, true
			continue
		}
		a.logger.Warn("bare occurrence id present in more than one source; lower priority source is masked",
			zap.String("id", id),
			zap.String("returned", string(found.Ref.Kind)),
			zap.String("masked", string(kind)),
		)
	}
	if !hit {
		return occurrence.Occurrence{}, fmt.Errorf("%w: %s", occurrence.ErrNotFound, id)
	}
	a.resolveName(ctx, &found, map[string]string{})
	return found, nil
}

func (a *Aggregator) getKind(ctx context.Context, ref occurrence.Ref) (occurrence.Occurrence, error) {
	adapter, ok := a.adapters[ref.Kind]
	if !ok {
		return occurrence.Occurrence{}, fmt.Errorf("%w: no adapter for %q", occurrence.ErrInvalidInput, ref.Kind)
	}
	r, err := a.records.Get(ctx, ref)
	if err != nil {
		return occurrence.Occurrence{}, err
	}
	return adapter.Normalize(r.Record, r.State)
}

// GetByShareToken devuelve la ocurrencia detrás de un link público.
func (a *Aggregator) GetByShareToken(ctx context.Context, token string) (occurrence.Occurrence, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return occurrence.Occurrence{}, fmt.Errorf("%w: empty token", occurrence.ErrNotFound)
	}
	ref, err := a.tokens.FindByShareToken(ctx, token)
	if err != nil {
		return occurrence.Occurrence{}, err
	}
	return a.GetOne(ctx, ref)
}

func (a *Aggregator) resolveNames(ctx context.Context, items []occurrence.Occurrence) {
	cache := make(map[string]string)
	for i := range items {
		a.resolveName(ctx, &items[i], cache)
	}
}

// resolveName nunca falla: cualquier error o vacío queda como "unknown".
func (a *Aggregator) resolveName(ctx context.Context, o *occurrence.Occurrence, cache map[string]string) {
	if name, ok := cache[o.CreatedBy]; ok {
		o.CreatedByName = name
		return
	}
	name := UnknownName
	if a.identity != nil && strings.TrimSpace(o.CreatedBy) != "" {
		n, err := a.identity.DisplayName(ctx, o.CreatedBy)
		if err != nil {
			a.logger.Debug("display name lookup failed",
				zap.String("user_id", o.CreatedBy),
				zap.Error(err),
			)
		} else if strings.TrimSpace(n) != "" {
			name = strings.TrimSpace(n)
		}
	}
	cache[o.CreatedBy] = name
	o.CreatedByName = name
}

// cachedIdentity evita golpear el directorio en cada request.
type cachedIdentity struct {
	next IdentityLookup
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]cachedName
}

type cachedName struct {
	name    string
	expires time.Time
}

// NewCachedIdentity envuelve un lookup con cache en memoria; solo cachea aciertos.
func NewCachedIdentity(next IdentityLookup, ttl time.Duration) IdentityLookup {
	if next == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &cachedIdentity{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cachedName),
	}
}

func (c *cachedIdentity) DisplayName(ctx context.Context, userID string) (string, error) {
	now := c.now()
	c.mu.Lock()
	if e, ok := c.entries[userID]; ok && now.Before(e.expires) {
		c.mu.Unlock()
		return e.name, nil
	}
	c.mu.Unlock()

	name, err := c.next.DisplayName(ctx, userID)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.entries[userID] = cachedName{name: name, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	return name, nil
}
