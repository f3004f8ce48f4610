package finalization

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"clinical-occurrences/internal/domain/occurrence"
	"clinical-occurrences/internal/ports/blob"
)

const EventOccurrenceCompleted = "occurrence_completed"

// Renderer arma el artefacto de reporte a partir de un snapshot.
type Renderer interface {
	Render(ctx context.Context, o occurrence.Occurrence, firstImage []byte) ([]byte, error)
	ContentType() string
	Extension() string
}

// Notifier entrega el payload a un sink externo (webhook, automation).
type Notifier interface {
	Post(ctx context.Context, url string, payload Payload) error
}

// Reader relee la ocurrencia después de persistir el reporte.
type Reader interface {
	GetOne(ctx context.Context, ref occurrence.Ref) (occurrence.Occurrence, error)
}

// Observer recibe contadores del pipeline. Puede ser nil.
type Observer interface {
	ReportGenerated()
	NotificationFailed()
}

type Config struct {
	NotifyURL     string
	PublicBaseURL string
	SignedURLTTL  time.Duration
}

type Pipeline struct {
	store    occurrence.Store
	reader   Reader
	blobs    blob.Store
	renderer Renderer
	notifier Notifier
	observer Observer
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

type Deps struct {
	Store    occurrence.Store
	Reader   Reader
	Blobs    blob.Store
	Renderer Renderer
	Notifier Notifier
	Observer Observer
	Logger   *zap.Logger
}

func NewPipeline(d Deps, cfg Config) *Pipeline {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = 7 * 24 * time.Hour
	}
	cfg.PublicBaseURL = strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	return &Pipeline{
		store:    d.Store,
		reader:   d.Reader,
		blobs:    d.Blobs,
		renderer: d.Renderer,
		notifier: d.Notifier,
		observer: d.Observer,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Handle corre los efectos de la finalización. Los pasos 1 a 3 son
// obligatorios; la notificación es best-effort y nunca devuelve error.
func (p *Pipeline) Handle(ctx context.Context, ev occurrence.FinalizationRequested) error {
	o := ev.Occurrence
	log := p.logger.With(
		zap.String("occurrence", o.Ref.String()),
		zap.String("protocol", o.Protocol),
	)

	token, err := p.ensureToken(ctx, o)
	if err != nil {
		return err
	}
	o.ShareToken = token

	// Un reporte vigente ya cubre la finalización; uno anterior a ella no.
	if reportStale(o) {
		report, err := p.render(ctx, o)
		if err != nil {
			return err
		}
		o.Report = &report
		log.Info("report generated", zap.String("path", report.Path))
	}

	if fresh, err := p.reader.GetOne(ctx, o.Ref); err == nil {
		o = fresh
	}
	p.notifyOnce(ctx, o, log)
	return nil
}

// GenerateReport reemite el artefacto de una ocurrencia completed. Si la
// notificación de cierre quedó pendiente, se intenta de nuevo.
func (p *Pipeline) GenerateReport(ctx context.Context, ref occurrence.Ref, actor string) (occurrence.Occurrence, error) {
	if strings.TrimSpace(actor) == "" {
		return occurrence.Occurrence{}, fmt.Errorf("%w: actor required", occurrence.ErrInvalidInput)
	}
	o, err := p.reader.GetOne(ctx, ref)
	if err != nil {
		return occurrence.Occurrence{}, err
	}
	if o.Status != occurrence.StatusCompleted {
		return occurrence.Occurrence{}, fmt.Errorf("%w: report requires status %s, got %s",
			occurrence.ErrInvalidInput, occurrence.StatusCompleted, o.Status)
	}
	token, err := p.ensureToken(ctx, o)
	if err != nil {
		return occurrence.Occurrence{}, err
	}
	o.ShareToken = token

	report, err := p.render(ctx, o)
	if err != nil {
		return occurrence.Occurrence{}, err
	}
	log := p.logger.With(
		zap.String("occurrence", o.Ref.String()),
		zap.String("protocol", o.Protocol),
	)
	log.Info("report regenerated", zap.String("path", report.Path), zap.String("actor", actor))

	o, err = p.reader.GetOne(ctx, o.Ref)
	if err != nil {
		return occurrence.Occurrence{}, err
	}
	if o.NotifiedAt == nil {
		p.notifyOnce(ctx, o, log)
		if fresh, err := p.reader.GetOne(ctx, o.Ref); err == nil {
			o = fresh
		}
	}
	return o, nil
}

func reportStale(o occurrence.Occurrence) bool {
	if o.Report == nil {
		return true
	}
	return o.FinalizedAt != nil && o.Report.GeneratedAt.Before(*o.FinalizedAt)
}

// notifyOnce no reenvía si ya hubo una entrega registrada.
func (p *Pipeline) notifyOnce(ctx context.Context, o occurrence.Occurrence, log *zap.Logger) {
	if o.NotifiedAt != nil {
		return
	}
	if err := p.notify(ctx, o); err != nil {
		if p.observer != nil {
			p.observer.NotificationFailed()
		}
		log.Warn("completion notification failed", zap.Error(err))
		return
	}
	if err := p.store.MarkNotified(ctx, o.Ref, p.now()); err != nil {
		log.Warn("notification delivered but not recorded", zap.Error(err))
	}
}

func (p *Pipeline) ensureToken(ctx context.Context, o occurrence.Occurrence) (string, error) {
	if o.ShareToken != "" {
		return o.ShareToken, nil
	}
	candidate, err := occurrence.NewShareToken()
	if err != nil {
		return "", err
	}
	token, err := p.store.EnsureShareToken(ctx, o.Ref, candidate)
	if err != nil {
		return "", fmt.Errorf("persist share token: %w", err)
	}
	return token, nil
}

func (p *Pipeline) render(ctx context.Context, o occurrence.Occurrence) (occurrence.ReportRef, error) {
	if p.renderer == nil || p.blobs == nil {
		return occurrence.ReportRef{}, fmt.Errorf("%w: report renderer or blob store not configured", occurrence.ErrUpstreamUnavailable)
	}

	var img []byte
	if a, ok := o.FirstImage(); ok {
		b, err := p.blobs.Get(ctx, a.StoragePath)
		switch {
		case err == nil:
			img = b
		case errors.Is(err, blob.ErrNotFound):
			p.logger.Warn("first image attachment missing from blob store",
				zap.String("occurrence", o.Ref.String()),
				zap.String("path", a.StoragePath),
			)
		default:
			return occurrence.ReportRef{}, upstream("fetch first image", err)
		}
	}

	data, err := p.renderer.Render(ctx, o, img)
	if err != nil {
		return occurrence.ReportRef{}, upstream("render report", err)
	}

	ref := occurrence.ReportRef{
		Path:        ReportPath(o, p.renderer.Extension()),
		GeneratedAt: p.now(),
	}
	if err := p.blobs.Put(ctx, ref.Path, data, p.renderer.ContentType()); err != nil {
		return occurrence.ReportRef{}, upstream("store report", err)
	}
	if err := p.store.SetReport(ctx, o.Ref, ref); err != nil {
		return occurrence.ReportRef{}, fmt.Errorf("persist report reference: %w", err)
	}
	if p.observer != nil {
		p.observer.ReportGenerated()
	}
	return ref, nil
}

func (p *Pipeline) notify(ctx context.Context, o occurrence.Occurrence) error {
	if p.notifier == nil || p.cfg.NotifyURL == "" {
		return errors.New("notification sink not configured")
	}
	payload, err := BuildPayload(ctx, o, p.links())
	if err != nil {
		return err
	}
	return p.notifier.Post(ctx, p.cfg.NotifyURL, payload)
}

func (p *Pipeline) links() Links {
	return Links{
		Signer:  p.blobs,
		TTL:     p.cfg.SignedURLTTL,
		BaseURL: p.cfg.PublicBaseURL,
	}
}

// ReportPath: reports/<tenant>/<kind>/<id>/<protocol>.<ext>
func ReportPath(o occurrence.Occurrence, ext string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		ext = "bin"
	}
	return path.Join("reports", o.TenantID, string(o.Ref.Kind), o.Ref.ID, o.Protocol+"."+ext)
}

func upstream(step string, err error) error {
	if errors.Is(err, occurrence.ErrUpstreamUnavailable) {
		return fmt.Errorf("%s: %w", step, err)
	}
	return fmt.Errorf("%s: %w", step, errors.Join(occurrence.ErrUpstreamUnavailable, err))
}
