package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"clinical-occurrences/internal/domain/occurrence"
	"clinical-occurrences/internal/domain/sources"
	"clinical-occurrences/internal/ports/blob"
)

// Reader es la lectura del estado actual (el agregador).
type Reader interface {
	GetOne(ctx context.Context, ref occurrence.Ref) (occurrence.Occurrence, error)
}

// FinalizationHandler recibe FinalizationRequested antes de que
// TransitionStatus retorne.
type FinalizationHandler interface {
	Handle(ctx context.Context, ev occurrence.FinalizationRequested) error
}

// Observer recibe métricas del motor. Puede ser nil.
type Observer interface {
	TransitionApplied(from, to occurrence.Status)
	StaleConflict(op string)
	TriageRecorded(level occurrence.TriageLevel)
}

type Service struct {
	reader    Reader
	store     occurrence.Store
	records   sources.RecordStore
	blobs     blob.Store
	finalizer FinalizationHandler
	observer  Observer
	logger    *zap.Logger
	now       func() time.Time
}

type Deps struct {
	Reader    Reader
	Store     occurrence.Store
	Records   sources.RecordStore
	Blobs     blob.Store
	Finalizer FinalizationHandler
	Observer  Observer
	Logger    *zap.Logger
}

func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		reader:    d.Reader,
		store:     d.Store,
		records:   d.Records,
		blobs:     d.Blobs,
		finalizer: d.Finalizer,
		observer:  d.Observer,
		logger:    logger,
		now:       time.Now,
	}
}

func requireActor(actor string) (string, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return "", fmt.Errorf("%w: actor required", occurrence.ErrInvalidInput)
	}
	return actor, nil
}

func (s *Service) stale(op string, err error) error {
	if errors.Is(err, occurrence.ErrStaleState) && s.observer != nil {
		s.observer.StaleConflict(op)
	}
	return err
}

// RecordTriage fija la clasificación. Desde registered/triaging avanza a
// under_review en la misma escritura atómica.
func (s *Service) RecordTriage(ctx context.Context, ref occurrence.Ref, level occurrence.TriageLevel, actor string) (occurrence.Occurrence, error) {
	actor, err := requireActor(actor)
	if err != nil {
		return occurrence.Occurrence{}, err
	}
	if !level.Valid() {
		return occurrence.Occurrence{}, fmt.Errorf("%w: triage classification %q", occurrence.ErrInvalidInput, level)
	}

	cur, err := s.reader.GetOne(ctx, ref)
	if err != nil {
		return occurrence.Occurrence{}, err
	}
	if cur.Status.Terminal() {
		return occurrence.Occurrence{}, fmt.Errorf("%w: %s", occurrence.ErrTerminal, cur.Status)
	}

	reason := "triage performed"
	if cur.Triage != nil {
		switch {
		case level.Rank() < cur.Triage.Rank():
			return occurrence.Occurrence{}, fmt.Errorf("%w: %s -> %s", occurrence.ErrTriageDowngrade, *cur.Triage, level)
		case level == *cur.Triage:
			return cur, nil
		}
		reason = fmt.Sprintf("triage reclassified: %s -> %s", *cur.Triage, level)
	}

	now := s.now()
	to := cur.Status
	if cur.Status == occurrence.StatusRegistered || cur.Status == occurrence.StatusTriaging {
		to = occurrence.StatusUnderReview
		if err := occurrence.ValidateTransition(cur.Status, to); err != nil {
			return occurrence.Occurrence{}, err
		}
	}

	st, err := s.store.RecordTriage(ctx, cur.Ref, occurrence.TriageWrite{
		ExpectedStatus:  cur.Status,
		ExpectedVersion: cur.Version(),
		Level:           level,
		At:              now,
		Entry: &occurrence.HistoryEntry{
			FromStatus: cur.Status,
			ToStatus:   to,
			Actor:      actor,
			Timestamp:  now,
			Reason:     reason,
		},
	})
	if err != nil {
		return occurrence.Occurrence{}, s.stale("triage", err)
	}

	if s.observer != nil {
		s.observer.TriageRecorded(level)
		if to != cur.Status {
			s.observer.TransitionApplied(cur.Status, to)
		}
	}
	s.logger.Info("triage recorded",
		zap.String("occurrence", cur.Ref.String()),
		zap.String("triage", string(level)),
		zap.String("status", string(st.Status)),
		zap.String("actor", actor),
	)

	cur.State = st
	return cur, nil
}

type OutcomeInput struct {
	Tags          []string
	Justification string
	Primary       string
}

// RecordOutcome adjunta el desenlace (CAPA). No cambia el status.
func (s *Service) RecordOutcome(ctx context.Context, ref occurrence.Ref, in OutcomeInput, actor string) (occurrence.Occurrence, error) {
	actor, err := requireActor(actor)
	if err != nil {
		return occurrence.Occurrence{}, err
	}

	tags := make([]string, 0, len(in.Tags))
	seen := make(map[string]bool)
	for _, t := range in.Tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
	}
	if len(tags) == 0 {
		return occurrence.Occurrence{}, fmt.Errorf("%w: at least one outcome tag", occurrence.ErrInvalidInput)
	}
	if strings.TrimSpace(in.Justification) == "" {
		return occurrence.Occurrence{}, fmt.Errorf("%w: justification required", occurrence.ErrInvalidInput)
	}
	primary := occurrence.StrPtr(in.Primary)
	if primary != nil && !seen[*primary] {
		return occurrence.Occurrence{}, fmt.Errorf("%w: primary outcome %q is not among the tags", occurrence.ErrInvalidInput, *primary)
	}

	cur, err := s.reader.GetOne(ctx, ref)
	if err != nil {
		return occurrence.Occurrence{}, err
	}
	if cur.Status.Terminal() {
		return occurrence.Occurrence{}, fmt.Errorf("%w: %s", occurrence.ErrTerminal, cur.Status)
	}

	now := s.now()
	st, err := s.store.SetOutcome(ctx, cur.Ref, occurrence.Outcome{
		Tags:          tags,
		Justification: strings.TrimSpace(in.Justification),
		Primary:       primary,
		DefinedBy:     actor,
		DefinedAt:     now,
	}, now)
	if err != nil {
		return occurrence.Occurrence{}, err
	}

	s.logger.Info("outcome recorded",
		zap.String("occurrence", cur.Ref.String()),
		zap.Strings("tags", tags),
		zap.String("actor", actor),
	)
	cur.State = st
	return cur, nil
}

// TransitionStatus aplica expected -> next con control optimista. Al llegar a
// completed dispara la finalización antes de retornar; si ésta falla, el
// cambio de status ya quedó persistido y se devuelve junto con el error.
func (s *Service) TransitionStatus(ctx context.Context, ref occurrence.Ref, expected, next occurrence.Status, actor, reason string) (occurrence.Occurrence, error) {
	actor, err := requireActor(actor)
	if err != nil {
		return occurrence.Occurrence{}, err
	}
	if err := occurrence.ValidateTransition(expected, next); err != nil {
		return occurrence.Occurrence{}, err
	}
	reason = strings.TrimSpace(reason)
	if next == occurrence.StatusNotApplicable && reason == "" {
		return occurrence.Occurrence{}, fmt.Errorf("%w: reason required to close as not applicable", occurrence.ErrInvalidInput)
	}

	cur, err := s.reader.GetOne(ctx, ref)
	if err != nil {
		return occurrence.Occurrence{}, err
	}
	if cur.Status != expected {
		return occurrence.Occurrence{}, s.stale("transition", fmt.Errorf("%w: expected %s, stored %s", occurrence.ErrStaleState, expected, cur.Status))
	}

	now := s.now()
	w := occurrence.TransitionWrite{
		ExpectedStatus:  expected,
		ExpectedVersion: cur.Version(),
		Entry: occurrence.HistoryEntry{
			FromStatus: expected,
			ToStatus:   next,
			Actor:      actor,
			Timestamp:  now,
			Reason:     reason,
		},
	}
	if next == occurrence.StatusCompleted {
		w.FinalizedAt = &now
		w.FinalizedBy = actor
	}

	st, err := s.store.ApplyTransition(ctx, cur.Ref, w)
	if err != nil {
		return occurrence.Occurrence{}, s.stale("transition", err)
	}
	cur.State = st

	if s.observer != nil {
		s.observer.TransitionApplied(expected, next)
	}
	s.logger.Info("status transition applied",
		zap.String("occurrence", cur.Ref.String()),
		zap.String("from", string(expected)),
		zap.String("to", string(next)),
		zap.String("actor", actor),
	)

	if next != occurrence.StatusCompleted || s.finalizer == nil {
		return cur, nil
	}

	ferr := s.finalizer.Handle(ctx, occurrence.FinalizationRequested{
		Occurrence:  cur,
		Actor:       actor,
		RequestedAt: now,
	})
	if fresh, err := s.reader.GetOne(ctx, cur.Ref); err == nil {
		cur = fresh
	}
	if ferr != nil {
		return cur, fmt.Errorf("finalization of %s: %w", cur.Ref, ferr)
	}
	return cur, nil
}

// AppendComment agrega al final; devuelve el nuevo largo.
func (s *Service) AppendComment(ctx context.Context, ref occurrence.Ref, author, body string) (int, error) {
	author, err := requireActor(author)
	if err != nil {
		return 0, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return 0, fmt.Errorf("%w: empty comment", occurrence.ErrInvalidInput)
	}
	n, err := s.store.AppendComment(ctx, ref, occurrence.Comment{
		Author:    author,
		Body:      body,
		CreatedAt: s.now(),
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// AddAttachments agrega metadata de adjuntos ya subidos; nunca reemplaza.
func (s *Service) AddAttachments(ctx context.Context, ref occurrence.Ref, in []occurrence.Attachment) (int, error) {
	if len(in) == 0 {
		return 0, fmt.Errorf("%w: no attachments", occurrence.ErrInvalidInput)
	}
	now := s.now()
	out := make([]occurrence.Attachment, 0, len(in))
	for _, a := range in {
		a.Name = strings.TrimSpace(a.Name)
		a.StoragePath = strings.TrimSpace(a.StoragePath)
		if a.Name == "" || a.StoragePath == "" || strings.TrimSpace(a.Uploader) == "" {
			return 0, fmt.Errorf("%w: attachment needs name, storage path and uploader", occurrence.ErrInvalidInput)
		}
		if a.Size < 0 {
			return 0, fmt.Errorf("%w: negative attachment size", occurrence.ErrInvalidInput)
		}
		a.IsImage = a.IsImage || occurrence.IsImageMime(a.MimeType)
		if a.UploadedAt.IsZero() {
			a.UploadedAt = now
		}
		out = append(out, a)
	}
	return s.store.AddAttachments(ctx, ref, out)
}

type Upload struct {
	Name     string
	MimeType string
	Data     []byte
}

// UploadAttachment sube los bytes al blob store y luego registra la metadata.
func (s *Service) UploadAttachment(ctx context.Context, ref occurrence.Ref, uploader string, up Upload) (occurrence.Attachment, error) {
	uploader, err := requireActor(uploader)
	if err != nil {
		return occurrence.Attachment{}, err
	}
	if s.blobs == nil {
		return occurrence.Attachment{}, fmt.Errorf("%w: blob store not configured", occurrence.ErrUpstreamUnavailable)
	}
	name := sanitizeName(up.Name)
	if name == "" || len(up.Data) == 0 {
		return occurrence.Attachment{}, fmt.Errorf("%w: attachment name and content required", occurrence.ErrInvalidInput)
	}

	cur, err := s.reader.GetOne(ctx, ref)
	if err != nil {
		return occurrence.Attachment{}, err
	}

	p := path.Join("attachments", cur.TenantID, string(cur.Ref.Kind), cur.Ref.ID, uuid.NewString()+"-"+name)
	if err := s.blobs.Put(ctx, p, up.Data, up.MimeType); err != nil {
		return occurrence.Attachment{}, fmt.Errorf("upload attachment: %w", errors.Join(occurrence.ErrUpstreamUnavailable, err))
	}

	a := occurrence.Attachment{
		Name:        name,
		MimeType:    strings.TrimSpace(up.MimeType),
		Size:        int64(len(up.Data)),
		StoragePath: p,
		IsImage:     occurrence.IsImageMime(up.MimeType),
		Uploader:    uploader,
		UploadedAt:  s.now(),
	}
	if _, err := s.AddAttachments(ctx, cur.Ref, []occurrence.Attachment{a}); err != nil {
		return occurrence.Attachment{}, err
	}
	return a, nil
}

func sanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	return strings.ReplaceAll(name, " ", "_")
}

// UpdatePatient edita los datos de paciente del registro de origen. Los
// campos nil del patch conservan el valor actual.
func (s *Service) UpdatePatient(ctx context.Context, ref occurrence.Ref, patch occurrence.Patient) (occurrence.Occurrence, error) {
	return s.editRecord(ctx, ref, func(cur occurrence.Occurrence, a sources.Adapter, rec *sources.Record) error {
		return a.ApplyPatient(rec, mergePatient(cur.Patient, patch))
	})
}

func mergePatient(cur, patch occurrence.Patient) occurrence.Patient {
	out := cur
	if patch.Name != nil {
		out.Name = occurrence.StrPtr(*patch.Name)
	}
	if patch.Phone != nil {
		out.Phone = occurrence.StrPtr(*patch.Phone)
	}
	if patch.BirthDate != nil {
		out.BirthDate = patch.BirthDate
	}
	if patch.ExamType != nil {
		out.ExamType = occurrence.StrPtr(*patch.ExamType)
	}
	if patch.ExamDate != nil {
		out.ExamDate = patch.ExamDate
	}
	return out
}

func (s *Service) UpdateDescription(ctx context.Context, ref occurrence.Ref, description string) (occurrence.Occurrence, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return occurrence.Occurrence{}, fmt.Errorf("%w: empty description", occurrence.ErrInvalidInput)
	}
	return s.editRecord(ctx, ref, func(_ occurrence.Occurrence, a sources.Adapter, rec *sources.Record) error {
		return a.ApplyDescription(rec, description)
	})
}

func (s *Service) editRecord(ctx context.Context, ref occurrence.Ref, apply func(occurrence.Occurrence, sources.Adapter, *sources.Record) error) (occurrence.Occurrence, error) {
	stored, err := s.records.Get(ctx, ref)
	if err != nil {
		return occurrence.Occurrence{}, err
	}
	if stored.State.Status.Terminal() {
		return occurrence.Occurrence{}, fmt.Errorf("%w: %s", occurrence.ErrTerminal, stored.State.Status)
	}
	adapter, err := sources.AdapterFor(ref.Kind)
	if err != nil {
		return occurrence.Occurrence{}, err
	}
	// El merge parte de la misma lectura que guarda la escritura.
	cur, err := adapter.Normalize(stored.Record, stored.State)
	if err != nil {
		return occurrence.Occurrence{}, err
	}
	rec := stored.Record
	readAt := rec.UpdatedAt
	if err := apply(cur, adapter, &rec); err != nil {
		return occurrence.Occurrence{}, err
	}
	rec.UpdatedAt = s.now()
	if err := s.records.UpdateRecord(ctx, rec, readAt); err != nil {
		return occurrence.Occurrence{}, s.stale("edit_record", err)
	}
	return s.reader.GetOne(ctx, ref)
}

// RouteForReview encamina una revisión de examen a otro revisor con link público.
func (s *Service) RouteForReview(ctx context.Context, ref occurrence.Ref, reviewer, message, actor string) (occurrence.Occurrence, error) {
	actor, err := requireActor(actor)
	if err != nil {
		return occurrence.Occurrence{}, err
	}
	reviewer = strings.TrimSpace(reviewer)
	if reviewer == "" {
		return occurrence.Occurrence{}, fmt.Errorf("%w: destination reviewer required", occurrence.ErrInvalidInput)
	}
	cur, err := s.reviewable(ctx, ref)
	if err != nil {
		return occurrence.Occurrence{}, err
	}

	candidate, err := occurrence.NewShareToken()
	if err != nil {
		return occurrence.Occurrence{}, err
	}
	if _, err := s.store.EnsureShareToken(ctx, cur.Ref, candidate); err != nil {
		return occurrence.Occurrence{}, err
	}

	now := s.now()
	w := occurrence.RoutingWrite{
		DestinationReviewer: reviewer,
		RoutedAt:            &now,
		At:                  now,
	}
	if body := strings.TrimSpace(message); body != "" {
		w.Message = &occurrence.RoutingMessage{Author: actor, Body: body, CreatedAt: now}
	}
	if _, err := s.store.UpdateReviewRouting(ctx, cur.Ref, w); err != nil {
		return occurrence.Occurrence{}, err
	}
	s.logger.Info("review routed",
		zap.String("occurrence", cur.Ref.String()),
		zap.String("reviewer", reviewer),
	)
	return s.reader.GetOne(ctx, cur.Ref)
}

// AddRoutingMessage agrega un mensaje al hilo de la revisión encaminada.
func (s *Service) AddRoutingMessage(ctx context.Context, ref occurrence.Ref, author, body string) (occurrence.Occurrence, error) {
	author, err := requireActor(author)
	if err != nil {
		return occurrence.Occurrence{}, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return occurrence.Occurrence{}, fmt.Errorf("%w: empty message", occurrence.ErrInvalidInput)
	}
	cur, err := s.reviewable(ctx, ref)
	if err != nil {
		return occurrence.Occurrence{}, err
	}
	now := s.now()
	st, err := s.store.UpdateReviewRouting(ctx, cur.Ref, occurrence.RoutingWrite{
		Message: &occurrence.RoutingMessage{Author: author, Body: body, CreatedAt: now},
		At:      now,
	})
	if err != nil {
		return occurrence.Occurrence{}, err
	}
	cur.State = st
	return cur, nil
}

func (s *Service) reviewable(ctx context.Context, ref occurrence.Ref) (occurrence.Occurrence, error) {
	cur, err := s.reader.GetOne(ctx, ref)
	if err != nil {
		return occurrence.Occurrence{}, err
	}
	if cur.Ref.Kind != occurrence.KindReview {
		return occurrence.Occurrence{}, fmt.Errorf("%w: review routing only applies to review occurrences", occurrence.ErrInvalidInput)
	}
	if cur.Status.Terminal() {
		return occurrence.Occurrence{}, fmt.Errorf("%w: %s", occurrence.ErrTerminal, cur.Status)
	}
	return cur, nil
}
