package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"clinical-occurrences/internal/domain/occurrence"
	"clinical-occurrences/internal/domain/sources"
)

// OccurrenceRepo guarda registros y estado bajo un único mutex: cada método
// es una sección crítica completa, lo que da el compare-and-swap del Store.
type OccurrenceRepo struct {
	mu         sync.RWMutex
	byRef      map[occurrence.Ref]*entry
	protocols  map[string]occurrence.Ref // tenant/protocol
	shareToken map[string]occurrence.Ref
}

type entry struct {
	rec sources.Record
	st  occurrence.State
}

func NewOccurrenceRepo() *OccurrenceRepo {
	return &OccurrenceRepo{
		byRef:      make(map[occurrence.Ref]*entry),
		protocols:  make(map[string]occurrence.Ref),
		shareToken: make(map[string]occurrence.Ref),
	}
}

var (
	_ occurrence.Store    = (*OccurrenceRepo)(nil)
	_ sources.RecordStore = (*OccurrenceRepo)(nil)
)

func protocolKey(tenantID, protocol string) string { return tenantID + "/" + protocol }

func notFound(ref occurrence.Ref) error {
	return fmt.Errorf("%w: %s", occurrence.ErrNotFound, ref)
}

// ---- sources.RecordStore ----

func (r *OccurrenceRepo) Create(ctx context.Context, rec sources.Record, st occurrence.State) error {
	if rec.Ref.Kind == "" || strings.TrimSpace(rec.Ref.ID) == "" {
		return fmt.Errorf("%w: record ref required", occurrence.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byRef[rec.Ref]; exists {
		return fmt.Errorf("%w: %s already exists", occurrence.ErrInvalidInput, rec.Ref)
	}
	pk := protocolKey(rec.TenantID, rec.Protocol)
	if _, taken := r.protocols[pk]; taken {
		return fmt.Errorf("%w: %s", occurrence.ErrDuplicateProtocol, rec.Protocol)
	}

	r.protocols[pk] = rec.Ref
	r.byRef[rec.Ref] = &entry{rec: copyRecord(rec), st: copyState(st)}
	return nil
}

func (r *OccurrenceRepo) Get(ctx context.Context, ref occurrence.Ref) (sources.StoredRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byRef[ref]
	if !ok {
		return sources.StoredRecord{}, notFound(ref)
	}
	return sources.StoredRecord{Record: copyRecord(e.rec), State: copyState(e.st)}, nil
}

func (r *OccurrenceRepo) List(ctx context.Context, tenantID string, kind occurrence.SourceKind) ([]sources.StoredRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]sources.StoredRecord, 0)
	for ref, e := range r.byRef {
		if ref.Kind != kind || e.rec.TenantID != tenantID {
			continue
		}
		out = append(out, sources.StoredRecord{Record: copyRecord(e.rec), State: copyState(e.st)})
	}
	// Orden estable para tests; el agregador reordena igual.
	sort.Slice(out, func(i, j int) bool {
		return out[i].Record.CreatedAt.After(out[j].Record.CreatedAt)
	})
	return out, nil
}

func (r *OccurrenceRepo) UpdateRecord(ctx context.Context, rec sources.Record, readAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byRef[rec.Ref]
	if !ok {
		return notFound(rec.Ref)
	}
	if !e.rec.UpdatedAt.Equal(readAt) {
		return fmt.Errorf("%w: %s edited at %s", occurrence.ErrStaleState, rec.Ref, e.rec.UpdatedAt.Format(time.RFC3339Nano))
	}
	// Identidad, protocolo y autoría no se editan.
	next := copyRecord(rec)
	next.TenantID = e.rec.TenantID
	next.Protocol = e.rec.Protocol
	next.CreatedBy = e.rec.CreatedBy
	next.CreatedAt = e.rec.CreatedAt
	e.rec = next
	e.st.UpdatedAt = rec.UpdatedAt
	return nil
}

func (r *OccurrenceRepo) CountRecords(ctx context.Context, tenantID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.byRef {
		if e.rec.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

// ---- occurrence.Store ----

func (r *OccurrenceRepo) checkExpected(ref occurrence.Ref, e *entry, status occurrence.Status, version int) error {
	if e.st.Status != status || e.st.Version() != version {
		return fmt.Errorf("%w: %s expected %s@%d, stored %s@%d",
			occurrence.ErrStaleState, ref, status, version, e.st.Status, e.st.Version())
	}
	return nil
}

func (r *OccurrenceRepo) ApplyTransition(ctx context.Context, ref occurrence.Ref, w occurrence.TransitionWrite) (occurrence.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byRef[ref]
	if !ok {
		return occurrence.State{}, notFound(ref)
	}
	if err := r.checkExpected(ref, e, w.ExpectedStatus, w.ExpectedVersion); err != nil {
		return occurrence.State{}, err
	}
	if err := occurrence.ValidateTransition(e.st.Status, w.Entry.ToStatus); err != nil {
		return occurrence.State{}, err
	}

	e.st.Status = w.Entry.ToStatus
	e.st.History = append(e.st.History, w.Entry)
	if w.FinalizedAt != nil && e.st.FinalizedAt == nil {
		at := *w.FinalizedAt
		e.st.FinalizedAt = &at
		e.st.FinalizedBy = w.FinalizedBy
	}
	e.st.UpdatedAt = w.Entry.Timestamp
	return copyState(e.st), nil
}

func (r *OccurrenceRepo) RecordTriage(ctx context.Context, ref occurrence.Ref, w occurrence.TriageWrite) (occurrence.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byRef[ref]
	if !ok {
		return occurrence.State{}, notFound(ref)
	}
	if err := r.checkExpected(ref, e, w.ExpectedStatus, w.ExpectedVersion); err != nil {
		return occurrence.State{}, err
	}
	if w.Entry != nil && w.Entry.ToStatus != e.st.Status {
		if err := occurrence.ValidateTransition(e.st.Status, w.Entry.ToStatus); err != nil {
			return occurrence.State{}, err
		}
	}

	level := w.Level
	e.st.Triage = &level
	if w.Entry != nil {
		e.st.Status = w.Entry.ToStatus
		e.st.History = append(e.st.History, *w.Entry)
	}
	e.st.UpdatedAt = w.At
	return copyState(e.st), nil
}

func (r *OccurrenceRepo) SetOutcome(ctx context.Context, ref occurrence.Ref, o occurrence.Outcome, at time.Time) (occurrence.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byRef[ref]
	if !ok {
		return occurrence.State{}, notFound(ref)
	}
	if e.st.Status.Terminal() {
		return occurrence.State{}, fmt.Errorf("%w: %s", occurrence.ErrTerminal, e.st.Status)
	}
	oc := o
	oc.Tags = append([]string(nil), o.Tags...)
	e.st.Outcome = &oc
	e.st.UpdatedAt = at
	return copyState(e.st), nil
}

func (r *OccurrenceRepo) AppendComment(ctx context.Context, ref occurrence.Ref, c occurrence.Comment) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byRef[ref]
	if !ok {
		return 0, notFound(ref)
	}
	e.st.Comments = append(e.st.Comments, c)
	e.st.UpdatedAt = c.CreatedAt
	return len(e.st.Comments), nil
}

func (r *OccurrenceRepo) AddAttachments(ctx context.Context, ref occurrence.Ref, in []occurrence.Attachment) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byRef[ref]
	if !ok {
		return 0, notFound(ref)
	}
	e.st.Attachments = append(e.st.Attachments, in...)
	if n := len(in); n > 0 {
		e.st.UpdatedAt = in[n-1].UploadedAt
	}
	return len(e.st.Attachments), nil
}

func (r *OccurrenceRepo) EnsureShareToken(ctx context.Context, ref occurrence.Ref, candidate string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byRef[ref]
	if !ok {
		return "", notFound(ref)
	}
	if e.st.ShareToken != "" {
		return e.st.ShareToken, nil
	}
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return "", fmt.Errorf("%w: empty share token", occurrence.ErrInvalidInput)
	}
	e.st.ShareToken = candidate
	r.shareToken[candidate] = ref
	return candidate, nil
}

func (r *OccurrenceRepo) FindByShareToken(ctx context.Context, token string) (occurrence.Ref, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ref, ok := r.shareToken[token]
	if !ok {
		return occurrence.Ref{}, fmt.Errorf("%w: share token", occurrence.ErrNotFound)
	}
	return ref, nil
}

func (r *OccurrenceRepo) SetReport(ctx context.Context, ref occurrence.Ref, rep occurrence.ReportRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byRef[ref]
	if !ok {
		return notFound(ref)
	}
	e.st.Report = &rep
	return nil
}

func (r *OccurrenceRepo) MarkNotified(ctx context.Context, ref occurrence.Ref, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byRef[ref]
	if !ok {
		return notFound(ref)
	}
	if e.st.NotifiedAt == nil {
		t := at
		e.st.NotifiedAt = &t
	}
	return nil
}

func (r *OccurrenceRepo) UpdateReviewRouting(ctx context.Context, ref occurrence.Ref, w occurrence.RoutingWrite) (occurrence.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byRef[ref]
	if !ok {
		return occurrence.State{}, notFound(ref)
	}
	if e.st.ReviewRouting == nil {
		e.st.ReviewRouting = &occurrence.ReviewRouting{}
	}
	rr := e.st.ReviewRouting
	if w.DestinationReviewer != "" {
		rr.DestinationReviewer = w.DestinationReviewer
	}
	if w.RoutedAt != nil {
		at := *w.RoutedAt
		rr.RoutedAt = &at
	}
	if w.Message != nil {
		rr.Messages = append(rr.Messages, *w.Message)
	}
	e.st.UpdatedAt = w.At
	return copyState(e.st), nil
}

// ---- copias: nada de lo que sale del repo comparte memoria con él ----

func copyState(s occurrence.State) occurrence.State {
	out := s
	out.History = append([]occurrence.HistoryEntry(nil), s.History...)
	out.Comments = append([]occurrence.Comment(nil), s.Comments...)
	out.Attachments = append([]occurrence.Attachment(nil), s.Attachments...)
	if s.Triage != nil {
		t := *s.Triage
		out.Triage = &t
	}
	if s.Outcome != nil {
		o := *s.Outcome
		o.Tags = append([]string(nil), s.Outcome.Tags...)
		out.Outcome = &o
	}
	if s.FinalizedAt != nil {
		t := *s.FinalizedAt
		out.FinalizedAt = &t
	}
	if s.NotifiedAt != nil {
		t := *s.NotifiedAt
		out.NotifiedAt = &t
	}
	if s.Report != nil {
		rep := *s.Report
		out.Report = &rep
	}
	if s.ReviewRouting != nil {
		rr := *s.ReviewRouting
		rr.Messages = append([]occurrence.RoutingMessage(nil), s.ReviewRouting.Messages...)
		out.ReviewRouting = &rr
	}
	return out
}

func copyRecord(rec sources.Record) sources.Record {
	out := rec
	if rec.Review != nil {
		v := *rec.Review
		out.Review = &v
	}
	if rec.Nursing != nil {
		v := *rec.Nursing
		out.Nursing = &v
	}
	if rec.Patient != nil {
		v := *rec.Patient
		out.Patient = &v
	}
	if rec.Generic != nil {
		v := *rec.Generic
		out.Generic = &v
	}
	if rec.Administrative != nil {
		v := *rec.Administrative
		out.Administrative = &v
	}
	return out
}
