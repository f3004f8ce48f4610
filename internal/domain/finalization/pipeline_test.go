package finalization_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memblob "clinical-occurrences/internal/adapters/blob/memory"
	"clinical-occurrences/internal/adapters/storage/memory"
	"clinical-occurrences/internal/domain/aggregator"
	"clinical-occurrences/internal/domain/finalization"
	"clinical-occurrences/internal/domain/occurrence"
	"clinical-occurrences/internal/domain/sources"
)

var at = time.Date(2025, 6, 20, 10, 0, 0, 0, time.UTC)

type renderSpy struct {
	calls int
	img   []byte
	err   error
}

func (r *renderSpy) Render(ctx context.Context, o occurrence.Occurrence, img []byte) ([]byte, error) {
	r.calls++
	r.img = img
	if r.err != nil {
		return nil, r.err
	}
	return []byte("xlsx:" + o.Protocol), nil
}
func (r *renderSpy) ContentType() string { return "application/octet-stream" }
func (r *renderSpy) Extension() string   { return ".xlsx" }

type notifySpy struct {
	urls     []string
	payloads []finalization.Payload
	err      error
}

func (n *notifySpy) Post(ctx context.Context, url string, p finalization.Payload) error {
	n.urls = append(n.urls, url)
	n.payloads = append(n.payloads, p)
	return n.err
}

type observerSpy struct{ reports, failures int }

func (o *observerSpy) ReportGenerated()    { o.reports++ }
func (o *observerSpy) NotificationFailed() { o.failures++ }

type fixture struct {
	repo     *memory.OccurrenceRepo
	agg      *aggregator.Aggregator
	blobs    *memblob.Store
	render   *renderSpy
	notify   *notifySpy
	obs      *observerSpy
	pipeline *finalization.Pipeline
	ref      occurrence.Ref
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:   memory.NewOccurrenceRepo(),
		blobs:  memblob.NewStore(),
		render: &renderSpy{},
		notify: &notifySpy{},
		obs:    &observerSpy{},
		ref:    occurrence.Ref{Kind: occurrence.KindGeneric, ID: "g-1"},
	}
	f.agg = aggregator.New(f.repo, f.repo, aggregator.Options{})
	require.NoError(t, f.repo.Create(context.Background(), sources.Record{
		Ref: f.ref, TenantID: "t1", Protocol: "2025000042", CreatedBy: "u1", CreatedAt: at, UpdatedAt: at,
		Generic: &sources.GenericRecord{Title: "equipamento", Type: "equipment", Description: "bomba de infusão parou"},
	}, occurrence.NewState("u1", at)))
	f.pipeline = f.build(f.render)
	return f
}

func (f *fixture) build(r finalization.Renderer) *finalization.Pipeline {
	return finalization.NewPipeline(finalization.Deps{
		Store:    f.repo,
		Reader:   f.agg,
		Blobs:    f.blobs,
		Renderer: r,
		Notifier: f.notify,
		Observer: f.obs,
	}, finalization.Config{NotifyURL: "https://hooks.test/x", PublicBaseURL: "https://app.test/"})
}

func (f *fixture) complete(t *testing.T) occurrence.Occurrence {
	t.Helper()
	ctx := context.Background()
	steps := [][2]occurrence.Status{
		{occurrence.StatusRegistered, occurrence.StatusUnderReview},
		{occurrence.StatusUnderReview, occurrence.StatusActionInProgress},
		{occurrence.StatusActionInProgress, occurrence.StatusCompleted},
	}
	for i, s := range steps {
		w := occurrence.TransitionWrite{
			ExpectedStatus: s[0], ExpectedVersion: i + 1,
			Entry: occurrence.HistoryEntry{FromStatus: s[0], ToStatus: s[1], Actor: "mgr", Timestamp: at},
		}
		if s[1] == occurrence.StatusCompleted {
			w.FinalizedAt, w.FinalizedBy = &at, "mgr"
		}
		_, err := f.repo.ApplyTransition(ctx, f.ref, w)
		require.NoError(t, err)
	}
	o, err := f.agg.GetOne(ctx, f.ref)
	require.NoError(t, err)
	return o
}

func TestHandle_RendersStoresAndNotifiesOnce(t *testing.T) {
	f := newFixture(t)
	o := f.complete(t)

	err := f.pipeline.Handle(context.Background(), occurrence.FinalizationRequested{Occurrence: o, Actor: "mgr", RequestedAt: at})
	require.NoError(t, err)

	got, err := f.agg.GetOne(context.Background(), f.ref)
	require.NoError(t, err)
	require.NotNil(t, got.Report)
	assert.Equal(t, "reports/t1/generic/g-1/2025000042.xlsx", got.Report.Path)
	assert.Len(t, got.ShareToken, 64)

	data, err := f.blobs.Get(context.Background(), got.Report.Path)
	require.NoError(t, err)
	assert.Equal(t, "xlsx:2025000042", string(data))
	assert.Equal(t, "application/octet-stream", f.blobs.ContentType(got.Report.Path))

	require.Len(t, f.notify.payloads, 1)
	assert.Equal(t, []string{"https://hooks.test/x"}, f.notify.urls)
	p := f.notify.payloads[0]
	assert.Equal(t, "generic:g-1", p.OccurrenceID)
	assert.Equal(t, "equipment", p.Type)
	assert.Contains(t, p.ReportURL, got.Report.Path)
	assert.Equal(t, "https://app.test/occurrences/generic/g-1", p.DeepLink)
	assert.Equal(t, 1, f.obs.reports)
	assert.Equal(t, 0, f.obs.failures)
}

func TestHandle_ExistingReportIsNotRegenerated(t *testing.T) {
	f := newFixture(t)
	o := f.complete(t)
	require.NoError(t, f.repo.SetReport(context.Background(), f.ref, occurrence.ReportRef{Path: "reports/legacy.xlsx", GeneratedAt: at}))
	o, _ = f.agg.GetOne(context.Background(), f.ref)

	require.NoError(t, f.pipeline.Handle(context.Background(), occurrence.FinalizationRequested{Occurrence: o}))
	assert.Equal(t, 0, f.render.calls)
	assert.Len(t, f.notify.payloads, 1)
}

func TestHandle_NotifierFailureIsNotAnError(t *testing.T) {
	f := newFixture(t)
	f.notify.err = errors.New("502 from sink")
	o := f.complete(t)

	require.NoError(t, f.pipeline.Handle(context.Background(), occurrence.FinalizationRequested{Occurrence: o}))
	assert.Equal(t, 1, f.obs.failures)

	got, _ := f.agg.GetOne(context.Background(), f.ref)
	assert.NotNil(t, got.Report)
}

func TestHandle_RendererFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.render.err = errors.New("template broken")
	o := f.complete(t)

	err := f.pipeline.Handle(context.Background(), occurrence.FinalizationRequested{Occurrence: o})
	require.Error(t, err)
	assert.ErrorIs(t, err, occurrence.ErrUpstreamUnavailable)
	assert.Empty(t, f.notify.payloads)

	got, _ := f.agg.GetOne(context.Background(), f.ref)
	assert.Equal(t, occurrence.StatusCompleted, got.Status)
	assert.Nil(t, got.Report)

	noRenderer := f.build(nil)
	err = noRenderer.Handle(context.Background(), occurrence.FinalizationRequested{Occurrence: got})
	assert.ErrorIs(t, err, occurrence.ErrUpstreamUnavailable)
}

func TestHandle_FirstImageFetchedWhenPresent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.blobs.Put(ctx, "attachments/t1/generic/g-1/foto.png", []byte("png-bytes"), "image/png"))
	_, err := f.repo.AddAttachments(ctx, f.ref, []occurrence.Attachment{
		{Name: "laudo.pdf", MimeType: "application/pdf", StoragePath: "attachments/t1/generic/g-1/laudo.pdf", Uploader: "u1", UploadedAt: at},
		{Name: "foto.png", MimeType: "image/png", StoragePath: "attachments/t1/generic/g-1/foto.png", IsImage: true, Uploader: "u1", UploadedAt: at},
	})
	require.NoError(t, err)
	o := f.complete(t)

	require.NoError(t, f.pipeline.Handle(ctx, occurrence.FinalizationRequested{Occurrence: o}))
	assert.Equal(t, []byte("png-bytes"), f.render.img)
	require.Len(t, f.notify.payloads, 1)
	assert.Len(t, f.notify.payloads[0].Attachments, 2)
}

func TestHandle_MissingImageStillRenders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.repo.AddAttachments(ctx, f.ref, []occurrence.Attachment{
		{Name: "sumiu.jpg", MimeType: "image/jpeg", StoragePath: "attachments/gone.jpg", IsImage: true, Uploader: "u1", UploadedAt: at},
	})
	require.NoError(t, err)
	o := f.complete(t)

	require.NoError(t, f.pipeline.Handle(ctx, occurrence.FinalizationRequested{Occurrence: o}))
	assert.Equal(t, 1, f.render.calls)
	assert.Nil(t, f.render.img)
}

func TestGenerateReport_RequiresCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.GenerateReport(ctx, f.ref, " ")
	assert.ErrorIs(t, err, occurrence.ErrInvalidInput)

	_, err = f.pipeline.GenerateReport(ctx, f.ref, "mgr")
	assert.ErrorIs(t, err, occurrence.ErrInvalidInput)
	assert.Equal(t, 0, f.render.calls)

	got, _ := f.agg.GetOne(ctx, f.ref)
	assert.Nil(t, got.Report)
	assert.Empty(t, got.ShareToken)

	_, err = f.pipeline.GenerateReport(ctx, occurrence.Ref{Kind: occurrence.KindGeneric, ID: "nope"}, "mgr")
	assert.ErrorIs(t, err, occurrence.ErrNotFound)
}

func TestGenerateReport_ReplacesWithoutRenotifying(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.complete(t)
	require.NoError(t, f.pipeline.Handle(ctx, occurrence.FinalizationRequested{Occurrence: o}))
	require.Len(t, f.notify.payloads, 1)

	got, err := f.pipeline.GenerateReport(ctx, f.ref, "mgr")
	require.NoError(t, err)
	require.NotNil(t, got.Report)
	require.NotNil(t, got.NotifiedAt)
	assert.Equal(t, occurrence.StatusCompleted, got.Status)
	assert.Equal(t, 2, f.render.calls)
	assert.Len(t, f.notify.payloads, 1)
}

func TestHandle_RerendersReportOlderThanFinalization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := at.Add(-time.Hour)
	require.NoError(t, f.repo.SetReport(ctx, f.ref, occurrence.ReportRef{Path: "reports/draft.xlsx", GeneratedAt: before}))
	o := f.complete(t)

	require.NoError(t, f.pipeline.Handle(ctx, occurrence.FinalizationRequested{Occurrence: o}))
	assert.Equal(t, 1, f.render.calls)

	got, err := f.agg.GetOne(ctx, f.ref)
	require.NoError(t, err)
	require.NotNil(t, got.Report)
	assert.Equal(t, "reports/t1/generic/g-1/2025000042.xlsx", got.Report.Path)
	assert.False(t, got.Report.GeneratedAt.Before(*got.FinalizedAt))
}

func TestGenerateReport_RetriesPendingNotification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.render.err = errors.New("template broken")
	o := f.complete(t)

	err := f.pipeline.Handle(ctx, occurrence.FinalizationRequested{Occurrence: o})
	require.ErrorIs(t, err, occurrence.ErrUpstreamUnavailable)
	require.Empty(t, f.notify.payloads)

	f.render.err = nil
	got, err := f.pipeline.GenerateReport(ctx, f.ref, "mgr")
	require.NoError(t, err)
	require.Len(t, f.notify.payloads, 1)
	assert.Equal(t, "generic:g-1", f.notify.payloads[0].OccurrenceID)
	assert.Contains(t, f.notify.payloads[0].ReportURL, got.Report.Path)
	require.NotNil(t, got.NotifiedAt)

	_, err = f.pipeline.GenerateReport(ctx, f.ref, "mgr")
	require.NoError(t, err)
	assert.Len(t, f.notify.payloads, 1)
}

func TestHandle_FailedNotificationStaysPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.notify.err = errors.New("sink down")
	o := f.complete(t)
	require.NoError(t, f.pipeline.Handle(ctx, occurrence.FinalizationRequested{Occurrence: o}))

	got, _ := f.agg.GetOne(ctx, f.ref)
	assert.Nil(t, got.NotifiedAt)

	f.notify.err = nil
	got, err := f.pipeline.GenerateReport(ctx, f.ref, "mgr")
	require.NoError(t, err)
	assert.NotNil(t, got.NotifiedAt)
	assert.Len(t, f.notify.payloads, 2)
}

func TestReportPath(t *testing.T) {
	o := occurrence.Occurrence{Ref: occurrence.Ref{Kind: occurrence.KindReview, ID: "r"}, TenantID: "t", Protocol: "2025000001"}
	assert.Equal(t, "reports/t/review/r/2025000001.xlsx", finalization.ReportPath(o, ".xlsx"))
	assert.Equal(t, "reports/t/review/r/2025000001.bin", finalization.ReportPath(o, ""))
}
