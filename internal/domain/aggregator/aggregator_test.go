package aggregator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinical-occurrences/internal/adapters/storage/memory"
	"clinical-occurrences/internal/domain/occurrence"
	"clinical-occurrences/internal/domain/sources"
)

var base = time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)

type identityStub struct {
	mu    sync.Mutex
	names map[string]string
	err   error
	calls int
}

func (s *identityStub) DisplayName(ctx context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.names[userID], nil
}

type latencySpy struct {
	mu    sync.Mutex
	kinds map[occurrence.SourceKind]int
}

func (l *latencySpy) ObserveSourceLatency(kind occurrence.SourceKind, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.kinds[kind]++
}

func put(t *testing.T, repo *memory.OccurrenceRepo, tenant string, ref occurrence.Ref, protocol, by string, at time.Time) {
	t.Helper()
	rec := sources.Record{Ref: ref, TenantID: tenant, Protocol: protocol, CreatedBy: by, CreatedAt: at, UpdatedAt: at}
	switch ref.Kind {
	case occurrence.KindReview:
		rec.Review = &sources.ReviewRecord{PatientName: "Ana", ExamType: "TC", Findings: "f"}
	case occurrence.KindNursing:
		rec.Nursing = &sources.NursingRecord{Category: "queda", Narrative: "n"}
	case occurrence.KindPatient:
		rec.Patient = &sources.PatientRecord{Complaint: "c", Anonymous: true}
	case occurrence.KindGeneric:
		rec.Generic = &sources.GenericRecord{Title: "t", Description: "d"}
	case occurrence.KindAdministrative:
		rec.Administrative = &sources.AdministrativeRecord{Department: "d", Category: "c", Description: "d"}
	}
	require.NoError(t, repo.Create(context.Background(), rec, occurrence.NewState(by, at)))
}

func TestListAll_MergesAndOrdersByCreatedAtDesc(t *testing.T) {
	repo := memory.NewOccurrenceRepo()
	put(t, repo, "t1", occurrence.Ref{Kind: occurrence.KindNursing, ID: "n1"}, "2025000001", "u1", base)
	put(t, repo, "t1", occurrence.Ref{Kind: occurrence.KindReview, ID: "r1"}, "2025000002", "u1", base.Add(2*time.Hour))
	put(t, repo, "t1", occurrence.Ref{Kind: occurrence.KindAdministrative, ID: "a1"}, "2025000003", "u2", base.Add(time.Hour))
	put(t, repo, "t1", occurrence.Ref{Kind: occurrence.KindGeneric, ID: "g1"}, "2025000004", "u2", base.Add(time.Hour))
	put(t, repo, "t2", occurrence.Ref{Kind: occurrence.KindGeneric, ID: "g2"}, "2025000001", "u9", base.Add(3*time.Hour))

	spy := &latencySpy{kinds: map[occurrence.SourceKind]int{}}
	agg := New(repo, repo, Options{Latency: spy})

	out, err := agg.ListAll(context.Background(), "t1", Filter{})
	require.NoError(t, err)
	require.Len(t, out, 4)

	got := make([]string, 0, len(out))
	for _, o := range out {
		got = append(got, o.Ref.String())
	}
	// Empate de createdAt: protocolo mayor primero.
	assert.Equal(t, []string{"review:r1", "generic:g1", "administrative:a1", "nursing:n1"}, got)
	assert.Len(t, spy.kinds, len(occurrence.Kinds))
}

func TestListAll_Filters(t *testing.T) {
	repo := memory.NewOccurrenceRepo()
	put(t, repo, "t1", occurrence.Ref{Kind: occurrence.KindNursing, ID: "n1"}, "2025000001", "u1", base)
	put(t, repo, "t1", occurrence.Ref{Kind: occurrence.KindGeneric, ID: "g1"}, "2025000002", "u1", base)

	entry := occurrence.HistoryEntry{FromStatus: occurrence.StatusRegistered, ToStatus: occurrence.StatusUnderReview, Actor: "u1", Timestamp: base}
	_, err := repo.RecordTriage(context.Background(), occurrence.Ref{Kind: occurrence.KindGeneric, ID: "g1"}, occurrence.TriageWrite{
		ExpectedStatus: occurrence.StatusRegistered, ExpectedVersion: 1, Level: occurrence.TriageAdverseEvent, At: base, Entry: &entry,
	})
	require.NoError(t, err)

	agg := New(repo, repo, Options{})
	ctx := context.Background()

	out, err := agg.ListAll(ctx, "t1", Filter{Kind: occurrence.KindNursing})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "n1", out[0].Ref.ID)

	out, err = agg.ListAll(ctx, "t1", Filter{Status: occurrence.StatusUnderReview})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "g1", out[0].Ref.ID)

	out, err = agg.ListAll(ctx, "t1", Filter{Triage: occurrence.TriageAdverseEvent})
	require.NoError(t, err)
	assert.Len(t, out, 1)

	_, err = agg.ListAll(ctx, " ", Filter{})
	assert.ErrorIs(t, err, occurrence.ErrInvalidInput)
}

func TestResolveNames_UnknownOnFailure(t *testing.T) {
	repo := memory.NewOccurrenceRepo()
	put(t, repo, "t1", occurrence.Ref{Kind: occurrence.KindNursing, ID: "n1"}, "2025000001", "u1", base)
	put(t, repo, "t1", occurrence.Ref{Kind: occurrence.KindNursing, ID: "n2"}, "2025000002", "u1", base.Add(time.Minute))
	put(t, repo, "t1", occurrence.Ref{Kind: occurrence.KindGeneric, ID: "g1"}, "2025000003", "ghost", base)

	ident := &identityStub{names: map[string]string{"u1": "Dra. Paula"}}
	agg := New(repo, repo, Options{Identity: ident})

	out, err := agg.ListAll(context.Background(), "t1", Filter{})
	require.NoError(t, err)
	names := map[string]string{}
	for _, o := range out {
		names[o.Ref.ID] = o.CreatedByName
	}
	assert.Equal(t, "Dra. Paula", names["n1"])
	assert.Equal(t, "Dra. Paula", names["n2"])
	assert.Equal(t, UnknownName, names["g1"])
	assert.Equal(t, 2, ident.calls, "one lookup per distinct author")

	down := New(repo, repo, Options{Identity: &identityStub{err: errors.New("directory down")}})
	o, err := down.GetOne(context.Background(), occurrence.Ref{Kind: occurrence.KindNursing, ID: "n1"})
	require.NoError(t, err)
	assert.Equal(t, UnknownName, o.CreatedByName)

	none := New(repo, repo, Options{})
	o, err = none.GetOne(context.Background(), occurrence.Ref{Kind: occurrence.KindNursing, ID: "n1"})
	require.NoError(t, err)
	assert.Equal(t, UnknownName, o.CreatedByName)
}

func TestGetOne_NamespacedAndLegacyProbe(t *testing.T) {
	repo := memory.NewOccurrenceRepo()
	put(t, repo, "t1", occurrence.Ref{Kind: occurrence.KindNursing, ID: "same"}, "2025000001", "u1", base)
	put(t, repo, "t1", occurrence.Ref{Kind: occurrence.KindAdministrative, ID: "same"}, "2025000002", "u1", base)
	put(t, repo, "t1", occurrence.Ref{Kind: occurrence.KindGeneric, ID: "only"}, "2025000003", "u1", base)
	agg := New(repo, repo, Options{})
	ctx := context.Background()

	o, err := agg.GetOne(ctx, occurrence.Ref{Kind: occurrence.KindAdministrative, ID: "same"})
	require.NoError(t, err)
	assert.Equal(t, occurrence.KindAdministrative, o.Ref.Kind)

	// Sin namespace gana la fuente de mayor prioridad.
	o, err = agg.GetOne(ctx, occurrence.Ref{ID: "same"})
	require.NoError(t, err)
	assert.Equal(t, occurrence.KindNursing, o.Ref.Kind)

	o, err = agg.GetOne(ctx, occurrence.Ref{ID: "only"})
	require.NoError(t, err)
	assert.Equal(t, occurrence.KindGeneric, o.Ref.Kind)

	_, err = agg.GetOne(ctx, occurrence.Ref{ID: "missing"})
	assert.ErrorIs(t, err, occurrence.ErrNotFound)

	_, err = agg.GetOne(ctx, occurrence.Ref{Kind: occurrence.KindReview, ID: "same"})
	assert.ErrorIs(t, err, occurrence.ErrNotFound)

	_, err = agg.GetOne(ctx, occurrence.Ref{})
	assert.ErrorIs(t, err, occurrence.ErrInvalidInput)
}

func TestGetByShareToken(t *testing.T) {
	repo := memory.NewOccurrenceRepo()
	ref := occurrence.Ref{Kind: occurrence.KindReview, ID: "r1"}
	put(t, repo, "t1", ref, "2025000001", "u1", base)
	_, err := repo.EnsureShareToken(context.Background(), ref, "tok-1")
	require.NoError(t, err)

	agg := New(repo, repo, Options{})
	o, err := agg.GetByShareToken(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, ref, o.Ref)

	_, err = agg.GetByShareToken(context.Background(), "nope")
	assert.ErrorIs(t, err, occurrence.ErrNotFound)
	_, err = agg.GetByShareToken(context.Background(), "")
	assert.ErrorIs(t, err, occurrence.ErrNotFound)
}

func TestCachedIdentity_CachesHitsUntilExpiry(t *testing.T) {
	stub := &identityStub{names: map[string]string{"u1": "Enf. Bia"}}
	c := NewCachedIdentity(stub, time.Minute).(*cachedIdentity)
	now := base
	c.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		n, err := c.DisplayName(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "Enf. Bia", n)
	}
	assert.Equal(t, 1, stub.calls)

	now = now.Add(2 * time.Minute)
	_, _ = c.DisplayName(ctx, "u1")
	assert.Equal(t, 2, stub.calls)

	stub.err = errors.New("boom")
	now = now.Add(2 * time.Minute)
	_, err := c.DisplayName(ctx, "u1")
	assert.Error(t, err)
	_, err = c.DisplayName(ctx, "u1")
	assert.Error(t, err, "failures are not cached")
	assert.Equal(t, 4, stub.calls)

	assert.Nil(t, NewCachedIdentity(nil, time.Minute))
}
