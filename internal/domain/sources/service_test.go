package sources_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"clinical-occurrences/internal/adapters/storage/memory"
	"clinical-occurrences/internal/domain/occurrence"
	"clinical-occurrences/internal/domain/protocol"
	"clinical-occurrences/internal/domain/sources"
)

// issuerStub devuelve los códigos en orden.
type issuerStub struct {
	mu    sync.Mutex
	codes []protocol.Code
	err   error
	calls int
}

func (s *issuerStub) Generate(ctx context.Context, tenantID string) (protocol.Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return protocol.Code{}, s.err
	}
	c := s.codes[0]
	if len(s.codes) > 1 {
		s.codes = s.codes[1:]
	}
	return c, nil
}

var author = sources.Author{TenantID: "t1", UserID: "u1"}

func newService(issuer sources.ProtocolIssuer) (*sources.Service, *memory.OccurrenceRepo) {
	repo := memory.NewOccurrenceRepo()
	return sources.NewService(repo, issuer, zap.NewNop()), repo
}

func TestCreateReview_AssignsProtocolAndInitialState(t *testing.T) {
	issuer := &issuerStub{codes: []protocol.Code{{Value: "2025000042"}}}
	svc, repo := newService(issuer)

	o, err := svc.CreateReview(context.Background(), author, sources.ReviewRecord{
		ReviewKind: "discrepancia", PatientName: "Ana", ExamType: "RM", Findings: "achado não descrito",
	})
	require.NoError(t, err)

	assert.Equal(t, occurrence.KindReview, o.Ref.Kind)
	assert.NotEmpty(t, o.Ref.ID)
	assert.Equal(t, "2025000042", o.Protocol)
	assert.Equal(t, occurrence.StatusRegistered, o.Status)
	require.Len(t, o.History, 1)
	assert.Equal(t, occurrence.StatusRegistered, o.History[0].FromStatus)
	assert.Equal(t, "u1", o.History[0].Actor)

	got, err := repo.Get(context.Background(), o.Ref)
	require.NoError(t, err)
	assert.Equal(t, "t1", got.Record.TenantID)
	assert.Equal(t, "2025000042", got.Record.Protocol)
}

func TestCreate_RequiredFields(t *testing.T) {
	issuer := &issuerStub{codes: []protocol.Code{{Value: "2025000001"}}}
	svc, _ := newService(issuer)
	ctx := context.Background()

	_, err := svc.CreateReview(ctx, author, sources.ReviewRecord{PatientName: "Ana"})
	assert.ErrorIs(t, err, occurrence.ErrInvalidInput)
	assert.Contains(t, err.Error(), "exam_type, findings")

	_, err = svc.CreateNursing(ctx, author, sources.NursingRecord{Category: "queda"})
	assert.ErrorIs(t, err, occurrence.ErrInvalidInput)

	_, err = svc.CreateGeneric(ctx, author, sources.GenericRecord{Title: "  "})
	assert.ErrorIs(t, err, occurrence.ErrInvalidInput)

	_, err = svc.CreateAdministrative(ctx, author, sources.AdministrativeRecord{Department: "rh"})
	assert.ErrorIs(t, err, occurrence.ErrInvalidInput)

	_, err = svc.CreatePatient(ctx, author, sources.PatientRecord{Complaint: "demora"})
	assert.ErrorIs(t, err, occurrence.ErrInvalidInput, "identified report without names")

	_, err = svc.CreateGeneric(ctx, sources.Author{UserID: "u1"}, sources.GenericRecord{Title: "t", Description: "d"})
	assert.ErrorIs(t, err, occurrence.ErrInvalidInput, "tenant required")

	assert.Equal(t, 0, issuer.calls, "validation runs before issuing a protocol")
}

func TestCreatePatient_AnonymousAllowed(t *testing.T) {
	svc, _ := newService(&issuerStub{codes: []protocol.Code{{Value: "2025000003"}}})

	o, err := svc.CreatePatient(context.Background(), author, sources.PatientRecord{Complaint: "sujeira", Anonymous: true})
	require.NoError(t, err)
	assert.Equal(t, "patient_report", o.Type)
	assert.Nil(t, o.Patient.Name)
}

func TestCreate_FallbackCollisionIsReported(t *testing.T) {
	issuer := &issuerStub{codes: []protocol.Code{{Value: "2025000010", Fallback: true}}}
	svc, _ := newService(issuer)
	ctx := context.Background()

	_, err := svc.CreateGeneric(ctx, author, sources.GenericRecord{Title: "a", Description: "b"})
	require.NoError(t, err)

	_, err = svc.CreateGeneric(ctx, author, sources.GenericRecord{Title: "c", Description: "d"})
	assert.ErrorIs(t, err, occurrence.ErrDuplicateProtocol)
	assert.Equal(t, 2, issuer.calls, "fallback codes are not retried")
}

func TestCreate_SequenceCollisionRetriesOnce(t *testing.T) {
	issuer := &issuerStub{codes: []protocol.Code{
		{Value: "2025000010", Fallback: true},
		{Value: "2025000010"},
		{Value: "2025000011"},
	}}
	svc, repo := newService(issuer)
	ctx := context.Background()

	_, err := svc.CreateGeneric(ctx, author, sources.GenericRecord{Title: "a", Description: "b"})
	require.NoError(t, err)

	o, err := svc.CreateNursing(ctx, author, sources.NursingRecord{Category: "queda", Narrative: "n"})
	require.NoError(t, err)
	assert.Equal(t, "2025000011", o.Protocol)
	assert.Equal(t, 3, issuer.calls)

	n, _ := repo.CountRecords(ctx, "t1")
	assert.Equal(t, 2, n)
}

func TestCreate_IssuerUnavailable(t *testing.T) {
	svc, repo := newService(&issuerStub{err: occurrence.ErrUpstreamUnavailable})

	_, err := svc.CreateAdministrative(context.Background(), author, sources.AdministrativeRecord{
		Department: "recepcao", Category: "agenda", Description: "overbooking",
	})
	assert.True(t, errors.Is(err, occurrence.ErrUpstreamUnavailable))

	n, _ := repo.CountRecords(context.Background(), "t1")
	assert.Equal(t, 0, n)
}

func TestCreate_ProtocolsUniqueUnderConcurrency(t *testing.T) {
	repo := memory.NewOccurrenceRepo()
	seq := memory.NewSequence()
	gen := protocol.NewGenerator(seq, repo, zap.NewNop())
	svc := sources.NewService(repo, gen, zap.NewNop())

	const n = 40
	var wg sync.WaitGroup
	codes := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := svc.CreateNursing(context.Background(), author, sources.NursingRecord{Category: "c", Narrative: "n"})
			if assert.NoError(t, err) {
				codes <- o.Protocol
			}
		}()
	}
	wg.Wait()
	close(codes)

	seen := map[string]bool{}
	for c := range codes {
		assert.False(t, seen[c], "duplicate protocol %s", c)
		seen[c] = true
	}
	assert.Len(t, seen, n)
}
