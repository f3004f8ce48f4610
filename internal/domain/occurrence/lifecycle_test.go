package occurrence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdjacency_ExactEdges(t *testing.T) {
	want := map[[2]Status]bool{
		{StatusRegistered, StatusTriaging}:            true,
		{StatusRegistered, StatusUnderReview}:         true,
		{StatusRegistered, StatusNotApplicable}:       true,
		{StatusTriaging, StatusUnderReview}:           true,
		{StatusTriaging, StatusNotApplicable}:         true,
		{StatusUnderReview, StatusActionInProgress}:   true,
		{StatusUnderReview, StatusNotApplicable}:      true,
		{StatusActionInProgress, StatusCompleted}:     true,
		{StatusActionInProgress, StatusUnderReview}:   true,
		{StatusActionInProgress, StatusNotApplicable}: true,
	}

	for _, from := range AllStatuses() {
		for _, to := range AllStatuses() {
			err := ValidateTransition(from, to)
			if want[[2]Status{from, to}] {
				assert.NoError(t, err, "%s -> %s", from, to)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", from, to)
			}
		}
	}
	edges := 0
	for _, from := range AllStatuses() {
		edges += len(NextStatuses(from))
	}
	assert.Equal(t, len(want), edges)
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range AllStatuses() {
		assert.Equal(t, len(NextStatuses(s)) == 0, s.Terminal(), s)
	}
}

func TestNextStatuses_ReturnsCopy(t *testing.T) {
	next := NextStatuses(StatusRegistered)
	next[0] = StatusCompleted
	assert.Equal(t, StatusTriaging, NextStatuses(StatusRegistered)[0])
}

func TestTriageRank(t *testing.T) {
	assert.Less(t, TriageRiskCircumstance.Rank(), TriageNearMiss.Rank())
	assert.Less(t, TriageAdverseEvent.Rank(), TriageSentinelEvent.Rank())
	assert.False(t, TriageLevel("mild").Valid())

	lvl, err := ParseTriage(" Near_Miss ")
	require.NoError(t, err)
	assert.Equal(t, TriageNearMiss, lvl)

	_, err = ParseTriage("mild")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestParseRef(t *testing.T) {
	r, err := ParseRef("nursing:abc")
	require.NoError(t, err)
	assert.Equal(t, Ref{Kind: KindNursing, ID: "abc"}, r)
	assert.Equal(t, "nursing:abc", r.String())

	r, err = ParseRef("abc")
	require.NoError(t, err)
	assert.Equal(t, Ref{ID: "abc"}, r)

	for _, bad := range []string{"", "  ", "pharmacy:abc", "review:"} {
		_, err := ParseRef(bad)
		assert.ErrorIs(t, err, ErrInvalidInput, bad)
	}
}

func TestParseStatusAndKind(t *testing.T) {
	s, err := ParseStatus("UNDER_REVIEW")
	require.NoError(t, err)
	assert.Equal(t, StatusUnderReview, s)

	_, err = ParseStatus("closed")
	assert.ErrorIs(t, err, ErrInvalidInput)

	k, err := ParseKind("Administrative")
	require.NoError(t, err)
	assert.Equal(t, KindAdministrative, k)
}
