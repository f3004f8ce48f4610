package plansfeatures

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinical-occurrences/internal/ports/capabilities"
)

func newResolver(t *testing.T, h http.HandlerFunc) *Resolver {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)
	return NewResolver(c, false)
}

func TestResolver_HasFeature(t *testing.T) {
	r := newResolver(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "u1", req.URL.Query().Get("user_id"))
		assert.Equal(t, "t1", req.URL.Query().Get("tenant_id"))
		_ = json.NewEncoder(w).Encode(CapabilitiesResponse{Capabilities: map[string]bool{capabilities.ManageOccurrences: true}})
	})

	ok, err := r.HasFeature(context.Background(), capabilities.CapabilityCheck{UserID: "u1", TenantID: "t1", Feature: capabilities.ManageOccurrences})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.HasFeature(context.Background(), capabilities.CapabilityCheck{UserID: "u1", TenantID: "t1", Feature: "other"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolver_Upstream(t *testing.T) {
	r := newResolver(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := r.HasFeature(context.Background(), capabilities.CapabilityCheck{UserID: "u1", Feature: "x"})
	assert.ErrorIs(t, err, ErrPlansUpstream)
}

func TestResolver_AllowAllAndUnconfigured(t *testing.T) {
	ok, err := NewResolver(nil, true).HasFeature(context.Background(), capabilities.CapabilityCheck{UserID: "u1", Feature: "x"})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = NewResolver(nil, false).HasFeature(context.Background(), capabilities.CapabilityCheck{UserID: "u1", Feature: "x"})
	assert.ErrorIs(t, err, ErrPlansNotConfigured)
}
