package odin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newOdin(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)
	return c
}

func TestVerifier_OK(t *testing.T) {
	c := newOdin(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/tokens/verify", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{"user_id": "u1", "email": "a@b.c", "tenant_id": "t1"})
	})

	claims, err := NewVerifier(c, zap.NewNop()).Verify(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "t1", claims.TenantID)
}

func TestVerifier_Unauthorized(t *testing.T) {
	c := newOdin(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := NewVerifier(c, zap.NewNop()).Verify(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrOdinUnauthorized)
}

func TestVerifier_MissingTenant(t *testing.T) {
	c := newOdin(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"user_id": "u1"})
	})
	_, err := NewVerifier(c, zap.NewNop()).Verify(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrClaimsScope)
}

func TestClient_DisplayName(t *testing.T) {
	c := newOdin(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/users/u%201", r.URL.EscapedPath())
		_ = json.NewEncoder(w).Encode(map[string]string{"display_name": "Dra. Ana"})
	})
	name, err := c.DisplayName(context.Background(), "u 1")
	require.NoError(t, err)
	assert.Equal(t, "Dra. Ana", name)
}

func TestClient_DisplayNameUpstream(t *testing.T) {
	c := newOdin(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := c.DisplayName(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrOdinUpstream)
}

func TestClient_NotConfigured(t *testing.T) {
	c, err := NewClient(Config{})
	require.NoError(t, err)
	_, err = c.VerifyToken(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrOdinNotConfigured)
}

func TestVerifier_UpstreamLogsWarn(t *testing.T) {
	c := newOdin(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	core, logs := observer.New(zap.DebugLevel)
	_, err := NewVerifier(c, zap.New(core)).Verify(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrOdinUpstream)
	require.Equal(t, 1, logs.FilterMessage("odin token verification unavailable").Len())
}

func TestVerifier_EmptyToken(t *testing.T) {
	_, err := NewVerifier(nil, nil).Verify(context.Background(), "x")
	assert.ErrorIs(t, err, ErrOdinNotConfigured)

	c, err := NewClient(Config{BaseURL: "http://odin.test"})
	require.NoError(t, err)
	_, err = NewVerifier(c, nil).Verify(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrTokenEmpty)
}
