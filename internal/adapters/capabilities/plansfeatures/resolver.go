package plansfeatures

import (
	"context"
	"errors"
	"strings"

	"clinical-occurrences/internal/ports/capabilities"
)

// Resolver implementa capabilities.CapabilitiesResolver contra plans-features.
type Resolver struct {
	client   *Client
	allowAll bool
}

// NewResolver crea un resolver. Con allowAll todo devuelve true (modo dev).
func NewResolver(client *Client, allowAll bool) *Resolver {
	return &Resolver{
		client:   client,
		allowAll: allowAll,
	}
}

func (r *Resolver) HasFeature(ctx context.Context, check capabilities.CapabilityCheck) (bool, error) {
	feature := strings.TrimSpace(check.Feature)
	if feature == "" {
		return false, errors.New("capability required")
	}
	if r == nil {
		return false, ErrPlansNotConfigured
	}
	if r.allowAll {
		return true, nil
	}
	if r.client == nil || !r.client.IsConfigured() {
		return false, ErrPlansNotConfigured
	}

	resp, err := r.client.GetCapabilities(ctx, check.TenantID, check.UserID)
	if err != nil {
		return false, err
	}
	return resp.Capabilities[feature] || resp.Capabilities["*"], nil
}

// Resolve devuelve el mapa completo de capabilities.
func (r *Resolver) Resolve(ctx context.Context, tenantID, userID string) (map[string]bool, error) {
	if r == nil {
		return nil, ErrPlansNotConfigured
	}
	if r.allowAll {
		return map[string]bool{"*": true}, nil
	}
	if r.client == nil || !r.client.IsConfigured() {
		return nil, ErrPlansNotConfigured
	}
	resp, err := r.client.GetCapabilities(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	return resp.Capabilities, nil
}
