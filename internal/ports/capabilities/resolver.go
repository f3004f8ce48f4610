package capabilities

import "context"

// ManageOccurrences habilita triage, outcome, transiciones y reportes.
const ManageOccurrences = "occurrences:manage"

type CapabilityCheck struct {
	UserID   string
	TenantID string
	Feature  string
}

type CapabilitiesResolver interface {
	HasFeature(ctx context.Context, in CapabilityCheck) (bool, error)
}
