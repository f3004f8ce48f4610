package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"clinical-occurrences/internal/ports/capabilities"
)

// RequireCapability exige la feature cuando hay resolver. Sin resolver
// (modo dev) deja pasar.
func RequireCapability(resolver capabilities.CapabilitiesResolver, feature string, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		if resolver == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, ok := GetClaims(r.Context())
			if !ok || c.UserID == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			allowed, err := resolver.HasFeature(r.Context(), capabilities.CapabilityCheck{
				UserID:   c.UserID,
				TenantID: c.TenantID,
				Feature:  feature,
			})
			if err != nil {
				logger.Warn("capability check failed",
					zap.String("user_id", c.UserID),
					zap.String("feature", feature),
					zap.Error(err),
				)
				http.Error(w, "capabilities unavailable", http.StatusBadGateway)
				return
			}
			if !allowed {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
