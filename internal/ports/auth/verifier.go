package auth

import "context"

// AuthVerifier valida un bearer token. Las implementaciones devuelven
// claims con Scoped() == true o un error.
type AuthVerifier interface {
	Verify(ctx context.Context, token string) (Claims, error)
}
