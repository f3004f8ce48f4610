package odin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"clinical-occurrences/internal/ports/auth"
)

var (
	ErrTokenEmpty  = errors.New("token is empty")
	ErrClaimsScope = errors.New("odin claims without user or tenant")
)

// Verifier cumple auth.AuthVerifier contra Odin. Una caída de Odin se loguea
// en warn; un token rechazado solo en debug.
type Verifier struct {
	client *Client
	logger *zap.Logger
}

func NewVerifier(client *Client, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{client: client, logger: logger}
}

func (v *Verifier) Verify(ctx context.Context, token string) (auth.Claims, error) {
	if v == nil || v.client == nil {
		return auth.Claims{}, ErrOdinNotConfigured
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return auth.Claims{}, ErrTokenEmpty
	}

	claims, err := v.client.VerifyToken(ctx, token)
	switch {
	case errors.Is(err, ErrOdinUpstream), errors.Is(err, ErrOdinNotConfigured):
		v.logger.Warn("odin token verification unavailable", zap.Error(err))
		return auth.Claims{}, fmt.Errorf("odin verify failed: %w", err)
	case err != nil:
		v.logger.Debug("odin rejected token", zap.Error(err))
		return auth.Claims{}, fmt.Errorf("odin verify failed: %w", err)
	}

	// Sin tenant no hay aislamiento posible.
	if !claims.Scoped() {
		v.logger.Warn("odin claims missing tenant scope", zap.String("user_id", claims.UserID))
		return auth.Claims{}, ErrClaimsScope
	}
	return claims, nil
}
