package occurrence

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// FinalizationRequested se emite una vez por cada transición a completed,
// de forma síncrona y después de persistirla.
type FinalizationRequested struct {
	Occurrence  Occurrence
	Actor       string
	RequestedAt time.Time
}

// NewShareToken genera 256 bits aleatorios en hex.
func NewShareToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("share token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
