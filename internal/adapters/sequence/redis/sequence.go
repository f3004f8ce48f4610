package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"clinical-occurrences/internal/domain/occurrence"
)

const keyPrefix = "occurrences:protocol:"

// Sequence emite números de protocolo con INCR: atómico entre instancias.
type Sequence struct {
	client redis.UniversalClient
}

func NewSequence(client redis.UniversalClient) *Sequence {
	return &Sequence{client: client}
}

// Key: occurrences:protocol:<tenant>:<year>
func Key(scope string) string {
	return keyPrefix + strings.ReplaceAll(strings.TrimSpace(scope), "/", ":")
}

func (s *Sequence) NextProtocolNumber(ctx context.Context, scope string) (int64, error) {
	if s == nil || s.client == nil {
		return 0, fmt.Errorf("%w: redis sequence not configured", occurrence.ErrUpstreamUnavailable)
	}
	if strings.TrimSpace(scope) == "" {
		return 0, fmt.Errorf("%w: empty sequence scope", occurrence.ErrInvalidInput)
	}
	n, err := s.client.Incr(ctx, Key(scope)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr: %w", errors.Join(occurrence.ErrUpstreamUnavailable, err))
	}
	return n, nil
}

// Options de conexión, como las arma config.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient abre el cliente y verifica la conexión. Addr vacío => nil, nil.
func NewClient(ctx context.Context, opts Options) (*redis.Client, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}
