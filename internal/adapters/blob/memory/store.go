package memory

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"clinical-occurrences/internal/ports/blob"
)

type object struct {
	data        []byte
	contentType string
}

// Store es el blob store para dev/tests. Las URLs firmadas no son servibles.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{objects: make(map[string]object), now: time.Now}
}

func (s *Store) Put(ctx context.Context, path string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := append([]byte(nil), data...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = object{data: cp, contentType: contentType}
	return nil
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", blob.ErrNotFound, path)
	}
	return append([]byte(nil), obj.data...), nil
}

// ContentType devuelve el tipo guardado para path ("" si no existe).
func (s *Store) ContentType(path string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.objects[path].contentType
}

func (s *Store) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("expires", s.now().Add(ttl).UTC().Format(time.RFC3339))
	return "memory://" + path + "?" + q.Encode(), nil
}
