// Package memory implements an in-process storage.ReadWriter.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/shineum/ses-forwarder/internal/domain"
	"github.com/shineum/ses-forwarder/internal/storage"
)

// Store keeps objects in a map keyed by bucket and key. It is safe for
// concurrent use.
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// New returns an empty Store.
func New() *Store {
	return &Store{objects: make(map[string][]byte)}
}

// Get returns a copy of the object stored under bucket and key.
func (s *Store) Get(_ context.Context, bucket string, key domain.StorageKey) ([]byte, error) {
	s.mu.RLock()
	data, ok := s.objects[objectPath(bucket, key)]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, objectPath(bucket, key))
	}
	return append([]byte(nil), data...), nil
}

// Put stores a copy of raw under bucket and key, replacing any previous object.
func (s *Store) Put(_ context.Context, bucket string, key domain.StorageKey, raw []byte) error {
	s.mu.Lock()
	s.objects[objectPath(bucket, key)] = append([]byte(nil), raw...)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

func objectPath(bucket string, key domain.StorageKey) string {
	return bucket + "/" + key.String()
}
