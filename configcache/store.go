// Package configcache persists the last configuration frame image received on
// each inbound connection so a mapper can start parsing data before a device
// resends its configuration.
//
// Images are the binary configuration frames produced by
// phasor.ConfigurationFrame.MarshalBinary and are stored under the connection
// name. Two backends are provided: a NATS JetStream KV bucket shared across
// instances and a local SQLite file.
package configcache

import (
	"context"
	"sync"

	"github.com/c360/phasorstreams/errors"
)

// Store loads, saves and deletes cached configuration images by connection name.
// Load returns errors.ErrKeyNotFound when nothing is cached.
type Store interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, image []byte) error
	Delete(ctx context.Context, name string) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	images map[string][]byte
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{images: make(map[string][]byte)}
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	image, ok := s.images[name]
	if !ok {
		return nil, errors.Wrap(errors.ErrKeyNotFound, "MemoryStore", "Load", "load "+name)
	}
	return append([]byte(nil), image...), nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, name string, image []byte) error {
	s.mu.Lock()
	s.images[name] = append([]byte(nil), image...)
	s.mu.Unlock()
	return nil
}

// Delete implements Store. Deleting a missing entry is not an error.
func (s *MemoryStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	delete(s.images, name)
	s.mu.Unlock()
	return nil
}
