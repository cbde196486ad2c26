package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/expnotify/key-distribution-backend/interfaces"
)

type memoryObject struct {
	data         []byte
	lastModified time.Time
}

// MemoryStore implements interfaces.ObjectStore in memory for tests and
// local development. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory object store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]memoryObject),
		now:     time.Now,
	}
}

// WithClock replaces the store's clock, letting tests control last-modified
// timestamps assigned by Put.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// List returns summaries of objects under prefix, sorted by key for
// deterministic output.
func (s *MemoryStore) List(ctx context.Context, prefix string) ([]interfaces.ObjectSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var summaries []interfaces.ObjectSummary
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			summaries = append(summaries, interfaces.ObjectSummary{
				Key:          key,
				Size:         int64(len(obj.data)),
				LastModified: obj.lastModified,
			})
		}
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Key < summaries[j].Key })
	return summaries, nil
}

// Get retrieves an object's content or interfaces.ErrObjectNotFound.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, interfaces.ErrObjectNotFound
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	return data, nil
}

// Put stores an object stamped with the store clock's current time.
func (s *MemoryStore) Put(ctx context.Context, key string, data []byte) error {
	return s.PutAt(key, data, s.now())
}

// PutAt stores an object with an explicit last-modified timestamp. Tests use
// it to lay out submissions at known instants.
func (s *MemoryStore) PutAt(key string, data []byte, lastModified time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	s.objects[key] = memoryObject{data: stored, lastModified: lastModified.UTC()}
	return nil
}

// Delete removes an object. Deleting an absent key is not an error.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.objects, key)
	return nil
}

// LocationURI returns the URI that identifies this store.
func (s *MemoryStore) LocationURI() string {
	return "mem://"
}
