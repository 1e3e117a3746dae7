package kv

import (
	"sync"

	"github.com/libertaria-project/mercury-rust/storage"
)

// Memory is an in-process Store.
type Memory struct {
	mu sync.RWMutex
	m  map[string]string
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory { return &Memory{m: make(map[string]string)} }

func (s *Memory) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

func (s *Memory) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

func (s *Memory) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

// Iterate works on a snapshot, so fn may modify the store.
func (s *Memory) Iterate(prefix string, fn func(key, value string) error) error {
	s.mu.RLock()
	keys := sortedMatching(s.m, prefix)
	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = s.m[k]
	}
	s.mu.RUnlock()

	for i, k := range keys {
		if err := fn(k, values[i]); err != nil {
			return err
		}
	}
	return nil
}
