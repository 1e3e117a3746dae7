package storage

import (
	"sync"

	"github.com/ipfs/go-cid"
)

// MemoryCAS keeps objects in process memory. Useful for tests and for homes
// that do not need to survive a restart.
type MemoryCAS struct {
	mu      sync.RWMutex
	objects map[cid.Cid][]byte
}

var _ CAS = (*MemoryCAS)(nil)

func NewMemoryCAS() *MemoryCAS {
	return &MemoryCAS{objects: make(map[cid.Cid][]byte)}
}

func (m *MemoryCAS) Put(bytes []byte) (cid.Cid, error) {
	id, err := CIDFor(bytes)
	if err != nil {
		return cid.Undef, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.objects[id]; ok {
		if string(existing) != string(bytes) {
			return cid.Undef, ErrImmutable
		}
		return id, nil
	}
	m.objects[id] = append([]byte(nil), bytes...)
	return id, nil
}

func (m *MemoryCAS) Get(id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, ErrInvalidCID
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *MemoryCAS) Has(id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[id]
	return ok
}
