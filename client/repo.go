package client

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/libertaria-project/mercury-rust/protocol"
)

// DefaultCacheSize is the number of profiles CachingRepo keeps.
const DefaultCacheSize = 256

// CachingRepo remembers profiles loaded through inner. Lookup failures are
// not cached.
type CachingRepo struct {
	inner protocol.ProfileRepo
	cache *lru.Cache[protocol.ProfileID, protocol.Profile]
}

var _ protocol.ProfileRepo = (*CachingRepo)(nil)

func NewCachingRepo(inner protocol.ProfileRepo, size int) (*CachingRepo, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[protocol.ProfileID, protocol.Profile](size)
	if err != nil {
		return nil, err
	}
	return &CachingRepo{inner: inner, cache: cache}, nil
}

func (r *CachingRepo) Load(ctx context.Context, id protocol.ProfileID) (protocol.Profile, error) {
	if p, ok := r.cache.Get(id); ok {
		return p, nil
	}
	p, err := r.inner.Load(ctx, id)
	if err != nil {
		return protocol.Profile{}, err
	}
	r.cache.Add(id, p)
	return p, nil
}

// Forget drops id, e.g. after a ProfileRelocated event.
func (r *CachingRepo) Forget(id protocol.ProfileID) { r.cache.Remove(id) }

func (r *CachingRepo) Len() int { return r.cache.Len() }
