package storage

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"go.uber.org/multierr"
)

// WritePolicy selects which backends of a Fanout receive writes.
type WritePolicy string

const (
	// WriteFirst writes only to the first backend; reads fall back in order.
	WriteFirst WritePolicy = "first"
	// WriteAll writes to every backend and requires all CIDs to match.
	WriteAll WritePolicy = "all"
)

// ParseWritePolicy accepts "" as WriteFirst.
func ParseWritePolicy(s string) (WritePolicy, error) {
	switch WritePolicy(s) {
	case "", WriteFirst:
		return WriteFirst, nil
	case WriteAll:
		return WriteAll, nil
	default:
		return "", fmt.Errorf("storage: invalid write policy %q", s)
	}
}

// NamedCAS associates a CAS with a stable backend name.
type NamedCAS struct {
	Name string
	CAS  CAS
}

// Fanout combines several backends with deterministic, ordered fallback.
//
// Read order is the slice order in Backends; callers MUST supply a fixed
// order. Writes follow Policy.
type Fanout struct {
	Backends []NamedCAS
	Policy   WritePolicy
}

var _ CAS = Fanout{}

// PutAll writes bytes to every backend and returns the per-backend CIDs.
// If any backend returns a CID different from CIDFor(bytes), ErrCIDMismatch
// is returned.
func (f Fanout) PutAll(bytes []byte) (cid.Cid, map[string]cid.Cid, error) {
	want, err := CIDFor(bytes)
	if err != nil {
		return cid.Undef, nil, err
	}
	if len(f.Backends) == 0 {
		return cid.Undef, nil, ErrNoBackends
	}

	out := make(map[string]cid.Cid, len(f.Backends))
	for _, b := range f.Backends {
		if b.CAS == nil {
			return cid.Undef, nil, fmt.Errorf("storage: nil CAS for backend %q", b.Name)
		}
		got, err := b.CAS.Put(bytes)
		if err != nil {
			return cid.Undef, out, fmt.Errorf("storage: backend %q: %w", b.Name, err)
		}
		out[b.Name] = got
		if got != want {
			return cid.Undef, out, ErrCIDMismatch
		}
	}
	return want, out, nil
}

func (f Fanout) Put(bytes []byte) (cid.Cid, error) {
	if len(f.Backends) == 0 {
		return cid.Undef, ErrNoBackends
	}
	if f.Policy == WriteAll {
		id, _, err := f.PutAll(bytes)
		return id, err
	}
	return f.Backends[0].CAS.Put(bytes)
}

// Get returns the first hit. A backend failing with anything but ErrNotFound
// does not stop the search; if no backend has the object, the collected
// failures are returned, or ErrNotFound when every backend simply missed.
func (f Fanout) Get(id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, ErrInvalidCID
	}
	var errs error
	for _, b := range f.Backends {
		if b.CAS == nil {
			continue
		}
		out, err := b.CAS.Get(id)
		if err == nil {
			return out, nil
		}
		if IsNotFound(err) {
			continue
		}
		errs = multierr.Append(errs, fmt.Errorf("storage: backend %q: %w", b.Name, err))
	}
	if errs != nil {
		return nil, errs
	}
	return nil, ErrNotFound
}

func (f Fanout) Has(id cid.Cid) bool {
	for _, b := range f.Backends {
		if b.CAS != nil && b.CAS.Has(id) {
			return true
		}
	}
	return false
}
