package localfs

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/ipfs/go-cid"

	"github.com/libertaria-project/mercury-rust/storage"
)

// CAS is a local filesystem-backed content-addressable store.
//
// Objects are stored immutably, keyed strictly by CID and sharded by the
// first two characters of the CID string. A new object is written to a
// temporary file and then hard-linked into place, so readers never observe
// a partially written object.
type CAS struct {
	root string
}

var _ storage.CAS = (*CAS)(nil)

// New constructs a filesystem CAS rooted at root. The directory will be created if needed.
func New(root string) (*CAS, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &CAS{root: root}, nil
}

// Root returns the directory the store lives in.
func (c *CAS) Root() string { return c.root }

func (c *CAS) Put(bytes []byte) (cid.Cid, error) {
	id, err := storage.CIDFor(bytes)
	if err != nil {
		return cid.Undef, err
	}

	path := c.pathFor(id)
	if _, err := os.Stat(path); err == nil {
		return c.checkExisting(id, bytes)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return cid.Undef, err
	}

	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return cid.Undef, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(bytes); err != nil {
		_ = tmp.Close()
		return cid.Undef, err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return cid.Undef, err
	}
	if err := tmp.Close(); err != nil {
		return cid.Undef, err
	}
	if err := os.Chmod(tmpName, 0o444); err != nil {
		return cid.Undef, err
	}
	if err := os.Link(tmpName, path); err != nil {
		if os.IsExist(err) {
			return c.checkExisting(id, bytes)
		}
		return cid.Undef, err
	}
	return id, nil
}

// checkExisting treats an unreadable or different stored object as an
// immutability violation; Put never repairs it.
func (c *CAS) checkExisting(id cid.Cid, bytes []byte) (cid.Cid, error) {
	existing, err := c.Get(id)
	if err != nil || string(existing) != string(bytes) {
		return cid.Undef, storage.ErrImmutable
	}
	return id, nil
}

func (c *CAS) Get(id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	b, err := os.ReadFile(c.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	got, err := storage.CIDFor(b)
	if err != nil {
		return nil, err
	}
	if got != id {
		return nil, storage.ErrCIDMismatch
	}
	return b, nil
}

func (c *CAS) Has(id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	_, err := os.Stat(c.pathFor(id))
	return err == nil
}

func (c *CAS) pathFor(id cid.Cid) string {
	s := id.String()
	if len(s) < 2 {
		return filepath.Join(c.root, s)
	}
	return filepath.Join(c.root, s[:2], s)
}
