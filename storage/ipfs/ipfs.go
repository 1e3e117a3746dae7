// Package ipfs stores profile documents as raw blocks in a local Kubo
// repository through the "ipfs" command line tool. It does not need a
// running daemon.
package ipfs

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/ipfs/go-cid"

	"github.com/libertaria-project/mercury-rust/storage"
)

// CAS is a storage.CAS over "ipfs block". Blocks are written as CIDv1 raw
// with a sha2-256 multihash, the same CIDs storage.CIDFor computes, and
// every read is verified against the requested CID.
type CAS struct {
	bin string
	env []string
}

var _ storage.CAS = (*CAS)(nil)

type Options struct {
	// Bin is the ipfs executable; "ipfs" when empty.
	Bin string
	// Repo sets IPFS_PATH for every command; the process environment
	// decides when empty.
	Repo string
}

func New(opts Options) *CAS {
	c := &CAS{bin: opts.Bin}
	if c.bin == "" {
		c.bin = "ipfs"
	}
	if opts.Repo != "" {
		c.env = append(os.Environ(), "IPFS_PATH="+opts.Repo)
	}
	return c
}

func (c *CAS) Put(data []byte) (cid.Cid, error) {
	id, err := storage.CIDFor(data)
	if err != nil {
		return cid.Undef, err
	}
	out, err := c.run(data,
		"block", "put",
		"--quiet",
		"--cid-codec=raw",
		"--mhtype=sha2-256",
		"--mhlen=32",
	)
	if err != nil {
		return cid.Undef, err
	}
	got, err := storage.ParseCID(strings.TrimSpace(string(out)))
	if err != nil {
		return cid.Undef, fmt.Errorf("ipfs: unexpected block put output %q", strings.TrimSpace(string(out)))
	}
	if !got.Equals(id) {
		return cid.Undef, storage.ErrCIDMismatch
	}
	return id, nil
}

func (c *CAS) Get(id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	out, err := c.run(nil, "block", "get", id.String())
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	got, err := storage.CIDFor(out)
	if err != nil {
		return nil, err
	}
	if !got.Equals(id) {
		return nil, storage.ErrCIDMismatch
	}
	return out, nil
}

// Has reports whether the local repository holds id. "block stat" would
// fetch from the network when a daemon runs, so --offline is passed.
func (c *CAS) Has(id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	_, err := c.run(nil, "--offline", "block", "stat", id.String())
	return err == nil
}

func (c *CAS) run(stdin []byte, args ...string) ([]byte, error) {
	cmd := exec.Command(c.bin, args...)
	cmd.Env = c.env
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	out, err := cmd.Output()
	if err == nil {
		return out, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if msg := strings.TrimSpace(string(ee.Stderr)); msg != "" {
			return nil, fmt.Errorf("ipfs %s: %s", args[0], msg)
		}
	}
	return nil, fmt.Errorf("ipfs %s: %w", args[0], err)
}

func isNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "no link named")
}
