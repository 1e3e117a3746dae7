package ipfs_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libertaria-project/mercury-rust/storage"
	"github.com/libertaria-project/mercury-rust/storage/ipfs"
	"github.com/libertaria-project/mercury-rust/storage/registry"
	"github.com/libertaria-project/mercury-rust/storage/testkit"
)

// fakeKubo answers "block put/get/stat" from files under $IPFS_PATH. put
// prints the content of $IPFS_PATH/next-cid.
const fakeKubo = `#!/bin/sh
set -e
if [ "$1" = "--offline" ]; then shift; fi
case "$1 $2" in
"block put")
	cat > "$IPFS_PATH/pending"
	id=$(cat "$IPFS_PATH/next-cid")
	mv "$IPFS_PATH/pending" "$IPFS_PATH/$id"
	echo "$id"
	;;
"block get")
	if [ ! -f "$IPFS_PATH/$3" ]; then
		echo "Error: block was not found locally (offline): ipld: could not find $3" >&2
		exit 1
	fi
	cat "$IPFS_PATH/$3"
	;;
"block stat")
	test -f "$IPFS_PATH/$3"
	;;
*)
	echo "unexpected: $*" >&2
	exit 2
	;;
esac
`

func fake(t *testing.T) (*ipfs.CAS, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake kubo is a shell script")
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "ipfs")
	require.NoError(t, os.WriteFile(bin, []byte(fakeKubo), 0o755))
	repo := filepath.Join(dir, "repo")
	require.NoError(t, os.MkdirAll(repo, 0o755))
	return ipfs.New(ipfs.Options{Bin: bin, Repo: repo}), repo
}

func TestFakeKuboRoundTrip(t *testing.T) {
	cas, repo := fake(t)
	data := []byte(`{"profile":{}}`)
	id, err := storage.CIDFor(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(repo, "next-cid"), []byte(id.String()), 0o644))

	assert.False(t, cas.Has(id))
	got, err := cas.Put(data)
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.True(t, cas.Has(id))

	b, err := cas.Get(id)
	require.NoError(t, err)
	assert.Equal(t, data, b)
}

func TestPutRejectsForeignCID(t *testing.T) {
	cas, repo := fake(t)
	other, err := storage.CIDFor([]byte("other"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(repo, "next-cid"), []byte(other.String()), 0o644))

	_, err = cas.Put([]byte("data"))
	assert.ErrorIs(t, err, storage.ErrCIDMismatch)
}

func TestGetMissingAndTampered(t *testing.T) {
	cas, repo := fake(t)
	id, err := storage.CIDFor([]byte("original"))
	require.NoError(t, err)

	_, err = cas.Get(id)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, os.WriteFile(filepath.Join(repo, id.String()), []byte("tampered"), 0o644))
	_, err = cas.Get(id)
	assert.ErrorIs(t, err, storage.ErrCIDMismatch)
}

func TestBackendRegistered(t *testing.T) {
	assert.Contains(t, registry.Names(), "ipfs")
	_, _, err := registry.Open("ipfs", registry.Options{"bin": filepath.Join(t.TempDir(), "no-such-ipfs")})
	assert.Error(t, err)
}

func TestKuboConformance(t *testing.T) {
	bin, err := exec.LookPath("ipfs")
	if err != nil {
		t.Skip("ipfs not installed")
	}
	testkit.RunCASConformance(t, func(t *testing.T) storage.CAS {
		repo := t.TempDir()
		cmd := exec.Command(bin, "init", "--profile=test")
		cmd.Env = append(os.Environ(), "IPFS_PATH="+repo)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Skipf("ipfs init: %v: %s", err, out)
		}
		return ipfs.New(ipfs.Options{Bin: bin, Repo: repo})
	})
}
