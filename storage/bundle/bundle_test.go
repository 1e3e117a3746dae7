package bundle_test

import (
	"archive/tar"
	"bytes"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libertaria-project/mercury-rust/storage"
	"github.com/libertaria-project/mercury-rust/storage/bundle"
	"github.com/libertaria-project/mercury-rust/storage/localfs"
)

func TestExportIsDeterministic(t *testing.T) {
	cas, err := localfs.New(t.TempDir())
	require.NoError(t, err)

	id1, err := cas.Put([]byte("hello"))
	require.NoError(t, err)
	id2, err := cas.Put([]byte("world"))
	require.NoError(t, err)
	labels := map[string]cid.Cid{"profile/b": id2, "profile/a": id1}

	var outA, outB bytes.Buffer
	require.NoError(t, bundle.Export(&outA, cas, []cid.Cid{id2, id1}, labels))
	require.NoError(t, bundle.Export(&outB, cas, []cid.Cid{id1, id2, id1}, labels))
	assert.Equal(t, outA.Bytes(), outB.Bytes())
}

func TestImportRoundTrip(t *testing.T) {
	src := storage.NewMemoryCAS()
	payload := []byte("payload")
	id, err := src.Put(payload)
	require.NoError(t, err)
	loose, err := src.Put([]byte("unlabelled"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, bundle.Export(&buf, src, []cid.Cid{loose}, map[string]cid.Cid{"doc": id}))

	dst, err := localfs.New(t.TempDir())
	require.NoError(t, err)
	labels, err := bundle.Import(bytes.NewReader(buf.Bytes()), dst)
	require.NoError(t, err)
	assert.Equal(t, map[string]cid.Cid{"doc": id}, labels)

	got, err := dst.Get(id)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.True(t, dst.Has(loose))
}

func TestExportMissingBlock(t *testing.T) {
	id, err := storage.CIDFor([]byte("absent"))
	require.NoError(t, err)
	var buf bytes.Buffer
	err = bundle.Export(&buf, storage.NewMemoryCAS(), []cid.Cid{id}, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestImportRejectsCIDMismatch(t *testing.T) {
	other, err := storage.CIDFor([]byte("other"))
	require.NoError(t, err)

	// The entry name says "other" but the bytes are "good".
	b := makeTar(t, map[string][]byte{"blocks/" + other.String(): []byte("good")})
	_, err = bundle.Import(bytes.NewReader(b), storage.NewMemoryCAS())
	assert.ErrorIs(t, err, storage.ErrCIDMismatch)
}

func TestImportRejectsUnknownEntries(t *testing.T) {
	b := makeTar(t, map[string][]byte{"notes.txt": []byte("hi")})
	_, err := bundle.Import(bytes.NewReader(b), storage.NewMemoryCAS())
	assert.ErrorContains(t, err, "unknown entry")
}

func TestImportRejectsDanglingLabel(t *testing.T) {
	id, err := storage.CIDFor([]byte("absent"))
	require.NoError(t, err)
	index := `{"version":1,"blocks":[],"labels":[{"name":"doc","cid":"` + id.String() + `"}]}`
	b := makeTar(t, map[string][]byte{"index.json": []byte(index)})
	_, err = bundle.Import(bytes.NewReader(b), storage.NewMemoryCAS())
	assert.ErrorContains(t, err, "missing block")
}

func TestImportRequiresIndex(t *testing.T) {
	id, err := storage.CIDFor([]byte("x"))
	require.NoError(t, err)
	b := makeTar(t, map[string][]byte{"blocks/" + id.String(): []byte("x")})
	_, err = bundle.Import(bytes.NewReader(b), storage.NewMemoryCAS())
	assert.ErrorContains(t, err, "missing index.json")
}

func makeTar(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(content)),
			ModTime:  time.Unix(0, 0).UTC(),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}
