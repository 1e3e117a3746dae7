package home_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libertaria-project/mercury-rust/home"
	"github.com/libertaria-project/mercury-rust/protocol"
	"github.com/libertaria-project/mercury-rust/storage"
	"github.com/libertaria-project/mercury-rust/storage/kv"
)

func TestDocStoreBackupRestore(t *testing.T) {
	a, b := signerFor(t, 1), signerFor(t, 2)
	src := home.NewMemoryStore()
	ownA := protocol.NewOwnProfile(protocol.NewPersonaProfile(a.ProfileID(), a.PublicKey(), []byte("public")), []byte("private"))
	ownB := protocol.NewOwnProfile(protocol.NewPersonaProfile(b.ProfileID(), b.PublicKey(), nil), nil)
	require.NoError(t, src.Put(ownA))
	require.NoError(t, src.Put(ownB))

	half := protocol.NewRelationHalfProof("chat", b.ProfileID(), a)
	proof, err := protocol.CompleteHalfProof(half, b)
	require.NoError(t, err)
	require.NoError(t, src.PutRelation(proof))

	var buf bytes.Buffer
	require.NoError(t, src.Backup(&buf))

	dst := home.NewDocStore(storage.NewMemoryCAS(), kv.NewMemory())
	n, err := dst.Restore(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	got, err := dst.Get(a.ProfileID())
	require.NoError(t, err)
	assert.Equal(t, ownA.Profile.ID, got.Profile.ID)
	assert.True(t, ownA.Profile.PublicKey.Equal(got.Profile.PublicKey))
	assert.Equal(t, []byte("private"), got.PrivateData)
	ids, err := dst.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []protocol.ProfileID{a.ProfileID(), b.ProfileID()}, ids)

	rels, err := dst.Relations(b.ProfileID())
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.True(t, proof.Equal(rels[0]))
}

func TestRestoredStoreServesHome(t *testing.T) {
	srv, _ := newHome(t, 100, home.Options{})
	p := register(t, srv, 1)

	store := home.NewMemoryStore()
	own, err := connect(t, srv, p.signer).Claim(context.Background(), p.id())
	require.NoError(t, err)
	require.NoError(t, store.Put(own))

	var buf bytes.Buffer
	require.NoError(t, store.Backup(&buf))

	restored := home.NewMemoryStore()
	_, err = restored.Restore(&buf)
	require.NoError(t, err)

	s := signerFor(t, 100)
	next, err := home.New(srv.Profile(), s, home.Options{Store: restored})
	require.NoError(t, err)
	t.Cleanup(func() { _ = next.Close() })

	sess, err := connect(t, next, p.signer).Login(context.Background(), p.proof)
	require.NoError(t, err)
	defer sess.Close()
	reply, err := sess.Ping(context.Background(), "after restore")
	require.NoError(t, err)
	assert.Equal(t, "after restore", reply)
}
