package client_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libertaria-project/mercury-rust/client"
	"github.com/libertaria-project/mercury-rust/protocol"
	"github.com/libertaria-project/mercury-rust/storage/kv"
)

func TestRelationBook(t *testing.T) {
	a, b, c := signerFor(t, 1), signerFor(t, 2), signerFor(t, 3)
	book := client.NewRelationBook(kv.NewMemory())

	complete := func(typ string, from, to protocol.Signer) protocol.RelationProof {
		proof, err := protocol.CompleteHalfProof(protocol.NewRelationHalfProof(typ, to.ProfileID(), from), to)
		require.NoError(t, err)
		return proof
	}
	chat := complete("chat", a, b)
	video := complete("video", b, a)
	other := complete("chat", a, c)
	for _, p := range []protocol.RelationProof{chat, video, other} {
		require.NoError(t, book.Add(p))
	}

	got, err := book.Find(b.ProfileID(), a.ProfileID(), "chat")
	require.NoError(t, err)
	assert.True(t, chat.Equal(got))

	_, err = book.Find(c.ProfileID(), b.ProfileID(), "chat")
	assert.True(t, protocol.IsKind(err, protocol.KindLookupFailed))

	all, err := book.List(a.ProfileID())
	require.NoError(t, err)
	assert.Len(t, all, 3)

	withB, err := book.WithPeer(a.ProfileID(), b.ProfileID(), "")
	require.NoError(t, err)
	assert.Len(t, withB, 2)

	require.NoError(t, book.Remove(chat))
	withB, err = book.WithPeer(b.ProfileID(), a.ProfileID(), "chat")
	require.NoError(t, err)
	assert.Empty(t, withB)
}

type countingRepo struct {
	profiles map[protocol.ProfileID]protocol.Profile
	loads    int
}

func (r *countingRepo) Load(_ context.Context, id protocol.ProfileID) (protocol.Profile, error) {
	r.loads++
	p, ok := r.profiles[id]
	if !ok {
		return protocol.Profile{}, protocol.Errorf(protocol.KindLookupFailed, "test.load", "%s unknown", id)
	}
	return p, nil
}

func TestCachingRepo(t *testing.T) {
	s, u := signerFor(t, 1), signerFor(t, 2)
	inner := &countingRepo{profiles: map[protocol.ProfileID]protocol.Profile{
		s.ProfileID(): protocol.NewPersonaProfile(s.ProfileID(), s.PublicKey(), nil),
	}}
	repo, err := client.NewCachingRepo(inner, 0)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, err := repo.Load(ctx, s.ProfileID())
		require.NoError(t, err)
		assert.Equal(t, s.ProfileID(), p.ID)
	}
	assert.Equal(t, 1, inner.loads)

	for i := 0; i < 2; i++ {
		_, err := repo.Load(ctx, u.ProfileID())
		assert.True(t, protocol.IsKind(err, protocol.KindLookupFailed))
	}
	assert.Equal(t, 3, inner.loads, "failures are not cached")

	repo.Forget(s.ProfileID())
	_, err = repo.Load(ctx, s.ProfileID())
	require.NoError(t, err)
	assert.Equal(t, 4, inner.loads)
	assert.Equal(t, 1, repo.Len())
}
