package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libertaria-project/mercury-rust/keys"
	"github.com/libertaria-project/mercury-rust/protocol"
)

func newSigner(t *testing.T, b byte) protocol.Signer {
	t.Helper()
	seed := make([]byte, keys.SeedSize)
	for i := range seed {
		seed[i] = b
	}
	s, err := keys.NewEd25519Signer(seed)
	require.NoError(t, err)
	return s
}

func TestNewRelationProofIsCanonical(t *testing.T) {
	x, y := newSigner(t, 1), newSigner(t, 2)
	sigX, sigY := protocol.Signature("sig-x"), protocol.Signature("sig-y")

	p1 := protocol.NewRelationProof("friend", x.ProfileID(), sigX, y.ProfileID(), sigY)
	p2 := protocol.NewRelationProof("friend", y.ProfileID(), sigY, x.ProfileID(), sigX)

	require.True(t, p1.Equal(p2))
	require.True(t, p1.AID.Less(p1.BID))

	lower := x.ProfileID()
	if y.ProfileID().Less(lower) {
		lower = y.ProfileID()
	}
	assert.Equal(t, lower, p1.AID)

	sig, err := p1.PeerSignature(y.ProfileID())
	require.NoError(t, err)
	assert.Equal(t, sigX, sig, "signatures must travel with their ids")
}

func TestCompleteHalfProofOnlyByPeer(t *testing.T) {
	a, b, c := newSigner(t, 1), newSigner(t, 2), newSigner(t, 3)
	half := protocol.NewRelationHalfProof(protocol.RelationTypeEnableCallBetween, b.ProfileID(), a)

	_, err := protocol.CompleteHalfProof(half, c)
	require.Error(t, err)
	assert.True(t, protocol.IsKind(err, protocol.KindRelationSigningFailed))

	proof, err := protocol.CompleteHalfProof(half, b)
	require.NoError(t, err)

	sig, err := proof.PeerSignature(a.ProfileID())
	require.NoError(t, err)
	data := protocol.RelationSignable(half.RelationType, b.ProfileID(), a.ProfileID())
	require.NoError(t, keys.Validator{}.ValidateSignature(b.PublicKey(), data, sig))
}

func TestValidateRelationProofRoundTrip(t *testing.T) {
	v := keys.Validator{}
	a, b, c := newSigner(t, 1), newSigner(t, 2), newSigner(t, 3)

	half := protocol.NewRelationHalfProof(protocol.RelationTypeEnableCallBetween, b.ProfileID(), a)
	require.NoError(t, protocol.ValidateHalfProof(v, half, a.PublicKey()))

	proof, err := protocol.CompleteHalfProof(half, b)
	require.NoError(t, err)

	require.NoError(t, protocol.ValidateRelationProof(v, proof, a.ProfileID(), a.PublicKey(), b.ProfileID(), b.PublicKey()))
	require.NoError(t, protocol.ValidateRelationProof(v, proof, b.ProfileID(), b.PublicKey(), a.ProfileID(), a.PublicKey()))

	err = protocol.ValidateRelationProof(v, proof, a.ProfileID(), a.PublicKey(), c.ProfileID(), c.PublicKey())
	assert.True(t, protocol.IsKind(err, protocol.KindRelationValidationFailed), "got %v", err)
	err = protocol.ValidateRelationProof(v, proof, c.ProfileID(), c.PublicKey(), b.ProfileID(), b.PublicKey())
	assert.True(t, protocol.IsKind(err, protocol.KindRelationValidationFailed), "got %v", err)

	// A key that does not belong to the id fails either way round.
	err = protocol.ValidateRelationProof(v, proof, a.ProfileID(), c.PublicKey(), b.ProfileID(), b.PublicKey())
	assert.True(t, protocol.IsKind(err, protocol.KindRelationValidationFailed))
	err = protocol.ValidateRelationProof(v, proof, b.ProfileID(), b.PublicKey(), a.ProfileID(), c.PublicKey())
	assert.True(t, protocol.IsKind(err, protocol.KindRelationValidationFailed))
}

func TestValidateRelationProofRejectsOneSidedSignature(t *testing.T) {
	v := keys.Validator{}
	a, b := newSigner(t, 1), newSigner(t, 2)
	half := protocol.NewRelationHalfProof("friend", b.ProfileID(), a)

	// b signs a's direction instead of its own.
	forged := b.Sign(protocol.RelationSignable("friend", a.ProfileID(), b.ProfileID()))
	proof := protocol.NewRelationProof("friend", a.ProfileID(), half.Signature, b.ProfileID(), forged)

	err := protocol.ValidateRelationProof(v, proof, a.ProfileID(), a.PublicKey(), b.ProfileID(), b.PublicKey())
	assert.True(t, protocol.IsKind(err, protocol.KindRelationValidationFailed))
}

func TestPeerIDRetrievalFailsForStranger(t *testing.T) {
	a, b, c := newSigner(t, 1), newSigner(t, 2), newSigner(t, 3)
	proof := protocol.NewRelationProof("friend", a.ProfileID(), nil, b.ProfileID(), nil)

	peer, err := proof.PeerID(a.ProfileID())
	require.NoError(t, err)
	assert.Equal(t, b.ProfileID(), peer)

	_, err = proof.PeerID(c.ProfileID())
	assert.True(t, protocol.IsKind(err, protocol.KindPeerIDRetrievalFailed))
	_, err = proof.PeerSignature(c.ProfileID())
	assert.True(t, protocol.IsKind(err, protocol.KindPeerIDRetrievalFailed))
}

func TestAccessibleByIsFlatEquality(t *testing.T) {
	proof := protocol.RelationProof{RelationType: "iop-chat"}
	assert.True(t, proof.AccessibleBy("iop-chat"))
	assert.False(t, proof.AccessibleBy("iop"))
	assert.False(t, proof.AccessibleBy("iop-chat/v2"))
}

func TestInvitationValidation(t *testing.T) {
	v := keys.Validator{}
	home, other := newSigner(t, 5), newSigner(t, 6)
	inv := protocol.NewHomeInvitation(home, "voucher-1")
	require.NoError(t, protocol.ValidateInvitation(v, inv, home.PublicKey()))

	err := protocol.ValidateInvitation(v, inv, other.PublicKey())
	assert.True(t, protocol.IsKind(err, protocol.KindProfileValidationFailed))

	inv.Voucher = "voucher-2"
	err = protocol.ValidateInvitation(v, inv, home.PublicKey())
	assert.True(t, protocol.IsKind(err, protocol.KindRelationValidationFailed))
}

func TestPeerContextValidate(t *testing.T) {
	me, peer, other := newSigner(t, 1), newSigner(t, 2), newSigner(t, 3)
	ctx := protocol.PeerContext{Signer: me, PeerPublicKey: peer.PublicKey(), PeerID: peer.ProfileID()}
	require.NoError(t, ctx.Validate(keys.Validator{}))

	ctx.PeerPublicKey = other.PublicKey()
	err := ctx.Validate(keys.Validator{})
	assert.True(t, protocol.IsKind(err, protocol.KindProfileValidationFailed))
}
