package protocol

const (
	// RelationTypeHostedOnHome is the relation between a persona and its home.
	RelationTypeHostedOnHome = "hosted_on_home"

	// RelationTypeEnableCallBetween authorizes calls between two personas.
	RelationTypeEnableCallBetween = "enable_call_between"
)

// RelationHalfProof is one party's signed intent to form a relation.
type RelationHalfProof struct {
	RelationType string    `json:"relation_type"`
	SignerID     ProfileID `json:"signer_id"`
	PeerID       ProfileID `json:"peer_id"`
	Signature    Signature `json:"signature"`
}

// NewRelationHalfProof signs the intent of signer to relate to peer.
func NewRelationHalfProof(relationType string, peer ProfileID, signer Signer) RelationHalfProof {
	me := signer.ProfileID()
	return RelationHalfProof{
		RelationType: relationType,
		SignerID:     me,
		PeerID:       peer,
		Signature:    signer.Sign(RelationSignable(relationType, me, peer)),
	}
}

// RelationProof is the mutually signed evidence of a relation. AID < BID
// always holds; each signature belongs to the id on the same side.
type RelationProof struct {
	RelationType string    `json:"relation_type"`
	AID          ProfileID `json:"a_id"`
	ASignature   Signature `json:"a_signature"`
	BID          ProfileID `json:"b_id"`
	BSignature   Signature `json:"b_signature"`
}

// NewRelationProof builds a canonical proof from two signed sides given in
// any order.
func NewRelationProof(relationType string, idX ProfileID, sigX Signature, idY ProfileID, sigY Signature) RelationProof {
	if idY.Less(idX) {
		idX, idY = idY, idX
		sigX, sigY = sigY, sigX
	}
	return RelationProof{
		RelationType: relationType,
		AID:          idX,
		ASignature:   sigX,
		BID:          idY,
		BSignature:   sigY,
	}
}

// CompleteHalfProof countersigns half. Only the profile named by half.PeerID
// may complete it.
func CompleteHalfProof(half RelationHalfProof, signer Signer) (RelationProof, error) {
	me := signer.ProfileID()
	if me != half.PeerID {
		return RelationProof{}, Errorf(KindRelationSigningFailed, "protocol.complete_half_proof",
			"half proof is addressed to %s, not %s", half.PeerID, me)
	}
	sig := signer.Sign(RelationSignable(half.RelationType, me, half.SignerID))
	return NewRelationProof(half.RelationType, half.SignerID, half.Signature, me, sig), nil
}

// ValidateHalfProof checks the signature of half against signerPub.
func ValidateHalfProof(v Validator, half RelationHalfProof, signerPub PublicKey) error {
	const op = "protocol.validate_half_proof"
	if err := v.ValidateProfile(signerPub, half.SignerID); err != nil {
		return WrapError(KindProfileValidationFailed, op, "signer id does not match public key", err)
	}
	data := RelationSignable(half.RelationType, half.SignerID, half.PeerID)
	if err := v.ValidateSignature(signerPub, data, half.Signature); err != nil {
		return WrapError(KindRelationValidationFailed, op, "invalid half proof signature", err)
	}
	return nil
}

// ValidateRelationProof checks that proof relates id1 and id2 and that both
// parties signed their own direction. The result does not depend on the
// order of the two (id, key) pairs.
func ValidateRelationProof(v Validator, proof RelationProof, id1 ProfileID, pk1 PublicKey, id2 ProfileID, pk2 PublicKey) error {
	const op = "protocol.validate_relation_proof"
	peer, err := proof.PeerID(id1)
	if err != nil {
		return WrapError(KindRelationValidationFailed, op, "profile is not part of the relation", err)
	}
	if peer != id2 {
		return Errorf(KindRelationValidationFailed, op, "relation peer of %s is %s, not %s", id1, peer, id2)
	}
	sig1, _ := proof.PeerSignature(id2)
	sig2, _ := proof.PeerSignature(id1)
	if err := v.ValidateSignature(pk1, RelationSignable(proof.RelationType, id1, id2), sig1); err != nil {
		return WrapError(KindRelationValidationFailed, op, "invalid signature of "+id1.String(), err)
	}
	if err := v.ValidateSignature(pk2, RelationSignable(proof.RelationType, id2, id1), sig2); err != nil {
		return WrapError(KindRelationValidationFailed, op, "invalid signature of "+id2.String(), err)
	}
	return nil
}

// PeerID returns the id on the other side of the relation from my.
func (p RelationProof) PeerID(my ProfileID) (ProfileID, error) {
	switch my {
	case p.AID:
		return p.BID, nil
	case p.BID:
		return p.AID, nil
	}
	return "", Errorf(KindPeerIDRetrievalFailed, "protocol.relation_peer_id", "%s is not part of the relation", my)
}

// PeerSignature returns the signature of the party on the other side from my.
func (p RelationProof) PeerSignature(my ProfileID) (Signature, error) {
	switch my {
	case p.AID:
		return p.BSignature, nil
	case p.BID:
		return p.ASignature, nil
	}
	return nil, Errorf(KindPeerIDRetrievalFailed, "protocol.relation_peer_signature", "%s is not part of the relation", my)
}

// Involves reports whether id is one of the two parties.
func (p RelationProof) Involves(id ProfileID) bool { return id == p.AID || id == p.BID }

// AccessibleBy reports whether the relation authorizes app.
func (p RelationProof) AccessibleBy(app ApplicationID) bool {
	return p.RelationType == string(app)
}

// Equal compares all fields.
func (p RelationProof) Equal(o RelationProof) bool {
	return p.RelationType == o.RelationType &&
		p.AID == o.AID && p.BID == o.BID &&
		p.ASignature.Equal(o.ASignature) && p.BSignature.Equal(o.BSignature)
}
