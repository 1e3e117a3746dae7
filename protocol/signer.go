package protocol

// Signer can sign data but never gives out its private key. Usually backed by
// an in-memory key, but hardware-backed implementations fit the same contract.
type Signer interface {
	ProfileID() ProfileID
	PublicKey() PublicKey
	Sign(data []byte) Signature
}

// SignatureValidator checks a signature made by the holder of pub.
// A nil error means the signature is valid.
type SignatureValidator interface {
	ValidateSignature(pub PublicKey, data []byte, sig Signature) error
}

// ProfileValidator checks that id was derived from pub.
type ProfileValidator interface {
	ValidateProfile(pub PublicKey, id ProfileID) error
}

// Validator is the full validation capability.
type Validator interface {
	SignatureValidator
	ProfileValidator
}

// PeerContext binds the local signer to an authenticated remote peer
// (Home <-> Persona, Persona <-> Persona).
type PeerContext struct {
	Signer        Signer
	PeerPublicKey PublicKey
	PeerID        ProfileID
}

// PeerContextFromProfile builds a PeerContext for peer.
func PeerContextFromProfile(signer Signer, peer Profile) PeerContext {
	return PeerContext{Signer: signer, PeerPublicKey: peer.PublicKey, PeerID: peer.ID}
}

// Validate checks that the peer id derives from the peer public key.
func (c PeerContext) Validate(v Validator) error {
	if err := v.ValidateProfile(c.PeerPublicKey, c.PeerID); err != nil {
		return WrapError(KindProfileValidationFailed, "protocol.peer_context", "peer id does not match public key", err)
	}
	return nil
}
