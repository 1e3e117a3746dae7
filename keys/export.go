package keys

import (
	"fmt"

	"github.com/libertaria-project/mercury-rust/protocol"
)

// PublicIdentity is the shareable part of a stored key.
type PublicIdentity struct {
	Algorithm Algorithm
	ProfileID protocol.ProfileID
	PublicKey protocol.PublicKey
}

// IdentityOf describes the public side of signer.
func IdentityOf(alg Algorithm, signer protocol.Signer) PublicIdentity {
	return PublicIdentity{Algorithm: alg, ProfileID: signer.ProfileID(), PublicKey: signer.PublicKey()}
}

func (p PublicIdentity) String() string {
	return fmt.Sprintf("%s %s %s", p.Algorithm, p.ProfileID, p.PublicKey)
}
