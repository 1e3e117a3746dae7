package keys

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"github.com/multiformats/go-multihash"

	"github.com/libertaria-project/mercury-rust/protocol"
)

// DefaultHashCode is the multihash function used for new profile ids.
const DefaultHashCode = multihash.SHA2_256

var (
	ErrInvalidSignature = errors.New("keys: invalid signature")
	ErrUnsupportedKey   = errors.New("keys: unsupported public key")
	ErrProfileMismatch  = errors.New("keys: profile id does not match public key")
)

// acceptedHashCodes are the multihash functions a profile id may use.
var acceptedHashCodes = map[uint64]bool{
	multihash.SHA2_256: true,
	multihash.SHA3_256: true,
	multihash.BLAKE3:   true,
}

// ProfileIDFor hashes pub into a profile id using the multihash function code.
func ProfileIDFor(pub protocol.PublicKey, code uint64) (protocol.ProfileID, error) {
	if len(pub) == 0 {
		return "", ErrUnsupportedKey
	}
	if !acceptedHashCodes[code] {
		return "", fmt.Errorf("keys: unsupported profile id hash 0x%x", code)
	}
	sum, err := multihash.Sum(pub, code, -1)
	if err != nil {
		return "", err
	}
	return protocol.ProfileIDFromBytes(sum), nil
}

// Validator checks Ed25519 and Dilithium3 signatures, telling them apart by
// public key length.
type Validator struct{}

var _ protocol.Validator = Validator{}

func (Validator) ValidateSignature(pub protocol.PublicKey, data []byte, sig protocol.Signature) error {
	switch len(pub) {
	case ed25519.PublicKeySize:
		digest := sha256.Sum256(data)
		if !ed25519.Verify(ed25519.PublicKey(pub), digest[:], sig) {
			return ErrInvalidSignature
		}
		return nil
	case mode3.PublicKeySize:
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(pub); err != nil {
			return fmt.Errorf("%w: %v", ErrUnsupportedKey, err)
		}
		digest, _ := digestFor("sha3-256", data)
		if !mode3.Verify(&pk, digest, sig) {
			return ErrInvalidSignature
		}
		return nil
	default:
		return fmt.Errorf("%w: %d bytes", ErrUnsupportedKey, len(pub))
	}
}

// ValidateProfile recomputes the id from pub with the hash function encoded
// in id itself.
func (Validator) ValidateProfile(pub protocol.PublicKey, id protocol.ProfileID) error {
	decoded, err := multihash.Decode(id.Bytes())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProfileMismatch, err)
	}
	want, err := ProfileIDFor(pub, decoded.Code)
	if err != nil {
		return err
	}
	if !bytes.Equal(want.Bytes(), id.Bytes()) {
		return ErrProfileMismatch
	}
	return nil
}
