package keys

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/sha3"

	"github.com/libertaria-project/mercury-rust/protocol"
)

// Algorithm names a signature scheme.
type Algorithm string

const (
	Ed25519    Algorithm = "ed25519"
	Dilithium3 Algorithm = "dilithium3"
)

// ParseAlgorithm accepts "" as Ed25519.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case "", Ed25519:
		return Ed25519, nil
	case Dilithium3:
		return Dilithium3, nil
	default:
		return "", fmt.Errorf("unsupported key algorithm: %q", s)
	}
}

func digestFor(hashAlg string, message []byte) ([]byte, error) {
	switch hashAlg {
	case "sha256":
		s := sha256.Sum256(message)
		return s[:], nil
	case "sha512":
		s := sha512.Sum512(message)
		return s[:], nil
	case "sha3-256":
		s := sha3.Sum256(message)
		return s[:], nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %q", hashAlg)
	}
}

// Ed25519Signer signs sha256(data) with an in-memory Ed25519 key.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  protocol.PublicKey
	id   protocol.ProfileID
}

var _ protocol.Signer = (*Ed25519Signer)(nil)

// NewEd25519Signer derives the key pair from a 32-byte seed.
func NewEd25519Signer(seed []byte) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("expected seed length of %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := protocol.PublicKey(priv.Public().(ed25519.PublicKey))
	id, err := ProfileIDFor(pub, DefaultHashCode)
	if err != nil {
		return nil, err
	}
	return &Ed25519Signer{priv: priv, pub: pub, id: id}, nil
}

func (s *Ed25519Signer) ProfileID() protocol.ProfileID { return s.id }
func (s *Ed25519Signer) PublicKey() protocol.PublicKey { return s.pub }

func (s *Ed25519Signer) Sign(data []byte) protocol.Signature {
	digest := sha256.Sum256(data)
	return ed25519.Sign(s.priv, digest[:])
}

// Dilithium3Signer signs sha3-256(data) with a Dilithium3 key.
type Dilithium3Signer struct {
	sk  *mode3.PrivateKey
	pub protocol.PublicKey
	id  protocol.ProfileID
}

var _ protocol.Signer = (*Dilithium3Signer)(nil)

// NewDilithium3Signer derives the key pair deterministically from a 32-byte seed.
func NewDilithium3Signer(seed []byte) (*Dilithium3Signer, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("expected seed length of %d bytes, got %d", SeedSize, len(seed))
	}
	pk, sk, err := mode3.GenerateKey(bytes.NewReader(seed))
	if err != nil {
		return nil, fmt.Errorf("dilithium3 keygen: %w", err)
	}
	pubBytes, err := pk.MarshalBinary()
	if err != nil {
		return nil, err
	}
	id, err := ProfileIDFor(pubBytes, DefaultHashCode)
	if err != nil {
		return nil, err
	}
	return &Dilithium3Signer{sk: sk, pub: pubBytes, id: id}, nil
}

func (s *Dilithium3Signer) ProfileID() protocol.ProfileID { return s.id }
func (s *Dilithium3Signer) PublicKey() protocol.PublicKey { return s.pub }

func (s *Dilithium3Signer) Sign(data []byte) protocol.Signature {
	digest, _ := digestFor("sha3-256", data)
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(s.sk, digest, sig)
	return sig
}

// NewSigner builds a signer of the given algorithm from a seed.
func NewSigner(alg Algorithm, seed []byte) (protocol.Signer, error) {
	switch alg {
	case "", Ed25519:
		return NewEd25519Signer(seed)
	case Dilithium3:
		return NewDilithium3Signer(seed)
	default:
		return nil, fmt.Errorf("unsupported key algorithm: %q", alg)
	}
}
