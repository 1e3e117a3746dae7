package protocol

import (
	"bytes"
	"fmt"

	"github.com/multiformats/go-multibase"
)

// ProfileID identifies a profile. It holds the raw multihash bytes of the
// profile's public key, so it is comparable and orders bytewise.
//
// The text form is multibase base64url, which is also the JSON form.
type ProfileID string

// ProfileIDFromBytes wraps raw multihash bytes.
func ProfileIDFromBytes(b []byte) ProfileID { return ProfileID(b) }

// ParseProfileID decodes the multibase text form of a ProfileID.
func ParseProfileID(s string) (ProfileID, error) {
	if s == "" {
		return "", NewError(KindInvalidRequest, "protocol.parse_profile_id", "empty profile id")
	}
	_, b, err := multibase.Decode(s)
	if err != nil {
		return "", WrapError(KindInvalidRequest, "protocol.parse_profile_id", "invalid multibase profile id", err)
	}
	if len(b) == 0 {
		return "", NewError(KindInvalidRequest, "protocol.parse_profile_id", "empty profile id")
	}
	return ProfileID(b), nil
}

// Bytes returns a copy of the raw multihash bytes.
func (id ProfileID) Bytes() []byte { return []byte(id) }

func (id ProfileID) IsZero() bool { return id == "" }

func (id ProfileID) String() string {
	if id == "" {
		return ""
	}
	return encodeBase64url([]byte(id))
}

// Less reports whether id sorts before other. Relation proofs rely on it.
func (id ProfileID) Less(other ProfileID) bool { return id < other }

func (id ProfileID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *ProfileID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*id = ""
		return nil
	}
	parsed, err := ParseProfileID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// PublicKey is an opaque public key. Its algorithm is decided by the Validator.
type PublicKey []byte

func (k PublicKey) Equal(other PublicKey) bool { return bytes.Equal(k, other) }

func (k PublicKey) String() string { return encodeBase64url(k) }

func (k PublicKey) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *PublicKey) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*k = nil
		return nil
	}
	_, b, err := multibase.Decode(string(text))
	if err != nil {
		return WrapError(KindInvalidRequest, "protocol.parse_public_key", "invalid multibase public key", err)
	}
	*k = b
	return nil
}

// ParsePublicKey decodes the multibase text form of a PublicKey.
func ParsePublicKey(s string) (PublicKey, error) {
	var k PublicKey
	if err := k.UnmarshalText([]byte(s)); err != nil {
		return nil, err
	}
	return k, nil
}

// PrivateKey is opaque private key material. Protocol code never handles it;
// only key stores and Signer constructors do.
type PrivateKey []byte

func (PrivateKey) String() string { return "PrivateKey(redacted)" }

// Signature is an opaque signature.
type Signature []byte

func (s Signature) Equal(other Signature) bool { return bytes.Equal(s, other) }

// ApplicationID names an application, e.g. "iop-chat". Relations of the same
// type authorize calls for it.
type ApplicationID string

// AppMessageFrame is an opaque application payload routed between personas.
type AppMessageFrame []byte

func encodeBase64url(b []byte) string {
	s, err := multibase.Encode(multibase.Base64url, b)
	if err != nil {
		// Base64url is always registered; keep a readable fallback anyway.
		return fmt.Sprintf("%x", b)
	}
	return s
}
