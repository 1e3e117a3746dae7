package protocol

import (
	"strconv"

	"github.com/multiformats/go-varint"
)

const (
	relationSignTag   = "mercury/relation/v1"
	invitationSignTag = "mercury/invitation/v1"
	authSignTag       = "mercury/auth/v1"
)

// RelationSignable returns the canonical bytes a party signs to state that
// signer wants a relation of relationType with peer.
//
// Fields are encoded as unsigned-varint length prefix + bytes after a domain
// tag, so no field boundary is ambiguous.
func RelationSignable(relationType string, signer, peer ProfileID) []byte {
	return signable(relationSignTag, []byte(relationType), signer.Bytes(), peer.Bytes())
}

// InvitationSignable returns the bytes a home signs when minting an invitation.
func InvitationSignable(homeID ProfileID, voucher string) []byte {
	return signable(invitationSignTag, homeID.Bytes(), []byte(voucher))
}

// AuthSignable returns the bytes a caller signs to authenticate to homeID at
// unixTime.
func AuthSignable(homeID ProfileID, unixTime int64) []byte {
	return signable(authSignTag, homeID.Bytes(), []byte(strconv.FormatInt(unixTime, 10)))
}

func signable(tag string, fields ...[]byte) []byte {
	n := len(tag)
	for _, f := range fields {
		n += varint.UvarintSize(uint64(len(f))) + len(f)
	}
	out := make([]byte, 0, n)
	out = append(out, tag...)
	for _, f := range fields {
		out = append(out, varint.ToUvarint(uint64(len(f)))...)
		out = append(out, f...)
	}
	return out
}
