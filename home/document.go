package home

import (
	"encoding/json"

	"github.com/libertaria-project/mercury-rust/protocol"
)

// DocumentValidator returns a check for the documents a DocStore writes:
// an OwnProfile whose id matches its key, or a RelationProof signed by two
// distinct profiles. Document services use it to refuse anything else.
func DocumentValidator(v protocol.ProfileValidator) func([]byte) error {
	return func(b []byte) error {
		return validateDocument(v, b)
	}
}

func validateDocument(v protocol.ProfileValidator, b []byte) error {
	const op = "home.document"
	var shape struct {
		Profile      json.RawMessage `json:"profile"`
		RelationType *string         `json:"relation_type"`
	}
	if err := json.Unmarshal(b, &shape); err != nil {
		return protocol.WrapError(protocol.KindInvalidRequest, op, "not a JSON document", err)
	}

	switch {
	case len(shape.Profile) > 0:
		var own protocol.OwnProfile
		if err := json.Unmarshal(b, &own); err != nil {
			return protocol.WrapError(protocol.KindInvalidRequest, op, "profile document", err)
		}
		if own.Profile.ID.IsZero() {
			return protocol.NewError(protocol.KindInvalidRequest, op, "profile without id")
		}
		if _, ok := own.Profile.Persona(); !ok {
			return protocol.Errorf(protocol.KindInvalidRequest, op, "profile %s has no persona facet", own.Profile.ID)
		}
		if err := v.ValidateProfile(own.Profile.PublicKey, own.Profile.ID); err != nil {
			return protocol.WrapError(protocol.KindProfileValidationFailed, op, "profile id does not match public key", err)
		}
		return nil

	case shape.RelationType != nil:
		var proof protocol.RelationProof
		if err := json.Unmarshal(b, &proof); err != nil {
			return protocol.WrapError(protocol.KindInvalidRequest, op, "relation document", err)
		}
		if proof.RelationType == "" || proof.AID.IsZero() || proof.BID.IsZero() || proof.AID == proof.BID {
			return protocol.NewError(protocol.KindRelationValidationFailed, op, "relation proof needs a type and two distinct profiles")
		}
		if len(proof.ASignature) == 0 || len(proof.BSignature) == 0 {
			return protocol.NewError(protocol.KindRelationValidationFailed, op, "relation proof is not signed by both sides")
		}
		return nil
	}
	return protocol.NewError(protocol.KindInvalidRequest, op, "neither a profile nor a relation document")
}
