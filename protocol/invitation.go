package protocol

// HomeInvitation permits one registration on the home that signed it.
type HomeInvitation struct {
	HomeID    ProfileID `json:"home_id"`
	Voucher   string    `json:"voucher"`
	Signature Signature `json:"signature"`
}

// NewHomeInvitation signs voucher with the home's signer.
func NewHomeInvitation(home Signer, voucher string) HomeInvitation {
	id := home.ProfileID()
	return HomeInvitation{
		HomeID:    id,
		Voucher:   voucher,
		Signature: home.Sign(InvitationSignable(id, voucher)),
	}
}

// ValidateInvitation checks that inv was signed by the home owning homePub.
func ValidateInvitation(v Validator, inv HomeInvitation, homePub PublicKey) error {
	const op = "protocol.validate_invitation"
	if inv.Voucher == "" {
		return NewError(KindInvalidRequest, op, "empty voucher")
	}
	if err := v.ValidateProfile(homePub, inv.HomeID); err != nil {
		return WrapError(KindProfileValidationFailed, op, "home id does not match public key", err)
	}
	if err := v.ValidateSignature(homePub, InvitationSignable(inv.HomeID, inv.Voucher), inv.Signature); err != nil {
		return WrapError(KindRelationValidationFailed, op, "invalid invitation signature", err)
	}
	return nil
}
