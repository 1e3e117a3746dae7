package home

import (
	"context"

	"github.com/libertaria-project/mercury-rust/protocol"
)

// view is the Home seen by one authenticated caller.
type view struct {
	srv       *Server
	caller    protocol.ProfileID
	callerPub protocol.PublicKey
}

var _ protocol.Home = (*view)(nil)

func (v *view) Load(ctx context.Context, id protocol.ProfileID) (protocol.Profile, error) {
	const op = "home.load"
	if err := v.srv.checkContext(ctx, op); err != nil {
		return protocol.Profile{}, err
	}
	if id == v.srv.profile.ID {
		return v.srv.profile, nil
	}
	own, err := v.srv.store.Get(id)
	if err == nil {
		return own.Profile, nil
	}
	if v.srv.repo != nil {
		p, rerr := v.srv.repo.Load(ctx, id)
		if rerr == nil {
			return p, nil
		}
		if !protocol.IsKind(rerr, protocol.KindLookupFailed) {
			return protocol.Profile{}, rerr
		}
	}
	return protocol.Profile{}, protocol.Errorf(protocol.KindLookupFailed, op, "profile %s not found", id)
}

func (v *view) Claim(ctx context.Context, id protocol.ProfileID) (protocol.OwnProfile, error) {
	const op = "home.claim"
	if err := v.srv.checkContext(ctx, op); err != nil {
		return protocol.OwnProfile{}, err
	}
	if id != v.caller {
		return protocol.OwnProfile{}, protocol.Errorf(protocol.KindProfileValidationFailed, op, "%s cannot claim %s", v.caller, id)
	}
	return v.srv.hosted(op, id)
}

func (v *view) Register(ctx context.Context, own protocol.OwnProfile, half protocol.RelationHalfProof, invite *protocol.HomeInvitation) (protocol.OwnProfile, error) {
	const op = "home.register"
	srv := v.srv
	if err := srv.checkContext(ctx, op); err != nil {
		return own, err
	}
	id := own.Profile.ID
	if id != v.caller || !own.Profile.PublicKey.Equal(v.callerPub) {
		return own, protocol.NewError(protocol.KindProfileValidationFailed, op, "profile does not belong to the caller")
	}
	if half.RelationType != protocol.RelationTypeHostedOnHome {
		return own, protocol.Errorf(protocol.KindRelationValidationFailed, op, "relation type %q is not %q", half.RelationType, protocol.RelationTypeHostedOnHome)
	}
	if half.SignerID != id {
		return own, protocol.NewError(protocol.KindRelationValidationFailed, op, "half proof is not signed by the registering profile")
	}
	if half.PeerID != srv.profile.ID {
		return own, protocol.Errorf(protocol.KindRelationValidationFailed, op, "half proof is addressed to %s", half.PeerID)
	}
	if err := protocol.ValidateHalfProof(srv.validator, half, v.callerPub); err != nil {
		return own, err
	}
	persona, ok := own.Profile.Persona()
	if !ok {
		return own, protocol.NewError(protocol.KindInvalidRequest, op, "profile needs a persona facet")
	}

	if invite != nil || srv.inviteReq {
		if invite == nil {
			return own, protocol.NewError(protocol.KindInvalidRequest, op, "home requires an invitation")
		}
		if invite.HomeID != srv.profile.ID {
			return own, protocol.Errorf(protocol.KindInvalidRequest, op, "invitation is for home %s", invite.HomeID)
		}
		if err := protocol.ValidateInvitation(srv.validator, *invite, srv.profile.PublicKey); err != nil {
			return own, err
		}
	}

	proof, err := protocol.CompleteHalfProof(half, srv.signer)
	if err != nil {
		return own, err
	}
	homes := make([]protocol.RelationProof, 0, len(persona.Homes)+1)
	for _, p := range persona.Homes {
		if !p.Involves(srv.profile.ID) {
			homes = append(homes, p)
		}
	}
	persona.Homes = append(homes, proof)

	registered := own
	registered.Profile.Facet = persona

	srv.regMu.Lock()
	defer srv.regMu.Unlock()
	if _, err := srv.store.Get(id); err == nil {
		return own, protocol.Errorf(protocol.KindInvalidRequest, op, "profile %s is already registered", id)
	}
	if invite != nil && srv.usedVoucher[invite.Voucher] {
		return own, protocol.Errorf(protocol.KindInvalidRequest, op, "voucher %q already used", invite.Voucher)
	}
	if err := srv.store.Put(registered); err != nil {
		return own, protocol.WrapError(protocol.KindUnknown, op, "profile store", err)
	}
	if invite != nil {
		srv.usedVoucher[invite.Voucher] = true
	}
	srv.metrics.registrations.Inc()
	srv.log.Info().Str("profile", id.String()).Msg("profile registered")
	return registered, nil
}

func (v *view) Login(ctx context.Context, proofOfHome protocol.RelationProof) (protocol.HomeSession, error) {
	const op = "home.login"
	srv := v.srv
	if err := srv.checkContext(ctx, op); err != nil {
		return nil, err
	}
	if proofOfHome.RelationType != protocol.RelationTypeHostedOnHome {
		return nil, protocol.Errorf(protocol.KindRelationValidationFailed, op, "relation type %q is not %q", proofOfHome.RelationType, protocol.RelationTypeHostedOnHome)
	}
	if err := protocol.ValidateRelationProof(srv.validator, proofOfHome, v.caller, v.callerPub, srv.profile.ID, srv.profile.PublicKey); err != nil {
		return nil, err
	}
	if _, err := srv.hosted(op, v.caller); err != nil {
		return nil, err
	}
	sess, err := srv.openSession(v.caller)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (v *view) PairRequest(ctx context.Context, half protocol.RelationHalfProof) error {
	const op = "home.pair_request"
	srv := v.srv
	if err := srv.checkContext(ctx, op); err != nil {
		return err
	}
	if half.SignerID != v.caller {
		return protocol.NewError(protocol.KindRelationValidationFailed, op, "half proof is not signed by the caller")
	}
	if err := protocol.ValidateHalfProof(srv.validator, half, v.callerPub); err != nil {
		return err
	}
	if _, err := srv.hosted(op, half.PeerID); err != nil {
		return err
	}
	srv.deliver(half.PeerID, protocol.PairingRequest{HalfProof: half})
	srv.log.Debug().Str("from", v.caller.String()).Str("to", half.PeerID.String()).Str("relation", half.RelationType).Msg("pairing request")
	return nil
}

func (v *view) PairResponse(ctx context.Context, proof protocol.RelationProof) error {
	const op = "home.pair_response"
	srv := v.srv
	if err := srv.checkContext(ctx, op); err != nil {
		return err
	}
	initiator, err := proof.PeerID(v.caller)
	if err != nil {
		return err
	}
	stored, err := srv.hosted(op, initiator)
	if err != nil {
		return err
	}
	if err := protocol.ValidateRelationProof(srv.validator, proof, v.caller, v.callerPub, initiator, stored.Profile.PublicKey); err != nil {
		return err
	}
	if err := srv.store.PutRelation(proof); err != nil {
		return protocol.WrapError(protocol.KindUnknown, op, "profile store", err)
	}
	srv.deliver(initiator, protocol.PairingResponse{Proof: proof})
	srv.log.Debug().Str("from", v.caller.String()).Str("to", initiator.String()).Str("relation", proof.RelationType).Msg("pairing response")
	return nil
}

func (v *view) Call(ctx context.Context, app protocol.ApplicationID, details protocol.CallRequestDetails) (*protocol.AppMsgSink, error) {
	const op = "home.call"
	srv := v.srv
	if err := srv.checkContext(ctx, op); err != nil {
		return nil, err
	}
	proof := details.Relation
	if !proof.AccessibleBy(app) {
		srv.metrics.calls.WithLabelValues(callRejected).Inc()
		return nil, protocol.Errorf(protocol.KindRelationValidationFailed, op, "relation %q does not grant access to %q", proof.RelationType, app)
	}
	callee, err := proof.PeerID(v.caller)
	if err != nil {
		srv.metrics.calls.WithLabelValues(callRejected).Inc()
		return nil, err
	}
	stored, err := srv.hosted(op, callee)
	if err != nil {
		srv.metrics.calls.WithLabelValues(callRejected).Inc()
		return nil, err
	}
	if err := protocol.ValidateRelationProof(srv.validator, proof, v.caller, v.callerPub, callee, stored.Profile.PublicKey); err != nil {
		srv.metrics.calls.WithLabelValues(callRejected).Inc()
		return nil, err
	}
	return srv.routeCall(ctx, callee, app, details)
}
