package protocol

import "context"

// ProfileRepo resolves profile ids. Load fails with KindLookupFailed for
// unknown ids.
type ProfileRepo interface {
	Load(ctx context.Context, id ProfileID) (Profile, error)
}

// Home is the capability set a home server offers to one authenticated
// caller. Implementations are the in-process server and transport clients.
type Home interface {
	ProfileRepo

	// Claim returns the stored OwnProfile of id to its authenticated owner.
	Claim(ctx context.Context, id ProfileID) (OwnProfile, error)

	// Register hosts own on this home by completing half, a hosted_on_home
	// half proof signed by the persona. On failure the unmodified own is
	// returned together with the error.
	Register(ctx context.Context, own OwnProfile, half RelationHalfProof, invite *HomeInvitation) (OwnProfile, error)

	// Login opens a session. A later login of the same profile terminates
	// the earlier session.
	Login(ctx context.Context, proofOfHome RelationProof) (HomeSession, error)

	// PairRequest forwards half to its peer, who must be hosted here.
	PairRequest(ctx context.Context, half RelationHalfProof) error

	// PairResponse returns a completed proof to the initiator of the pairing.
	PairResponse(ctx context.Context, proof RelationProof) error

	// Call routes a call to a profile hosted here. A nil sink with a nil
	// error means the call was missed or the callee declined a reverse channel.
	Call(ctx context.Context, app ApplicationID, details CallRequestDetails) (*AppMsgSink, error)
}

// HomeSession is the capability set of one login.
type HomeSession interface {
	Update(ctx context.Context, own OwnProfile) error

	// Unregister ends hosting and the session. Relation peers hosted on the
	// same home learn about newHome when it is given.
	Unregister(ctx context.Context, newHome *Profile) error

	Events(ctx context.Context) (*Stream[ProfileEvent], error)

	// CheckinApp subscribes to calls for app. A later checkin for the same
	// app ends the earlier stream.
	CheckinApp(ctx context.Context, app ApplicationID) (*Stream[IncomingCall], error)

	Ping(ctx context.Context, text string) (string, error)

	// Close releases the session.
	Close() error
}

// CallRequestDetails is shown to a callee before it answers.
type CallRequestDetails struct {
	Relation    RelationProof
	InitPayload AppMessageFrame
	// ToCaller is nil when the caller does not accept frames back.
	ToCaller *AppMsgSink
}

// IncomingCall is a pending call delivered through CheckinApp.
type IncomingCall interface {
	RequestDetails() CallRequestDetails

	// Answer accepts the call. toCallee may be nil to refuse frames from the
	// caller. Only the first Answer succeeds; later ones return
	// ErrCallAlreadyAnswered.
	Answer(toCallee *AppMsgSink) error
}

// HomeConnector opens a Home of a given home profile on behalf of signer.
type HomeConnector interface {
	Connect(ctx context.Context, home Profile, signer Signer) (Home, error)
}
