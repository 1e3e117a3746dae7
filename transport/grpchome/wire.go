package grpchome

import (
	"encoding/json"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/libertaria-project/mercury-rust/protocol"
)

type idRequest struct {
	ID protocol.ProfileID `json:"id"`
}

type registerRequest struct {
	Own    protocol.OwnProfile        `json:"own"`
	Half   protocol.RelationHalfProof `json:"half"`
	Invite *protocol.HomeInvitation   `json:"invite,omitempty"`
}

type loginRequest struct {
	Proof protocol.RelationProof `json:"proof"`
}

type loginReply struct {
	Session string `json:"session"`
}

type halfProofRequest struct {
	Half protocol.RelationHalfProof `json:"half"`
}

type proofRequest struct {
	Proof protocol.RelationProof `json:"proof"`
}

type updateRequest struct {
	Own protocol.OwnProfile `json:"own"`
}

type unregisterRequest struct {
	NewHome *protocol.Profile `json:"new_home,omitempty"`
}

type pingMessage struct {
	Text string `json:"text"`
}

type checkinRequest struct {
	App protocol.ApplicationID `json:"app"`
}

// incomingCallMessage announces a call on a CheckinApp stream. The callee
// answers it by opening an Answer stream with CallID.
type incomingCallMessage struct {
	CallID      string                   `json:"call_id"`
	Relation    protocol.RelationProof   `json:"relation"`
	InitPayload protocol.AppMessageFrame `json:"init_payload,omitempty"`
	ToCaller    bool                     `json:"to_caller"`
}

// callRequest opens a Call stream.
type callRequest struct {
	App         protocol.ApplicationID   `json:"app"`
	Relation    protocol.RelationProof   `json:"relation"`
	InitPayload protocol.AppMessageFrame `json:"init_payload,omitempty"`
	ToCaller    bool                     `json:"to_caller"`
}

// callReply is the first message the server sends on a Call stream.
type callReply struct {
	Answered bool `json:"answered"`
	ToCallee bool `json:"to_callee"`
}

// answerRequest opens an Answer stream.
type answerRequest struct {
	CallID   string `json:"call_id"`
	ToCallee bool   `json:"to_callee"`
}

type empty struct{}

func encode(v interface{}) (*wrapperspb.BytesValue, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	return wrapperspb.Bytes(b), nil
}

func decode(in *wrapperspb.BytesValue, v interface{}) error {
	if err := json.Unmarshal(in.GetValue(), v); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode: %v", err)
	}
	return nil
}
