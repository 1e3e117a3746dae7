package grpchome

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/libertaria-project/mercury-rust/protocol"
)

var kindCodes = map[protocol.Kind]codes.Code{
	protocol.KindLookupFailed:             codes.NotFound,
	protocol.KindRelationSigningFailed:    codes.FailedPrecondition,
	protocol.KindRelationValidationFailed: codes.PermissionDenied,
	protocol.KindProfileValidationFailed:  codes.Unauthenticated,
	protocol.KindPeerIDRetrievalFailed:    codes.InvalidArgument,
	protocol.KindSessionClosed:            codes.Aborted,
	protocol.KindInvalidRequest:           codes.InvalidArgument,
	protocol.KindUnknown:                  codes.Unknown,
}

// codeKinds is the fallback when a status carries no kind detail.
var codeKinds = map[codes.Code]protocol.Kind{
	codes.NotFound:           protocol.KindLookupFailed,
	codes.FailedPrecondition: protocol.KindRelationSigningFailed,
	codes.PermissionDenied:   protocol.KindRelationValidationFailed,
	codes.Unauthenticated:    protocol.KindProfileValidationFailed,
	codes.Aborted:            protocol.KindSessionClosed,
	codes.InvalidArgument:    protocol.KindInvalidRequest,
}

const (
	callAlreadyAnsweredDetail = "call_already_answered"
	brokenPipeDetail          = "broken_pipe"
)

// toStatus converts an error of the home into a gRPC status. The protocol
// Kind travels as a StringValue detail so both ends agree on it exactly.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, protocol.ErrCallAlreadyAnswered):
		return withDetail(codes.FailedPrecondition, err.Error(), callAlreadyAnsweredDetail)
	case errors.Is(err, protocol.ErrBrokenPipe):
		return withDetail(codes.Unavailable, err.Error(), brokenPipeDetail)
	}
	kind := protocol.KindOf(err)
	code, ok := kindCodes[kind]
	if !ok {
		code = codes.Unknown
	}
	return withDetail(code, err.Error(), string(kind))
}

func withDetail(code codes.Code, msg, detail string) error {
	st := status.New(code, msg)
	if withKind, err := st.WithDetails(wrapperspb.String(detail)); err == nil {
		st = withKind
	}
	return st.Err()
}

// fromStatus converts a gRPC error back into the protocol taxonomy.
// Transport failures without a kind surface as KindUnknown.
func fromStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return protocol.WrapError(protocol.KindUnknown, op, "transport", err)
	}
	switch st.Code() {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}
	for _, d := range st.Details() {
		s, ok := d.(*wrapperspb.StringValue)
		if !ok {
			continue
		}
		switch s.GetValue() {
		case callAlreadyAnsweredDetail:
			return protocol.ErrCallAlreadyAnswered
		case brokenPipeDetail:
			return protocol.ErrBrokenPipe
		}
		if _, known := kindCodes[protocol.Kind(s.GetValue())]; known {
			return &protocol.Error{Kind: protocol.Kind(s.GetValue()), Op: op, Message: st.Message()}
		}
	}
	kind, ok := codeKinds[st.Code()]
	if !ok {
		kind = protocol.KindUnknown
	}
	return &protocol.Error{Kind: kind, Op: op, Message: st.Message(), Cause: err}
}
