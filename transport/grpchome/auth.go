package grpchome

import (
	"context"
	"strconv"
	"time"

	"github.com/multiformats/go-multibase"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/libertaria-project/mercury-rust/protocol"
)

// Metadata keys carried by every RPC.
const (
	mdProfile   = "x-mercury-profile"
	mdPublicKey = "x-mercury-public-key"
	mdTimestamp = "x-mercury-timestamp"
	mdSignature = "x-mercury-signature"
	mdSession   = "x-mercury-session"
)

// DefaultMaxSkew bounds the clock difference between caller and home.
const DefaultMaxSkew = 5 * time.Minute

// signerCredentials authenticates each RPC with a fresh signature of the
// home id and the current time.
type signerCredentials struct {
	signer protocol.Signer
	homeID protocol.ProfileID
	now    func() time.Time
}

var _ credentials.PerRPCCredentials = signerCredentials{}

func (c signerCredentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	ts := c.now().Unix()
	sig, err := multibase.Encode(multibase.Base64url, c.signer.Sign(protocol.AuthSignable(c.homeID, ts)))
	if err != nil {
		return nil, err
	}
	return map[string]string{
		mdProfile:   c.signer.ProfileID().String(),
		mdPublicKey: c.signer.PublicKey().String(),
		mdTimestamp: strconv.FormatInt(ts, 10),
		mdSignature: sig,
	}, nil
}

func (signerCredentials) RequireTransportSecurity() bool { return false }

// caller is an authenticated RPC peer.
type caller struct {
	id  protocol.ProfileID
	pub protocol.PublicKey
}

func firstValue(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

// authenticate verifies the signed metadata of an incoming RPC.
func (s *Server) authenticate(ctx context.Context) (caller, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return caller{}, status.Error(codes.Unauthenticated, "missing metadata")
	}
	id, err := protocol.ParseProfileID(firstValue(md, mdProfile))
	if err != nil {
		return caller{}, status.Error(codes.Unauthenticated, "invalid profile id")
	}
	pub, err := protocol.ParsePublicKey(firstValue(md, mdPublicKey))
	if err != nil {
		return caller{}, status.Error(codes.Unauthenticated, "invalid public key")
	}
	ts, err := strconv.ParseInt(firstValue(md, mdTimestamp), 10, 64)
	if err != nil {
		return caller{}, status.Error(codes.Unauthenticated, "invalid timestamp")
	}
	skew := s.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > s.maxSkew {
		return caller{}, status.Errorf(codes.Unauthenticated, "timestamp off by %s", skew.Round(time.Second))
	}
	_, sig, err := multibase.Decode(firstValue(md, mdSignature))
	if err != nil {
		return caller{}, status.Error(codes.Unauthenticated, "invalid signature encoding")
	}
	if err := s.validator.ValidateProfile(pub, id); err != nil {
		return caller{}, status.Error(codes.Unauthenticated, "profile id does not match public key")
	}
	if err := s.validator.ValidateSignature(pub, protocol.AuthSignable(s.home.Profile().ID, ts), sig); err != nil {
		return caller{}, status.Error(codes.Unauthenticated, "invalid request signature")
	}
	return caller{id: id, pub: pub}, nil
}

func sessionToken(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	return firstValue(md, mdSession)
}

func withSession(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, mdSession, token)
}
