package grpchome

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/libertaria-project/mercury-rust/protocol"
)

// Client implements protocol.Home over the Home gRPC service on behalf of
// one signer.
type Client struct {
	cc   *grpc.ClientConn
	rpc  HomeClient
	home protocol.Profile

	// Timeout applies per unary RPC when non-zero.
	Timeout time.Duration
}

var _ protocol.Home = (*Client)(nil)

type DialOptions struct {
	// Timeout applies to the initial dial when non-zero.
	Timeout time.Duration

	// MaxMsgBytes sets both send/recv max sizes when non-zero.
	MaxMsgBytes int

	// Now stamps request signatures. Defaults to time.Now.
	Now func() time.Time

	// Extra is appended to the dial options, e.g. a custom dialer.
	Extra []grpc.DialOption
}

// Dial connects to the home described by homeProfile at target. Every RPC is
// signed by signer.
func Dial(target string, homeProfile protocol.Profile, signer protocol.Signer, opts DialOptions) (*Client, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(signerCredentials{signer: signer, homeID: homeProfile.ID, now: now}),
	}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts,
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
				grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
			),
		)
	}
	dialOpts = append(dialOpts, opts.Extra...)

	ctx := context.Background()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cc, err := grpc.DialContext(ctx, target, dialOpts...)
	if err != nil {
		return nil, protocol.WrapError(protocol.KindLookupFailed, "grpchome.dial", target, err)
	}
	return &Client{cc: cc, rpc: NewHomeClient(cc), home: homeProfile}, nil
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

// HomeProfile returns the profile of the home this client talks to.
func (c *Client) HomeProfile() protocol.Profile { return c.home }

func (c *Client) unary(ctx context.Context, name, token string, req, out interface{}) error {
	op := "grpchome." + name
	in, err := encode(req)
	if err != nil {
		return fromStatus(op, err)
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	if token != "" {
		ctx = withSession(ctx, token)
	}
	reply, err := c.rpc.Unary(ctx, name, in)
	if err != nil {
		return fromStatus(op, err)
	}
	if out == nil {
		return nil
	}
	return fromStatus(op, decode(reply, out))
}

func (c *Client) Load(ctx context.Context, id protocol.ProfileID) (protocol.Profile, error) {
	var p protocol.Profile
	if err := c.unary(ctx, "Load", "", idRequest{ID: id}, &p); err != nil {
		return protocol.Profile{}, err
	}
	return p, nil
}

func (c *Client) Claim(ctx context.Context, id protocol.ProfileID) (protocol.OwnProfile, error) {
	var own protocol.OwnProfile
	if err := c.unary(ctx, "Claim", "", idRequest{ID: id}, &own); err != nil {
		return protocol.OwnProfile{}, err
	}
	return own, nil
}

func (c *Client) Register(ctx context.Context, own protocol.OwnProfile, half protocol.RelationHalfProof, invite *protocol.HomeInvitation) (protocol.OwnProfile, error) {
	var registered protocol.OwnProfile
	if err := c.unary(ctx, "Register", "", registerRequest{Own: own, Half: half, Invite: invite}, &registered); err != nil {
		return own, err
	}
	return registered, nil
}

func (c *Client) Login(ctx context.Context, proofOfHome protocol.RelationProof) (protocol.HomeSession, error) {
	var reply loginReply
	if err := c.unary(ctx, "Login", "", loginRequest{Proof: proofOfHome}, &reply); err != nil {
		return nil, err
	}
	return &session{c: c, token: reply.Session, done: make(chan struct{})}, nil
}

func (c *Client) PairRequest(ctx context.Context, half protocol.RelationHalfProof) error {
	return c.unary(ctx, "PairRequest", "", halfProofRequest{Half: half}, nil)
}

func (c *Client) PairResponse(ctx context.Context, proof protocol.RelationProof) error {
	return c.unary(ctx, "PairResponse", "", proofRequest{Proof: proof}, nil)
}

// Call opens a Call stream. The stream outlives ctx once the callee has
// answered; it ends when both directions are closed, or when the consumer of
// details.ToCaller goes away.
func (c *Client) Call(ctx context.Context, app protocol.ApplicationID, details protocol.CallRequestDetails) (*protocol.AppMsgSink, error) {
	const op = "grpchome.Call"
	sctx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)

	reply, cs, err := c.openCall(sctx, app, details)
	stop()
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fromStatus(op, err)
	}

	var toCallee *protocol.AppMsgSink
	var outgoing *protocol.AppMsgStream
	if reply.ToCallee {
		toCallee, outgoing = protocol.NewAppMsgPipe()
	}
	if details.ToCaller != nil {
		go func() {
			select {
			case <-details.ToCaller.Done():
				cancel()
			case <-sctx.Done():
			}
		}()
	}
	go func() {
		defer cancel()
		var g errgroup.Group
		g.Go(func() error { return recvFrames(sctx, cs, details.ToCaller) })
		g.Go(func() error {
			err := sendFrames(sctx, cs, outgoing)
			_ = cs.CloseSend()
			return err
		})
		_ = g.Wait()
	}()
	return toCallee, nil
}

func (c *Client) openCall(ctx context.Context, app protocol.ApplicationID, details protocol.CallRequestDetails) (callReply, grpc.ClientStream, error) {
	var reply callReply
	cs, err := c.rpc.Call(ctx)
	if err != nil {
		return reply, nil, err
	}
	first, err := encode(callRequest{
		App:         app,
		Relation:    details.Relation,
		InitPayload: details.InitPayload,
		ToCaller:    details.ToCaller != nil,
	})
	if err != nil {
		return reply, nil, err
	}
	if err := cs.SendMsg(first); err != nil {
		return reply, nil, recvStatus(cs, err)
	}
	in := new(wrapperspb.BytesValue)
	if err := cs.RecvMsg(in); err != nil {
		return reply, nil, err
	}
	if err := decode(in, &reply); err != nil {
		return reply, nil, err
	}
	return reply, cs, nil
}

// recvStatus returns the real status of a stream whose SendMsg failed with
// io.EOF.
func recvStatus(cs grpc.ClientStream, err error) error {
	if !errors.Is(err, io.EOF) {
		return err
	}
	if rerr := cs.RecvMsg(new(wrapperspb.BytesValue)); rerr != nil {
		return rerr
	}
	return err
}

// awaitReady blocks until the server accepted a server stream and returns
// its status otherwise.
func awaitReady(cs grpc.ClientStream) error {
	md, err := cs.Header()
	if err != nil {
		return err
	}
	if len(md.Get("x-mercury-ready")) > 0 {
		return nil
	}
	if err := cs.RecvMsg(new(wrapperspb.BytesValue)); err != nil {
		return err
	}
	return protocol.NewError(protocol.KindUnknown, "grpchome.stream", "stream opened without ready header")
}

// session is a remote HomeSession identified by its token.
type session struct {
	c     *Client
	token string

	done     chan struct{}
	doneOnce sync.Once
}

var _ protocol.HomeSession = (*session)(nil)

// Done is closed once the session is known to be over.
func (s *session) Done() <-chan struct{} { return s.done }

func (s *session) end() { s.doneOnce.Do(func() { close(s.done) }) }

func (s *session) check(err error) error {
	if protocol.IsKind(err, protocol.KindSessionClosed) {
		s.end()
	}
	return err
}

func (s *session) Update(ctx context.Context, own protocol.OwnProfile) error {
	return s.check(s.c.unary(ctx, "Update", s.token, updateRequest{Own: own}, nil))
}

func (s *session) Unregister(ctx context.Context, newHome *protocol.Profile) error {
	if err := s.c.unary(ctx, "Unregister", s.token, unregisterRequest{NewHome: newHome}, nil); err != nil {
		return s.check(err)
	}
	s.end()
	return nil
}

func (s *session) Ping(ctx context.Context, text string) (string, error) {
	var reply pingMessage
	if err := s.c.unary(ctx, "Ping", s.token, pingMessage{Text: text}, &reply); err != nil {
		return "", s.check(err)
	}
	return reply.Text, nil
}

func (s *session) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	err := s.c.unary(context.Background(), "Logout", s.token, empty{}, nil)
	s.end()
	if protocol.IsKind(err, protocol.KindSessionClosed) {
		return nil
	}
	return err
}

// openStream starts a server stream bound to the session. The stream is
// cancelled by the returned func, not by ctx.
func (s *session) openStream(ctx context.Context, op string, open func(context.Context, *wrapperspb.BytesValue, ...grpc.CallOption) (grpc.ClientStream, error), req interface{}) (context.Context, context.CancelFunc, grpc.ClientStream, error) {
	in, err := encode(req)
	if err != nil {
		return nil, nil, nil, fromStatus(op, err)
	}
	sctx, cancel := context.WithCancel(withSession(context.Background(), s.token))
	stop := context.AfterFunc(ctx, cancel)
	cs, err := open(sctx, in)
	if err == nil {
		err = awaitReady(cs)
	}
	stop()
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, nil, nil, ctx.Err()
		}
		return nil, nil, nil, s.check(fromStatus(op, err))
	}
	return sctx, cancel, cs, nil
}

// streamErr maps the end of a server stream. Local cancellation and a clean
// end both close the pipe without error.
func (s *session) streamErr(ctx context.Context, op string, err error) error {
	if errors.Is(err, io.EOF) || ctx.Err() != nil {
		return nil
	}
	return s.check(fromStatus(op, err))
}

func (s *session) Events(ctx context.Context) (*protocol.Stream[protocol.ProfileEvent], error) {
	const op = "grpchome.Events"
	sctx, cancel, cs, err := s.openStream(ctx, op, s.c.rpc.Events, empty{})
	if err != nil {
		return nil, err
	}
	sink, stream := protocol.NewPipe[protocol.ProfileEvent](protocol.ChannelCapacity)
	go cancelOnDone(sctx, sink.Done(), cancel)
	go func() {
		defer cancel()
		for {
			in := new(wrapperspb.BytesValue)
			if err := cs.RecvMsg(in); err != nil {
				sink.Fail(s.streamErr(sctx, op, err))
				return
			}
			ev, err := protocol.UnmarshalEvent(in.GetValue())
			if err != nil {
				sink.Fail(protocol.WrapError(protocol.KindUnknown, op, "decode event", err))
				return
			}
			if err := sink.Send(sctx, ev); err != nil {
				return
			}
		}
	}()
	return stream, nil
}

func (s *session) CheckinApp(ctx context.Context, app protocol.ApplicationID) (*protocol.Stream[protocol.IncomingCall], error) {
	const op = "grpchome.CheckinApp"
	sctx, cancel, cs, err := s.openStream(ctx, op, s.c.rpc.CheckinApp, checkinRequest{App: app})
	if err != nil {
		return nil, err
	}
	sink, stream := protocol.NewPipe[protocol.IncomingCall](protocol.ChannelCapacity)
	go cancelOnDone(sctx, sink.Done(), cancel)
	go func() {
		defer cancel()
		for {
			in := new(wrapperspb.BytesValue)
			if err := cs.RecvMsg(in); err != nil {
				sink.Fail(s.streamErr(sctx, op, err))
				return
			}
			var msg incomingCallMessage
			if err := decode(in, &msg); err != nil {
				sink.Fail(fromStatus(op, err))
				return
			}
			if err := sink.Send(sctx, newRemoteCall(s.c, msg)); err != nil {
				return
			}
		}
	}()
	return stream, nil
}

func cancelOnDone(ctx context.Context, done <-chan struct{}, cancel context.CancelFunc) {
	select {
	case <-done:
		cancel()
	case <-ctx.Done():
	}
}

// remoteCall is an incoming call announced on a CheckinApp stream.
type remoteCall struct {
	c        *Client
	msg      incomingCallMessage
	details  protocol.CallRequestDetails
	toCaller *protocol.AppMsgStream
	answered atomic.Bool
}

func newRemoteCall(c *Client, msg incomingCallMessage) *remoteCall {
	rc := &remoteCall{
		c:   c,
		msg: msg,
		details: protocol.CallRequestDetails{
			Relation:    msg.Relation,
			InitPayload: msg.InitPayload,
		},
	}
	if msg.ToCaller {
		rc.details.ToCaller, rc.toCaller = protocol.NewAppMsgPipe()
	}
	return rc
}

func (rc *remoteCall) RequestDetails() protocol.CallRequestDetails { return rc.details }

func (rc *remoteCall) Answer(toCallee *protocol.AppMsgSink) error {
	const op = "grpchome.Answer"
	if !rc.answered.CompareAndSwap(false, true) {
		return protocol.ErrCallAlreadyAnswered
	}
	ctx, cancel := context.WithCancel(context.Background())
	cs, err := rc.open(ctx, toCallee != nil)
	if err != nil {
		cancel()
		return fromStatus(op, err)
	}
	go func() {
		defer cancel()
		var g errgroup.Group
		g.Go(func() error { return recvFrames(ctx, cs, toCallee) })
		g.Go(func() error {
			err := sendFrames(ctx, cs, rc.toCaller)
			_ = cs.CloseSend()
			return err
		})
		_ = g.Wait()
	}()
	return nil
}

func (rc *remoteCall) open(ctx context.Context, toCallee bool) (grpc.ClientStream, error) {
	cs, err := rc.c.rpc.Answer(ctx)
	if err != nil {
		return nil, err
	}
	first, err := encode(answerRequest{CallID: rc.msg.CallID, ToCallee: toCallee})
	if err != nil {
		return nil, err
	}
	if err := cs.SendMsg(first); err != nil {
		return nil, recvStatus(cs, err)
	}
	if err := cs.RecvMsg(new(wrapperspb.BytesValue)); err != nil {
		return nil, err
	}
	return cs, nil
}
