package grpchome

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sasha-s/go-deadlock"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/libertaria-project/mercury-rust/home"
	"github.com/libertaria-project/mercury-rust/keys"
	"github.com/libertaria-project/mercury-rust/logging"
	"github.com/libertaria-project/mercury-rust/protocol"
)

// ServerOptions configure a Server. The zero value is usable.
type ServerOptions struct {
	Validator protocol.Validator
	// MaxSkew defaults to DefaultMaxSkew.
	MaxSkew time.Duration
	Now     func() time.Time
	Logger  *zerolog.Logger
}

// Server exposes a home.Server over the Home gRPC service.
type Server struct {
	UnimplementedHomeServer

	home      *home.Server
	validator protocol.Validator
	maxSkew   time.Duration
	now       func() time.Time
	log       zerolog.Logger

	mu       deadlock.Mutex
	sessions map[string]*remoteSession
	calls    map[string]*pendingCall
}

type remoteSession struct {
	owner protocol.ProfileID
	sess  protocol.HomeSession
	// conn is nil when the server runs without ServerOption.
	conn *conn
}

type pendingCall struct {
	callee protocol.ProfileID
	call   protocol.IncomingCall
}

func NewServer(h *home.Server, opts ServerOptions) *Server {
	if opts.Validator == nil {
		opts.Validator = keys.Validator{}
	}
	if opts.MaxSkew <= 0 {
		opts.MaxSkew = DefaultMaxSkew
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Server{
		home:      h,
		validator: opts.Validator,
		maxSkew:   opts.MaxSkew,
		now:       opts.Now,
		log:       logging.OrComponent(opts.Logger, "grpchome"),
		sessions:  make(map[string]*remoteSession),
		calls:     make(map[string]*pendingCall),
	}
}

// view authenticates the RPC and returns the home as seen by its caller.
func (s *Server) view(ctx context.Context) (protocol.Home, caller, error) {
	c, err := s.authenticate(ctx)
	if err != nil {
		return nil, caller{}, err
	}
	h, err := s.home.Connect(c.id, c.pub)
	if err != nil {
		return nil, caller{}, toStatus(err)
	}
	return h, c, nil
}

// session resolves the session token of the RPC. Only the profile that
// logged in may use it.
func (s *Server) session(ctx context.Context) (string, protocol.HomeSession, error) {
	c, err := s.authenticate(ctx)
	if err != nil {
		return "", nil, err
	}
	token := sessionToken(ctx)
	s.mu.Lock()
	rs := s.sessions[token]
	s.mu.Unlock()
	if rs == nil || rs.owner != c.id {
		return "", nil, toStatus(protocol.ErrSessionClosed)
	}
	return token, rs.sess, nil
}

func (s *Server) dropSession(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// ready tells a streaming client that the stream was accepted.
func ready(stream grpc.ServerStream) error {
	return stream.SendHeader(metadata.Pairs("x-mercury-ready", "1"))
}

func (s *Server) Load(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	h, _, err := s.view(ctx)
	if err != nil {
		return nil, err
	}
	var req idRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	p, err := h.Load(ctx, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(p)
}

func (s *Server) Claim(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	h, _, err := s.view(ctx)
	if err != nil {
		return nil, err
	}
	var req idRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	own, err := h.Claim(ctx, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(own)
}

func (s *Server) Register(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	h, _, err := s.view(ctx)
	if err != nil {
		return nil, err
	}
	var req registerRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	own, err := h.Register(ctx, req.Own, req.Half, req.Invite)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(own)
}

func (s *Server) Login(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	h, c, err := s.view(ctx)
	if err != nil {
		return nil, err
	}
	var req loginRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	sess, err := h.Login(ctx, req.Proof)
	if err != nil {
		return nil, toStatus(err)
	}
	token := uuid.NewString()
	tc := connFrom(ctx)
	s.mu.Lock()
	if tc != nil && tc.closed {
		s.mu.Unlock()
		_ = sess.Close()
		return nil, toStatus(protocol.ErrSessionClosed)
	}
	s.sessions[token] = &remoteSession{owner: c.id, sess: sess, conn: tc}
	s.mu.Unlock()
	if d, ok := sess.(interface{ Done() <-chan struct{} }); ok {
		go func() {
			<-d.Done()
			s.dropSession(token)
		}()
	}
	s.log.Debug().Str("profile", c.id.String()).Msg("remote login")
	return encode(loginReply{Session: token})
}

func (s *Server) Logout(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	token, sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	s.dropSession(token)
	if err := sess.Close(); err != nil {
		return nil, toStatus(err)
	}
	return encode(empty{})
}

func (s *Server) PairRequest(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	h, _, err := s.view(ctx)
	if err != nil {
		return nil, err
	}
	var req halfProofRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := h.PairRequest(ctx, req.Half); err != nil {
		return nil, toStatus(err)
	}
	return encode(empty{})
}

func (s *Server) PairResponse(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	h, _, err := s.view(ctx)
	if err != nil {
		return nil, err
	}
	var req proofRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := h.PairResponse(ctx, req.Proof); err != nil {
		return nil, toStatus(err)
	}
	return encode(empty{})
}

func (s *Server) Update(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	_, sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	var req updateRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := sess.Update(ctx, req.Own); err != nil {
		return nil, toStatus(err)
	}
	return encode(empty{})
}

func (s *Server) Unregister(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	token, sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	var req unregisterRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := sess.Unregister(ctx, req.NewHome); err != nil {
		return nil, toStatus(err)
	}
	s.dropSession(token)
	return encode(empty{})
}

func (s *Server) Ping(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	_, sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	var req pingMessage
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	text, err := sess.Ping(ctx, req.Text)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(pingMessage{Text: text})
}

// streamEnd maps the end of a pipe to the status a stream handler returns.
func streamEnd(ctx context.Context, err error) error {
	if errors.Is(err, io.EOF) || ctx.Err() != nil {
		return nil
	}
	return toStatus(err)
}

func (s *Server) Events(in *wrapperspb.BytesValue, stream grpc.ServerStream) error {
	ctx := stream.Context()
	_, sess, err := s.session(ctx)
	if err != nil {
		return err
	}
	events, err := sess.Events(ctx)
	if err != nil {
		return toStatus(err)
	}
	defer events.Close()
	if err := ready(stream); err != nil {
		return err
	}
	for {
		ev, err := events.Recv(ctx)
		if err != nil {
			return streamEnd(ctx, err)
		}
		b, err := protocol.MarshalEvent(ev)
		if err != nil {
			return toStatus(err)
		}
		if err := stream.SendMsg(wrapperspb.Bytes(b)); err != nil {
			return err
		}
	}
}

func (s *Server) CheckinApp(in *wrapperspb.BytesValue, stream grpc.ServerStream) error {
	ctx := stream.Context()
	_, sess, err := s.session(ctx)
	if err != nil {
		return err
	}
	c, _ := s.authenticate(ctx)
	var req checkinRequest
	if err := decode(in, &req); err != nil {
		return err
	}
	calls, err := sess.CheckinApp(ctx, req.App)
	if err != nil {
		return toStatus(err)
	}
	defer calls.Close()

	var issued []string
	defer func() {
		s.mu.Lock()
		for _, id := range issued {
			delete(s.calls, id)
		}
		s.mu.Unlock()
	}()

	if err := ready(stream); err != nil {
		return err
	}
	for {
		call, err := calls.Recv(ctx)
		if err != nil {
			return streamEnd(ctx, err)
		}
		id := uuid.NewString()
		s.mu.Lock()
		s.calls[id] = &pendingCall{callee: c.id, call: call}
		s.mu.Unlock()
		issued = append(issued, id)

		details := call.RequestDetails()
		out, err := encode(incomingCallMessage{
			CallID:      id,
			Relation:    details.Relation,
			InitPayload: details.InitPayload,
			ToCaller:    details.ToCaller != nil,
		})
		if err != nil {
			return err
		}
		if err := stream.SendMsg(out); err != nil {
			return err
		}
	}
}

// frameStream is the message half of a grpc.ServerStream or grpc.ClientStream.
type frameStream interface {
	SendMsg(m interface{}) error
	RecvMsg(m interface{}) error
}

// recvFrames forwards frames arriving on stream into sink until the peer
// half-closes. A nil sink discards them.
func recvFrames(ctx context.Context, stream frameStream, sink *protocol.AppMsgSink) error {
	for {
		in := new(wrapperspb.BytesValue)
		if err := stream.RecvMsg(in); err != nil {
			if sink != nil {
				_ = sink.Close()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if sink == nil {
			continue
		}
		if err := sink.Send(ctx, protocol.AppMessageFrame(in.GetValue())); err != nil {
			return nil
		}
	}
}

// sendFrames forwards frames from src onto stream until src ends.
func sendFrames(ctx context.Context, stream frameStream, src *protocol.AppMsgStream) error {
	if src == nil {
		return nil
	}
	defer src.Close()
	for {
		frame, err := src.Recv(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return toStatus(err)
		}
		if err := stream.SendMsg(wrapperspb.Bytes(frame)); err != nil {
			return err
		}
	}
}

func (s *Server) Call(stream grpc.ServerStream) error {
	ctx := stream.Context()
	h, _, err := s.view(ctx)
	if err != nil {
		return err
	}
	first := new(wrapperspb.BytesValue)
	if err := stream.RecvMsg(first); err != nil {
		return err
	}
	var req callRequest
	if err := decode(first, &req); err != nil {
		return err
	}

	var toCaller *protocol.AppMsgSink
	var fromCallee *protocol.AppMsgStream
	if req.ToCaller {
		toCaller, fromCallee = protocol.NewAppMsgPipe()
	}
	toCallee, err := h.Call(ctx, req.App, protocol.CallRequestDetails{
		Relation:    req.Relation,
		InitPayload: req.InitPayload,
		ToCaller:    toCaller,
	})
	if err != nil {
		return toStatus(err)
	}
	reply, err := encode(callReply{Answered: toCallee != nil, ToCallee: toCallee != nil})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(reply); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return recvFrames(gctx, stream, toCallee) })
	g.Go(func() error { return sendFrames(gctx, stream, fromCallee) })
	return g.Wait()
}

func (s *Server) Answer(stream grpc.ServerStream) error {
	ctx := stream.Context()
	c, err := s.authenticate(ctx)
	if err != nil {
		return err
	}
	first := new(wrapperspb.BytesValue)
	if err := stream.RecvMsg(first); err != nil {
		return err
	}
	var req answerRequest
	if err := decode(first, &req); err != nil {
		return err
	}

	s.mu.Lock()
	pc := s.calls[req.CallID]
	if pc != nil && pc.callee == c.id {
		delete(s.calls, req.CallID)
	}
	s.mu.Unlock()
	if pc == nil || pc.callee != c.id {
		return toStatus(protocol.Errorf(protocol.KindLookupFailed, "grpchome.answer", "no pending call %q", req.CallID))
	}

	var toCallee *protocol.AppMsgSink
	var fromCaller *protocol.AppMsgStream
	if req.ToCallee {
		toCallee, fromCaller = protocol.NewAppMsgPipe()
	}
	if err := pc.call.Answer(toCallee); err != nil {
		return toStatus(err)
	}
	ack, err := encode(empty{})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(ack); err != nil {
		return err
	}

	toCaller := pc.call.RequestDetails().ToCaller
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return recvFrames(gctx, stream, toCaller) })
	g.Go(func() error { return sendFrames(gctx, stream, fromCaller) })
	return g.Wait()
}
