package grpchome_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/libertaria-project/mercury-rust/home"
	"github.com/libertaria-project/mercury-rust/keys"
	"github.com/libertaria-project/mercury-rust/protocol"
	"github.com/libertaria-project/mercury-rust/transport/grpchome"
)

func signerFor(t *testing.T, b byte) protocol.Signer {
	t.Helper()
	seed := make([]byte, keys.SeedSize)
	for i := range seed {
		seed[i] = b
	}
	s, err := keys.NewEd25519Signer(seed)
	require.NoError(t, err)
	return s
}

type env struct {
	srv *home.Server
	lis *bufconn.Listener
}

func startHome(t *testing.T, opts grpchome.ServerOptions) *env {
	t.Helper()
	s := signerFor(t, 100)
	srv, err := home.New(protocol.NewHomeProfile(s.ProfileID(), s.PublicKey(), "bufnet"), s, home.Options{})
	require.NoError(t, err)

	lis := bufconn.Listen(1024 * 1024)
	hs := grpchome.NewServer(srv, opts)
	gs := grpc.NewServer(hs.ServerOption())
	grpchome.RegisterHomeServer(gs, hs)
	go func() {
		_ = gs.Serve(lis)
	}()
	t.Cleanup(func() {
		gs.Stop()
		_ = srv.Close()
	})
	return &env{srv: srv, lis: lis}
}

func (e *env) dial(t *testing.T, s protocol.Signer, now func() time.Time) *grpchome.Client {
	t.Helper()
	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return e.lis.DialContext(ctx) }
	c, err := grpchome.Dial("bufnet", e.srv.Profile(), s, grpchome.DialOptions{
		Now:   now,
		Extra: []grpc.DialOption{grpc.WithContextDialer(dialer)},
	})
	require.NoError(t, err)
	c.Timeout = 5 * time.Second
	t.Cleanup(func() { _ = c.Close() })
	return c
}

type persona struct {
	signer protocol.Signer
	client *grpchome.Client
	proof  protocol.RelationProof
}

func (e *env) register(t *testing.T, b byte) *persona {
	t.Helper()
	s := signerFor(t, b)
	c := e.dial(t, s, nil)
	own := protocol.NewOwnProfile(protocol.NewPersonaProfile(s.ProfileID(), s.PublicKey(), nil), nil)
	half := protocol.NewRelationHalfProof(protocol.RelationTypeHostedOnHome, e.srv.Profile().ID, s)
	registered, err := c.Register(context.Background(), own, half, nil)
	require.NoError(t, err)
	facet, ok := registered.Profile.Persona()
	require.True(t, ok)
	require.Len(t, facet.Homes, 1)
	return &persona{signer: s, client: c, proof: facet.Homes[0]}
}

func (p *persona) login(t *testing.T) protocol.HomeSession {
	t.Helper()
	sess, err := p.client.Login(context.Background(), p.proof)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func pairProof(t *testing.T, relationType string, from, to protocol.Signer) protocol.RelationProof {
	t.Helper()
	half := protocol.NewRelationHalfProof(relationType, to.ProfileID(), from)
	proof, err := protocol.CompleteHalfProof(half, to)
	require.NoError(t, err)
	return proof
}

func recvWithin[T any](t *testing.T, s *protocol.Stream[T]) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := s.Recv(ctx)
	require.NoError(t, err)
	return v
}

func TestRegisterLoginPing(t *testing.T) {
	e := startHome(t, grpchome.ServerOptions{})
	p := e.register(t, 1)
	sess := p.login(t)

	got, err := sess.Ping(context.Background(), "dummy_ping")
	require.NoError(t, err)
	assert.Equal(t, "dummy_ping", got)

	loaded, err := p.client.Load(context.Background(), p.signer.ProfileID())
	require.NoError(t, err)
	assert.Equal(t, p.signer.ProfileID(), loaded.ID)

	homeProfile, err := p.client.Load(context.Background(), e.srv.Profile().ID)
	require.NoError(t, err)
	_, ok := homeProfile.Home()
	assert.True(t, ok)
}

func TestRegisterTwiceReturnsOriginalProfile(t *testing.T) {
	e := startHome(t, grpchome.ServerOptions{})
	p := e.register(t, 1)

	own := protocol.NewOwnProfile(protocol.NewPersonaProfile(p.signer.ProfileID(), p.signer.PublicKey(), []byte("v2")), nil)
	half := protocol.NewRelationHalfProof(protocol.RelationTypeHostedOnHome, e.srv.Profile().ID, p.signer)
	got, err := p.client.Register(context.Background(), own, half, nil)
	assert.True(t, protocol.IsKind(err, protocol.KindInvalidRequest), "got %v", err)
	assert.Equal(t, own, got)
}

func TestLoadUnknownProfile(t *testing.T) {
	e := startHome(t, grpchome.ServerOptions{})
	c := e.dial(t, signerFor(t, 1), nil)
	_, err := c.Load(context.Background(), signerFor(t, 9).ProfileID())
	assert.True(t, protocol.IsKind(err, protocol.KindLookupFailed), "got %v", err)
}

func TestRejectsStaleSignature(t *testing.T) {
	e := startHome(t, grpchome.ServerOptions{})
	stale := func() time.Time { return time.Now().Add(-time.Hour) }
	c := e.dial(t, signerFor(t, 1), stale)
	_, err := c.Load(context.Background(), e.srv.Profile().ID)
	assert.True(t, protocol.IsKind(err, protocol.KindProfileValidationFailed), "got %v", err)
}

func TestSessionClosedAfterLogout(t *testing.T) {
	e := startHome(t, grpchome.ServerOptions{})
	p := e.register(t, 1)
	sess, err := p.client.Login(context.Background(), p.proof)
	require.NoError(t, err)
	require.NoError(t, sess.Close())

	_, err = sess.Ping(context.Background(), "x")
	assert.True(t, protocol.IsKind(err, protocol.KindSessionClosed), "got %v", err)
	assert.Equal(t, 0, e.srv.SessionCount())
}

func TestSupersedingLoginEndsRemoteSession(t *testing.T) {
	e := startHome(t, grpchome.ServerOptions{})
	p := e.register(t, 1)
	first := p.login(t)
	events, err := first.Events(context.Background())
	require.NoError(t, err)

	second := p.login(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = events.Recv(ctx)
	assert.True(t, protocol.IsKind(err, protocol.KindSessionClosed), "got %v", err)

	_, err = first.Ping(context.Background(), "x")
	assert.True(t, protocol.IsKind(err, protocol.KindSessionClosed), "got %v", err)
	got, err := second.Ping(context.Background(), "y")
	require.NoError(t, err)
	assert.Equal(t, "y", got)
}

func TestOfflinePairingRequestDeliveredOnLogin(t *testing.T) {
	e := startHome(t, grpchome.ServerOptions{})
	bob := e.register(t, 2)
	alice := e.dial(t, signerFor(t, 1), nil)

	half := protocol.NewRelationHalfProof("chat", bob.signer.ProfileID(), signerFor(t, 1))
	require.NoError(t, alice.PairRequest(context.Background(), half))

	events, err := bob.login(t).Events(context.Background())
	require.NoError(t, err)
	ev := recvWithin(t, events)
	req, ok := ev.(protocol.PairingRequest)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, half, req.HalfProof)
}

func TestCallWithoutCheckinIsMissed(t *testing.T) {
	e := startHome(t, grpchome.ServerOptions{})
	bob := e.register(t, 2)
	aliceSigner := signerFor(t, 1)
	alice := e.dial(t, aliceSigner, nil)

	proof := pairProof(t, "chat", aliceSigner, bob.signer)
	sink, err := alice.Call(context.Background(), "chat", protocol.CallRequestDetails{Relation: proof})
	require.NoError(t, err)
	assert.Nil(t, sink)
}

func TestCallForOtherAppIsRejected(t *testing.T) {
	e := startHome(t, grpchome.ServerOptions{})
	bob := e.register(t, 2)
	aliceSigner := signerFor(t, 1)
	alice := e.dial(t, aliceSigner, nil)

	proof := pairProof(t, "chat", aliceSigner, bob.signer)
	_, err := alice.Call(context.Background(), "video", protocol.CallRequestDetails{Relation: proof})
	assert.True(t, protocol.IsKind(err, protocol.KindRelationValidationFailed), "got %v", err)
}

func TestCallAnsweredWithFramesBothWays(t *testing.T) {
	e := startHome(t, grpchome.ServerOptions{})
	bob := e.register(t, 2)
	aliceSigner := signerFor(t, 1)
	alice := e.dial(t, aliceSigner, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	calls, err := bob.login(t).CheckinApp(ctx, "chat")
	require.NoError(t, err)

	toCallee, fromCaller := protocol.NewAppMsgPipe()
	answered := make(chan error, 1)
	go func() {
		call, err := calls.Recv(ctx)
		if err != nil {
			answered <- err
			return
		}
		details := call.RequestDetails()
		if string(details.InitPayload) != "hello" || details.ToCaller == nil {
			answered <- assert.AnError
			return
		}
		if err := call.Answer(toCallee); err != nil {
			answered <- err
			return
		}
		answered <- call.Answer(nil)
		_ = details.ToCaller.Send(ctx, protocol.AppMessageFrame("hi alice"))
	}()

	toCaller, fromCallee := protocol.NewAppMsgPipe()
	sink, err := alice.Call(ctx, "chat", protocol.CallRequestDetails{
		Relation:    pairProof(t, "chat", aliceSigner, bob.signer),
		InitPayload: protocol.AppMessageFrame("hello"),
		ToCaller:    toCaller,
	})
	require.NoError(t, err)
	require.NotNil(t, sink)
	assert.ErrorIs(t, <-answered, protocol.ErrCallAlreadyAnswered)

	require.NoError(t, sink.Send(ctx, protocol.AppMessageFrame("hi bob")))
	assert.Equal(t, protocol.AppMessageFrame("hi bob"), recvWithin(t, fromCaller))
	assert.Equal(t, protocol.AppMessageFrame("hi alice"), recvWithin(t, fromCallee))
	fromCallee.Close()
	require.NoError(t, sink.Close())
}
