package grpchome

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/libertaria-project/mercury-rust/home"
	"github.com/libertaria-project/mercury-rust/keys"
	"github.com/libertaria-project/mercury-rust/protocol"
)

type connEnv struct {
	home *home.Server
	lis  *bufconn.Listener
}

func newConnEnv(t *testing.T) *connEnv {
	t.Helper()
	hs := testSigner(t, 100)
	srv, err := home.New(protocol.NewHomeProfile(hs.ProfileID(), hs.PublicKey(), "bufnet"), hs, home.Options{})
	if err != nil {
		t.Fatalf("home.New: %v", err)
	}
	lis := bufconn.Listen(1 << 20)
	s := NewServer(srv, ServerOptions{})
	gs := grpc.NewServer(s.ServerOption())
	RegisterHomeServer(gs, s)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(func() {
		gs.Stop()
		_ = srv.Close()
	})
	return &connEnv{home: srv, lis: lis}
}

func testSigner(t *testing.T, b byte) protocol.Signer {
	t.Helper()
	s, err := keys.NewEd25519Signer(bytes.Repeat([]byte{b}, keys.SeedSize))
	if err != nil {
		t.Fatalf("NewEd25519Signer: %v", err)
	}
	return s
}

func (e *connEnv) dial(t *testing.T, s protocol.Signer) *Client {
	t.Helper()
	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return e.lis.DialContext(ctx) }
	c, err := Dial("bufnet", e.home.Profile(), s, DialOptions{Extra: []grpc.DialOption{grpc.WithContextDialer(dialer)}})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	c.Timeout = 5 * time.Second
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// register hosts s on the home and returns its proof of home.
func (e *connEnv) register(t *testing.T, c *Client, s protocol.Signer) protocol.RelationProof {
	t.Helper()
	own := protocol.NewOwnProfile(protocol.NewPersonaProfile(s.ProfileID(), s.PublicKey(), nil), nil)
	half := protocol.NewRelationHalfProof(protocol.RelationTypeHostedOnHome, e.home.Profile().ID, s)
	registered, err := c.Register(context.Background(), own, half, nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	facet, _ := registered.Profile.Persona()
	if len(facet.Homes) != 1 {
		t.Fatalf("got %d home proofs, want 1", len(facet.Homes))
	}
	return facet.Homes[0]
}

func waitSessions(t *testing.T, h *home.Server, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for h.SessionCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("SessionCount = %d, want %d", h.SessionCount(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTransportCloseTerminatesSession(t *testing.T) {
	e := newConnEnv(t)
	alice := testSigner(t, 1)
	c := e.dial(t, alice)
	proof := e.register(t, c, alice)

	sess, err := c.Login(context.Background(), proof)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := sess.Events(context.Background()); err != nil {
		t.Fatalf("Events: %v", err)
	}
	waitSessions(t, e.home, 1)
	token := sess.(*session).token

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	waitSessions(t, e.home, 0)

	// The old token is dead even on a fresh transport of the same profile.
	stale := &session{c: e.dial(t, alice), token: token, done: make(chan struct{})}
	if _, err := stale.Ping(context.Background(), "x"); !protocol.IsKind(err, protocol.KindSessionClosed) {
		t.Fatalf("Ping with old token: got %v, want SessionClosed", err)
	}
}

func TestEventsQueuedWhileDisconnected(t *testing.T) {
	e := newConnEnv(t)
	alice, bob := testSigner(t, 1), testSigner(t, 2)
	ca := e.dial(t, alice)
	proof := e.register(t, ca, alice)
	cb := e.dial(t, bob)
	e.register(t, cb, bob)

	if _, err := ca.Login(context.Background(), proof); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := ca.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	waitSessions(t, e.home, 0)

	half := protocol.NewRelationHalfProof("chat", alice.ProfileID(), bob)
	if err := cb.PairRequest(context.Background(), half); err != nil {
		t.Fatalf("PairRequest: %v", err)
	}

	sess, err := e.dial(t, alice).Login(context.Background(), proof)
	if err != nil {
		t.Fatalf("second Login: %v", err)
	}
	defer sess.Close()
	events, err := sess.Events(context.Background())
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ev, err := events.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	req, ok := ev.(protocol.PairingRequest)
	if !ok {
		t.Fatalf("got %T, want PairingRequest", ev)
	}
	if req.HalfProof.SignerID != bob.ProfileID() {
		t.Fatalf("pairing request from %s, want %s", req.HalfProof.SignerID, bob.ProfileID())
	}
}
