package client

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sasha-s/go-deadlock"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/libertaria-project/mercury-rust/keys"
	"github.com/libertaria-project/mercury-rust/logging"
	"github.com/libertaria-project/mercury-rust/protocol"
)

// ProfileGateway acts for one persona: it registers the persona on homes,
// keeps a session to its home and reaches the homes of its peers.
type ProfileGateway struct {
	signer    protocol.Signer
	repo      protocol.ProfileRepo
	connector protocol.HomeConnector
	validator protocol.Validator
	book      *RelationBook
	log       zerolog.Logger

	mu      deadlock.Mutex
	own     protocol.OwnProfile
	homes   map[protocol.ProfileID]protocol.Home
	session protocol.HomeSession
}

// NewProfileGateway builds a gateway for the persona of signer. A nil
// validator means keys.Validator.
func NewProfileGateway(signer protocol.Signer, repo protocol.ProfileRepo, connector protocol.HomeConnector,
	own protocol.OwnProfile, book *RelationBook, validator protocol.Validator) *ProfileGateway {
	if validator == nil {
		validator = keys.Validator{}
	}
	return &ProfileGateway{
		signer:    signer,
		repo:      repo,
		connector: connector,
		validator: validator,
		book:      book,
		own:       own,
		homes:     make(map[protocol.ProfileID]protocol.Home),
		log:       logging.Component("client").With().Str("profile", signer.ProfileID().String()).Logger(),
	}
}

// SetLogger replaces the component logger.
func (g *ProfileGateway) SetLogger(l zerolog.Logger) { g.log = l }

func (g *ProfileGateway) Signer() protocol.Signer { return g.signer }

func (g *ProfileGateway) ID() protocol.ProfileID { return g.signer.ProfileID() }

// Profile returns the current own profile, including proofs from Register.
func (g *ProfileGateway) Profile() protocol.OwnProfile {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.own
}

func (g *ProfileGateway) Book() *RelationBook { return g.book }

// connectHome returns a cached connection to homeID or dials it.
func (g *ProfileGateway) connectHome(ctx context.Context, homeID protocol.ProfileID) (protocol.Home, error) {
	g.mu.Lock()
	h := g.homes[homeID]
	g.mu.Unlock()
	if h != nil {
		return h, nil
	}
	profile, err := g.repo.Load(ctx, homeID)
	if err != nil {
		return nil, err
	}
	if _, ok := profile.Home(); !ok {
		return nil, protocol.Errorf(protocol.KindLookupFailed, "client.connect_home", "profile %s is not a home", homeID)
	}
	h, err = g.connector.Connect(ctx, profile, g.signer)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.homes[homeID] = h
	g.mu.Unlock()
	return h, nil
}

// firstReachable dials every home concurrently and returns the first one
// that connects.
func (g *ProfileGateway) firstReachable(ctx context.Context, op string, homeIDs []protocol.ProfileID) (protocol.Home, error) {
	if len(homeIDs) == 0 {
		return nil, protocol.NewError(protocol.KindLookupFailed, op, "profile has no home")
	}
	if len(homeIDs) == 1 {
		return g.connectHome(ctx, homeIDs[0])
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		once   sync.Once
		winner protocol.Home
		errMu  sync.Mutex
		errs   error
		group  errgroup.Group
	)
	for _, id := range homeIDs {
		id := id
		group.Go(func() error {
			h, err := g.connectHome(ctx, id)
			if err != nil {
				errMu.Lock()
				errs = multierr.Append(errs, err)
				errMu.Unlock()
				return nil
			}
			once.Do(func() {
				winner = h
				cancel()
			})
			return nil
		})
	}
	_ = group.Wait()
	if winner != nil {
		return winner, nil
	}
	return nil, protocol.WrapError(protocol.KindLookupFailed, op, "no home reachable", errs)
}

func (g *ProfileGateway) ownHome(ctx context.Context, op string) (protocol.Home, protocol.RelationProof, error) {
	own := g.Profile()
	persona, ok := own.Profile.Persona()
	if !ok || len(persona.Homes) == 0 {
		return nil, protocol.RelationProof{}, protocol.NewError(protocol.KindLookupFailed, op, "profile is not registered on a home")
	}
	proof := persona.Homes[0]
	homeID, err := proof.PeerID(g.ID())
	if err != nil {
		return nil, protocol.RelationProof{}, err
	}
	h, err := g.connectHome(ctx, homeID)
	if err != nil {
		return nil, protocol.RelationProof{}, err
	}
	return h, proof, nil
}

// Register hosts own on homeID. The gateway adopts the registered profile.
func (g *ProfileGateway) Register(ctx context.Context, homeID protocol.ProfileID, own protocol.OwnProfile, invite *protocol.HomeInvitation) (protocol.OwnProfile, error) {
	h, err := g.connectHome(ctx, homeID)
	if err != nil {
		return own, err
	}
	half := protocol.NewRelationHalfProof(protocol.RelationTypeHostedOnHome, homeID, g.signer)
	registered, err := h.Register(ctx, own, half, invite)
	if err != nil {
		return registered, err
	}
	g.mu.Lock()
	g.own = registered
	g.mu.Unlock()
	g.log.Info().Str("home", homeID.String()).Msg("registered")
	return registered, nil
}

type sessionDone interface {
	Done() <-chan struct{}
}

// Login returns the live session to the persona's home, logging in again
// when the previous session has terminated.
func (g *ProfileGateway) Login(ctx context.Context) (protocol.HomeSession, error) {
	g.mu.Lock()
	sess := g.session
	g.mu.Unlock()
	if sess != nil && !terminated(sess) {
		return sess, nil
	}

	h, proof, err := g.ownHome(ctx, "client.login")
	if err != nil {
		return nil, err
	}
	sess, err = h.Login(ctx, proof)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	prev := g.session
	g.session = sess
	g.mu.Unlock()
	if prev != nil && prev != sess {
		_ = prev.Close()
	}
	g.log.Debug().Msg("logged in")
	return sess, nil
}

func terminated(s protocol.HomeSession) bool {
	d, ok := s.(sessionDone)
	if !ok {
		return false
	}
	select {
	case <-d.Done():
		return true
	default:
		return false
	}
}

// PairRequest asks peerID to form a relation of relationType. The request
// goes to the first reachable home of the peer.
func (g *ProfileGateway) PairRequest(ctx context.Context, relationType string, peerID protocol.ProfileID) error {
	const op = "client.pair_request"
	peer, err := g.repo.Load(ctx, peerID)
	if err != nil {
		return err
	}
	h, err := g.firstReachable(ctx, op, peer.HomeIDs())
	if err != nil {
		return err
	}
	half := protocol.NewRelationHalfProof(relationType, peerID, g.signer)
	if err := h.PairRequest(ctx, half); err != nil {
		return err
	}
	g.log.Info().Str("peer", peerID.String()).Str("relation", relationType).Msg("pairing requested")
	return nil
}

// AcceptPairing completes half, returns the proof to the initiator's home
// and records the relation.
func (g *ProfileGateway) AcceptPairing(ctx context.Context, half protocol.RelationHalfProof) (protocol.RelationProof, error) {
	const op = "client.accept_pairing"
	initiator, err := g.repo.Load(ctx, half.SignerID)
	if err != nil {
		return protocol.RelationProof{}, err
	}
	if err := protocol.ValidateHalfProof(g.validator, half, initiator.PublicKey); err != nil {
		return protocol.RelationProof{}, err
	}
	proof, err := protocol.CompleteHalfProof(half, g.signer)
	if err != nil {
		return protocol.RelationProof{}, err
	}
	h, err := g.firstReachable(ctx, op, initiator.HomeIDs())
	if err != nil {
		return protocol.RelationProof{}, err
	}
	if err := h.PairResponse(ctx, proof); err != nil {
		return protocol.RelationProof{}, err
	}
	if err := g.book.Add(proof); err != nil {
		return protocol.RelationProof{}, protocol.WrapError(protocol.KindUnknown, op, "relation book", err)
	}
	g.log.Info().Str("peer", half.SignerID.String()).Str("relation", half.RelationType).Msg("pairing accepted")
	return proof, nil
}

// RecordRelation validates a proof received in a PairingResponse and adds
// it to the relation book.
func (g *ProfileGateway) RecordRelation(ctx context.Context, proof protocol.RelationProof) error {
	const op = "client.record_relation"
	peerID, err := proof.PeerID(g.ID())
	if err != nil {
		return err
	}
	peer, err := g.repo.Load(ctx, peerID)
	if err != nil {
		return err
	}
	if err := protocol.ValidateRelationProof(g.validator, proof, g.ID(), g.signer.PublicKey(), peerID, peer.PublicKey); err != nil {
		return err
	}
	if err := g.book.Add(proof); err != nil {
		return protocol.WrapError(protocol.KindUnknown, op, "relation book", err)
	}
	return nil
}

// Call asks the peer of relation to open app. The call goes to the home of
// the peer, or to the persona's own home when the peer's homes are unknown.
// A nil sink with a nil error is a missed call.
func (g *ProfileGateway) Call(ctx context.Context, relation protocol.RelationProof, app protocol.ApplicationID,
	init protocol.AppMessageFrame, toCaller *protocol.AppMsgSink) (*protocol.AppMsgSink, error) {
	const op = "client.call"
	peerID, err := relation.PeerID(g.ID())
	if err != nil {
		return nil, err
	}

	var h protocol.Home
	if peer, lerr := g.repo.Load(ctx, peerID); lerr == nil {
		h, err = g.firstReachable(ctx, op, peer.HomeIDs())
	}
	if h == nil {
		if err != nil {
			g.log.Debug().Err(err).Str("peer", peerID.String()).Msg("peer home unreachable, calling through own home")
		}
		h, _, err = g.ownHome(ctx, op)
		if err != nil {
			return nil, err
		}
	}
	return h.Call(ctx, app, protocol.CallRequestDetails{
		Relation:    relation,
		InitPayload: init,
		ToCaller:    toCaller,
	})
}

func (g *ProfileGateway) Relations(ctx context.Context) ([]protocol.RelationProof, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g.book.List(g.ID())
}

func (g *ProfileGateway) FindRelation(peer protocol.ProfileID, relationType string) (protocol.RelationProof, error) {
	return g.book.Find(g.ID(), peer, relationType)
}

// Close releases the cached session.
func (g *ProfileGateway) Close() error {
	g.mu.Lock()
	sess := g.session
	g.session = nil
	g.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.Close()
}
