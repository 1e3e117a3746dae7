package home

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sasha-s/go-deadlock"

	"github.com/libertaria-project/mercury-rust/logging"
	"github.com/libertaria-project/mercury-rust/protocol"
	"github.com/libertaria-project/mercury-rust/storage"
)

// Server is an in-process home. Transports expose it to remote personas by
// calling Connect for each authenticated caller.
type Server struct {
	profile   protocol.Profile
	signer    protocol.Signer
	validator protocol.Validator
	store     ProfileStore
	repo      protocol.ProfileRepo
	capacity  int
	inviteReq bool
	metrics   *metrics
	log       zerolog.Logger

	// regMu serializes registrations from the existence check to the store
	// write, and guards usedVoucher.
	regMu       deadlock.Mutex
	usedVoucher map[string]bool

	// mu guards every table below. No pipe send happens while it is held.
	mu       deadlock.Mutex
	sessions map[protocol.ProfileID]*session
	pending  map[protocol.ProfileID][]protocol.ProfileEvent
	closed   bool
}

// New creates a home for profile, which must carry a HomeFacet and belong to
// signer.
func New(profile protocol.Profile, signer protocol.Signer, opts Options) (*Server, error) {
	opts = opts.withDefaults()
	if _, ok := profile.Home(); !ok {
		return nil, protocol.NewError(protocol.KindInvalidRequest, "home.new", "home profile needs a home facet")
	}
	if profile.ID != signer.ProfileID() || !profile.PublicKey.Equal(signer.PublicKey()) {
		return nil, protocol.NewError(protocol.KindProfileValidationFailed, "home.new", "home profile does not belong to signer")
	}
	if err := opts.Validator.ValidateProfile(profile.PublicKey, profile.ID); err != nil {
		return nil, protocol.WrapError(protocol.KindProfileValidationFailed, "home.new", "home id does not match public key", err)
	}
	s := &Server{
		profile:     profile,
		signer:      signer,
		validator:   opts.Validator,
		store:       opts.Store,
		repo:        opts.Repo,
		capacity:    opts.ChannelCapacity,
		inviteReq:   opts.RequireInvitation,
		metrics:     newMetrics(opts.Registerer),
		log:         logging.OrComponent(opts.Logger, "home"),
		sessions:    make(map[protocol.ProfileID]*session),
		pending:     make(map[protocol.ProfileID][]protocol.ProfileEvent),
		usedVoucher: make(map[string]bool),
	}
	s.log = s.log.With().Str("home", profile.ID.String()).Logger()
	return s, nil
}

// Profile returns the public profile of the home.
func (s *Server) Profile() protocol.Profile { return s.profile }

// Connect returns the Home view for an authenticated caller. The caller id
// must derive from callerPub.
func (s *Server) Connect(callerID protocol.ProfileID, callerPub protocol.PublicKey) (protocol.Home, error) {
	if err := s.validator.ValidateProfile(callerPub, callerID); err != nil {
		return nil, protocol.WrapError(protocol.KindProfileValidationFailed, "home.connect", "caller id does not match public key", err)
	}
	return &view{srv: s, caller: callerID, callerPub: callerPub}, nil
}

// Invite mints an invitation for one registration. An empty voucher gets a
// random one.
func (s *Server) Invite(voucher string) (protocol.HomeInvitation, error) {
	if voucher == "" {
		voucher = uuid.NewString()
	}
	s.regMu.Lock()
	used := s.usedVoucher[voucher]
	s.regMu.Unlock()
	if used {
		return protocol.HomeInvitation{}, protocol.Errorf(protocol.KindInvalidRequest, "home.invite", "voucher %q already used", voucher)
	}
	return protocol.NewHomeInvitation(s.signer, voucher), nil
}

// Close terminates every session. Later logins fail with SessionClosed.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.terminate("home closed")
	}
	return nil
}

// SessionCount reports the number of active sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// hosted returns the stored profile of id, or LookupFailed.
func (s *Server) hosted(op string, id protocol.ProfileID) (protocol.OwnProfile, error) {
	own, err := s.store.Get(id)
	if err != nil {
		if storage.IsNotFound(err) {
			return protocol.OwnProfile{}, protocol.Errorf(protocol.KindLookupFailed, op, "profile %s is not hosted here", id)
		}
		return protocol.OwnProfile{}, protocol.WrapError(protocol.KindUnknown, op, "profile store", err)
	}
	return own, nil
}

// deliver hands ev to the active session of to, or queues it until the next
// login. It never blocks on the consumer.
func (s *Server) deliver(to protocol.ProfileID, ev protocol.ProfileEvent) {
	s.mu.Lock()
	sess := s.sessions[to]
	if sess == nil {
		s.pending[to] = append(s.pending[to], ev)
		s.mu.Unlock()
		s.metrics.eventsQueued.Inc()
		s.log.Debug().Str("profile", to.String()).Str("event", ev.EventKind()).Msg("event queued for offline profile")
		return
	}
	sess.outbox = append(sess.outbox, ev)
	s.mu.Unlock()
	sess.wake()
}

// openSession registers a new session for id and terminates the previous one.
func (s *Server) openSession(id protocol.ProfileID) (*session, error) {
	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		srv:      s,
		id:       id,
		token:    uuid.NewString(),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		wakeCh:   make(chan struct{}, 1),
		checkins: make(map[protocol.ApplicationID]*protocol.Sink[protocol.IncomingCall]),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil, protocol.ErrSessionClosed
	}
	prev := s.sessions[id]
	s.sessions[id] = sess
	sess.outbox = s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()

	if prev != nil {
		prev.terminate("superseded by a new login")
	}
	s.metrics.logins.Inc()
	s.metrics.activeSessions.Inc()
	s.log.Info().Str("profile", id.String()).Str("session", sess.token).Msg("session opened")
	return sess, nil
}

func (s *Server) checkContext(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return protocol.WrapError(protocol.KindUnknown, op, "request cancelled", err)
	}
	return nil
}

func (s *Server) String() string { return fmt.Sprintf("home(%s)", s.profile.ID) }
