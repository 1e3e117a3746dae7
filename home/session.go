package home

import (
	"context"
	"sync"

	"github.com/libertaria-project/mercury-rust/protocol"
)

// session is one login of a hosted profile. It is Active until terminate
// runs, after which every operation fails with protocol.ErrSessionClosed.
type session struct {
	srv   *Server
	id    protocol.ProfileID
	token string

	// ctx is cancelled on terminate and bounds the event pump.
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wakeCh chan struct{}
	pumpMu sync.Mutex

	// Guarded by srv.mu.
	terminated bool
	outbox     []protocol.ProfileEvent
	events     *protocol.Sink[protocol.ProfileEvent]
	checkins   map[protocol.ApplicationID]*protocol.Sink[protocol.IncomingCall]
}

var _ protocol.HomeSession = (*session)(nil)

// Token identifies the session to transports.
func (s *session) Token() string { return s.token }

// ProfileID is the profile that logged in.
func (s *session) ProfileID() protocol.ProfileID { return s.id }

// Done is closed when the session terminates.
func (s *session) Done() <-chan struct{} { return s.done }

func (s *session) active(op string) error {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()
	if s.terminated {
		return &protocol.Error{Kind: protocol.KindSessionClosed, Op: op, Message: "session closed"}
	}
	return nil
}

func (s *session) Update(ctx context.Context, own protocol.OwnProfile) error {
	const op = "home.session.update"
	if err := s.srv.checkContext(ctx, op); err != nil {
		return err
	}
	if err := s.active(op); err != nil {
		return err
	}
	if own.Profile.ID != s.id {
		return protocol.Errorf(protocol.KindInvalidRequest, op, "profile %s cannot update %s", s.id, own.Profile.ID)
	}
	stored, err := s.srv.hosted(op, s.id)
	if err != nil {
		return err
	}
	if !own.Profile.PublicKey.Equal(stored.Profile.PublicKey) {
		return protocol.NewError(protocol.KindProfileValidationFailed, op, "public key cannot change")
	}
	persona, ok := own.Profile.Persona()
	if !ok {
		return protocol.NewError(protocol.KindInvalidRequest, op, "profile needs a persona facet")
	}
	storedPersona, _ := stored.Profile.Persona()
	persona.Homes = mergeHomeProofs(persona.Homes, storedPersona.Homes)
	own.Profile.Facet = persona

	if err := s.srv.store.Put(own); err != nil {
		return protocol.WrapError(protocol.KindUnknown, op, "profile store", err)
	}
	return nil
}

// mergeHomeProofs keeps every stored proof the update left out.
func mergeHomeProofs(updated, stored []protocol.RelationProof) []protocol.RelationProof {
	out := append([]protocol.RelationProof(nil), updated...)
	for _, old := range stored {
		found := false
		for _, p := range updated {
			if p.Equal(old) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, old)
		}
	}
	return out
}

func (s *session) Unregister(ctx context.Context, newHome *protocol.Profile) error {
	const op = "home.session.unregister"
	if err := s.srv.checkContext(ctx, op); err != nil {
		return err
	}
	if err := s.active(op); err != nil {
		return err
	}
	relations, err := s.srv.store.Relations(s.id)
	if err != nil {
		return protocol.WrapError(protocol.KindUnknown, op, "profile store", err)
	}
	if err := s.srv.store.Delete(s.id); err != nil {
		return protocol.WrapError(protocol.KindUnknown, op, "profile store", err)
	}

	s.srv.mu.Lock()
	delete(s.srv.pending, s.id)
	s.srv.mu.Unlock()

	if newHome != nil {
		notified := make(map[protocol.ProfileID]bool)
		for _, proof := range relations {
			peer, err := proof.PeerID(s.id)
			if err != nil || notified[peer] {
				continue
			}
			// Peers hosted elsewhere are not contacted.
			if _, err := s.srv.store.Get(peer); err != nil {
				continue
			}
			notified[peer] = true
			s.srv.deliver(peer, protocol.ProfileRelocated{ProfileID: s.id, NewHome: newHome})
		}
	}
	s.srv.log.Info().Str("profile", s.id.String()).Bool("relocated", newHome != nil).Msg("profile unregistered")
	s.terminateWith("unregistered", true)
	return nil
}

// Events subscribes to profile events. Events queued while the profile had
// no subscription are delivered first. A new subscription ends the previous
// stream.
func (s *session) Events(ctx context.Context) (*protocol.Stream[protocol.ProfileEvent], error) {
	const op = "home.session.events"
	if err := s.srv.checkContext(ctx, op); err != nil {
		return nil, err
	}
	sink, stream := protocol.NewPipe[protocol.ProfileEvent](s.srv.capacity)

	s.srv.mu.Lock()
	if s.terminated {
		s.srv.mu.Unlock()
		return nil, &protocol.Error{Kind: protocol.KindSessionClosed, Op: op, Message: "session closed"}
	}
	prev := s.events
	s.events = sink
	s.srv.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	go s.pump(sink)
	return stream, nil
}

func (s *session) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// next pops the oldest queued event for sink. ok is false once sink is no
// longer the session's subscription.
func (s *session) next(sink *protocol.Sink[protocol.ProfileEvent]) (ev protocol.ProfileEvent, ok bool) {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()
	if s.terminated || s.events != sink {
		return nil, false
	}
	if len(s.outbox) == 0 {
		return nil, true
	}
	ev = s.outbox[0]
	s.outbox = s.outbox[1:]
	return ev, true
}

// requeue puts back an event the consumer did not take.
func (s *session) requeue(ev protocol.ProfileEvent) {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()
	if s.terminated {
		s.srv.requeueLocked(s.id, []protocol.ProfileEvent{ev})
		return
	}
	s.outbox = append([]protocol.ProfileEvent{ev}, s.outbox...)
}

// pump moves events from the outbox into sink, suspending while the pipe is
// full. One pump runs at a time per session so events keep their order
// across resubscriptions.
func (s *session) pump(sink *protocol.Sink[protocol.ProfileEvent]) {
	s.pumpMu.Lock()
	defer s.pumpMu.Unlock()
	for {
		ev, ok := s.next(sink)
		if !ok {
			return
		}
		if ev == nil {
			select {
			case <-s.wakeCh:
				continue
			case <-s.done:
				return
			case <-sink.Done():
				return
			}
		}
		if err := sink.Send(s.ctx, ev); err != nil {
			s.requeue(ev)
			return
		}
		s.srv.metrics.eventsDelivered.Inc()
	}
}

// CheckinApp subscribes to calls for app, replacing an earlier checkin.
func (s *session) CheckinApp(ctx context.Context, app protocol.ApplicationID) (*protocol.Stream[protocol.IncomingCall], error) {
	const op = "home.session.checkin_app"
	if err := s.srv.checkContext(ctx, op); err != nil {
		return nil, err
	}
	if app == "" {
		return nil, protocol.NewError(protocol.KindInvalidRequest, op, "empty application id")
	}
	sink, stream := protocol.NewPipe[protocol.IncomingCall](s.srv.capacity)

	s.srv.mu.Lock()
	if s.terminated {
		s.srv.mu.Unlock()
		return nil, &protocol.Error{Kind: protocol.KindSessionClosed, Op: op, Message: "session closed"}
	}
	prev := s.checkins[app]
	s.checkins[app] = sink
	s.srv.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	s.srv.log.Debug().Str("profile", s.id.String()).Str("app", string(app)).Msg("app checked in")
	return stream, nil
}

func (s *session) checkin(app protocol.ApplicationID) *protocol.Sink[protocol.IncomingCall] {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()
	if s.terminated {
		return nil
	}
	return s.checkins[app]
}

func (s *session) Ping(ctx context.Context, text string) (string, error) {
	const op = "home.session.ping"
	if err := s.srv.checkContext(ctx, op); err != nil {
		return "", err
	}
	if err := s.active(op); err != nil {
		return "", err
	}
	return text, nil
}

// Close ends the session.
func (s *session) Close() error {
	s.terminate("closed by client")
	return nil
}

func (s *session) terminate(reason string) { s.terminateWith(reason, false) }

// terminateWith moves the session to Terminated. Undelivered events go back
// to the home so the next login receives them, unless dropEvents is set.
func (s *session) terminateWith(reason string, dropEvents bool) {
	srv := s.srv
	srv.mu.Lock()
	if s.terminated {
		srv.mu.Unlock()
		return
	}
	s.terminated = true
	if srv.sessions[s.id] == s {
		delete(srv.sessions, s.id)
	}
	if !dropEvents {
		srv.requeueLocked(s.id, s.outbox)
	}
	s.outbox = nil
	events := s.events
	checkins := make([]*protocol.Sink[protocol.IncomingCall], 0, len(s.checkins))
	for _, c := range s.checkins {
		checkins = append(checkins, c)
	}
	srv.mu.Unlock()

	close(s.done)
	s.cancel()
	if events != nil {
		events.Fail(protocol.ErrSessionClosed)
	}
	for _, c := range checkins {
		c.Fail(protocol.ErrSessionClosed)
	}
	srv.metrics.activeSessions.Dec()
	srv.log.Info().Str("profile", s.id.String()).Str("session", s.token).Str("reason", reason).Msg("session terminated")
}

// requeueLocked hands undelivered events of id to its current session, or
// puts them in front of the offline queue. srv.mu must be held.
func (srv *Server) requeueLocked(id protocol.ProfileID, evs []protocol.ProfileEvent) {
	if len(evs) == 0 {
		return
	}
	if next := srv.sessions[id]; next != nil && !next.terminated {
		next.outbox = append(append([]protocol.ProfileEvent(nil), evs...), next.outbox...)
		next.wake()
		return
	}
	srv.pending[id] = append(append([]protocol.ProfileEvent(nil), evs...), srv.pending[id]...)
}
