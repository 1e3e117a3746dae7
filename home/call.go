package home

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/libertaria-project/mercury-rust/protocol"
)

// incomingCall is handed to the callee through its checkin stream. The
// caller waits on reply until it gives up the call.
type incomingCall struct {
	details  protocol.CallRequestDetails
	reply    chan *protocol.AppMsgSink
	answered atomic.Bool

	mu        sync.Mutex
	abandoned bool
}

func (c *incomingCall) RequestDetails() protocol.CallRequestDetails { return c.details }

// Answer fails with protocol.ErrBrokenPipe once the caller stopped waiting.
func (c *incomingCall) Answer(toCallee *protocol.AppMsgSink) error {
	if !c.answered.CompareAndSwap(false, true) {
		return protocol.ErrCallAlreadyAnswered
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.abandoned {
		return protocol.ErrBrokenPipe
	}
	c.reply <- toCallee
	return nil
}

// abandon stops waiting for an answer. ok reports an answer given before.
func (c *incomingCall) abandon() (toCallee *protocol.AppMsgSink, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case toCallee = <-c.reply:
		return toCallee, true
	default:
	}
	c.abandoned = true
	return nil, false
}

// routeCall offers details to the checkin of callee for app and waits for
// the answer. A callee that is not checked in, drops its stream or loses its
// session misses the call: nil, nil.
func (s *Server) routeCall(ctx context.Context, callee protocol.ProfileID, app protocol.ApplicationID, details protocol.CallRequestDetails) (*protocol.AppMsgSink, error) {
	s.mu.Lock()
	sess := s.sessions[callee]
	s.mu.Unlock()

	var sink *protocol.Sink[protocol.IncomingCall]
	if sess != nil {
		sink = sess.checkin(app)
	}
	log := s.log.With().Str("callee", callee.String()).Str("app", string(app)).Logger()
	if sink == nil {
		s.metrics.calls.WithLabelValues(callMissed).Inc()
		log.Debug().Msg("call missed, callee not checked in")
		closeToCaller(details)
		return nil, nil
	}

	call := &incomingCall{details: details, reply: make(chan *protocol.AppMsgSink, 1)}
	if err := sink.Send(ctx, call); err != nil {
		if ctx.Err() != nil {
			closeToCaller(details)
			return nil, protocol.WrapError(protocol.KindUnknown, "home.call", "request cancelled", ctx.Err())
		}
		s.metrics.calls.WithLabelValues(callMissed).Inc()
		log.Debug().Err(err).Msg("call missed, checkin stream gone")
		closeToCaller(details)
		return nil, nil
	}

	var cancelled bool
	select {
	case toCallee := <-call.reply:
		s.metrics.calls.WithLabelValues(callAnswered).Inc()
		log.Debug().Bool("reverse_channel", toCallee != nil).Msg("call answered")
		return toCallee, nil
	case <-sess.done:
	case <-sink.Done():
	case <-ctx.Done():
		cancelled = true
	}
	toCallee, answered := call.abandon()
	switch {
	case cancelled:
		if toCallee != nil {
			_ = toCallee.Close()
		}
		closeToCaller(details)
		return nil, protocol.WrapError(protocol.KindUnknown, "home.call", "request cancelled", ctx.Err())
	case answered:
		// The callee answered just as its stream went away.
		s.metrics.calls.WithLabelValues(callAnswered).Inc()
		return toCallee, nil
	}
	s.metrics.calls.WithLabelValues(callMissed).Inc()
	log.Debug().Msg("call missed, callee went away")
	closeToCaller(details)
	return nil, nil
}

// closeToCaller ends the reverse channel of a call that was not connected.
func closeToCaller(details protocol.CallRequestDetails) {
	if details.ToCaller != nil {
		_ = details.ToCaller.Close()
	}
}
