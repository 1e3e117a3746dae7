package client

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/libertaria-project/mercury-rust/protocol"
	"github.com/libertaria-project/mercury-rust/storage/kv"
)

// ErrCallMissed is returned by DAppConnect.Call when the callee was not
// checked in for the application.
var ErrCallMissed = errors.New("client: call missed")

// DAppCall is an established call: frames sent on Outgoing reach the peer,
// frames from the peer arrive on Incoming.
type DAppCall struct {
	Outgoing *protocol.AppMsgSink
	Incoming *protocol.AppMsgStream
}

// Close ends both directions.
func (c *DAppCall) Close() error {
	c.Incoming.Close()
	if c.Outgoing == nil {
		return nil
	}
	return c.Outgoing.Close()
}

// DAppEvent is either an incoming call or a completed pairing.
type DAppEvent struct {
	Call            protocol.IncomingCall
	PairingResponse *protocol.RelationProof
}

// DAppConnect is the session of one application acting for the selected
// persona. Contacts are relations whose type equals the application id, so
// the home admits calls over them.
type DAppConnect struct {
	gw      *ProfileGateway
	app     protocol.ApplicationID
	storage kv.Store
}

// NewDAppConnect binds app to the persona of gw. storage backs AppStorage.
func NewDAppConnect(gw *ProfileGateway, app protocol.ApplicationID, storage kv.Store) *DAppConnect {
	return &DAppConnect{gw: gw, app: app, storage: storage}
}

func (d *DAppConnect) SelectedProfile() protocol.ProfileID { return d.gw.ID() }

func (d *DAppConnect) App() protocol.ApplicationID { return d.app }

func (d *DAppConnect) relationType() string { return string(d.app) }

// Contacts lists the relations usable by the application.
func (d *DAppConnect) Contacts(ctx context.Context) ([]protocol.RelationProof, error) {
	all, err := d.gw.Relations(ctx)
	if err != nil {
		return nil, err
	}
	var out []protocol.RelationProof
	for _, p := range all {
		if p.AccessibleBy(d.app) {
			out = append(out, p)
		}
	}
	return out, nil
}

// ContactsWithProfile lists relations with id. An empty relationType matches
// any type.
func (d *DAppConnect) ContactsWithProfile(ctx context.Context, id protocol.ProfileID, relationType string) ([]protocol.RelationProof, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.gw.Book().WithPeer(d.gw.ID(), id, relationType)
}

// InitiateContact sends a pairing request for the application to id.
func (d *DAppConnect) InitiateContact(ctx context.Context, id protocol.ProfileID) error {
	return d.gw.PairRequest(ctx, d.relationType(), id)
}

// AppStorage returns the key-value namespace of the application.
func (d *DAppConnect) AppStorage(ctx context.Context) (kv.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return kv.NewPrefixed(d.storage, "app/"+string(d.app)+"/"), nil
}

// Call opens the application with peer. The relation is looked up locally
// before anything goes over the network. It must have the app id as its
// type, not enable_call_between, because homes admit a call only for
// relations AccessibleBy the app.
func (d *DAppConnect) Call(ctx context.Context, peer protocol.ProfileID, init protocol.AppMessageFrame) (*DAppCall, error) {
	relation, err := d.gw.FindRelation(peer, d.relationType())
	if err != nil {
		return nil, err
	}
	if _, err := d.gw.Login(ctx); err != nil {
		return nil, err
	}

	toCaller, fromCallee := protocol.NewAppMsgPipe()
	outgoing, err := d.gw.Call(ctx, relation, d.app, init, toCaller)
	if err != nil {
		fromCallee.Close()
		return nil, err
	}
	if outgoing == nil {
		fromCallee.Close()
		return nil, ErrCallMissed
	}
	return &DAppCall{Outgoing: outgoing, Incoming: fromCallee}, nil
}

// Checkin logs in and streams incoming calls for the application together
// with pairing responses, which are recorded in the relation book first.
// The stream ends when the consumer closes it or the session terminates.
func (d *DAppConnect) Checkin(ctx context.Context) (*protocol.Stream[DAppEvent], error) {
	sess, err := d.gw.Login(ctx)
	if err != nil {
		return nil, err
	}
	calls, err := sess.CheckinApp(ctx, d.app)
	if err != nil {
		return nil, err
	}
	events, err := sess.Events(ctx)
	if err != nil {
		calls.Close()
		return nil, err
	}

	sink, stream := protocol.NewPipe[DAppEvent](protocol.ChannelCapacity)
	group, gctx := errgroup.WithContext(context.Background())
	group.Go(func() error {
		select {
		case <-sink.Done():
			return protocol.ErrBrokenPipe
		case <-gctx.Done():
			return nil
		}
	})
	group.Go(func() error {
		for {
			call, err := calls.Recv(gctx)
			if err != nil {
				return err
			}
			if err := sink.Send(gctx, DAppEvent{Call: call}); err != nil {
				return err
			}
		}
	})
	group.Go(func() error {
		for {
			ev, err := events.Recv(gctx)
			if err != nil {
				return err
			}
			resp, ok := ev.(protocol.PairingResponse)
			if !ok {
				d.gw.log.Debug().Str("event", ev.EventKind()).Msg("event not forwarded to app")
				continue
			}
			if err := d.gw.RecordRelation(gctx, resp.Proof); err != nil {
				d.gw.log.Warn().Err(err).Msg("dropping invalid pairing response")
				continue
			}
			proof := resp.Proof
			if err := sink.Send(gctx, DAppEvent{PairingResponse: &proof}); err != nil {
				return err
			}
		}
	})
	go func() {
		err := group.Wait()
		calls.Close()
		events.Close()
		if err != nil && !errors.Is(err, protocol.ErrBrokenPipe) && !errors.Is(err, context.Canceled) {
			sink.Fail(err)
			return
		}
		_ = sink.Close()
	}()
	return stream, nil
}
