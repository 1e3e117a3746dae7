package grpchome

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/sasha-s/go-deadlock"
	"go.uber.org/multierr"

	"github.com/libertaria-project/mercury-rust/logging"
	"github.com/libertaria-project/mercury-rust/protocol"
)

// Connector dials homes by the addresses in their home facet. Clients are
// reused per home and signer.
type Connector struct {
	opts DialOptions
	log  zerolog.Logger

	mu      deadlock.Mutex
	clients map[connKey]*Client
}

type connKey struct {
	home   protocol.ProfileID
	signer protocol.ProfileID
}

var _ protocol.HomeConnector = (*Connector)(nil)

func NewConnector(opts DialOptions, logger *zerolog.Logger) *Connector {
	return &Connector{
		opts:    opts,
		log:     logging.OrComponent(logger, "grpchome"),
		clients: make(map[connKey]*Client),
	}
}

func (c *Connector) Connect(ctx context.Context, home protocol.Profile, signer protocol.Signer) (protocol.Home, error) {
	const op = "grpchome.connect"
	if err := ctx.Err(); err != nil {
		return nil, protocol.WrapError(protocol.KindUnknown, op, "request cancelled", err)
	}
	facet, ok := home.Home()
	if !ok || len(facet.Addrs) == 0 {
		return nil, protocol.Errorf(protocol.KindLookupFailed, op, "profile %s has no home address", home.ID)
	}
	key := connKey{home: home.ID, signer: signer.ProfileID()}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cl := c.clients[key]; cl != nil {
		return cl, nil
	}
	var errs error
	for _, addr := range facet.Addrs {
		cl, err := Dial(addr, home, signer, c.opts)
		if err != nil {
			c.log.Debug().Err(err).Str("addr", addr).Msg("dial failed")
			errs = multierr.Append(errs, err)
			continue
		}
		c.clients[key] = cl
		return cl, nil
	}
	return nil, protocol.WrapError(protocol.KindLookupFailed, op, "no reachable address for "+home.ID.String(), errs)
}

func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs error
	for key, cl := range c.clients {
		errs = multierr.Append(errs, cl.Close())
		delete(c.clients, key)
	}
	return errs
}
