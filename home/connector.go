package home

import (
	"context"

	"github.com/sasha-s/go-deadlock"

	"github.com/libertaria-project/mercury-rust/protocol"
)

// LocalConnector connects personas to homes running in the same process.
type LocalConnector struct {
	mu    deadlock.RWMutex
	homes map[protocol.ProfileID]*Server
}

var _ protocol.HomeConnector = (*LocalConnector)(nil)

func NewLocalConnector(homes ...*Server) *LocalConnector {
	c := &LocalConnector{homes: make(map[protocol.ProfileID]*Server)}
	for _, h := range homes {
		c.Add(h)
	}
	return c
}

func (c *LocalConnector) Add(h *Server) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.homes[h.Profile().ID] = h
}

// Connect authenticates signer to the home of profile home.
func (c *LocalConnector) Connect(ctx context.Context, home protocol.Profile, signer protocol.Signer) (protocol.Home, error) {
	const op = "home.local_connect"
	if err := ctx.Err(); err != nil {
		return nil, protocol.WrapError(protocol.KindUnknown, op, "request cancelled", err)
	}
	c.mu.RLock()
	srv := c.homes[home.ID]
	c.mu.RUnlock()
	if srv == nil {
		return nil, protocol.Errorf(protocol.KindLookupFailed, op, "home %s is not reachable", home.ID)
	}
	return srv.Connect(signer.ProfileID(), signer.PublicKey())
}

// Load resolves home profiles and the profiles they host, so the connector
// also serves as a ProfileRepo for tests and single-process setups.
func (c *LocalConnector) Load(ctx context.Context, id protocol.ProfileID) (protocol.Profile, error) {
	c.mu.RLock()
	homes := make([]*Server, 0, len(c.homes))
	for _, h := range c.homes {
		homes = append(homes, h)
	}
	c.mu.RUnlock()
	for _, h := range homes {
		if h.Profile().ID == id {
			return h.Profile(), nil
		}
		if own, err := h.store.Get(id); err == nil {
			return own.Profile, nil
		}
	}
	return protocol.Profile{}, protocol.Errorf(protocol.KindLookupFailed, "home.local_load", "profile %s not found", id)
}
