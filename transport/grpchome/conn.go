package grpchome

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/stats"
)

// conn is one client transport. Sessions opened over it end with it.
type conn struct {
	// Guarded by Server.mu.
	closed bool
}

type connCtxKey struct{}

func connFrom(ctx context.Context) *conn {
	c, _ := ctx.Value(connCtxKey{}).(*conn)
	return c
}

// connWatcher tags every accepted transport and terminates the sessions
// logged in over it once it ends.
type connWatcher struct {
	s *Server
}

var _ stats.Handler = connWatcher{}

// ServerOption installs the transport watcher on a gRPC server. Without it
// remote sessions end only on Logout, unregister or a newer login.
func (s *Server) ServerOption() grpc.ServerOption {
	return grpc.StatsHandler(connWatcher{s: s})
}

func (w connWatcher) TagConn(ctx context.Context, _ *stats.ConnTagInfo) context.Context {
	return context.WithValue(ctx, connCtxKey{}, &conn{})
}

func (w connWatcher) HandleConn(ctx context.Context, st stats.ConnStats) {
	if _, ok := st.(*stats.ConnEnd); !ok {
		return
	}
	if c := connFrom(ctx); c != nil {
		w.s.closeConn(c)
	}
}

func (connWatcher) TagRPC(ctx context.Context, _ *stats.RPCTagInfo) context.Context { return ctx }

func (connWatcher) HandleRPC(context.Context, stats.RPCStats) {}

// closeConn terminates every session bound to c.
func (s *Server) closeConn(c *conn) {
	s.mu.Lock()
	c.closed = true
	var ended []*remoteSession
	for token, rs := range s.sessions {
		if rs.conn == c {
			ended = append(ended, rs)
			delete(s.sessions, token)
		}
	}
	s.mu.Unlock()

	for _, rs := range ended {
		_ = rs.sess.Close()
		s.log.Debug().Str("profile", rs.owner.String()).Msg("transport closed, session terminated")
	}
}
