package grpccas

import (
	"context"
	"fmt"
	"time"

	"github.com/ipfs/go-cid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/libertaria-project/mercury-rust/storage"
)

// Client reads and writes the profile documents of a remote Documents
// service. It implements storage.CAS so a home can keep its DocStore there.
type Client struct {
	cc  *grpc.ClientConn
	rpc DocumentsClient

	// Timeout bounds each storage.CAS call when non-zero. The Context
	// methods use the caller's context instead.
	Timeout time.Duration
}

var _ storage.CAS = (*Client)(nil)

type DialOptions struct {
	// Timeout, when non-zero, makes Dial wait until the service is reachable.
	Timeout time.Duration

	// MaxMsgBytes caps documents in both directions when non-zero.
	MaxMsgBytes int

	Extra []grpc.DialOption
}

func (o DialOptions) grpcOptions() []grpc.DialOption {
	out := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if o.MaxMsgBytes > 0 {
		out = append(out, grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(o.MaxMsgBytes),
			grpc.MaxCallSendMsgSize(o.MaxMsgBytes),
		))
	}
	return append(out, o.Extra...)
}

// Dial creates a client for target. Without a Timeout the connection is
// made by the first call.
func Dial(target string, opts DialOptions) (*Client, error) {
	cc, err := grpc.NewClient(target, opts.grpcOptions()...)
	if err != nil {
		return nil, fmt.Errorf("grpccas: %s: %w", target, err)
	}
	if opts.Timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
		defer cancel()
		if err := awaitReady(ctx, cc); err != nil {
			_ = cc.Close()
			return nil, fmt.Errorf("grpccas: %s: %w", target, err)
		}
	}
	return &Client{cc: cc, rpc: NewDocumentsClient(cc)}, nil
}

func awaitReady(ctx context.Context, cc *grpc.ClientConn) error {
	cc.Connect()
	for {
		state := cc.GetState()
		if state == connectivity.Ready {
			return nil
		}
		if !cc.WaitForStateChange(ctx, state) {
			return fmt.Errorf("not ready (%s): %w", state, ctx.Err())
		}
	}
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

// PutContext stores doc and returns its CID. A CID other than the locally
// computed one is ErrCIDMismatch; a document the service refuses is
// ErrRejected.
func (c *Client) PutContext(ctx context.Context, doc []byte) (cid.Cid, error) {
	want, err := storage.CIDFor(doc)
	if err != nil {
		return cid.Undef, err
	}
	reply, err := c.rpc.Put(ctx, wrapperspb.Bytes(doc))
	if err != nil {
		return cid.Undef, fromStatus(err)
	}
	if reply.GetValue() != want.String() {
		return cid.Undef, storage.ErrCIDMismatch
	}
	return want, nil
}

// GetContext fetches the document named by id and checks it hashes to id.
func (c *Client) GetContext(ctx context.Context, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	reply, err := c.rpc.Get(ctx, wrapperspb.String(id.String()))
	if err != nil {
		return nil, fromStatus(err)
	}
	if err := verify(id.String(), reply.GetValue()); err != nil {
		return nil, err
	}
	return reply.GetValue(), nil
}

func (c *Client) HasContext(ctx context.Context, id cid.Cid) (bool, error) {
	if !id.Defined() {
		return false, nil
	}
	reply, err := c.rpc.Has(ctx, wrapperspb.String(id.String()))
	if err != nil {
		return false, fromStatus(err)
	}
	return reply.GetValue(), nil
}

func (c *Client) Put(doc []byte) (cid.Cid, error) {
	ctx, cancel := c.callContext()
	defer cancel()
	return c.PutContext(ctx, doc)
}

func (c *Client) Get(id cid.Cid) ([]byte, error) {
	ctx, cancel := c.callContext()
	defer cancel()
	return c.GetContext(ctx, id)
}

// Has reports false on any transport failure.
func (c *Client) Has(id cid.Cid) bool {
	ctx, cancel := c.callContext()
	defer cancel()
	ok, err := c.HasContext(ctx, id)
	return err == nil && ok
}

func (c *Client) callContext() (context.Context, context.CancelFunc) {
	if c.Timeout > 0 {
		return context.WithTimeout(context.Background(), c.Timeout)
	}
	return context.WithCancel(context.Background())
}
