package protocol

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ChannelCapacity is the default buffer size of event, checkin and
// application message pipes.
const ChannelCapacity = 1

// ErrBrokenPipe is returned by Sink.Send once the consumer has closed.
var ErrBrokenPipe = errors.New("protocol: broken pipe")

// NewPipe returns the two ends of a bounded FIFO pipe.
//
// Send suspends while capacity items are buffered. After the Stream is
// closed, buffered items stay receivable and Send fails with ErrBrokenPipe.
// After the Sink is closed, Recv drains the buffer and then returns io.EOF,
// or the error passed to Fail.
func NewPipe[T any](capacity int) (*Sink[T], *Stream[T]) {
	if capacity < 1 {
		capacity = 1
	}
	p := &pipe[T]{
		items: make(chan T, capacity),
		rdone: make(chan struct{}),
		wdone: make(chan struct{}),
	}
	return &Sink[T]{p: p}, &Stream[T]{p: p}
}

type pipe[T any] struct {
	items chan T
	rdone chan struct{}
	wdone chan struct{}

	rOnce sync.Once
	wOnce sync.Once
	err   error
}

// Sink is the producer end of a pipe. It is safe for concurrent use.
type Sink[T any] struct {
	p *pipe[T]
}

// Send enqueues v, blocking while the pipe is full.
func (s *Sink[T]) Send(ctx context.Context, v T) error {
	p := s.p
	select {
	case <-p.rdone:
		return ErrBrokenPipe
	case <-p.wdone:
		return io.ErrClosedPipe
	default:
	}
	select {
	case p.items <- v:
		return nil
	case <-p.rdone:
		return ErrBrokenPipe
	case <-p.wdone:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks the end of the stream. It is idempotent.
func (s *Sink[T]) Close() error {
	s.Fail(nil)
	return nil
}

// Fail ends the stream with err; the consumer sees err after draining.
// A nil err is equivalent to Close. Only the first call has effect.
func (s *Sink[T]) Fail(err error) {
	p := s.p
	p.wOnce.Do(func() {
		p.err = err
		close(p.wdone)
	})
}

// Done is closed when the consumer has closed its end.
func (s *Sink[T]) Done() <-chan struct{} { return s.p.rdone }

// Stream is the consumer end of a pipe.
type Stream[T any] struct {
	p *pipe[T]
}

// Recv returns the next item in production order.
func (s *Stream[T]) Recv(ctx context.Context) (T, error) {
	p := s.p
	var zero T
	select {
	case v := <-p.items:
		return v, nil
	default:
	}
	select {
	case v := <-p.items:
		return v, nil
	case <-p.wdone:
		return s.drain()
	case <-p.rdone:
		return s.drain()
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (s *Stream[T]) drain() (T, error) {
	p := s.p
	select {
	case v := <-p.items:
		return v, nil
	default:
	}
	var zero T
	select {
	case <-p.wdone:
		if p.err != nil {
			return zero, p.err
		}
	default:
	}
	return zero, io.EOF
}

// Close stops the producer. Items already buffered remain receivable.
func (s *Stream[T]) Close() {
	p := s.p
	p.rOnce.Do(func() { close(p.rdone) })
}

// Ended is closed once the producer has closed or failed.
func (s *Stream[T]) Ended() <-chan struct{} { return s.p.wdone }

// Collect receives until the stream ends and returns everything received.
// io.EOF is not reported as an error.
func Collect[T any](ctx context.Context, s *Stream[T]) ([]T, error) {
	var out []T
	for {
		v, err := s.Recv(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
}

// AppMsgSink and AppMsgStream carry application frames between personas.
type (
	AppMsgSink   = Sink[AppMessageFrame]
	AppMsgStream = Stream[AppMessageFrame]
)

// NewAppMsgPipe returns a pipe for application frames with the default capacity.
func NewAppMsgPipe() (*AppMsgSink, *AppMsgStream) {
	return NewPipe[AppMessageFrame](ChannelCapacity)
}
