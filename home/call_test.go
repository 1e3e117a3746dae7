package home

import (
	"errors"
	"testing"

	"github.com/libertaria-project/mercury-rust/protocol"
)

func newIncomingCall() *incomingCall {
	return &incomingCall{reply: make(chan *protocol.AppMsgSink, 1)}
}

func TestIncomingCallAbandonBeforeAnswer(t *testing.T) {
	c := newIncomingCall()
	if _, answered := c.abandon(); answered {
		t.Fatalf("abandon reported an answer that was never given")
	}
	sink, _ := protocol.NewAppMsgPipe()
	if err := c.Answer(sink); !errors.Is(err, protocol.ErrBrokenPipe) {
		t.Fatalf("Answer after abandon: got %v, want ErrBrokenPipe", err)
	}
	if err := c.Answer(nil); !errors.Is(err, protocol.ErrCallAlreadyAnswered) {
		t.Fatalf("second Answer: got %v, want ErrCallAlreadyAnswered", err)
	}
}

func TestIncomingCallAnswerBeforeAbandon(t *testing.T) {
	c := newIncomingCall()
	sink, _ := protocol.NewAppMsgPipe()
	if err := c.Answer(sink); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	got, answered := c.abandon()
	if !answered || got != sink {
		t.Fatalf("abandon = (%p, %v), want the answered sink", got, answered)
	}
}

func TestIncomingCallAnswerWithoutReverseChannel(t *testing.T) {
	c := newIncomingCall()
	if err := c.Answer(nil); err != nil {
		t.Fatalf("Answer(nil): %v", err)
	}
	got, answered := c.abandon()
	if !answered || got != nil {
		t.Fatalf("abandon = (%p, %v), want (nil, true)", got, answered)
	}
}
