package types

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopThread struct{ done chan struct{} }

func (n noopThread) Cancel()              {}
func (n noopThread) Done() <-chan struct{} { return n.done }

func TestStateNameCoversEveryCase(t *testing.T) {
	th := noopThread{done: make(chan struct{})}
	cases := []struct {
		name  string
		state ConnectionState[string, int]
	}{
		{"ReservedOutbound", ReservedOutboundState{}},
		{"Unnegotiated", UnnegotiatedState[string]{Provenance: Inbound, Thread: th}},
		{"OutboundUni", OutboundUniState[string, int]{Thread: th}},
		{"OutboundDup", OutboundDupState[string, int]{Thread: th}},
		{"InboundIdle", InboundIdleState[string, int]{Thread: th}},
		{"Inbound", InboundState[string, int]{Thread: th}},
		{"Duplex", DuplexState[string, int]{Thread: th}},
		{"Terminating", TerminatingState[string]{Thread: th}},
		{"Terminated", TerminatedState{}},
	}
	for _, c := range cases {
		assert.Equal(t, c.name, StateName[string, int](c.state), "state %T", c.state)
	}
}

func TestThreadOwnershipPerState(t *testing.T) {
	th := noopThread{done: make(chan struct{})}

	withThread := []ConnectionState[string, int]{
		UnnegotiatedState[string]{Thread: th},
		OutboundUniState[string, int]{Thread: th},
		OutboundDupState[string, int]{Thread: th},
		InboundIdleState[string, int]{Thread: th},
		InboundState[string, int]{Thread: th},
		DuplexState[string, int]{Thread: th},
		TerminatingState[string]{Thread: th},
	}
	for _, s := range withThread {
		assert.Equal(t, ThreadHandle(th), Thread[string, int](s), "state %T must expose its thread", s)
	}

	withoutThread := []ConnectionState[string, int]{
		ReservedOutboundState{},
		TerminatedState{},
	}
	for _, s := range withoutThread {
		assert.Nil(t, Thread[string, int](s), "state %T must own no thread", s)
	}
}

func TestPromiseFulfillIsSingleWriter(t *testing.T) {
	p := NewPromise[int]()
	p.Fulfill(HandlerOutcome[int]{Handle: 1})
	p.Fulfill(HandlerOutcome[int]{Handle: 2})

	outcome, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Handle, "only the first Fulfill takes effect")
}

func TestPromiseWaitHonoursContextCancellation(t *testing.T) {
	p := NewPromise[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHandleErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	he := &HandleError{Kind: HandshakeFailure, Err: inner}
	assert.ErrorIs(t, he, inner)
	assert.Contains(t, he.Error(), "handshake-failure")
}
