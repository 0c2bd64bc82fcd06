package types

import (
	"context"
	"sync"
)

// HandlerOutcome is what a Handler's Action fulfills its Promise with:
// either a HandleError, or a successful handle plus the negotiated
// version string the caller derives DataFlow from.
type HandlerOutcome[H any] struct {
	Err     *HandleError
	Handle  H
	Version string
}

// Promise is the single-writer/single-reader cell the Handler fulfills
// and IncludeInbound/RequestOutbound wait on.
type Promise[H any] struct {
	ch   chan HandlerOutcome[H]
	once sync.Once
}

func NewPromise[H any]() *Promise[H] {
	return &Promise[H]{ch: make(chan HandlerOutcome[H], 1)}
}

// Fulfill writes the outcome. Only the first call has effect, matching
// the single-writer contract — a Handler that calls it twice does not
// panic or deadlock.
func (p *Promise[H]) Fulfill(outcome HandlerOutcome[H]) {
	p.once.Do(func() {
		p.ch <- outcome
	})
}

// Wait blocks for the outcome or ctx cancellation.
func (p *Promise[H]) Wait(ctx context.Context) (HandlerOutcome[H], error) {
	select {
	case outcome := <-p.ch:
		return outcome, nil
	case <-ctx.Done():
		var zero HandlerOutcome[H]
		return zero, ctx.Err()
	}
}
