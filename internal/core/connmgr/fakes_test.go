package connmgr

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-connmgr/internal/core/connmgr/trace"
	"github.com/dep2p/go-connmgr/pkg/interfaces"
	"github.com/dep2p/go-connmgr/pkg/types"
)

// fakeSocket is the test double for the socket type S, following the
// teacher's tests/mocks struct-with-overridable-func-fields convention.
type fakeSocket struct {
	mu     sync.Mutex
	id     string
	peer   string
	local  string
	closed bool
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeSocketOps is the in-memory SocketOps[string, *fakeSocket] double.
type fakeSocketOps struct {
	mu       sync.Mutex
	nextID   int
	opened   []*fakeSocket
	closedCt int

	ConnectErr func(peer string) error
	OpenErr    func(peer string) error

	// BeforeOpen runs synchronously inside OpenToConnect, after Phase A
	// has already written ReservedOutbound. Tests use it to pause a dial
	// mid-flight so a racing includeInbound can run first.
	BeforeOpen func(peer string)
}

func newFakeSocketOps() *fakeSocketOps {
	return &fakeSocketOps{}
}

func (f *fakeSocketOps) OpenToConnect(ctx context.Context, addr string) (*fakeSocket, error) {
	if f.BeforeOpen != nil {
		f.BeforeOpen(addr)
	}
	if f.OpenErr != nil {
		if err := f.OpenErr(addr); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("sock-%d", f.nextID)
	f.mu.Unlock()
	sock := &fakeSocket{id: id, peer: addr, local: "local:" + addr}
	f.mu.Lock()
	f.opened = append(f.opened, sock)
	f.mu.Unlock()
	return sock, nil
}

func (f *fakeSocketOps) Bind(ctx context.Context, sock *fakeSocket, local string) error {
	sock.mu.Lock()
	sock.local = local
	sock.mu.Unlock()
	return nil
}

func (f *fakeSocketOps) Connect(ctx context.Context, sock *fakeSocket, peer string) error {
	if f.ConnectErr != nil {
		if err := f.ConnectErr(peer); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeSocketOps) Close(sock *fakeSocket) error {
	sock.mu.Lock()
	sock.closed = true
	sock.mu.Unlock()
	f.mu.Lock()
	f.closedCt++
	f.mu.Unlock()
	return nil
}

func (f *fakeSocketOps) GetLocalAddr(sock *fakeSocket) (string, error) {
	sock.mu.Lock()
	defer sock.mu.Unlock()
	return sock.local, nil
}

func (f *fakeSocketOps) ToBearer(ctx context.Context, sock *fakeSocket, timeout time.Duration, t interfaces.TraceSink) (interfaces.Bearer, error) {
	return sock, nil
}

func (f *fakeSocketOps) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closedCt
}

var _ interfaces.SocketOps[string, *fakeSocket] = (*fakeSocketOps)(nil)

// fakeHandle is the opaque handler handle type H for tests.
type fakeHandle struct {
	version string
}

// fakeHandler is the Handler[string, *fakeHandle] double. OutcomeFor
// decides, per connID, what the Action's body fulfills the promise
// with; if nil the connection negotiates successfully as "uni".
// Block, when non-nil, is closed by the test to let Run proceed —
// useful for exercising cancellation.
type fakeHandler struct {
	mu        sync.Mutex
	OutcomeFor func(connID types.ConnID[string]) types.HandlerOutcome[*fakeHandle]
	Block      chan struct{}
	handled    []types.ConnID[string]
}

func (h *fakeHandler) Handle(connID types.ConnID[string], bearer interfaces.Bearer, promise *types.Promise[*fakeHandle]) interfaces.Action {
	h.mu.Lock()
	h.handled = append(h.handled, connID)
	h.mu.Unlock()

	return interfaces.Action{
		Run: func(ctx context.Context) {
			if h.Block != nil {
				select {
				case <-h.Block:
				case <-ctx.Done():
					promise.Fulfill(types.HandlerOutcome[*fakeHandle]{
						Err: &types.HandleError{Kind: types.HandshakeFailure, Err: ctx.Err()},
					})
					return
				}
			}

			var outcome types.HandlerOutcome[*fakeHandle]
			if h.OutcomeFor != nil {
				outcome = h.OutcomeFor(connID)
			} else {
				outcome = types.HandlerOutcome[*fakeHandle]{Handle: &fakeHandle{version: "uni"}, Version: "uni"}
			}
			promise.Fulfill(outcome)
			if outcome.Err != nil {
				return
			}
			// A real handler keeps running the application-level mux
			// until the connection thread is cancelled; block here so
			// Cleanup only runs once something actually tears the
			// connection down, not the instant negotiation finishes.
			<-ctx.Done()
		},
	}
}

var _ interfaces.Handler[string, *fakeHandle] = (*fakeHandler)(nil)

func dataFlowFromVersion(version string) types.DataFlow {
	if version == "duplex" {
		return types.Duplex
	}
	return types.Unidirectional
}

// fakePrunePolicy delegates to SelectFunc when set; otherwise it evicts
// the first k candidates in map iteration order.
type fakePrunePolicy struct {
	SelectFunc func(candidates map[string]types.ConnectionType, k int) map[string]struct{}
}

func (p *fakePrunePolicy) Select(candidates map[string]types.ConnectionType, k int) map[string]struct{} {
	if p.SelectFunc != nil {
		return p.SelectFunc(candidates, k)
	}
	out := make(map[string]struct{}, k)
	for peer := range candidates {
		if len(out) >= k {
			break
		}
		out[peer] = struct{}{}
	}
	return out
}

var _ interfaces.PrunePolicy[string] = (*fakePrunePolicy)(nil)

// fakeAddressClassifier reports the same AddressType for every address.
type fakeAddressClassifier struct {
	kind types.AddressType
}

func (c fakeAddressClassifier) Classify(addr string) types.AddressType { return c.kind }

var _ interfaces.AddressClassifier[string] = fakeAddressClassifier{}

func newTestManager(t *testing.T, opts ...Option[string, *fakeSocket, *fakeHandle]) (*Manager[string, *fakeSocket, *fakeHandle], *fakeSocketOps, *fakeHandler, *clock.Mock) {
	t.Helper()
	ops := newFakeSocketOps()
	handler := &fakeHandler{}
	mockClock := clock.NewMock()

	base := []Option[string, *fakeSocket, *fakeHandle]{
		WithSocketOps[string, *fakeSocket, *fakeHandle](ops),
		WithHandler[string, *fakeSocket, *fakeHandle](handler),
		WithDataFlowFromVersion[string, *fakeSocket, *fakeHandle](dataFlowFromVersion),
		WithClock[string, *fakeSocket, *fakeHandle](mockClock),
		WithTrace[string, *fakeSocket, *fakeHandle](trace.NopSink{}),
		WithTimeWaitTimeout[string, *fakeSocket, *fakeHandle](60 * time.Second),
	}
	cfg := Build(append(base, opts...)...)
	mgr, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })
	return mgr, ops, handler, mockClock
}
