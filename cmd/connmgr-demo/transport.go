package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dep2p/go-connmgr/pkg/interfaces"
	"github.com/dep2p/go-connmgr/pkg/types"
)

// simSocket is the in-process loopback socket the demo dials and
// accepts over — no real network I/O, just enough state for SocketOps
// to operate on.
type simSocket struct {
	mu     sync.Mutex
	local  string
	remote string
	closed bool
}

// simHandle is the opaque value an echoHandler hands back on successful
// negotiation.
type simHandle struct {
	version string
}

// simTransport is the SocketOps[string, *simSocket] implementation that
// backs every demo connection.
type simTransport struct {
	mu   sync.Mutex
	next int
}

func newSimTransport() *simTransport {
	return &simTransport{}
}

func (t *simTransport) OpenToConnect(ctx context.Context, addr string) (*simSocket, error) {
	t.mu.Lock()
	t.next++
	n := t.next
	t.mu.Unlock()
	return &simSocket{local: fmt.Sprintf("local:%d", n), remote: addr}, nil
}

func (t *simTransport) Bind(ctx context.Context, sock *simSocket, local string) error {
	sock.mu.Lock()
	sock.local = local
	sock.mu.Unlock()
	return nil
}

func (t *simTransport) Connect(ctx context.Context, sock *simSocket, peer string) error {
	return nil
}

func (t *simTransport) Close(sock *simSocket) error {
	sock.mu.Lock()
	sock.closed = true
	sock.mu.Unlock()
	return nil
}

func (t *simTransport) GetLocalAddr(sock *simSocket) (string, error) {
	sock.mu.Lock()
	defer sock.mu.Unlock()
	return sock.local, nil
}

func (t *simTransport) ToBearer(ctx context.Context, sock *simSocket, timeout time.Duration, trace interfaces.TraceSink) (interfaces.Bearer, error) {
	return sock, nil
}

var _ interfaces.SocketOps[string, *simSocket] = (*simTransport)(nil)

// echoHandler negotiates every connection as "duplex/1.0" with no
// handshake delay, then idles until the connection thread is
// cancelled — mirroring how a real application-level mux stays on the
// connection thread for the life of the connection.
type echoHandler struct{}

func (h *echoHandler) Handle(connID types.ConnID[string], bearer interfaces.Bearer, promise *types.Promise[*simHandle]) interfaces.Action {
	return interfaces.Action{
		Run: func(ctx context.Context) {
			promise.Fulfill(types.HandlerOutcome[*simHandle]{
				Handle:  &simHandle{version: "duplex/1.0"},
				Version: "duplex/1.0",
			})
			<-ctx.Done()
		},
	}
}

var _ interfaces.Handler[string, *simHandle] = (*echoHandler)(nil)

func versionDataFlow(version string) types.DataFlow {
	if version == "duplex/1.0" {
		return types.Duplex
	}
	return types.Unidirectional
}

// hardLimitPolicy evicts the first k candidates in map iteration order,
// which Go randomizes — the demo doesn't track recency, so it is not a
// policy one would run in production. churn never triggers the prune
// path, so the demo never calls it.
type hardLimitPolicy struct{}

func (p *hardLimitPolicy) Select(candidates map[string]types.ConnectionType, k int) map[string]struct{} {
	out := make(map[string]struct{}, k)
	for peer := range candidates {
		if len(out) >= k {
			break
		}
		out[peer] = struct{}{}
	}
	return out
}

var _ interfaces.PrunePolicy[string] = (*hardLimitPolicy)(nil)
