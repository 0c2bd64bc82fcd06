package connmgr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-connmgr/pkg/types"
)

var assertErr = errors.New("handshake failed")

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig[string, *fakeSocket, *fakeHandle]()
	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig, "SocketOps/Handler/DataFlowFromVersion are still nil")

	cfg.SocketOps = newFakeSocketOps()
	cfg.Handler = &fakeHandler{}
	cfg.DataFlowFromVersion = dataFlowFromVersion
	require.NoError(t, cfg.Validate())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(Config[string, *fakeSocket, *fakeHandle]{})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

// S1 — Solo outbound Duplex.
func TestScenario_SoloOutboundDuplex(t *testing.T) {
	mgr, _, handler, _ := newTestManager(t)
	handler.OutcomeFor = func(connID types.ConnID[string]) types.HandlerOutcome[*fakeHandle] {
		return types.HandlerOutcome[*fakeHandle]{Handle: &fakeHandle{version: "duplex"}, Version: "duplex"}
	}

	res, err := mgr.RequestOutbound(context.Background(), "P")
	require.NoError(t, err)
	require.True(t, res.Connected)
	assert.Equal(t, types.Duplex, res.DataFlow)

	snap := mgr.table.snapshot()
	st, ok := snap["P"]
	require.True(t, ok)
	dup, ok := st.(types.OutboundDupState[string, *fakeHandle])
	require.True(t, ok, "expected OutboundDup, got %T", st)
	assert.Equal(t, types.Ticking, dup.Timeout)
}

// S2 — Outbound Uni demotion, then TIME_WAIT removal.
func TestScenario_OutboundUniDemotionAndTimeWait(t *testing.T) {
	mgr, ops, _, mockClock := newTestManager(t, WithTimeWaitTimeout[string, *fakeSocket, *fakeHandle](60*time.Second))

	res, err := mgr.RequestOutbound(context.Background(), "P")
	require.NoError(t, err)
	require.True(t, res.Connected)
	assert.Equal(t, types.Unidirectional, res.DataFlow)

	snap := mgr.table.snapshot()
	_, ok := snap["P"].(types.OutboundUniState[string, *fakeHandle])
	require.True(t, ok)

	require.NoError(t, mgr.UnregisterOutbound("P"))

	require.Eventually(t, func() bool {
		snap := mgr.table.snapshot()
		_, terminating := snap["P"].(types.TerminatingState[string])
		return terminating
	}, time.Second, time.Millisecond, "expected Terminating after cancel")

	mockClock.Add(60 * time.Second)

	require.Eventually(t, func() bool {
		snap := mgr.table.snapshot()
		_, present := snap["P"]
		return !present
	}, time.Second, time.Millisecond, "expected entry removed after TimeWaitTimeout")
	assert.GreaterOrEqual(t, ops.closedCount(), 1)
}

// S3 — Reuse by outbound of an inbound Duplex connection.
func TestScenario_ReuseByOutbound(t *testing.T) {
	mgr, ops, handler, _ := newTestManager(t)
	handler.OutcomeFor = func(connID types.ConnID[string]) types.HandlerOutcome[*fakeHandle] {
		return types.HandlerOutcome[*fakeHandle]{Handle: &fakeHandle{version: "duplex"}, Version: "duplex"}
	}

	sock := &fakeSocket{id: "inbound-1", peer: "P", local: "local:P"}
	res, err := mgr.IncludeInbound(context.Background(), sock, "P")
	require.NoError(t, err)
	require.True(t, res.Connected)

	snap := mgr.table.snapshot()
	_, ok := snap["P"].(types.InboundIdleState[string, *fakeHandle])
	require.True(t, ok)

	closedBefore := ops.closedCount()
	out, err := mgr.RequestOutbound(context.Background(), "P")
	require.NoError(t, err)
	require.True(t, out.Connected)
	assert.Equal(t, res.Handle, out.Handle, "must reuse the original handle, not dial a new socket")
	assert.Equal(t, closedBefore, ops.closedCount(), "reuse must not close any socket")

	snap = mgr.table.snapshot()
	dup, ok := snap["P"].(types.OutboundDupState[string, *fakeHandle])
	require.True(t, ok)
	assert.Equal(t, types.Ticking, dup.Timeout)
}

func TestIncludeInboundHandshakeFailureIsRecoverable(t *testing.T) {
	mgr, _, handler, _ := newTestManager(t)
	handler.OutcomeFor = func(connID types.ConnID[string]) types.HandlerOutcome[*fakeHandle] {
		return types.HandlerOutcome[*fakeHandle]{Err: &types.HandleError{Kind: types.HandshakeFailure, Err: assertErr}}
	}

	sock := &fakeSocket{id: "s", peer: "P", local: "local:P"}
	res, err := mgr.IncludeInbound(context.Background(), sock, "P")
	require.NoError(t, err)
	assert.False(t, res.Connected)

	snap := mgr.table.snapshot()
	_, ok := snap["P"].(types.TerminatingState[string])
	assert.True(t, ok)
}

func TestIncludeInboundProtocolViolationSkipsTimeWait(t *testing.T) {
	mgr, _, handler, _ := newTestManager(t)
	handler.OutcomeFor = func(connID types.ConnID[string]) types.HandlerOutcome[*fakeHandle] {
		return types.HandlerOutcome[*fakeHandle]{Err: &types.HandleError{Kind: types.HandshakeProtocolViolation, Err: assertErr}}
	}

	sock := &fakeSocket{id: "s", peer: "P", local: "local:P"}
	res, err := mgr.IncludeInbound(context.Background(), sock, "P")
	require.NoError(t, err)
	assert.False(t, res.Connected)

	snap := mgr.table.snapshot()
	_, ok := snap["P"].(types.TerminatedState)
	assert.True(t, ok)
}

func TestRequestOutboundForbidsSecondDial(t *testing.T) {
	mgr, _, handler, _ := newTestManager(t)
	handler.Block = make(chan struct{})

	go func() { _, _ = mgr.RequestOutbound(context.Background(), "P") }()

	require.Eventually(t, func() bool {
		snap := mgr.table.snapshot()
		_, ok := snap["P"].(types.UnnegotiatedState[string])
		return ok
	}, time.Second, time.Millisecond)

	_, err := mgr.RequestOutbound(context.Background(), "P")
	var exists *types.ConnectionExistsError[string]
	assert.ErrorAs(t, err, &exists)

	close(handler.Block)
}

func TestNumberOfConnections(t *testing.T) {
	mgr, _, handler, _ := newTestManager(t)
	handler.OutcomeFor = func(connID types.ConnID[string]) types.HandlerOutcome[*fakeHandle] {
		return types.HandlerOutcome[*fakeHandle]{Handle: &fakeHandle{}, Version: "uni"}
	}
	assert.Equal(t, 0, mgr.NumberOfConnections())
	_, err := mgr.RequestOutbound(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, 1, mgr.NumberOfConnections())
}
