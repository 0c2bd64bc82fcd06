package connmgr

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-connmgr/internal/core/connmgr/trace"
	"github.com/dep2p/go-connmgr/pkg/interfaces"
)

// Config is the connection manager's configuration, following the
// teacher's Config-struct-plus-functional-Option convention. P is the
// peer-address type, S the socket type, H the handler-returned handle
// type.
type Config[P comparable, S any, H any] struct {
	// IPv4Address / IPv6Address are the local addresses dialed sockets
	// are bound to, selected via AddressClassifier. Both optional: a nil
	// entry means "let the transport pick".
	IPv4Address *P
	IPv6Address *P

	AddressClassifier   interfaces.AddressClassifier[P]
	SocketOps           interfaces.SocketOps[P, S]
	Handler             interfaces.Handler[P, H]
	PrunePolicy         interfaces.PrunePolicy[P]
	DataFlowFromVersion interfaces.DataFlowFromVersion
	Trace               interfaces.TraceSink

	// Clock is the injectable time source: a real clock.New() in
	// production, a *clock.Mock in tests, so the TIME_WAIT sleep can be
	// advanced deterministically in tests. The τ-timeout is not driven by
	// this clock: Ticking becomes Expired only through UnregisterInbound.
	Clock clock.Clock

	// TimeWaitTimeout is how long a Terminating/Terminated entry is kept
	// before the Cleanup routine removes it. Default 60s.
	TimeWaitTimeout time.Duration

	// ProtocolIdleTimeout is documented only, for the inbound protocol
	// governor — the CM itself never arms or enforces it. Default 5s.
	ProtocolIdleTimeout time.Duration

	// BearerTimeout bounds SocketOps.ToBearer.
	BearerTimeout time.Duration

	// AcceptedConnectionsHardLimit is the admission ceiling above which
	// runPrune starts evicting connections. Zero disables pruning
	// entirely.
	AcceptedConnectionsHardLimit int
}

// DefaultConfig returns a Config with every timeout/limit at its spec
// default and a logging TraceSink; SocketOps, Handler and
// DataFlowFromVersion still need to be supplied via Option before New
// will accept it. PrunePolicy is optional: without it the prune path does
// nothing.
func DefaultConfig[P comparable, S any, H any]() Config[P, S, H] {
	return Config[P, S, H]{
		Trace:               trace.LogSink{},
		Clock:               clock.New(),
		TimeWaitTimeout:     60 * time.Second,
		ProtocolIdleTimeout: 5 * time.Second,
		BearerTimeout:       10 * time.Second,
	}
}

// Validate checks the collaborators and timeouts a Manager cannot run
// without.
func (c Config[P, S, H]) Validate() error {
	if c.SocketOps == nil {
		return ErrInvalidConfig
	}
	if c.Handler == nil {
		return ErrInvalidConfig
	}
	if c.DataFlowFromVersion == nil {
		return ErrInvalidConfig
	}
	if c.Clock == nil {
		return ErrInvalidConfig
	}
	if c.Trace == nil {
		return ErrInvalidConfig
	}
	if c.TimeWaitTimeout <= 0 {
		return ErrInvalidConfig
	}
	if c.BearerTimeout <= 0 {
		return ErrInvalidConfig
	}
	if c.AcceptedConnectionsHardLimit < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// Option mutates a Config being built up before New.
type Option[P comparable, S any, H any] func(*Config[P, S, H])

func WithSocketOps[P comparable, S any, H any](ops interfaces.SocketOps[P, S]) Option[P, S, H] {
	return func(c *Config[P, S, H]) { c.SocketOps = ops }
}

func WithHandler[P comparable, S any, H any](h interfaces.Handler[P, H]) Option[P, S, H] {
	return func(c *Config[P, S, H]) { c.Handler = h }
}

func WithPrunePolicy[P comparable, S any, H any](p interfaces.PrunePolicy[P]) Option[P, S, H] {
	return func(c *Config[P, S, H]) { c.PrunePolicy = p }
}

func WithDataFlowFromVersion[P comparable, S any, H any](f interfaces.DataFlowFromVersion) Option[P, S, H] {
	return func(c *Config[P, S, H]) { c.DataFlowFromVersion = f }
}

func WithAddressClassifier[P comparable, S any, H any](ac interfaces.AddressClassifier[P]) Option[P, S, H] {
	return func(c *Config[P, S, H]) { c.AddressClassifier = ac }
}

func WithAddresses[P comparable, S any, H any](ipv4, ipv6 *P) Option[P, S, H] {
	return func(c *Config[P, S, H]) { c.IPv4Address = ipv4; c.IPv6Address = ipv6 }
}

func WithTrace[P comparable, S any, H any](t interfaces.TraceSink) Option[P, S, H] {
	return func(c *Config[P, S, H]) { c.Trace = t }
}

func WithClock[P comparable, S any, H any](clk clock.Clock) Option[P, S, H] {
	return func(c *Config[P, S, H]) { c.Clock = clk }
}

func WithTimeWaitTimeout[P comparable, S any, H any](d time.Duration) Option[P, S, H] {
	return func(c *Config[P, S, H]) { c.TimeWaitTimeout = d }
}

func WithProtocolIdleTimeout[P comparable, S any, H any](d time.Duration) Option[P, S, H] {
	return func(c *Config[P, S, H]) { c.ProtocolIdleTimeout = d }
}

func WithBearerTimeout[P comparable, S any, H any](d time.Duration) Option[P, S, H] {
	return func(c *Config[P, S, H]) { c.BearerTimeout = d }
}

func WithAcceptedConnectionsLimit[P comparable, S any, H any](n int) Option[P, S, H] {
	return func(c *Config[P, S, H]) { c.AcceptedConnectionsHardLimit = n }
}

// Build applies opts over DefaultConfig and returns the result.
func Build[P comparable, S any, H any](opts ...Option[P, S, H]) Config[P, S, H] {
	cfg := DefaultConfig[P, S, H]()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
