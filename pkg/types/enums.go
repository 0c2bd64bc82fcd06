// Package types defines the connection manager's data model: the
// per-peer ConnectionState tagged union, the address/connection
// identifiers it is built on, and the error taxonomy it reports through.
//
// The package is intentionally free of any transport or concurrency
// machinery — everything here is a plain value or a narrow interface,
// so it can be imported by both the manager implementation and its
// external collaborators (pkg/interfaces) without creating a cycle.
package types

// Provenance records whether a connection was accepted (Inbound) or
// dialed by us (Outbound).
type Provenance int

const (
	Inbound Provenance = iota
	Outbound
)

func (p Provenance) String() string {
	if p == Outbound {
		return "outbound"
	}
	return "inbound"
}

// DataFlow is the negotiated direction policy of a connection.
// Unidirectional connections may only be used in the direction they were
// opened in; Duplex connections may be promoted/demoted by either side.
type DataFlow int

const (
	Unidirectional DataFlow = iota
	Duplex
)

func (d DataFlow) String() string {
	if d == Duplex {
		return "duplex"
	}
	return "unidirectional"
}

// TimeoutExpired tracks the τ-timeout that gates cheap reuse of a
// just-demoted outbound-duplex connection.
type TimeoutExpired int

const (
	Ticking TimeoutExpired = iota
	Expired
)

func (t TimeoutExpired) String() string {
	if t == Expired {
		return "expired"
	}
	return "ticking"
}

// AddressType classifies a peer address for local-bind address selection.
type AddressType int

const (
	AddressIPv4 AddressType = iota
	AddressIPv6
	AddressOther
)

// TransitionOutcome is the reply kind of unregisterInbound: KeepTr means
// the existing transaction/state was merely re-observed (no destructive
// change), CommitTr means the demotion actually committed.
type TransitionOutcome int

const (
	KeepTr TransitionOutcome = iota
	CommitTr
)

func (o TransitionOutcome) String() string {
	if o == CommitTr {
		return "commit"
	}
	return "keep"
}
