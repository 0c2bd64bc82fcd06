package types

import "fmt"

// ConnID identifies one socket: the remote address it talks to and the
// local address it was bound or connected from. The local half is only
// known once the socket is bound (inbound) or connected (outbound).
type ConnID[P comparable] struct {
	Remote P
	Local  P
}

func (c ConnID[P]) String() string {
	return fmt.Sprintf("%v<->%v", c.Remote, c.Local)
}

// ThreadHandle is the sole-owner handle to a running connection thread.
// Whoever holds the ConnectionState cell that embeds a ThreadHandle is
// the only component allowed to call Cancel on it.
type ThreadHandle interface {
	// Cancel requests the thread stop; it does not wait for Cleanup.
	Cancel()
	// Done closes once the thread's Cleanup step has finished.
	Done() <-chan struct{}
}
