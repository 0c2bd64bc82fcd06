// Package trace provides the connection manager's default TraceSink: a
// thin adapter onto the structured logger, exposed as a first-class
// injectable interface so callers can redirect or fan out transition
// events.
package trace

import (
	"github.com/dep2p/go-connmgr/pkg/interfaces"
	"github.com/dep2p/go-connmgr/pkg/lib/log"
)

var logger = log.Logger("connmgr/trace")

// LogSink is the default TraceSink: every event is logged at Debug,
// except the defensive assertion-failure branches (named with an
// "assertion:" prefix by convention), which are logged at Warn so they
// surface in production logs without being fatal.
type LogSink struct{}

var _ interfaces.TraceSink = LogSink{}

func (LogSink) Trace(event string, fields ...any) {
	if len(event) >= len("assertion:") && event[:len("assertion:")] == "assertion:" {
		logger.Warn(event, fields...)
		return
	}
	logger.Debug(event, fields...)
}

// NopSink discards every event; useful for tests that don't want trace
// noise and for benchmarks.
type NopSink struct{}

var _ interfaces.TraceSink = NopSink{}

func (NopSink) Trace(string, ...any) {}

// MultiSink fans a single Trace call out to every sink in order.
type MultiSink []interfaces.TraceSink

var _ interfaces.TraceSink = MultiSink(nil)

func (m MultiSink) Trace(event string, fields ...any) {
	for _, sink := range m {
		sink.Trace(event, fields...)
	}
}
