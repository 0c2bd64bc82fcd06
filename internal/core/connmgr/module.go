package connmgr

import (
	"context"

	"go.uber.org/fx"
)

// RegisterLifecycle wires m's Shutdown into an fx.Lifecycle's OnStop
// hook. fx resolves providers by reflection over concrete types, so this
// cannot be exposed as a bare fx.Invoke target for every possible
// Manager[P,S,H] instantiation; callers that want fx wiring provide
// their own concrete instantiation (see cmd/connmgr-demo) and pass the
// resulting *Manager here.
//
// fx.Lifecycle.OnStop runs on every exit path of the enclosing fx.App,
// which is what makes it a safe place to guarantee Shutdown runs.
func RegisterLifecycle[P comparable, S any, H any](lc fx.Lifecycle, m *Manager[P, S, H]) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return m.Shutdown(ctx)
		},
	})
}
