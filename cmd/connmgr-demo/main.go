// Package main is a runnable demo of the connection manager: it wires a
// concrete Manager[string, *simSocket, *simHandle] instantiation through
// an fx.App, drives a handful of simulated inbound/outbound connections
// against an in-process loopback transport, and prints the outcome of
// each call.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-connmgr/internal/core/connmgr"
	"github.com/dep2p/go-connmgr/pkg/interfaces"
	"github.com/dep2p/go-connmgr/pkg/types"
)

var (
	peerCount int
	hardLimit int
	seedFlag  int64
	logLevel  string
)

func main() {
	root := &cobra.Command{
		Use:   "connmgr-demo",
		Short: "Drive a connection manager against a simulated loopback transport",
		RunE:  runDemo,
	}
	root.Flags().IntVar(&peerCount, "peers", 6, "number of simulated peers to churn through")
	root.Flags().IntVar(&hardLimit, "hard-limit", 4, "AcceptedConnectionsHardLimit; 0 disables pruning")
	root.Flags().Int64Var(&seedFlag, "seed", 1, "PRNG seed for the simulated event order")
	root.Flags().StringVar(&logLevel, "log-level", "info", "zap level for the fx event logger (debug/info/warn/error)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDemo(cmd *cobra.Command, args []string) error {
	level, err := zap.ParseAtomicLevel(logLevel)
	if err != nil {
		return fmt.Errorf("parsing --log-level: %w", err)
	}

	var mgr *connmgr.Manager[string, *simSocket, *simHandle]

	app := fx.New(
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l}
		}),
		fx.Provide(func() (*zap.Logger, error) {
			cfg := zap.NewProductionConfig()
			cfg.Level = level
			return cfg.Build()
		}),
		fx.Invoke(func(lc fx.Lifecycle, log *zap.Logger) {
			ops := newSimTransport()
			policy := &hardLimitPolicy{}
			cfg := connmgr.Build[string, *simSocket, *simHandle](
				connmgr.WithSocketOps[string, *simSocket, *simHandle](ops),
				connmgr.WithHandler[string, *simSocket, *simHandle](&echoHandler{}),
				connmgr.WithDataFlowFromVersion[string, *simSocket, *simHandle](versionDataFlow),
				connmgr.WithPrunePolicy[string, *simSocket, *simHandle](policy),
				connmgr.WithAcceptedConnectionsLimit[string, *simSocket, *simHandle](hardLimit),
			)
			m, err := connmgr.New(cfg)
			if err != nil {
				log.Fatal("building connection manager", zap.Error(err))
			}
			mgr = m
			connmgr.RegisterLifecycle(lc, mgr)
			mgr.Notify(&loggingNotifier{log: log})
		}),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("starting fx app: %w", err)
	}

	churn(mgr, peerCount, seedFlag)

	stopCtx, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	return app.Stop(stopCtx)
}

// churn fires a sequence of simulated dials and inbound accepts through
// mgr, prints every outcome, and then prints the number of table entries.
// It never demotes a connection with UnregisterOutbound, so the prune
// path does not run and the final count can exceed --hard-limit.
func churn(mgr *connmgr.Manager[string, *simSocket, *simHandle], peerCount int, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	ctx := context.Background()

	for i := 0; i < peerCount; i++ {
		peer := fmt.Sprintf("peer-%d", i)
		if rng.Intn(2) == 0 {
			result, err := mgr.RequestOutbound(ctx, peer)
			printResult("RequestOutbound", peer, result, err)
		} else {
			sock := &simSocket{local: "local:" + peer, remote: peer}
			result, err := mgr.IncludeInbound(ctx, sock, peer)
			printResult("IncludeInbound", peer, result, err)
		}
	}

	fmt.Printf("connections now admitted: %d\n", mgr.NumberOfConnections())
}

func printResult(op, peer string, result types.ConnResult[string, *simHandle], err error) {
	if err != nil {
		fmt.Printf("%-16s %-10s error: %v\n", op, peer, err)
		return
	}
	if result.Connected {
		fmt.Printf("%-16s %-10s connected dataFlow=%s\n", op, peer, result.DataFlow.String())
		return
	}
	fmt.Printf("%-16s %-10s disconnected\n", op, peer)
}

// loggingNotifier bridges the manager's best-effort connect/disconnect
// hook to the fx-provided zap logger.
type loggingNotifier struct{ log *zap.Logger }

func (n *loggingNotifier) Connected(peer string)    { n.log.Info("peer connected", zap.String("peer", peer)) }
func (n *loggingNotifier) Disconnected(peer string) { n.log.Info("peer disconnected", zap.String("peer", peer)) }

var _ interfaces.ConnEventNotifier[string] = (*loggingNotifier)(nil)
