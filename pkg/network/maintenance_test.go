package network_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nspcc-dev/peerkit/pkg/network"
	"github.com/stretchr/testify/require"
)

func TestMaintenanceRunsPeriodically(t *testing.T) {
	a := newTestNode(t)

	var ticks atomic.Int64
	a.EnableMaintenance(20*time.Millisecond, func(_ context.Context, _ *network.Node) {
		ticks.Add(1)
	})
	a.Start()

	waitFor(t, time.Second, func() bool { return ticks.Load() >= 3 })
}

// TestMaintenanceDisconnectsOverFailureThreshold is spec.md §8 scenario S5:
// a node with max_allowed_failures = 0 disconnects a peer within one
// maintenance tick of a single registered failure.
func TestMaintenanceDisconnectsOverFailureThreshold(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)
	b.Start()

	a.EnableMaintenance(10*time.Millisecond, func(_ context.Context, self *network.Node) {
		for _, addr := range self.ConnectedAddrs() {
			stats, ok := self.Stats(addr)
			if ok && stats.Failures > 0 {
				_ = self.Disconnect(addr)
			}
		}
	})
	a.Start()

	require.NoError(t, a.Connect(context.Background(), b.ListeningAddr()))
	waitFor(t, time.Second, func() bool { return a.IsConnected(b.ListeningAddr()) })

	a.RegisterFailure(b.ListeningAddr())

	waitFor(t, 200*time.Millisecond, func() bool { return a.NumConnected() == 0 })
}

func TestMaintenanceStopsOnShutDown(t *testing.T) {
	a := newTestNode(t)

	var ticks atomic.Int64
	a.EnableMaintenance(10*time.Millisecond, func(_ context.Context, _ *network.Node) {
		ticks.Add(1)
	})
	a.Start()

	waitFor(t, time.Second, func() bool { return ticks.Load() >= 1 })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.ShutDown(ctx))

	after := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, after, ticks.Load(), "maintenance must stop ticking after ShutDown")
}
