package network_test

import (
	"context"
	"testing"
	"time"

	"github.com/nspcc-dev/peerkit/pkg/network"
	"github.com/nspcc-dev/peerkit/pkg/topology"
	"github.com/stretchr/testify/require"
)

func TestSendBroadcastReachesEveryPeer(t *testing.T) {
	const n = 4
	nodes := make([]*network.Node, n)
	inboxes := make([]*collector, n)
	for i := range nodes {
		nodes[i] = newTestNode(t)
		inboxes[i] = newCollector()
		nodes[i].Protocols().EnableReading(readFrame, inboxes[i].process)
		nodes[i].Protocols().EnableWriting(writeFrame)
		nodes[i].Start()
	}

	require.NoError(t, topology.ConnectNodes(context.Background(), nodes, topology.Star))
	waitFor(t, time.Second, func() bool { return nodes[0].NumConnected() == n-1 })

	sent, err := nodes[0].SendBroadcast([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, n-1, sent)

	for _, inbox := range inboxes[1:] {
		inbox.expect(t, "hello", time.Second)
	}
}

func TestSendBroadcastDoesNotBlockOnASilentPeer(t *testing.T) {
	hub := newTestNode(t)
	peer := newTestNode(t)

	hub.Protocols().EnableWriting(writeFrame)
	// peer never enables Reading, so nothing ever drains the bytes hub
	// writes to it; SendBroadcast must still return promptly.
	hub.Start()
	peer.Start()

	require.NoError(t, hub.Connect(context.Background(), peer.ListeningAddr()))
	waitFor(t, time.Second, func() bool { return hub.IsConnected(peer.ListeningAddr()) })

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = hub.SendBroadcast([]byte("x"))
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SendBroadcast blocked on a peer that never reads")
	}
}
