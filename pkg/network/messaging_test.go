package network_test

import (
	"context"
	"testing"
	"time"

	"github.com/nspcc-dev/peerkit/pkg/network"
	"github.com/stretchr/testify/require"
)

func TestSendDirectMessageDeliversInOrder(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	inbox := newCollector()
	b.Protocols().EnableReading(readFrame, inbox.process)
	a.Protocols().EnableWriting(writeFrame)
	b.Protocols().EnableWriting(writeFrame)
	a.Protocols().EnableReading(readFrame, newCollector().process)

	a.Start()
	b.Start()

	require.NoError(t, a.Connect(context.Background(), b.ListeningAddr()))
	waitFor(t, time.Second, func() bool { return a.IsConnected(b.ListeningAddr()) })

	mustSend(t, a, b.ListeningAddr(), []byte("one"))
	mustSend(t, a, b.ListeningAddr(), []byte("two"))

	inbox.expect(t, "one", time.Second)
	inbox.expect(t, "two", time.Second)
}

func TestSendDirectMessageUnknownAddr(t *testing.T) {
	a := newTestNode(t)
	a.Start()

	_, err := a.SendDirectMessage("127.0.0.1:1", []byte("x"))
	require.ErrorIs(t, err, network.ErrNotConnected)
}

func TestConnectRejectsDuplicate(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)
	a.Start()
	b.Start()

	require.NoError(t, a.Connect(context.Background(), b.ListeningAddr()))
	waitFor(t, time.Second, func() bool { return a.IsConnected(b.ListeningAddr()) })

	err := a.Connect(context.Background(), b.ListeningAddr())
	require.ErrorIs(t, err, network.ErrAlreadyConnected)
}

func TestHandshakeFailureAbortsConnection(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	a.Protocols().EnableHandshake(func(_ context.Context, conn *network.Connection) (*network.Connection, error) {
		return nil, context.DeadlineExceeded
	})

	a.Start()
	b.Start()

	err := a.Connect(context.Background(), b.ListeningAddr())
	require.Error(t, err)
	require.False(t, a.IsConnected(b.ListeningAddr()))
}

func TestHandshakeExchangesUserData(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	nameHandshake := func(self *network.Node) network.Handshake {
		return func(_ context.Context, conn *network.Connection) (*network.Connection, error) {
			var buf [32]byte
			if conn.Side() == network.Initiator {
				if _, err := conn.Write([]byte(self.Name())); err != nil {
					return nil, err
				}
				if err := conn.Flush(); err != nil {
					return nil, err
				}
				n, err := conn.Reader().Read(buf[:])
				if err != nil {
					return nil, err
				}
				conn.SetUserData(string(buf[:n]))
			} else {
				n, err := conn.Reader().Read(buf[:])
				if err != nil {
					return nil, err
				}
				conn.SetUserData(string(buf[:n]))
				if _, err := conn.Write([]byte(self.Name())); err != nil {
					return nil, err
				}
				if err := conn.Flush(); err != nil {
					return nil, err
				}
			}
			return conn, nil
		}
	}

	a.Protocols().EnableHandshake(nameHandshake(a))
	b.Protocols().EnableHandshake(nameHandshake(b))

	a.Start()
	b.Start()

	require.NoError(t, a.Connect(context.Background(), b.ListeningAddr()))
	waitFor(t, time.Second, func() bool { return a.IsConnected(b.ListeningAddr()) })
}
