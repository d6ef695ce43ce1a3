package network_test

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/nspcc-dev/peerkit/pkg/config"
	"github.com/nspcc-dev/peerkit/pkg/network"
	"github.com/stretchr/testify/require"
)

// readFrame/writeFrame give the test suite a trivial 2-byte length-prefixed
// codec, the same framing original_source/examples/common.rs uses.
func readFrame(_ string, r *bufio.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint16(lenBuf[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func writeFrame(_ string, payload []byte, w io.Writer) error {
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Logger.LogLevel = "error"
	return cfg
}

func newTestNode(t *testing.T) *network.Node {
	t.Helper()
	n, err := network.New(testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = n.ShutDown(ctx)
	})
	return n
}

// collector is a tiny inbox a test's ProcessMessage callback can push into.
type collector struct {
	ch chan []byte
}

func newCollector() *collector {
	return &collector{ch: make(chan []byte, 64)}
}

func (c *collector) process(_ context.Context, _ string, payload []byte) error {
	c.ch <- payload
	return nil
}

func (c *collector) expect(t *testing.T, want string, timeout time.Duration) {
	t.Helper()
	select {
	case got := <-c.ch:
		require.Equal(t, want, string(got))
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for message %q", want)
	}
}

// mustSend sends payload and waits for its SendHandle to resolve, failing
// the test on either a queueing error or a write error.
func mustSend(t *testing.T, n *network.Node, addr string, payload []byte) {
	t.Helper()
	handle, err := n.SendDirectMessage(addr, payload)
	require.NoError(t, err)
	select {
	case werr := <-handle:
		require.NoError(t, werr)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for send completion")
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}
