package network_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestPickyEchoSuppressesDuplicates is spec.md §8 scenario S2: a shouter
// sends three payloads ("herp", "derp", "herp") to a picky echo peer. The
// echo replies to the first occurrence of each distinct payload only,
// suppresses the repeat, and also sends one unsolicited "herp" of its own.
// After the exchange settles the shouter must have received exactly 3
// messages: two solicited echoes plus the one unsolicited message.
func TestPickyEchoSuppressesDuplicates(t *testing.T) {
	shouter := newTestNode(t)
	echo := newTestNode(t)

	var mu sync.Mutex
	seen := make(map[string]bool)
	echo.Protocols().EnableReading(readFrame, func(ctx context.Context, source string, payload []byte) error {
		mu.Lock()
		already := seen[string(payload)]
		seen[string(payload)] = true
		mu.Unlock()
		if already {
			return nil
		}
		_, err := echo.SendDirectMessage(source, payload)
		return err
	})
	echo.Protocols().EnableWriting(writeFrame)

	shouter.Protocols().EnableReading(readFrame, newCollector().process)
	shouter.Protocols().EnableWriting(writeFrame)

	echo.Start()
	shouter.Start()

	require.NoError(t, shouter.Connect(context.Background(), echo.ListeningAddr()))
	waitFor(t, time.Second, func() bool { return shouter.IsConnected(echo.ListeningAddr()) })

	mustSend(t, shouter, echo.ListeningAddr(), []byte("herp"))
	mustSend(t, shouter, echo.ListeningAddr(), []byte("derp"))
	mustSend(t, shouter, echo.ListeningAddr(), []byte("herp"))

	// The echo's one unsolicited message, independent of anything the
	// shouter sent. echo is the Responder side of this connection, so its
	// registry (and ConnectedAddrs) is keyed by shouter's ephemeral
	// dial-out address, not shouter's listening address (spec.md §3).
	require.Len(t, echo.ConnectedAddrs(), 1)
	mustSend(t, echo, echo.ConnectedAddrs()[0], []byte("herp"))

	waitFor(t, time.Second, func() bool {
		return shouter.KnownPeers().NumMessagesReceived() == 3
	})
}
