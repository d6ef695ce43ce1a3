package network

import (
	"context"
	"fmt"
)

// runWriter is the Writing protocol's pump task (spec.md §4.6). It drains
// the connection's outbound channel in order and hands each payload to the
// registered WriteMessage codec, which frames it onto the wire through the
// Connection's synchronized Write path, then fires that message's
// SendHandle with the outcome — after the stats update, per spec.md §6
// invariant 4. Any codec error tears the connection down, matching the
// Reading side's fail-fast behavior.
func (n *Node) runWriter(ctx context.Context, c *Connection) error {
	durable := c.Side() == Initiator
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-c.outbound:
			if !ok {
				return nil
			}
			before := c.bytesWritten()
			err := n.protocols.writeMessage(c.RemoteAddr(), item.payload, c)
			if err == nil {
				err = c.Flush()
			}
			if err != nil {
				n.knownPeers.RegisterFailure(c.RemoteAddr(), durable)
				err = fmt.Errorf("%w: %v", ErrIo, err)
			} else {
				// Wire bytes actually written (framing included), not the
				// pre-framing payload length — see runReader for why a
				// delta around the codec call is the right unit here too.
				// Flush has already run above, so bytesWritten reflects this
				// message's full wire cost, not just what fit in bufw.
				n.knownPeers.RegisterSent(c.RemoteAddr(), durable, int(c.bytesWritten()-before))
			}
			item.done <- err
			if err != nil {
				return err
			}
		}
	}
}
