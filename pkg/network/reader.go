package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// runReader is the Reading protocol's parser task (spec.md §4.5). It reads
// one frame at a time from the connection's buffered reader and hands each
// off to a separate consumer goroutine over a bounded channel, decoupling a
// slow ProcessMessage from the socket read loop the same way the spec
// describes. It returns (and so tears the connection down) on any error
// ReadMessage reports other than ErrInvalidData.
func (n *Node) runReader(ctx context.Context, c *Connection) error {
	inbound := make(chan []byte, n.cfg.InboundQueueDepth)

	var consumerWG sync.WaitGroup
	consumerWG.Add(1)
	go func() {
		defer consumerWG.Done()
		n.runConsumer(ctx, c, inbound)
	}()
	defer func() {
		close(inbound)
		consumerWG.Wait()
	}()

	durable := c.Side() == Initiator
	for {
		before := c.bytesRead()
		payload, err := n.protocols.readMessage(c.RemoteAddr(), c.Reader())
		if err != nil {
			if errors.Is(err, ErrInvalidData) {
				n.knownPeers.RegisterFailure(c.RemoteAddr(), durable)
				n.logger.Debug("dropping malformed frame",
					zap.String("addr", c.RemoteAddr()), zap.Error(err))
				select {
				case <-time.After(n.cfg.InvalidMessagePenalty):
				case <-ctx.Done():
					return ctx.Err()
				}
				continue
			}
			n.knownPeers.RegisterFailure(c.RemoteAddr(), durable)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrIo, err)
		}

		// The bufio reader may pull more than one frame's worth of bytes off
		// the socket in a single underlying Read, so attribute the wire-byte
		// delta (framing included) rather than the parsed payload length to
		// this message; summed across the connection's lifetime the two
		// totals agree regardless of how bufio happened to batch them.
		n.knownPeers.RegisterReceived(c.RemoteAddr(), durable, int(c.bytesRead()-before))

		select {
		case inbound <- payload:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runConsumer drains parsed frames and calls the user's ProcessMessage one
// at a time, in wire order, for a single connection.
func (n *Node) runConsumer(ctx context.Context, c *Connection, inbound <-chan []byte) {
	for payload := range inbound {
		if err := n.protocols.processMessage(ctx, c.RemoteAddr(), payload); err != nil {
			n.logger.Warn("message handler failed",
				zap.String("addr", c.RemoteAddr()), zap.Error(err))
		}
	}
}
