// Package network implements the connection-oriented peer-to-peer toolkit:
// a Node accepts and dials TCP streams, adapts each into a Connection,
// pumps it through whichever optional protocols the embedder registered,
// and tracks per-peer statistics for the lifetime of the process.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nspcc-dev/peerkit/pkg/config"
	"github.com/nspcc-dev/peerkit/pkg/network/metrics"
	"github.com/nspcc-dev/peerkit/pkg/peerstats"
)

var nodeSeq int64

// Node is the toolkit's facade (spec.md §4, C6): owns a listener, a
// registry of Connections, and the KnownPeers ledger, and dispatches every
// registered protocol.
type Node struct {
	cfg    config.Config
	name   string
	logger *zap.Logger

	listener   net.Listener
	listenAddr string

	protocols  Protocols
	registry   *registry
	knownPeers *peerstats.KnownPeers

	maintenance         MaintenanceFunc
	maintenanceInterval time.Duration
	metricsEnabled      bool

	ctx    context.Context
	cancel context.CancelFunc

	// runWG tracks the accept loop and maintenance timer.
	runWG sync.WaitGroup
	// teardownWG tracks in-flight teardown goroutines so ShutDown can
	// wait for every Connection's task fleet to fully join.
	teardownWG sync.WaitGroup

	shutdownOnce sync.Once
	shuttingDown atomic.Bool
}

// New constructs a Node bound to a listener chosen per cfg (spec.md §4.1,
// §4.2) but does not start accepting connections; call Start for that. A nil
// logger falls back to cfg.Logger.Build().
func New(cfg config.Config, logger *zap.Logger) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if logger == nil {
		var err error
		logger, err = cfg.Logger.Build()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
	}

	ln, err := bindListener(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("node-%d", atomic.AddInt64(&nodeSeq, 1))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		cfg:        cfg,
		name:       name,
		logger:     logger.With(zap.String("node", name)),
		listener:   ln,
		listenAddr: ln.Addr().String(),
		registry:   newRegistry(),
		knownPeers: peerstats.New(),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// NewMultiple constructs n Nodes from the same base Config, each with
// AllowRandomPort forced on so they don't race for the same DesiredPort
// (spec.md §12, restoring the original source's spawn_multiple helper used
// throughout its test suite to build small test networks).
func NewMultiple(n int, cfg config.Config) ([]*Node, error) {
	nodes := make([]*Node, 0, n)
	for i := 0; i < n; i++ {
		c := cfg
		c.AllowRandomPort = true
		c.DesiredPort = 0
		if c.Name != "" {
			c.Name = fmt.Sprintf("%s-%d", c.Name, i)
		}
		node, err := New(c, nil)
		if err != nil {
			for _, prev := range nodes {
				_ = prev.ShutDown(context.Background())
			}
			return nil, fmt.Errorf("network: building node %d of %d: %w", i, n, err)
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func bindListener(cfg config.Config) (net.Listener, error) {
	port := cfg.DesiredPort
	ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(int(port)))
	if err == nil {
		return ln, nil
	}
	if !cfg.AllowRandomPort {
		return nil, err
	}
	return net.Listen("tcp", "127.0.0.1:0")
}

// Protocols returns the registration surface for this Node's optional
// protocols. Must be used before Start; registering after Start races with
// the accept loop and any already-dialed connections.
func (n *Node) Protocols() *Protocols { return &n.protocols }

// EnableMaintenance registers a function run every interval for the life of
// the Node (spec.md §4.8). Takes effect once Start runs.
func (n *Node) EnableMaintenance(interval time.Duration, f MaintenanceFunc) {
	n.maintenance = f
	n.maintenanceInterval = interval
}

// EnableMetrics turns on Prometheus reporting of connected-peer count and
// cumulative message counters for this Node, sampled on every maintenance
// tick (falling back to a one-second ticker if no MaintenanceFunc is
// registered). Registration with the default Prometheus registry happens
// once per process regardless of how many Nodes call this.
func (n *Node) EnableMetrics() {
	metrics.Register()
	n.metricsEnabled = true
}

// Start begins accepting inbound connections and, if registered, running
// the maintenance timer. Safe to call once.
func (n *Node) Start() {
	n.runWG.Add(1)
	go n.acceptLoop()

	if n.maintenance != nil && n.maintenanceInterval > 0 {
		n.runWG.Add(1)
		go n.maintenanceLoop()
	} else if n.metricsEnabled {
		n.maintenanceInterval = time.Second
		n.runWG.Add(1)
		go n.maintenanceLoop()
	}
	n.logger.Info("node started", zap.String("listen_addr", n.listenAddr))
}

func (n *Node) acceptLoop() {
	defer n.runWG.Done()
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			if n.shuttingDown.Load() {
				return
			}
			n.logger.Warn("accept failed", zap.Error(err))
			return
		}
		go n.handleAccepted(conn)
	}
}

func (n *Node) handleAccepted(conn net.Conn) {
	addr := conn.RemoteAddr().String()
	if err := n.adaptStream(conn, addr, Responder); err != nil {
		n.logger.Debug("rejecting inbound connection", zap.String("addr", addr), zap.Error(err))
		_ = conn.Close()
	}
}

func (n *Node) maintenanceLoop() {
	defer n.runWG.Done()
	t := time.NewTicker(n.maintenanceInterval)
	defer t.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-t.C:
			if n.maintenance != nil {
				n.maintenance(n.ctx, n)
			}
			if n.metricsEnabled {
				metrics.SetConnectedPeers(n.name, n.registry.numConnected())
				metrics.SetMessagesReceived(n.name, n.knownPeers.NumMessagesReceived())
				metrics.SetMessagesSent(n.name, n.knownPeers.NumMessagesSent())
			}
		}
	}
}

// Connect dials addr, runs the handshake protocol if any, and on success
// promotes the Connection to connected and spawns its reading/writing
// tasks (spec.md §4.1, §4.4, the Initiator side).
func (n *Node) Connect(ctx context.Context, addr string) error {
	if n.shuttingDown.Load() {
		return ErrShutdown
	}
	if n.registry.isConnected(addr) || n.registry.isConnecting(addr) {
		return fmt.Errorf("%w: %s", ErrAlreadyConnected, addr)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("network: dial %s: %w", addr, err)
	}
	if err := n.adaptStream(conn, addr, Initiator); err != nil {
		_ = conn.Close()
		return err
	}
	return nil
}

// adaptStream runs the full sequence spec.md §4.1/§4.4 describes: register
// as connecting, run the handshake (if any), promote to connected, spawn
// the reading/writing tasks the registered protocols call for, and then run
// the OnConnect hook.
func (n *Node) adaptStream(conn net.Conn, addr string, side ConnectionSide) error {
	// spec.md §4.1/§6: NumConnected (and so the max_connections check) is
	// the connecting+connected total, not just the connected table.
	if n.registry.total() >= int(n.cfg.MaxConnections) {
		return fmt.Errorf("network: at MaxConnections (%d), rejecting %s", n.cfg.MaxConnections, addr)
	}

	c := newConnection(n, conn, addr, side)

	if err := n.registry.insertConnecting(addr, c); err != nil {
		return err
	}

	if n.protocols.hasHandshake() {
		hctx, cancel := context.WithCancel(n.ctx)
		defer cancel()
		adapted, err := n.protocols.handshake(hctx, c)
		if err != nil {
			n.registry.remove(addr)
			return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
		}
		if adapted != nil {
			c = adapted
		}
	}

	if _, err := n.registry.promote(addr); err != nil {
		return err
	}

	durable := side == Initiator
	n.knownPeers.Add(addr, durable)

	groupCtx, cancel := context.WithCancel(n.ctx)
	group, groupCtx := errgroup.WithContext(groupCtx)
	c.group = group
	c.groupCtx = groupCtx
	c.cancel = cancel

	if n.protocols.hasWriting() {
		c.outbound = make(chan outboundItem, n.cfg.OutboundQueueDepth)
		c.writerStarted.Store(true)
		group.Go(func() error { return n.runWriter(groupCtx, c) })
	}
	if n.protocols.hasReading() {
		group.Go(func() error { return n.runReader(groupCtx, c) })
	}
	// A Connection with neither protocol enabled has no task that would
	// ever notice groupCtx being canceled; keep the fleet (and so
	// joinAndTeardown) alive until an explicit Disconnect/ShutDown fires
	// it, instead of tearing the connection down the instant it's adapted.
	group.Go(func() error {
		<-groupCtx.Done()
		return groupCtx.Err()
	})

	if n.protocols.onConnect != nil {
		n.protocols.onConnect(addr)
	}

	n.teardownWG.Add(1)
	go n.joinAndTeardown(c)

	n.logger.Debug("connection adapted",
		zap.String("addr", addr), zap.String("side", side.String()))
	return nil
}

// joinAndTeardown waits for every task spawned for c to exit, then runs
// teardown bookkeeping: disconnect hooks, registry removal, and (for an
// Initiator-side connection) stats-row removal.
func (n *Node) joinAndTeardown(c *Connection) {
	defer n.teardownWG.Done()

	err := c.group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		n.logger.Debug("connection task exited", zap.String("addr", c.RemoteAddr()), zap.Error(err))
	}

	n.teardown(c)
}

// teardown runs the disconnect hook (while addr is still registered, so
// the hook's own SendDirectMessage calls still reach a live connection),
// then removes addr from the registry and only then closes the socket
// (spec.md §4.7: "the user hook [runs] before the stream is dropped").
// Guarded by teardownOnce since both the background joinAndTeardown
// goroutine and an explicit Disconnect/ShutDown call this for the same
// Connection; only the first call actually runs it, and every caller
// blocks until that run completes.
func (n *Node) teardown(c *Connection) {
	c.teardownOnce.Do(func() {
		addr := c.RemoteAddr()

		// Every task of c, the writer included, has exited by now, so any
		// SendDirectMessage the hooks make must take the synchronous
		// writeDirect path rather than a queue nobody drains any more.
		c.writerStarted.Store(false)

		if n.protocols.onDisconnect != nil {
			n.protocols.onDisconnect(addr)
		}
		if n.protocols.hasDisconnect() {
			n.protocols.disconnectHandler(n.ctx, addr)
		}

		n.registry.remove(addr)
		_ = c.close()

		if c.Side() == Initiator {
			n.knownPeers.Remove(addr)
		}
	})
}

// Disconnect tears a connection down from the local side (spec.md §4.3).
// It is a no-op if addr is not currently connected or connecting. It does
// not return until teardown (disconnect hook, registry removal, and
// socket close) has actually completed, matching spec.md §8 invariant 2:
// once Disconnect returns, neither registry table contains addr and a
// subsequent SendDirectMessage(addr, …) fails with ErrNotConnected.
func (n *Node) Disconnect(addr string) error {
	c, ok := n.registry.get(addr)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, addr)
	}
	if c.cancel != nil {
		// Cancel unblocks the writer and the keep-alive watcher
		// immediately; the reader task is likely parked in a blocking
		// socket read that groupCtx cancellation alone can't interrupt,
		// so also force it to return via a read-deadline kick.
		c.cancel()
		c.interruptRead()
		_ = c.group.Wait()
	}
	n.teardown(c)
	return nil
}

// SendDirectMessage sends payload to addr. While addr is still only
// connecting (handshake in flight, no writer task yet), or when the Writing
// protocol isn't enabled at all, the write happens synchronously on the raw
// Connection; otherwise it is enqueued for the writer task and this call
// may block (or fail with ErrQueueFull if the caller wants non-blocking
// semantics — see SendDirectMessageNonBlocking). The returned error only
// reports whether payload was successfully queued; the returned SendHandle
// resolves separately once the bytes have actually reached the OS.
func (n *Node) SendDirectMessage(addr string, payload []byte) (SendHandle, error) {
	c, ok := n.registry.get(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, addr)
	}
	return n.send(c, payload, true)
}

// SendDirectMessageNonBlocking behaves like SendDirectMessage but returns
// ErrQueueFull immediately instead of blocking when the outbound channel is
// saturated (spec.md §4.6 back-pressure point (ii)).
func (n *Node) SendDirectMessageNonBlocking(addr string, payload []byte) (SendHandle, error) {
	c, ok := n.registry.get(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, addr)
	}
	return n.send(c, payload, false)
}

// SendHandle resolves once payload has actually been handed to the OS —
// written synchronously, or (when a Writing protocol and its writer task
// are in play) drained off the outbound queue and passed to WriteMessage —
// carrying nil on success or the error that write hit (spec.md §4.6: send
// "returns a handle that resolves when the bytes have been handed to the
// OS"; §6 invariant 4: stats are updated before that handle fires). A
// caller that doesn't need completion ordering can simply ignore it.
type SendHandle <-chan error

// send enqueues (or, pre-promotion/no-Writing-protocol, synchronously
// performs) one write and returns a handle for its completion. The
// returned error is only about getting payload queued: ErrShutdown if the
// node is going down while blocking, ErrQueueFull for a saturated
// non-blocking send. Once queued, the actual write outcome only ever shows
// up on the returned handle.
func (n *Node) send(c *Connection, payload []byte, blocking bool) (SendHandle, error) {
	if !c.writerStarted.Load() || c.outbound == nil {
		err := n.writeDirect(c, payload)
		done := make(chan error, 1)
		done <- err
		return done, nil
	}
	item := outboundItem{payload: payload, done: make(chan error, 1)}
	if blocking {
		select {
		case c.outbound <- item:
			return item.done, nil
		case <-n.ctx.Done():
			return nil, ErrShutdown
		}
	}
	select {
	case c.outbound <- item:
		return item.done, nil
	default:
		return nil, ErrQueueFull
	}
}

// writeDirect frames and writes payload synchronously through the
// WriteMessage codec (or raw, if no Writing protocol is registered at all,
// which is only useful during handshakes).
func (n *Node) writeDirect(c *Connection, payload []byte) error {
	durable := c.Side() == Initiator
	before := c.bytesWritten()
	if !n.protocols.hasWriting() {
		if _, err := c.Write(payload); err != nil {
			n.knownPeers.RegisterFailure(c.RemoteAddr(), durable)
			return fmt.Errorf("%w: %v", ErrIo, err)
		}
		if err := c.Flush(); err != nil {
			n.knownPeers.RegisterFailure(c.RemoteAddr(), durable)
			return fmt.Errorf("%w: %v", ErrIo, err)
		}
		n.knownPeers.RegisterSent(c.RemoteAddr(), durable, int(c.bytesWritten()-before))
		return nil
	}
	if err := n.protocols.writeMessage(c.RemoteAddr(), payload, c); err != nil {
		n.knownPeers.RegisterFailure(c.RemoteAddr(), durable)
		return fmt.Errorf("%w: %v", ErrIo, err)
	}
	if err := c.Flush(); err != nil {
		n.knownPeers.RegisterFailure(c.RemoteAddr(), durable)
		return fmt.Errorf("%w: %v", ErrIo, err)
	}
	n.knownPeers.RegisterSent(c.RemoteAddr(), durable, int(c.bytesWritten()-before))
	return nil
}

// SendBroadcast sends payload to every currently connected peer, skipping
// (and counting as a failure against) any whose outbound queue is full
// rather than blocking the whole broadcast on one slow peer. Per-peer
// completion handles aren't surfaced (DESIGN.md open question 4): broadcast
// is explicitly "not atomic" and no caller has ever needed to wait on one
// peer's write among many.
func (n *Node) SendBroadcast(payload []byte) (sent int, err error) {
	conns := n.registry.connectedSnapshot()
	var firstErr error
	for _, c := range conns {
		if _, sendErr := n.send(c, payload, false); sendErr != nil {
			n.knownPeers.RegisterFailure(c.RemoteAddr(), c.Side() == Initiator)
			n.logger.Debug("broadcast skipped peer",
				zap.String("addr", c.RemoteAddr()), zap.Error(sendErr))
			if firstErr == nil {
				firstErr = sendErr
			}
			continue
		}
		sent++
	}
	return sent, firstErr
}

// ShutDown cancels every in-flight task, stops accepting new connections,
// and waits for every Connection's reader/writer/consumer fleet (C9) plus
// the accept loop and maintenance timer to fully join.
func (n *Node) ShutDown(ctx context.Context) error {
	n.shutdownOnce.Do(func() {
		n.shuttingDown.Store(true)
		_ = n.listener.Close()
		n.cancel()

		// Cancel each connection's task group and kick its reader off
		// any blocked socket read, but do not close the socket here:
		// that happens inside teardown, after the disconnect hook runs,
		// via the joinAndTeardown goroutine each connection already has
		// running. Closing it here, before the hook, is exactly the bug
		// this sequencing avoids (spec.md §4.7).
		for _, c := range n.registry.connectedSnapshot() {
			if c.cancel != nil {
				c.cancel()
			}
			c.interruptRead()
		}
	})

	done := make(chan struct{})
	go func() {
		n.runWG.Wait()
		n.teardownWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.logger.Info("node shut down")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Name is this node's identifier, explicit or generated.
func (n *Node) Name() string { return n.name }

// ListeningAddr is the address the Node's listener is bound to.
func (n *Node) ListeningAddr() string { return n.listenAddr }

// IsConnected reports whether addr is a fully promoted peer.
func (n *Node) IsConnected(addr string) bool { return n.registry.isConnected(addr) }

// IsHandshaking reports whether addr is present but not yet promoted.
func (n *Node) IsHandshaking(addr string) bool { return n.registry.isConnecting(addr) }

// IsHandshaken is an alias for IsConnected (spec.md §4.1's query list
// names both; a promoted Connection is, by definition, past its
// handshake).
func (n *Node) IsHandshaken(addr string) bool { return n.registry.isConnected(addr) }

// NumConnected is the total number of tracked peers, connecting and
// connected combined (spec.md §6's "Observable behavior" note).
func (n *Node) NumConnected() int { return n.registry.total() }

// ConnectedAddrs snapshots every fully promoted peer address.
func (n *Node) ConnectedAddrs() []string { return n.registry.connectedAddrs() }

// Stats returns addr's running counters, and whether addr is known at all.
func (n *Node) Stats(addr string) (peerstats.Stats, bool) { return n.knownPeers.Get(addr) }

// RegisterFailure records one manual failure against addr, for callers
// (e.g. a user protocol reacting to application-level misbehavior) that
// want to feed the same counter a MaintenanceFunc later acts on.
func (n *Node) RegisterFailure(addr string) {
	n.knownPeers.RegisterFailure(addr, n.isDurable(addr))
}

// ResetPeerFailures zeroes addr's failure counter; the typical last step of
// a MaintenanceFunc after deciding a peer's failure count is acceptable
// again (spec.md §4.8).
func (n *Node) ResetPeerFailures(addr string) {
	n.knownPeers.ResetFailures(addr, n.isDurable(addr))
}

func (n *Node) isDurable(addr string) bool {
	c, ok := n.registry.get(addr)
	return ok && c.Side() == Initiator
}

// KnownPeers exposes the underlying ledger for callers (e.g. example
// programs) that want aggregate queries beyond a single address.
func (n *Node) KnownPeers() *peerstats.KnownPeers { return n.knownPeers }

// Logger returns the Node's scoped logger, for embedders that want to log
// consistently with the rest of the toolkit (e.g. from a MaintenanceFunc).
func (n *Node) Logger() *zap.Logger { return n.logger }
