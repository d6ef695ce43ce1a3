package network

import (
	"bufio"
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Connection is one peer endpoint of a Node (spec.md §3, C3). It is
// constructed the moment a stream is accepted or dialed and lives until
// teardown; which of its tasks actually run depends on which Protocols the
// owning Node enabled.
//
// Writes always go through Write, a single mutex-guarded path to the
// underlying socket. That is what lets send_direct_message target a
// connection that is still only "connecting" (no writer task exists yet to
// drain an outbound channel, so the handshake and any direct send race for
// the same raw net.Conn) and also lets the writer task, once spawned, share
// that exact same path so no byte sequence from either caller is ever torn.
type Connection struct {
	node *Node

	id         uuid.UUID
	remoteAddr string
	side       ConnectionSide

	conn       net.Conn
	reader     *bufio.Reader
	readCount  atomic.Uint64
	writeMu    sync.Mutex
	bufw       *bufio.Writer
	writeCount atomic.Uint64

	// outbound is nil until the writer task is spawned (only happens if
	// the Writing protocol is enabled and the connection has been
	// promoted to connected).
	outbound chan outboundItem

	writerStarted atomic.Bool

	// group joins every task spawned for this connection (reader,
	// writer, and the always-present keep-alive watcher); groupCtx and
	// cancel are the context those tasks select on, set once in
	// adaptStream right after promotion.
	group    *errgroup.Group
	groupCtx context.Context
	cancel   context.CancelFunc

	// teardownOnce guards against teardown running twice when an
	// explicit Disconnect/ShutDown races the background joinAndTeardown
	// goroutine that also calls it once the task group exits.
	teardownOnce sync.Once

	userMu   sync.Mutex
	userData any
}

// outboundItem is one payload queued for the writer task, plus the
// one-shot completion handle a caller's SendDirectMessage gets back:
// done receives the write's outcome (nil on success) once the bytes have
// actually been handed to the OS, not merely enqueued (spec.md §4.6).
type outboundItem struct {
	payload []byte
	done    chan error
}

// countingReader wraps a connection's net.Conn so the reader task can
// measure exactly how many wire bytes (framing included) each parsed
// message cost, without the Reading codec having to report it itself.
type countingReader struct {
	r net.Conn
	n *atomic.Uint64
}

func (cr countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n.Add(uint64(n))
	return n, err
}

// countingWriter mirrors countingReader on the write side: writeCount only
// advances once bytes actually leave bufw for the socket, so a delta taken
// around a WriteMessage call still reflects true wire bytes even though the
// intermediate buffering means several small Write calls can land in one
// underlying net.Conn.Write.
type countingWriter struct {
	w net.Conn
	n *atomic.Uint64
}

func (cw countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n.Add(uint64(n))
	return n, err
}

func newConnection(node *Node, conn net.Conn, remoteAddr string, side ConnectionSide) *Connection {
	c := &Connection{
		node:       node,
		id:         uuid.New(),
		remoteAddr: remoteAddr,
		side:       side,
		conn:       conn,
	}
	c.reader = bufio.NewReaderSize(countingReader{r: conn, n: &c.readCount}, node.cfg.ConnReadBufferBytes)
	c.bufw = bufio.NewWriterSize(countingWriter{w: conn, n: &c.writeCount}, node.cfg.ConnWriteBufferBytes)
	return c
}

// ID uniquely identifies the connection for the lifetime of the process.
func (c *Connection) ID() uuid.UUID { return c.id }

// RemoteAddr is the address this Connection is keyed by in the owning
// Node's registry: the peer's listening address when Side is Initiator, the
// ephemeral socket address the stream arrived on when Side is Responder.
func (c *Connection) RemoteAddr() string { return c.remoteAddr }

// Side reports which end of the connection the local node occupies.
func (c *Connection) Side() ConnectionSide { return c.side }

// Reader exposes the buffered read half directly to the Handshake protocol
// and to the reader task (spec.md §4.4, §4.5); both run at different times
// over the connection's lifetime so there is no contention over it.
func (c *Connection) Reader() *bufio.Reader { return c.reader }

// Write is the single synchronized path to the socket, used directly by a
// Handshake function and by the writer task's WriteMessage call alike. It
// only copies into the connection's write buffer (sized by
// config.Config.ConnWriteBufferBytes) so that a codec's several small Write
// calls for one logical message coalesce into a single underlying socket
// write; the bytes are not guaranteed to have reached the OS until Flush
// runs. Callers that write directly on a raw Connection outside of
// writeDirect/runWriter (a Handshake function doing its own ping-pong, for
// instance) must call Flush before any subsequent blocking Read on the peer,
// or the peer will never see the bytes.
func (c *Connection) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.bufw.Write(p)
}

// Flush forces any buffered bytes out to the socket. writeDirect and
// runWriter call this once per logical message, after the whole
// WriteMessage/raw-Write call returns, so ConnWriteBufferBytes actually
// batches a message's writes instead of flushing on every call.
func (c *Connection) Flush() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.bufw.Flush()
}

// bytesRead and bytesWritten report the cumulative wire bytes moved over the
// raw socket so far, framing included. The reader and writer tasks diff
// these around each ReadMessage/WriteMessage call to attribute the true
// wire cost of a message to PeerStats, since the parsed payload a codec
// hands back has already had its framing stripped (or not yet added).
func (c *Connection) bytesRead() uint64    { return c.readCount.Load() }
func (c *Connection) bytesWritten() uint64 { return c.writeCount.Load() }

// UserData returns whatever the Handshake protocol stashed on this
// connection (spec.md §12 handshake state propagation), or nil if nothing
// was stashed.
func (c *Connection) UserData() any {
	c.userMu.Lock()
	defer c.userMu.Unlock()
	return c.userData
}

// SetUserData stashes arbitrary handshake-derived state (e.g. a negotiated
// peer name or protocol version) for later retrieval by message handlers or
// the disconnect hook.
func (c *Connection) SetUserData(v any) {
	c.userMu.Lock()
	c.userData = v
	c.userMu.Unlock()
}

// interruptRead forces a blocked ReadMessage call to return by expiring the
// socket's read deadline, without closing the connection outright. This is
// what lets Disconnect/ShutDown join a connection's reader task — and so
// run the disconnect hook before registry removal — while the socket is
// still open for the hook's own SendDirectMessage calls; teardown is what
// actually closes it once the hook returns.
func (c *Connection) interruptRead() {
	_ = c.conn.SetReadDeadline(time.Now())
}

func (c *Connection) close() error {
	return c.conn.Close()
}
