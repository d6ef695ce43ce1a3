package network

import (
	"bufio"
	"context"
	"io"
)

// ConnectionSide records which end of a Connection the local node occupies.
type ConnectionSide int

const (
	// Initiator is the side that dialed out.
	Initiator ConnectionSide = iota
	// Responder is the side that accepted the inbound stream.
	Responder
)

// Opposite returns the other side, the way spec.md §4.1 step 2 assigns a
// Connection the peer's side (the opposite of our own).
func (s ConnectionSide) Opposite() ConnectionSide {
	if s == Initiator {
		return Responder
	}
	return Initiator
}

func (s ConnectionSide) String() string {
	if s == Initiator {
		return "initiator"
	}
	return "responder"
}

// Handshake performs a connection handshake (spec.md §4.4). It is given the
// raw Connection (read/write halves still exposed directly) and must return
// either a ready-to-pump Connection or an error that aborts adaptation. It
// sees ConnectionSide from its own node's perspective so it can branch
// initiator/responder behavior. There is no built-in timeout: the embedder
// enforces one via ctx.
type Handshake func(ctx context.Context, conn *Connection) (*Connection, error)

// ReadMessage parses exactly one frame out of r (spec.md §4.5). Unlike the
// original Rust source's non-blocking "fill a buffer, try to parse, get
// back Option<Message>" loop, r is a buffered reader over the live socket:
// ReadMessage may simply block (e.g. via io.ReadFull) until a complete
// frame is available, which is the idiomatic Go equivalent of "wait for
// more bytes" and naturally preserves read-side back-pressure. It returns
// ErrInvalidData for a malformed-but-recoverable frame (the reader task
// sleeps InvalidMessagePenalty and resumes) or any other error for a fatal
// condition (EOF included) that tears the connection down.
type ReadMessage func(source string, r *bufio.Reader) ([]byte, error)

// ProcessMessage handles one fully parsed inbound message.
type ProcessMessage func(ctx context.Context, source string, payload []byte) error

// WriteMessage frames and writes one already-serialized payload to w
// (spec.md §4.6). The toolkit imposes no wire format; this is where the
// embedder adds e.g. a length prefix.
type WriteMessage func(target string, payload []byte, w io.Writer) error

// DisconnectHandler runs any extra user action when addr's connection is
// torn down, for any reason (spec.md §4.7). It may still use
// SendDirectMessage(addr, ...) while running: the connection isn't dropped
// until this returns.
type DisconnectHandler func(ctx context.Context, addr string)

// MaintenanceFunc is invoked periodically with access to the owning Node
// (spec.md §4.8).
type MaintenanceFunc func(ctx context.Context, n *Node)

// Protocols is the struct-of-optional-function-values a Node holds for its
// registered capabilities (spec.md §9 "Dynamic dispatch over user
// protocols"): no inheritance tree, just fields that are either set once or
// left nil. Each Enable method panics on re-registration, matching the
// teacher ecosystem's OnceCell-style "set more than once" panics in
// src/node.rs's set_* methods.
type Protocols struct {
	handshake         Handshake
	handshakeSet      bool
	readMessage       ReadMessage
	processMessage    ProcessMessage
	readingSet        bool
	writeMessage      WriteMessage
	writingSet        bool
	disconnectHandler DisconnectHandler
	disconnectSet     bool
	onConnect         func(addr string)
	onDisconnect      func(addr string)
}

// EnableHandshake registers the handshake protocol. Panics if called twice.
func (p *Protocols) EnableHandshake(h Handshake) {
	if p.handshakeSet {
		panic("network: Handshake protocol registered more than once")
	}
	p.handshake = h
	p.handshakeSet = true
}

// EnableReading registers the reading protocol. Panics if called twice.
func (p *Protocols) EnableReading(read ReadMessage, process ProcessMessage) {
	if p.readingSet {
		panic("network: Reading protocol registered more than once")
	}
	p.readMessage = read
	p.processMessage = process
	p.readingSet = true
}

// EnableWriting registers the writing protocol. Panics if called twice.
func (p *Protocols) EnableWriting(write WriteMessage) {
	if p.writingSet {
		panic("network: Writing protocol registered more than once")
	}
	p.writeMessage = write
	p.writingSet = true
}

// EnableDisconnect registers the disconnect protocol. Panics if called
// twice.
func (p *Protocols) EnableDisconnect(h DisconnectHandler) {
	if p.disconnectSet {
		panic("network: Disconnect protocol registered more than once")
	}
	p.disconnectHandler = h
	p.disconnectSet = true
}

// OnConnect registers a lightweight synchronous hook run once a connection
// is promoted to connected. Unlike the four protocols above it carries no
// queue or task of its own, and a later call replaces the earlier hook
// instead of panicking.
func (p *Protocols) OnConnect(f func(addr string)) { p.onConnect = f }

// OnDisconnect registers a lightweight synchronous hook run when a
// connection starts tearing down, before the heavier Disconnect protocol
// (if any) runs.
func (p *Protocols) OnDisconnect(f func(addr string)) { p.onDisconnect = f }

func (p *Protocols) hasHandshake() bool  { return p.handshakeSet }
func (p *Protocols) hasReading() bool    { return p.readingSet }
func (p *Protocols) hasWriting() bool    { return p.writingSet }
func (p *Protocols) hasDisconnect() bool { return p.disconnectSet }
