// Package peerstats implements KnownPeers, the concurrent map from a peer's
// listening address to its running counters. The locking discipline (an
// RWMutex-guarded map keyed by address, with update methods that take the
// write lock only for the duration of a single map mutation) is adapted
// from the teacher's pkg/addrmgr.Addrmgr; the counters themselves follow
// spec.md §3's PeerStats definition rather than addrmgr's good/bad/new
// address-quality buckets, which have no equivalent here.
package peerstats

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/atomic"
)

// ephemeralCacheSize bounds the table of responder-side entries (peers
// known only by an ephemeral remote address, not their listening address).
// Without a bound, a long-running node that accepts many short-lived
// inbound connections from the same physical peers on different ephemeral
// ports would grow this table without limit, which violates spec.md §8
// invariant 6 (bounded memory footprint). See DESIGN.md's pkg/peerstats
// entry.
const ephemeralCacheSize = 4096

// Stats is a snapshot of one peer's counters. Bytes/msgs are cumulative;
// LastSeen is the wall-clock time of the most recent successful traffic.
type Stats struct {
	MsgsSent      uint64
	BytesSent     uint64
	MsgsReceived  uint64
	BytesReceived uint64
	Failures      uint64
	LastSeen      time.Time
}

// Sent returns the (msgs, bytes) pair the test suite relies on (spec.md §6).
func (s Stats) Sent() (uint64, uint64) { return s.MsgsSent, s.BytesSent }

// Received returns the (msgs, bytes) pair the test suite relies on.
func (s Stats) Received() (uint64, uint64) { return s.MsgsReceived, s.BytesReceived }

// entry is the live, mutable counter set backing one address. Counters are
// atomic so readers never block writers and vice versa; only the KnownPeers
// map itself (insertion/removal of an *entry) needs a mutex.
type entry struct {
	msgsSent      atomic.Uint64
	bytesSent     atomic.Uint64
	msgsReceived  atomic.Uint64
	bytesReceived atomic.Uint64
	failures      atomic.Uint64
	lastSeen      atomic.Int64 // UnixNano; 0 means never
}

func (e *entry) snapshot() Stats {
	s := Stats{
		MsgsSent:      e.msgsSent.Load(),
		BytesSent:     e.bytesSent.Load(),
		MsgsReceived:  e.msgsReceived.Load(),
		BytesReceived: e.bytesReceived.Load(),
		Failures:      e.failures.Load(),
	}
	if ns := e.lastSeen.Load(); ns != 0 {
		s.LastSeen = time.Unix(0, ns)
	}
	return s
}

func (e *entry) touch() { e.lastSeen.Store(time.Now().UnixNano()) }

// KnownPeers is the concurrent ledger of peer statistics keyed by listening
// address. Entries for addresses the node actually dialed (Initiator-side
// connections) live forever until explicitly removed; entries learned only
// from a responder-side connection's ephemeral remote address live in a
// bounded LRU cache instead, since that address may never be dialable again
// and a different future connection from the same peer can land on an
// entirely different ephemeral port (spec.md §3, §4.3).
type KnownPeers struct {
	mtx       sync.RWMutex
	durable   map[string]*entry
	ephemeral *lru.Cache
}

// New creates an empty KnownPeers ledger.
func New() *KnownPeers {
	cache, err := lru.New(ephemeralCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which never
		// happens with the constant above.
		panic(err)
	}
	return &KnownPeers{
		durable:   make(map[string]*entry),
		ephemeral: cache,
	}
}

// Add registers addr as known, creating a zeroed counters row if absent.
// durable controls which table the row lives in: true for addresses learned
// as a peer's own listening address (Initiator side), false for addresses
// learned only as an ephemeral remote endpoint (Responder side).
func (k *KnownPeers) Add(addr string, durable bool) {
	k.entryFor(addr, durable)
}

// Remove drops addr's row entirely. Used when an Initiator-side Connection
// is torn down (spec.md §3: "Destruction ... removes the peer's stats row"
// only for the Initiator side).
func (k *KnownPeers) Remove(addr string) {
	k.mtx.Lock()
	delete(k.durable, addr)
	k.mtx.Unlock()
	k.ephemeral.Remove(addr)
}

// Get returns a snapshot of addr's counters and whether addr is known at
// all.
func (k *KnownPeers) Get(addr string) (Stats, bool) {
	k.mtx.RLock()
	e, ok := k.durable[addr]
	k.mtx.RUnlock()
	if ok {
		return e.snapshot(), true
	}
	v, ok := k.ephemeral.Get(addr)
	if !ok {
		return Stats{}, false
	}
	return v.(*entry).snapshot(), true
}

func (k *KnownPeers) entryFor(addr string, durable bool) *entry {
	if durable {
		k.mtx.RLock()
		e, ok := k.durable[addr]
		k.mtx.RUnlock()
		if ok {
			return e
		}

		k.mtx.Lock()
		defer k.mtx.Unlock()
		if e, ok := k.durable[addr]; ok {
			return e
		}
		e = &entry{}
		k.durable[addr] = e
		return e
	}

	if v, ok := k.ephemeral.Get(addr); ok {
		return v.(*entry)
	}
	e := &entry{}
	k.ephemeral.Add(addr, e)
	return e
}

// RegisterSent records a message of byteLen bytes having been handed to the
// OS for addr.
func (k *KnownPeers) RegisterSent(addr string, durable bool, byteLen int) {
	e := k.entryFor(addr, durable)
	e.msgsSent.Inc()
	e.bytesSent.Add(uint64(byteLen))
	e.touch()
}

// RegisterReceived records a fully parsed message of byteLen bytes from
// addr.
func (k *KnownPeers) RegisterReceived(addr string, durable bool, byteLen int) {
	e := k.entryFor(addr, durable)
	e.msgsReceived.Inc()
	e.bytesReceived.Add(uint64(byteLen))
	e.touch()
}

// RegisterFailure increments addr's failure counter. Only ResetFailures (the
// maintenance hook's job) zeroes it; a new connection to addr does not. A
// durable row is removed when its Initiator-side connection tears down, so
// a later connection to that address starts from a fresh row (DESIGN.md
// Open Question 1).
func (k *KnownPeers) RegisterFailure(addr string, durable bool) {
	k.entryFor(addr, durable).failures.Inc()
}

// ResetFailures zeroes addr's failure counter, for use by a maintenance
// hook after acting on it.
func (k *KnownPeers) ResetFailures(addr string, durable bool) {
	k.entryFor(addr, durable).failures.Store(0)
}

// NumMessagesSent sums MsgsSent across every known durable address.
func (k *KnownPeers) NumMessagesSent() uint64 {
	var total uint64
	k.mtx.RLock()
	for _, e := range k.durable {
		total += e.msgsSent.Load()
	}
	k.mtx.RUnlock()
	return total
}

// NumMessagesReceived sums MsgsReceived across every known durable address;
// used by the Node's metrics sampling and by callers that just want a
// running total.
func (k *KnownPeers) NumMessagesReceived() uint64 {
	var total uint64
	k.mtx.RLock()
	for _, e := range k.durable {
		total += e.msgsReceived.Load()
	}
	k.mtx.RUnlock()
	return total
}
