package quic

import (
	"net/netip"
)

// connID is the 64-bit routing identifier carried in the QUIC header.
type connID uint64

// peerKey identifies a connection by its peer tuple before a connection
// ID has been established (or for short-header packets with no CID bit
// set). The zero-value peerKey{} is the server's "unbound" accept-waiter
// slot (§4.5 step 3).
type peerKey struct {
	addr     netip.Addr
	port     uint16
	isClient bool
}

// connTable holds the two indexes §4.3 requires: by peer tuple and by
// connection ID. It is a field of Endpoint, never package-level state,
// per the design note resolving the original's global process-wide maps.
type connTable struct {
	byPeer map[peerKey]*Conn
	byCID  map[cidKey]*Conn
}

type cidKey struct {
	id       connID
	isClient bool
}

func newConnTable() *connTable {
	return &connTable{
		byPeer: make(map[peerKey]*Conn),
		byCID:  make(map[cidKey]*Conn),
	}
}

func (t *connTable) lookupByPeer(k peerKey) (*Conn, bool) {
	c, ok := t.byPeer[k]
	return c, ok
}

func (t *connTable) lookupByCID(id connID, isClient bool) (*Conn, bool) {
	c, ok := t.byCID[cidKey{id, isClient}]
	return c, ok
}

// insertByPeer adds c under key k. Duplicate keys are forbidden; the
// caller must removeByPeer first if rebinding an existing entry.
func (t *connTable) insertByPeer(k peerKey, c *Conn) {
	if _, exists := t.byPeer[k]; exists {
		panic(ErrInvariantViolation)
	}
	t.byPeer[k] = c
}

func (t *connTable) removeByPeer(k peerKey) {
	delete(t.byPeer, k)
}

func (t *connTable) insertByCID(id connID, isClient bool, c *Conn) {
	k := cidKey{id, isClient}
	if _, exists := t.byCID[k]; exists {
		panic(ErrInvariantViolation)
	}
	t.byCID[k] = c
}

func (t *connTable) removeByCID(id connID, isClient bool) {
	delete(t.byCID, cidKey{id, isClient})
}

// rebindPeer moves a connection from one peer key to another, as required
// when an accept-waiter binds to its first real peer (§4.5 step 3).
// Updating a key always removes and re-inserts; keys are never mutated
// in place.
func (t *connTable) rebindPeer(old, new peerKey, c *Conn) {
	t.removeByPeer(old)
	t.insertByPeer(new, c)
}

func (t *connTable) count() int {
	return len(t.byCID)
}

// forEach visits every connection bound to a peer tuple, including the
// pending accept-waiter slot. Used by the idle-timeout sweep, which has
// no other way to reach a connection that has gone quiet.
func (t *connTable) forEach(fn func(*Conn)) {
	for _, c := range t.byPeer {
		fn(c)
	}
}
