package server

import (
	"net"
	"time"

	"gamenet/protocol"
)

// ClientRecord is one connected client's server-side bookkeeping. A
// single AckTracker serves both directions of the data model's "inbound
// AckTracker, outbound AckTracker" split: OnReceive tracks what this
// client has sent us, NextOutbound/AckedByPeer/InferredLost track what
// we've sent it and what it has confirmed.
type ClientRecord struct {
	ID         uint8
	Addr       *net.UDPAddr
	LastHeardAt time.Time

	Acks     *protocol.AckTracker
	Reliable *protocol.ReliableOutbox

	highestSeenInputSeq    uint32
	seenAnyInput           bool
	highestAppliedInputSeq uint32
	appliedAnyInput        bool
	pendingInputs          map[uint32]protocol.InputRecord

	BytesSent     int64
	BytesReceived int64
}

func newClientRecord(id uint8, addr *net.UDPAddr) *ClientRecord {
	return &ClientRecord{
		ID:            id,
		Addr:          addr,
		LastHeardAt:   time.Now(),
		Acks:          protocol.NewAckTracker(),
		Reliable:      protocol.NewReliableOutbox(),
		pendingInputs: make(map[uint32]protocol.InputRecord),
	}
}

// Touch updates the last-heard timestamp; any valid packet from the
// client does this, regardless of type.
func (c *ClientRecord) Touch() { c.LastHeardAt = time.Now() }

// IsTimedOut reports whether this client has been silent longer than
// timeout.
func (c *ClientRecord) IsTimedOut(timeout time.Duration) bool {
	return time.Since(c.LastHeardAt) > timeout
}

// EnqueueInput files a single input record for later application, but
// only if its sequence is newer than anything already seen from this
// client under wrap-aware comparison — duplicates and
// redelivered-but-already-seen redundant copies are silently discarded
// here, per §4.5 step 1.
func (c *ClientRecord) EnqueueInput(rec protocol.InputRecord) {
	if c.seenAnyInput && !protocol.SeqGreater32(rec.Seq, c.highestSeenInputSeq) {
		return
	}
	c.highestSeenInputSeq = rec.Seq
	c.seenAnyInput = true
	c.pendingInputs[rec.Seq] = rec
}

// ApplyNewest selects, applies, and clears the newest queued input whose
// sequence is strictly newer than the last one applied under wrap-aware
// comparison — "latest-seq wins, older discarded" per the Open Question
// resolution in §9 — and advances highestAppliedInputSeq. It returns
// false if there was nothing new to apply.
func (c *ClientRecord) ApplyNewest() (protocol.InputRecord, bool) {
	var (
		best  protocol.InputRecord
		found bool
	)
	for seq, rec := range c.pendingInputs {
		if c.appliedAnyInput && !protocol.SeqGreater32(seq, c.highestAppliedInputSeq) {
			continue
		}
		if !found || protocol.SeqGreater32(seq, best.Seq) {
			best = rec
			found = true
		}
	}
	c.pendingInputs = make(map[uint32]protocol.InputRecord)
	if !found {
		return protocol.InputRecord{}, false
	}
	c.highestAppliedInputSeq = best.Seq
	c.appliedAnyInput = true
	return best, true
}

// ClientManager owns the set of connected clients and id assignment. It
// is exclusively mutated by the server tick loop — no locking, per the
// single-mutator concurrency model.
type ClientManager struct {
	byID   map[uint8]*ClientRecord
	byAddr map[string]*ClientRecord
	nextID uint8
}

// NewClientManager returns an empty manager. Capacity is implicitly
// bounded to 255 clients (ids 1..255; 0 is reserved).
func NewClientManager() *ClientManager {
	return &ClientManager{
		byID:   make(map[uint8]*ClientRecord),
		byAddr: make(map[string]*ClientRecord),
		nextID: 1,
	}
}

// errCapacityExhausted is returned by Add when all 255 client ids are in
// use; the caller must silently ignore the CONNECT_REQ, per §4.5.
var errCapacityExhausted = errCap{}

type errCap struct{}

func (errCap) Error() string { return "server: client capacity exhausted" }

// Add allocates a new client id and registers addr. Capacity exhaustion
// (all 255 slots in use) returns errCapacityExhausted; the caller must
// not send a negative ack.
func (m *ClientManager) Add(addr *net.UDPAddr) (*ClientRecord, error) {
	if len(m.byID) >= 255 {
		return nil, errCapacityExhausted
	}
	id := m.allocateID()
	rec := newClientRecord(id, addr)
	m.byID[id] = rec
	m.byAddr[addr.String()] = rec
	return rec, nil
}

func (m *ClientManager) allocateID() uint8 {
	for {
		id := m.nextID
		m.nextID++
		if m.nextID == 0 {
			m.nextID = 1 // wrap past the reserved 0 id
		}
		if _, taken := m.byID[id]; !taken {
			return id
		}
	}
}

// ByAddr looks up a client by its remote address.
func (m *ClientManager) ByAddr(addr *net.UDPAddr) (*ClientRecord, bool) {
	rec, ok := m.byAddr[addr.String()]
	return rec, ok
}

// Remove drops a client from the manager.
func (m *ClientManager) Remove(id uint8) {
	rec, ok := m.byID[id]
	if !ok {
		return
	}
	delete(m.byID, id)
	delete(m.byAddr, rec.Addr.String())
}

// All returns every connected client, ordered by id ascending — the
// order the §5 "by client id, then input seq ascending" determinism
// requirement depends on.
func (m *ClientManager) All() []*ClientRecord {
	out := make([]*ClientRecord, 0, len(m.byID))
	for id := uint8(1); ; id++ {
		if rec, ok := m.byID[id]; ok {
			out = append(out, rec)
		}
		if id == 255 {
			break
		}
	}
	return out
}

// ExpireTimedOut removes and returns every client that has been silent
// longer than timeout.
func (m *ClientManager) ExpireTimedOut(timeout time.Duration) []*ClientRecord {
	var expired []*ClientRecord
	for _, rec := range m.All() {
		if rec.IsTimedOut(timeout) {
			expired = append(expired, rec)
		}
	}
	for _, rec := range expired {
		m.Remove(rec.ID)
	}
	return expired
}

// Count returns the number of connected clients.
func (m *ClientManager) Count() int { return len(m.byID) }
