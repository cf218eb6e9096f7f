package protocol

import "time"

const ackWindow = 32

// sentRecord is what the tracker remembers about a datagram it sent,
// until the peer acks it or it falls out of the ack window.
type sentRecord struct {
	sentAt time.Time
}

// AckTracker maintains one side of the piggybacked-ack overlay: an
// outbound sequence counter, the highest sequence received from the peer,
// and a 32-bit bitmap of which of the preceding 32 peer sequences were
// seen. It is not safe for concurrent use — it is owned exclusively by
// the tick loop that created it, per the single-mutator concurrency model.
type AckTracker struct {
	localSeq    uint16
	remoteSeq   uint16
	receiveBits uint32
	initialized bool

	sent         map[uint16]sentRecord
	lostReported map[uint16]struct{}
}

// NewAckTracker returns a tracker with a fresh outbound counter.
func NewAckTracker() *AckTracker {
	return &AckTracker{
		sent:         make(map[uint16]sentRecord),
		lostReported: make(map[uint16]struct{}),
	}
}

// NextOutbound returns the current local sequence and advances it modulo
// 2^16. Callers that intend to track RTT should immediately follow with
// OnPacketSent.
func (t *AckTracker) NextOutbound() uint16 {
	seq := t.localSeq
	t.localSeq++
	return seq
}

// OnPacketSent records the send time of an outbound sequence so RTT and
// InferredLost can later account for it.
func (t *AckTracker) OnPacketSent(seq uint16) {
	t.sent[seq] = sentRecord{sentAt: time.Now()}
}

// RemoteSeq and AckBits expose the current piggyback-ack values to stamp
// into the next outgoing header.
func (t *AckTracker) RemoteSeq() uint16   { return t.remoteSeq }
func (t *AckTracker) AckBits() uint32     { return t.receiveBits }

// OnReceive updates the receive bitmap for an inbound sequence. Only
// sequences strictly newer than the current high-water mark advance it;
// older sequences within the 32-packet window set their bit; anything
// older than that, or a duplicate, is dropped silently.
func (t *AckTracker) OnReceive(seq uint16) {
	if !t.initialized {
		t.initialized = true
		t.remoteSeq = seq
		t.receiveBits = 0
		return
	}

	if SeqGreater16(seq, t.remoteSeq) {
		diff := uint32(seq - t.remoteSeq)
		if diff <= ackWindow {
			// The old remoteSeq was, by definition, already received;
			// under the new remoteSeq's indexing it sits at bit
			// (diff-1). When diff > 1, the bits below it (down to bit
			// 0, the packet immediately preceding the new seq) stay
			// clear, since those sequences haven't been seen yet.
			t.receiveBits = (t.receiveBits << diff) | (1 << (diff - 1))
		} else {
			// The old remoteSeq has fallen out of the representable
			// window entirely; nothing carries forward.
			t.receiveBits = 0
		}
		t.remoteSeq = seq
		return
	}

	diff := uint32(t.remoteSeq - seq)
	if diff > 0 && diff <= ackWindow {
		t.receiveBits |= 1 << (diff - 1)
	}
	// duplicate or ancient: drop
}

// AckedByPeer processes an (ack, ackBits) pair carried in a received
// header and returns the set of locally-sent sequences newly confirmed by
// it. Confirmed sequences stop being retransmission candidates for the
// reliable sublayer and are consumed by the metrics logger for RTT.
func (t *AckTracker) AckedByPeer(ack uint16, ackBits uint32) []uint16 {
	var confirmed []uint16

	if _, ok := t.sent[ack]; ok {
		confirmed = append(confirmed, ack)
	}
	for i := uint32(0); i < ackWindow; i++ {
		if ackBits&(1<<i) == 0 {
			continue
		}
		past := ack - 1 - uint16(i)
		if _, ok := t.sent[past]; ok {
			confirmed = append(confirmed, past)
		}
	}

	for _, seq := range confirmed {
		delete(t.sent, seq)
	}
	return confirmed
}

// SentAt returns when a still-outstanding sequence was sent, for RTT
// computation by the metrics logger before it is acked.
func (t *AckTracker) SentAt(seq uint16) (time.Time, bool) {
	rec, ok := t.sent[seq]
	return rec.sentAt, ok
}

// InferredLost reports, exactly once per sequence, outbound datagrams
// that have fallen more than 32 sequences behind the current local
// counter without ever being acked. Once reported, a sequence is removed
// from the tracker; a very late ack arriving afterward is ignored, since
// it can no longer be represented in a peer's ack bitfield anyway.
func (t *AckTracker) InferredLost() []uint16 {
	var lost []uint16
	for seq := range t.sent {
		diff := uint32(t.localSeq - seq)
		if diff <= ackWindow {
			continue
		}
		if _, already := t.lostReported[seq]; already {
			delete(t.sent, seq)
			continue
		}
		lost = append(lost, seq)
		t.lostReported[seq] = struct{}{}
		delete(t.sent, seq)
	}
	return lost
}
