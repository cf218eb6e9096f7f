package protocol

// ReliableOutbox retains RELIABLE_EVENT payloads keyed by the outbound
// sequence they were first sent on, resending them on inferred loss and
// discarding them once acked. Ordering across retransmissions is not
// preserved; callers needing order must carry their own key in the
// payload.
type ReliableOutbox struct {
	pending map[uint16][]byte
}

// NewReliableOutbox returns an empty outbox.
func NewReliableOutbox() *ReliableOutbox {
	return &ReliableOutbox{pending: make(map[uint16][]byte)}
}

// Track records that seq carries payload, so it can be resent if lost.
func (o *ReliableOutbox) Track(seq uint16, payload []byte) {
	o.pending[seq] = payload
}

// Discard drops sequences the tracker has confirmed the peer received;
// callers pass the slice AckedByPeer returned for this tick.
func (o *ReliableOutbox) Discard(acked []uint16) {
	for _, seq := range acked {
		delete(o.pending, seq)
	}
}

// Resend returns the payloads for sequences the ack tracker has inferred
// lost, so the caller can re-send them under a fresh sequence. The old
// entries are removed; a caller that resends must Track the new sequence.
func (o *ReliableOutbox) Resend(lost []uint16) [][]byte {
	var payloads [][]byte
	for _, seq := range lost {
		if payload, ok := o.pending[seq]; ok {
			payloads = append(payloads, payload)
			delete(o.pending, seq)
		}
	}
	return payloads
}
