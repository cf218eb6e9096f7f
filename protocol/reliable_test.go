package protocol

import "testing"

func TestReliableOutboxTrackAndDiscard(t *testing.T) {
	o := NewReliableOutbox()
	o.Track(1, []byte("hello"))
	o.Track(2, []byte("world"))

	o.Discard([]uint16{1})
	payloads := o.Resend([]uint16{1, 2})
	if len(payloads) != 1 || string(payloads[0]) != "world" {
		t.Fatalf("got %v, want only seq 2's payload (seq 1 was discarded)", payloads)
	}
}

func TestReliableOutboxResendRemovesOldEntry(t *testing.T) {
	o := NewReliableOutbox()
	o.Track(5, []byte("payload"))

	first := o.Resend([]uint16{5})
	if len(first) != 1 {
		t.Fatalf("got %v, want one payload", first)
	}
	second := o.Resend([]uint16{5})
	if len(second) != 0 {
		t.Fatal("resending the same (now-untracked) seq again must yield nothing")
	}
}

func TestReliableOutboxResendIgnoresUnknownSeq(t *testing.T) {
	o := NewReliableOutbox()
	if payloads := o.Resend([]uint16{99}); len(payloads) != 0 {
		t.Fatalf("got %v, want no payloads for an untracked seq", payloads)
	}
}

// TestReliableOutboxSurvivesRepeatedLoss exercises the full
// resend-then-retrack cycle an integration path must perform: a caller
// that resends a payload under a new sequence must Track it again, or a
// second loss of the same payload can never be reported/retried.
func TestReliableOutboxSurvivesRepeatedLoss(t *testing.T) {
	o := NewReliableOutbox()
	acks := NewAckTracker()

	seq := acks.NextOutbound()
	acks.OnPacketSent(seq)
	o.Track(seq, []byte("critical event"))

	// First loss: advance the local counter by exactly 32 more sends, so
	// that seq (and only seq) falls outside the ack window without ever
	// being acked.
	for i := 0; i < 32; i++ {
		s := acks.NextOutbound()
		acks.OnPacketSent(s)
	}
	lost := acks.InferredLost()
	if len(lost) != 1 || lost[0] != seq {
		t.Fatalf("expected seq %d reported lost, got %v", seq, lost)
	}

	resends := o.Resend(lost)
	if len(resends) != 1 {
		t.Fatalf("expected one payload to resend, got %v", resends)
	}

	// The caller resends under a fresh outbound sequence and must Track
	// it again for the payload to survive a second loss.
	newSeq := acks.NextOutbound()
	acks.OnPacketSent(newSeq)
	o.Track(newSeq, resends[0])

	for i := 0; i < 40; i++ {
		s := acks.NextOutbound()
		acks.OnPacketSent(s)
	}
	lost2 := acks.InferredLost()
	found := false
	for _, s := range lost2 {
		if s == newSeq {
			found = true
		}
	}
	if !found {
		t.Fatalf("retracked seq %d should be reported lost again, got %v", newSeq, lost2)
	}
	if resends2 := o.Resend(lost2); len(resends2) != 1 || string(resends2[0]) != "critical event" {
		t.Fatalf("payload lost a second time should still be resendable, got %v", resends2)
	}
}
