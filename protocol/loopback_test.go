package protocol_test

import (
	"testing"
	"time"

	"golang.org/x/net/nettest"

	"gamenet/protocol"
)

// TestAckTrackerOverLoopbackUDP exercises Encode/Decode and the ack
// tracker over two real loopback UDP sockets, rather than in-process
// byte slices, so the codec's framing is exercised the same way the
// server and client actually use it.
func TestAckTrackerOverLoopbackUDP(t *testing.T) {
	connA, err := nettest.NewLocalPacketListener("udp")
	if err != nil {
		t.Fatalf("listen A: %v", err)
	}
	defer connA.Close()
	connB, err := nettest.NewLocalPacketListener("udp")
	if err != nil {
		t.Fatalf("listen B: %v", err)
	}
	defer connB.Close()

	addrB := connB.LocalAddr()
	trackerA := protocol.NewAckTracker()
	trackerB := protocol.NewAckTracker()

	const n = 5
	for i := 0; i < n; i++ {
		seq := trackerA.NextOutbound()
		datagram := protocol.Encode(protocol.Heartbeat, seq, trackerA.RemoteSeq(), trackerA.AckBits(), nil)
		if _, err := connA.WriteTo(datagram, addrB); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	buf := make([]byte, 1500)
	for i := 0; i < n; i++ {
		if err := connB.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
			t.Fatalf("set deadline: %v", err)
		}
		size, _, err := connB.ReadFrom(buf)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		header, _, err := protocol.Decode(buf[:size], false)
		if err != nil {
			t.Fatalf("decode %d: %v", i, err)
		}
		trackerB.OnReceive(header.Seq)
	}

	if trackerB.RemoteSeq() != n-1 {
		t.Fatalf("remoteSeq = %d, want %d", trackerB.RemoteSeq(), n-1)
	}
	// Every one of the n packets actually delivered must be represented
	// received in the bitmap, per spec.md §8.
	for i := 0; i < n-1; i++ {
		bit := uint32(1) << uint(n-2-i)
		if trackerB.AckBits()&bit == 0 {
			t.Fatalf("seq %d not marked received in bitmap %032b", i, trackerB.AckBits())
		}
	}
}
