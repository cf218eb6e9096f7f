package protocol

import "testing"

func TestEncodeDecodeInputsRoundTrip(t *testing.T) {
	records := []InputRecord{
		{Seq: 1, MoveX: 0.5, MoveY: -0.25, Actions: 0x01},
		{Seq: 2, MoveX: -1, MoveY: 1, Actions: 0x02},
		{Seq: 3, MoveX: 0, MoveY: 0, Actions: 0},
	}
	payload := EncodeInputs(records)

	got, err := DecodeInputs(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("got %d records, want %d", len(got), len(records))
	}
	for i, r := range records {
		if got[i] != r {
			t.Fatalf("record %d = %+v, want %+v", i, got[i], r)
		}
	}
}

func TestEncodeInputsEmpty(t *testing.T) {
	payload := EncodeInputs(nil)
	got, err := DecodeInputs(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d records, want 0", len(got))
	}
}

func TestDecodeInputsTruncated(t *testing.T) {
	payload := EncodeInputs([]InputRecord{{Seq: 1, MoveX: 0, MoveY: 0, Actions: 0}})
	if _, err := DecodeInputs(payload[:len(payload)-1]); err != ErrTruncatedPayload {
		t.Fatalf("got err=%v, want ErrTruncatedPayload", err)
	}
	if _, err := DecodeInputs(nil); err != ErrTruncatedPayload {
		t.Fatalf("got err=%v, want ErrTruncatedPayload", err)
	}
}

func TestEncodeInputsCapsAtRedundancyLimit(t *testing.T) {
	records := make([]InputRecord, 300)
	for i := range records {
		records[i] = InputRecord{Seq: uint32(i)}
	}
	payload := EncodeInputs(records)
	got, err := DecodeInputs(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 255 {
		t.Fatalf("got %d records, want 255 (1-byte count cap)", len(got))
	}
	// The kept records must be the newest 255 (oldest-first order
	// preserved), i.e. seq 45..299.
	if got[0].Seq != 45 {
		t.Fatalf("first kept seq = %d, want 45", got[0].Seq)
	}
}

func TestPingPongPayloadRoundTrip(t *testing.T) {
	ts := uint64(1234567890123)
	payload := EncodePingPayload(ts)
	got, err := DecodePingPayload(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != ts {
		t.Fatalf("got %d, want %d", got, ts)
	}
}

func TestConnectAckRoundTrip(t *testing.T) {
	payload := EncodeConnectAck(42)
	got, err := DecodeConnectAck(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
}
