package protocol

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	data := Encode(Input, 42, 7, 0xDEADBEEF, payload)

	header, got, err := Decode(data, false)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if header.Seq != 42 || header.Ack != 7 || header.AckBits != 0xDEADBEEF {
		t.Fatalf("header mismatch: %+v", header)
	}
	if header.Type != Input {
		t.Fatalf("type mismatch: got %v", header.Type)
	}
	if header.PayloadLen != uint16(len(payload)) {
		t.Fatalf("payloadLen mismatch: got %d want %d", header.PayloadLen, len(payload))
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: got %v want %v", got, payload)
	}
}

func TestDecodeBadMagic(t *testing.T) {
	data := Encode(Ping, 1, 0, 0, nil)
	data[0] ^= 0xFF
	if _, _, err := Decode(data, false); err != ErrBadMagic {
		t.Fatalf("got err=%v, want ErrBadMagic", err)
	}
}

func TestDecodeTruncatedHeader(t *testing.T) {
	data := Encode(Ping, 1, 0, 0, nil)
	if _, _, err := Decode(data[:HeaderSize-1], false); err != ErrTruncatedHeader {
		t.Fatalf("got err=%v, want ErrTruncatedHeader", err)
	}
}

func TestDecodeTruncatedPayload(t *testing.T) {
	data := Encode(Input, 1, 0, 0, []byte{1, 2, 3, 4})
	if _, _, err := Decode(data[:len(data)-2], false); err != ErrTruncatedPayload {
		t.Fatalf("got err=%v, want ErrTruncatedPayload", err)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	data := Encode(Ping, 1, 0, 0, nil)
	data[12] = 0xFE // unassigned type

	if _, _, err := Decode(data, false); err != ErrUnknownType {
		t.Fatalf("got err=%v, want ErrUnknownType", err)
	}
	if _, _, err := Decode(data, true); err != nil {
		t.Fatalf("passthrough decode failed: %v", err)
	}
}

func TestDecodeTooShortForMagic(t *testing.T) {
	if _, _, err := Decode([]byte{1, 2}, false); err != ErrTruncatedHeader {
		t.Fatalf("got err=%v, want ErrTruncatedHeader", err)
	}
}

func TestProtocolIDMagicBytes(t *testing.T) {
	// "GAME" packed big-endian, per spec.md §3.
	want := []byte{'G', 'A', 'M', 'E'}
	data := Encode(Heartbeat, 0, 0, 0, nil)
	if !bytes.Equal(data[:4], want) {
		t.Fatalf("magic bytes = %v, want %v", data[:4], want)
	}
}
