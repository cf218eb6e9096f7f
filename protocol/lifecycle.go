package protocol

import "encoding/binary"

// PingPayloadSize is the fixed size of a PING/PONG payload: an 8-byte
// timestamp opaque to the protocol, echoed verbatim by PONG.
const PingPayloadSize = 8

// EncodePingPayload packs a caller-chosen uint64 timestamp for a PING.
// The core never interprets this value; it only guarantees it comes back
// unmodified in the matching PONG.
func EncodePingPayload(ts uint64) []byte {
	buf := make([]byte, PingPayloadSize)
	binary.BigEndian.PutUint64(buf, ts)
	return buf
}

// DecodePingPayload unpacks a PING or PONG payload back into the u64
// timestamp the sender chose.
func DecodePingPayload(payload []byte) (uint64, error) {
	if len(payload) < PingPayloadSize {
		return 0, ErrTruncatedPayload
	}
	return binary.BigEndian.Uint64(payload[:PingPayloadSize]), nil
}

// EncodeConnectAck packs the single assigned client id.
func EncodeConnectAck(id uint8) []byte {
	return []byte{id}
}

// DecodeConnectAck unpacks the assigned client id from a CONNECT_ACK
// payload.
func DecodeConnectAck(payload []byte) (uint8, error) {
	if len(payload) < 1 {
		return 0, ErrTruncatedPayload
	}
	return payload[0], nil
}
