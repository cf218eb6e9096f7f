package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ProtocolID is the magic number stamped at the front of every datagram
// ("GAME" packed big-endian into a uint32).
const ProtocolID uint32 = 0x47414D45

// HeaderSize is the fixed 15-byte header length.
const HeaderSize = 4 + 2 + 2 + 4 + 1 + 2

// PacketType identifies the shape of a datagram's payload.
type PacketType uint8

const (
	ConnectReq    PacketType = 0x01
	ConnectAck    PacketType = 0x02
	Disconnect    PacketType = 0x03
	Input         PacketType = 0x04
	Snapshot      PacketType = 0x05
	Ping          PacketType = 0x06
	Pong          PacketType = 0x07
	ReliableEvent PacketType = 0x08
	Heartbeat     PacketType = 0x09
)

func (t PacketType) String() string {
	switch t {
	case ConnectReq:
		return "CONNECT_REQ"
	case ConnectAck:
		return "CONNECT_ACK"
	case Disconnect:
		return "DISCONNECT"
	case Input:
		return "INPUT"
	case Snapshot:
		return "SNAPSHOT"
	case Ping:
		return "PING"
	case Pong:
		return "PONG"
	case ReliableEvent:
		return "RELIABLE_EVENT"
	case Heartbeat:
		return "HEARTBEAT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(t))
	}
}

var (
	ErrBadMagic         = errors.New("protocol: bad magic")
	ErrTruncatedHeader  = errors.New("protocol: truncated header")
	ErrTruncatedPayload = errors.New("protocol: truncated payload")
	ErrUnknownType      = errors.New("protocol: unknown packet type")
)

// Header is the 15-byte fixed datagram header, decoded in place.
type Header struct {
	Seq        uint16
	Ack        uint16
	AckBits    uint32
	Type       PacketType
	PayloadLen uint16
}

// knownType guards Decode against forwarding garbage types to callers
// that haven't opted into passthrough.
func knownType(t PacketType) bool {
	return t >= ConnectReq && t <= Heartbeat
}

// Encode serializes a header plus payload into one allocation.
// It performs no semantic validation beyond what fits in the fixed fields.
func Encode(ptype PacketType, seq, ack uint16, ackBits uint32, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], ProtocolID)
	binary.BigEndian.PutUint16(buf[4:6], seq)
	binary.BigEndian.PutUint16(buf[6:8], ack)
	binary.BigEndian.PutUint32(buf[8:12], ackBits)
	buf[12] = byte(ptype)
	binary.BigEndian.PutUint16(buf[13:15], uint16(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf
}

// Decode parses a datagram into its header and payload slice (a view into
// data, not a copy). allowUnknown lets the caller opt into passthrough of
// unrecognized packet types instead of ErrUnknownType.
func Decode(data []byte, allowUnknown bool) (Header, []byte, error) {
	if len(data) < 4 {
		return Header{}, nil, ErrTruncatedHeader
	}
	if binary.BigEndian.Uint32(data[0:4]) != ProtocolID {
		return Header{}, nil, ErrBadMagic
	}
	if len(data) < HeaderSize {
		return Header{}, nil, ErrTruncatedHeader
	}

	h := Header{
		Seq:        binary.BigEndian.Uint16(data[4:6]),
		Ack:        binary.BigEndian.Uint16(data[6:8]),
		AckBits:    binary.BigEndian.Uint32(data[8:12]),
		Type:       PacketType(data[12]),
		PayloadLen: binary.BigEndian.Uint16(data[13:15]),
	}

	if !allowUnknown && !knownType(h.Type) {
		return Header{}, nil, ErrUnknownType
	}

	payload := data[HeaderSize:]
	if len(payload) < int(h.PayloadLen) {
		return Header{}, nil, ErrTruncatedPayload
	}
	return h, payload[:h.PayloadLen], nil
}
