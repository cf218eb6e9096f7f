package protocol

import (
	"encoding/binary"
	"math"
)

// InputRecordSize is one (seq, moveX, moveY, actions) record inside an
// INPUT payload.
const InputRecordSize = 4 + 4 + 4 + 1

// InputRecord is a single input sample as carried on the wire. Clamping
// and diagonal normalization are applied where the input is consumed
// (physics.Step), not at decode time — the codec stays a pure transcoder.
type InputRecord struct {
	Seq     uint32
	MoveX   float32
	MoveY   float32
	Actions uint8
}

// EncodeInputs packs the redundant input array: a 1-byte count followed
// by that many records, oldest first, per §4.6's "last K inputs" rule.
func EncodeInputs(records []InputRecord) []byte {
	if len(records) > 255 {
		records = records[len(records)-255:]
	}
	buf := make([]byte, 1+len(records)*InputRecordSize)
	buf[0] = byte(len(records))
	off := 1
	for _, r := range records {
		binary.BigEndian.PutUint32(buf[off:off+4], r.Seq)
		binary.BigEndian.PutUint32(buf[off+4:off+8], math.Float32bits(r.MoveX))
		binary.BigEndian.PutUint32(buf[off+8:off+12], math.Float32bits(r.MoveY))
		buf[off+12] = r.Actions
		off += InputRecordSize
	}
	return buf
}

// DecodeInputs parses an INPUT payload back into its records.
func DecodeInputs(payload []byte) ([]InputRecord, error) {
	if len(payload) < 1 {
		return nil, ErrTruncatedPayload
	}
	count := int(payload[0])
	need := 1 + count*InputRecordSize
	if len(payload) < need {
		return nil, ErrTruncatedPayload
	}

	records := make([]InputRecord, count)
	off := 1
	for i := 0; i < count; i++ {
		records[i] = InputRecord{
			Seq:     binary.BigEndian.Uint32(payload[off : off+4]),
			MoveX:   math.Float32frombits(binary.BigEndian.Uint32(payload[off+4 : off+8])),
			MoveY:   math.Float32frombits(binary.BigEndian.Uint32(payload[off+8 : off+12])),
			Actions: payload[off+12],
		}
		off += InputRecordSize
	}
	return records, nil
}
