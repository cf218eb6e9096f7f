package physics

import (
	"encoding/binary"
	"errors"
	"math"
)

// EntityStateSize is the fixed wire size of one EntityState record.
const EntityStateSize = 1 + 4 + 4 + 4 + 4 + 4 // id + posX + posY + velX + velY + health

// snapshotHeaderSize is tick(u32) + entityCount(u8).
const snapshotHeaderSize = 4 + 1

// trailerEntrySize is clientId(u8) + lastProcessedInputSeq(u32).
const trailerEntrySize = 1 + 4

var (
	ErrSnapshotTruncated = errors.New("physics: snapshot truncated")
	ErrTooManyEntities   = errors.New("physics: entity count exceeds 255")
)

// EntityState is one entity's wire-visible state: a flat slot keyed by a
// u8 id (0 is reserved and never assigned to a live entity).
type EntityState struct {
	ID     uint8
	PosX   float32
	PosY   float32
	VelX   float32
	VelY   float32
	Health float32
}

// Snapshot is the server's authoritative world state at a single tick,
// plus (when built by the server) a trailer of per-client
// acknowledgment data appended after the entity list.
type Snapshot struct {
	Tick     uint32
	Entities []EntityState
}

// AckEntry is one row of the per-client trailer appended to a SNAPSHOT
// payload: which input sequence the server had processed for that
// client as of this tick.
type AckEntry struct {
	ClientID             uint8
	LastProcessedInputSeq uint32
}

// EncodeSnapshot serializes the snapshot and trailer into one SNAPSHOT
// payload. trailer may be nil (e.g. a client re-encoding for tests).
func EncodeSnapshot(s Snapshot, trailer []AckEntry) ([]byte, error) {
	if len(s.Entities) > 255 {
		return nil, ErrTooManyEntities
	}
	size := snapshotHeaderSize + len(s.Entities)*EntityStateSize + len(trailer)*trailerEntrySize
	buf := make([]byte, size)

	binary.BigEndian.PutUint32(buf[0:4], s.Tick)
	buf[4] = byte(len(s.Entities))

	off := snapshotHeaderSize
	for _, e := range s.Entities {
		buf[off] = e.ID
		putFloat32(buf[off+1:off+5], e.PosX)
		putFloat32(buf[off+5:off+9], e.PosY)
		putFloat32(buf[off+9:off+13], e.VelX)
		putFloat32(buf[off+13:off+17], e.VelY)
		putFloat32(buf[off+17:off+21], e.Health)
		off += EntityStateSize
	}
	for _, a := range trailer {
		buf[off] = a.ClientID
		binary.BigEndian.PutUint32(buf[off+1:off+5], a.LastProcessedInputSeq)
		off += trailerEntrySize
	}
	return buf, nil
}

// DecodeSnapshot parses a SNAPSHOT payload's entity list. The trailer is
// not part of this call's return — a client locates its own trailer row
// with DecodeTrailer once it knows how many bytes the entity list
// consumed (SnapshotDataLen).
func DecodeSnapshot(data []byte) (Snapshot, error) {
	if len(data) < snapshotHeaderSize {
		return Snapshot{}, ErrSnapshotTruncated
	}
	tick := binary.BigEndian.Uint32(data[0:4])
	count := int(data[4])

	need := snapshotHeaderSize + count*EntityStateSize
	if len(data) < need {
		return Snapshot{}, ErrSnapshotTruncated
	}

	entities := make([]EntityState, count)
	off := snapshotHeaderSize
	for i := 0; i < count; i++ {
		entities[i] = EntityState{
			ID:     data[off],
			PosX:   getFloat32(data[off+1 : off+5]),
			PosY:   getFloat32(data[off+5 : off+9]),
			VelX:   getFloat32(data[off+9 : off+13]),
			VelY:   getFloat32(data[off+13 : off+17]),
			Health: getFloat32(data[off+17 : off+21]),
		}
		off += EntityStateSize
	}
	return Snapshot{Tick: tick, Entities: entities}, nil
}

// SnapshotDataLen returns the byte length of the entity portion of a
// SNAPSHOT payload, i.e. the offset at which the trailer begins.
func SnapshotDataLen(s Snapshot) int {
	return snapshotHeaderSize + len(s.Entities)*EntityStateSize
}

// DecodeTrailer parses the per-client ack trailer that begins at offset
// in a SNAPSHOT payload and finds the row for clientID, if present.
func DecodeTrailer(data []byte, offset int, clientID uint8) (AckEntry, bool) {
	for off := offset; off+trailerEntrySize <= len(data); off += trailerEntrySize {
		id := data[off]
		seq := binary.BigEndian.Uint32(data[off+1 : off+5])
		if id == clientID {
			return AckEntry{ClientID: id, LastProcessedInputSeq: seq}, true
		}
	}
	return AckEntry{}, false
}

func putFloat32(b []byte, v float32) {
	binary.BigEndian.PutUint32(b, math.Float32bits(v))
}

func getFloat32(b []byte) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(b))
}
