package physics

import "testing"

// TestSnapshotRoundTrip is scenario 1 from spec.md §8: encode a
// SNAPSHOT with tick=42 and one entity, decode, and expect exact
// equality on all fields.
func TestSnapshotRoundTrip(t *testing.T) {
	snap := Snapshot{
		Tick: 42,
		Entities: []EntityState{
			{ID: 1, PosX: 10, PosY: 20, VelX: 0, VelY: 0, Health: 100},
		},
	}

	payload, err := EncodeSnapshot(snap, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := DecodeSnapshot(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Tick != snap.Tick {
		t.Fatalf("tick = %d, want %d", got.Tick, snap.Tick)
	}
	if len(got.Entities) != 1 || got.Entities[0] != snap.Entities[0] {
		t.Fatalf("entities = %+v, want %+v", got.Entities, snap.Entities)
	}
}

func TestSnapshotWithTrailerRoundTrip(t *testing.T) {
	snap := Snapshot{
		Tick: 7,
		Entities: []EntityState{
			{ID: 1, PosX: 1, PosY: 2, Health: 100},
			{ID: 2, PosX: 3, PosY: 4, Health: 80},
		},
	}
	trailer := []AckEntry{
		{ClientID: 1, LastProcessedInputSeq: 99},
		{ClientID: 2, LastProcessedInputSeq: 150},
	}
	payload, err := EncodeSnapshot(snap, trailer)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := DecodeSnapshot(payload)
	if err != nil {
		t.Fatalf("decode entities: %v", err)
	}
	if len(got.Entities) != 2 {
		t.Fatalf("got %d entities, want 2", len(got.Entities))
	}

	off := SnapshotDataLen(got)
	entry, ok := DecodeTrailer(payload, off, 2)
	if !ok {
		t.Fatal("expected to find trailer row for client 2")
	}
	if entry.LastProcessedInputSeq != 150 {
		t.Fatalf("lastProcessedInputSeq = %d, want 150", entry.LastProcessedInputSeq)
	}

	if _, ok := DecodeTrailer(payload, off, 99); ok {
		t.Fatal("should not find a trailer row for an unconnected client id")
	}
}

func TestEncodeSnapshotTooManyEntities(t *testing.T) {
	entities := make([]EntityState, 256)
	if _, err := EncodeSnapshot(Snapshot{Entities: entities}, nil); err != ErrTooManyEntities {
		t.Fatalf("got err=%v, want ErrTooManyEntities", err)
	}
}

func TestDecodeSnapshotTruncated(t *testing.T) {
	snap := Snapshot{Tick: 1, Entities: []EntityState{{ID: 1}}}
	payload, _ := EncodeSnapshot(snap, nil)
	if _, err := DecodeSnapshot(payload[:len(payload)-1]); err != ErrSnapshotTruncated {
		t.Fatalf("got err=%v, want ErrSnapshotTruncated", err)
	}
}
