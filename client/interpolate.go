package client

import (
	"sort"

	"gamenet/physics"
)

// snapshotBufferCap is M in §3's data model: the minimum size of the
// bounded buffer of received snapshots kept for interpolation.
const snapshotBufferCap = 16

// InterpDelay is the fixed number of ticks remote entities are rendered
// behind the newest known snapshot, per §4.6.
const InterpDelay = 2

// RemoteEntity is one remote entity's interpolated renderable position,
// returned by Interpolator.Render.
type RemoteEntity struct {
	ID   uint8
	PosX float32
	PosY float32
}

// Interpolator buffers recent snapshots keyed by server tick and renders
// remote entities at a logical time behind the newest known tick, per
// §4.6 and the design note in §9: entity identity is a flat u8 id, never
// a pointer, and an id absent from the bracketing later snapshot means
// the entity disappeared — it is never extrapolated.
type Interpolator struct {
	snapshots []physics.Snapshot // sorted by Tick ascending
}

// Add records a freshly received snapshot, evicting the oldest once the
// buffer exceeds snapshotBufferCap. Snapshots are kept sorted by tick;
// a duplicate tick replaces the existing entry rather than duplicating.
func (it *Interpolator) Add(snap physics.Snapshot) {
	for i, s := range it.snapshots {
		if s.Tick == snap.Tick {
			it.snapshots[i] = snap
			return
		}
	}
	it.snapshots = append(it.snapshots, snap)
	sort.Slice(it.snapshots, func(i, j int) bool { return it.snapshots[i].Tick < it.snapshots[j].Tick })
	if len(it.snapshots) > snapshotBufferCap {
		it.snapshots = it.snapshots[len(it.snapshots)-snapshotBufferCap:]
	}
}

// LatestTick returns the newest buffered tick, or 0 if the buffer is
// empty.
func (it *Interpolator) LatestTick() uint32 {
	if len(it.snapshots) == 0 {
		return 0
	}
	return it.snapshots[len(it.snapshots)-1].Tick
}

// Render computes the interpolated position of every remote entity
// (i.e. every entity other than selfID) at renderTick =
// LatestTick() - InterpDelay. If the buffer doesn't bracket renderTick,
// or only one snapshot exists, the newest known position is held rather
// than extrapolated.
func (it *Interpolator) Render(selfID uint8) []RemoteEntity {
	if len(it.snapshots) == 0 {
		return nil
	}
	latest := it.LatestTick()
	var renderTick uint32
	if latest > InterpDelay {
		renderTick = latest - InterpDelay
	}

	sa, sb, bracketed := it.bracket(renderTick)
	if !bracketed {
		return it.holdNewest(selfID)
	}

	byID := make(map[uint8]physics.EntityState, len(sb.Entities))
	for _, e := range sb.Entities {
		byID[e.ID] = e
	}

	frac := float32(0)
	if sb.Tick != sa.Tick {
		frac = float32(renderTick-sa.Tick) / float32(sb.Tick-sa.Tick)
	}

	out := make([]RemoteEntity, 0, len(sa.Entities))
	for _, a := range sa.Entities {
		if a.ID == selfID {
			continue
		}
		b, stillPresent := byID[a.ID]
		if !stillPresent {
			// Disappeared between s_a and s_b: stop rendering it, per
			// §9 — absence is not extrapolated.
			continue
		}
		out = append(out, RemoteEntity{
			ID:   a.ID,
			PosX: a.PosX + (b.PosX-a.PosX)*frac,
			PosY: a.PosY + (b.PosY-a.PosY)*frac,
		})
	}
	return out
}

// bracket finds the pair (s_a, s_b) with s_a.Tick <= renderTick <
// s_b.Tick. ok is false if no such pair exists in the current buffer.
func (it *Interpolator) bracket(renderTick uint32) (a, b physics.Snapshot, ok bool) {
	for i := 0; i+1 < len(it.snapshots); i++ {
		if it.snapshots[i].Tick <= renderTick && renderTick < it.snapshots[i+1].Tick {
			return it.snapshots[i], it.snapshots[i+1], true
		}
	}
	return physics.Snapshot{}, physics.Snapshot{}, false
}

// holdNewest renders every known remote entity at its most recently
// reported position, used whenever the buffer can't bracket renderTick
// (too few snapshots, or renderTick outside the buffered range).
func (it *Interpolator) holdNewest(selfID uint8) []RemoteEntity {
	newest := it.snapshots[len(it.snapshots)-1]
	out := make([]RemoteEntity, 0, len(newest.Entities))
	for _, e := range newest.Entities {
		if e.ID == selfID {
			continue
		}
		out = append(out, RemoteEntity{ID: e.ID, PosX: e.PosX, PosY: e.PosY})
	}
	return out
}
