package server

import (
	"sort"

	"gamenet/physics"
)

// WorldState is the server's authoritative view of every connected
// client's entity: a flat slot table keyed by the client's u8 id, plus
// the monotonically increasing server tick counter. There is no pointer
// graph between entities — interpolation and reconciliation on the
// client side both depend on identity being "just an id" rather than a
// reference that could dangle across snapshots.
type WorldState struct {
	Tick     uint32
	entities map[uint8]physics.EntityState
}

// NewWorldState returns an empty world at tick 0.
func NewWorldState() *WorldState {
	return &WorldState{entities: make(map[uint8]physics.EntityState)}
}

// Spawn creates a fresh entity for id if one doesn't already exist,
// centered in the world with full health. Re-entry (a client that
// reconnects with a previously-used id after expiry) gets a clean slate.
func (w *WorldState) Spawn(id uint8, cfg physics.Config) {
	if _, ok := w.entities[id]; ok {
		return
	}
	w.entities[id] = physics.EntityState{
		ID:     id,
		PosX:   cfg.WorldW / 2,
		PosY:   cfg.WorldH / 2,
		Health: 100,
	}
}

// Remove drops id's entity from the world; it will appear in no future
// snapshot.
func (w *WorldState) Remove(id uint8) {
	delete(w.entities, id)
}

// ApplyInput steps id's entity forward by dt under the given move intent,
// using the shared physics.Step function bit-for-bit identically to the
// client predictor. A no-op if id has no entity (e.g. it disconnected
// mid-tick before this was called).
func (w *WorldState) ApplyInput(cfg physics.Config, id uint8, moveX, moveY float32, dt float32) {
	es, ok := w.entities[id]
	if !ok {
		return
	}
	e := physics.Entity{X: es.PosX, Y: es.PosY, VX: es.VelX, VY: es.VelY}
	e = physics.Step(cfg, e, moveX, moveY, dt)
	es.PosX, es.PosY, es.VelX, es.VelY = e.X, e.Y, e.VX, e.VY
	w.entities[id] = es
}

// Entity returns id's current entity state, if any.
func (w *WorldState) Entity(id uint8) (physics.EntityState, bool) {
	es, ok := w.entities[id]
	return es, ok
}

// BuildSnapshot renders a physics.Snapshot of every live entity, sorted
// by id ascending so wire output (and thus anything derived from it) is
// deterministic across runs given identical inputs.
func (w *WorldState) BuildSnapshot() physics.Snapshot {
	entities := make([]physics.EntityState, 0, len(w.entities))
	for _, es := range w.entities {
		entities = append(entities, es)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
	return physics.Snapshot{Tick: w.Tick, Entities: entities}
}
