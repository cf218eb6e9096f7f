package server

import (
	"testing"

	"gamenet/physics"
)

func TestWorldStateSpawnCentersEntityAtFullHealth(t *testing.T) {
	cfg := physics.DefaultConfig()
	w := NewWorldState()
	w.Spawn(1, cfg)

	es, ok := w.Entity(1)
	if !ok {
		t.Fatal("spawned entity not found")
	}
	if es.PosX != cfg.WorldW/2 || es.PosY != cfg.WorldH/2 {
		t.Fatalf("spawn position = (%v,%v), want world center", es.PosX, es.PosY)
	}
	if es.Health != 100 {
		t.Fatalf("health = %v, want 100", es.Health)
	}
}

func TestWorldStateSpawnIsIdempotent(t *testing.T) {
	cfg := physics.DefaultConfig()
	w := NewWorldState()
	w.Spawn(1, cfg)
	w.ApplyInput(cfg, 1, 1, 0, 0.05)
	moved, _ := w.Entity(1)

	w.Spawn(1, cfg) // re-spawning an existing id must not reset it
	still, _ := w.Entity(1)
	if still != moved {
		t.Fatalf("re-spawn reset an existing entity: before=%+v after=%+v", moved, still)
	}
}

func TestWorldStateRemoveDropsEntity(t *testing.T) {
	cfg := physics.DefaultConfig()
	w := NewWorldState()
	w.Spawn(1, cfg)
	w.Remove(1)
	if _, ok := w.Entity(1); ok {
		t.Fatal("removed entity should no longer be present")
	}
}

func TestWorldStateApplyInputOnMissingEntityIsNoop(t *testing.T) {
	cfg := physics.DefaultConfig()
	w := NewWorldState()
	w.ApplyInput(cfg, 9, 1, 0, 0.05) // no panic, no spurious creation
	if _, ok := w.Entity(9); ok {
		t.Fatal("ApplyInput must not create an entity for an unknown id")
	}
}

func TestWorldStateApplyInputUsesSharedPhysicsStep(t *testing.T) {
	cfg := physics.DefaultConfig()
	w := NewWorldState()
	w.Spawn(1, cfg)
	before, _ := w.Entity(1)

	w.ApplyInput(cfg, 1, 1, 0, 0.05)
	after, _ := w.Entity(1)

	want := physics.Step(cfg, physics.Entity{X: before.PosX, Y: before.PosY}, 1, 0, 0.05)
	if after.PosX != want.X || after.PosY != want.Y {
		t.Fatalf("applied position = (%v,%v), want (%v,%v) from physics.Step directly", after.PosX, after.PosY, want.X, want.Y)
	}
}

func TestWorldStateBuildSnapshotSortedByID(t *testing.T) {
	cfg := physics.DefaultConfig()
	w := NewWorldState()
	w.Tick = 5
	w.Spawn(3, cfg)
	w.Spawn(1, cfg)
	w.Spawn(2, cfg)

	snap := w.BuildSnapshot()
	if snap.Tick != 5 {
		t.Fatalf("tick = %d, want 5", snap.Tick)
	}
	if len(snap.Entities) != 3 {
		t.Fatalf("entity count = %d, want 3", len(snap.Entities))
	}
	for i, es := range snap.Entities {
		if es.ID != uint8(i+1) {
			t.Fatalf("entities[%d].ID = %d, want %d (ascending order)", i, es.ID, i+1)
		}
	}
}

func TestWorldStateBuildSnapshotExcludesRemoved(t *testing.T) {
	cfg := physics.DefaultConfig()
	w := NewWorldState()
	w.Spawn(1, cfg)
	w.Spawn(2, cfg)
	w.Remove(1)

	snap := w.BuildSnapshot()
	if len(snap.Entities) != 1 || snap.Entities[0].ID != 2 {
		t.Fatalf("got %+v, want only entity 2", snap.Entities)
	}
}
