package client

import (
	"testing"

	"gamenet/physics"
)

// TestReconciliationCorrectness is scenario 4 from spec.md §8: the
// client sends inputs 1..10, the server applies through seq 7, and a
// snapshot arrives with lastProcessedInputSeq=7 placing the entity at
// S7. After reconciliation, the predicted state must equal applying
// inputs 8, 9, 10 atop S7 directly.
func TestReconciliationCorrectness(t *testing.T) {
	cfg := physics.DefaultConfig()
	dt := float32(0.05)

	w := newClientWorld(1, cfg)
	inputs := []struct{ mx, my float32 }{
		{1, 0}, {1, 0}, {0, 1}, {0, 1}, {-1, 0},
		{0, -1}, {1, 1}, {0, 1}, {-1, 0}, {1, 0},
	}
	for _, in := range inputs {
		w.Apply(cfg, in.mx, in.my, 0, dt)
	}
	if len(w.inputs) != 10 {
		t.Fatalf("input history length = %d, want 10", len(w.inputs))
	}

	// S7: the authoritative state after the server has applied the
	// first 7 inputs, computed independently of the client's predictor.
	s7 := physics.EntityState{PosX: cfg.WorldW / 2, PosY: cfg.WorldH / 2, Health: 100}
	for _, in := range inputs[:7] {
		e := physics.Step(cfg, physics.Entity{X: s7.PosX, Y: s7.PosY}, in.mx, in.my, dt)
		s7.PosX, s7.PosY = e.X, e.Y
	}

	w.Reconcile(cfg, s7, 7, dt)

	// Independently compute "apply inputs 8,9,10 atop S7" and compare.
	want := s7
	for _, in := range inputs[7:] {
		e := physics.Step(cfg, physics.Entity{X: want.PosX, Y: want.PosY}, in.mx, in.my, dt)
		want.PosX, want.PosY = e.X, e.Y
	}

	if w.predicted.PosX != want.PosX || w.predicted.PosY != want.PosY {
		t.Fatalf("reconciled predicted = (%v,%v), want (%v,%v)", w.predicted.PosX, w.predicted.PosY, want.PosX, want.PosY)
	}
	if len(w.inputs) != 3 {
		t.Fatalf("remaining input history = %d, want 3 (seq 8,9,10)", len(w.inputs))
	}
	for i, in := range w.inputs {
		if in.seq != uint32(8+i) {
			t.Fatalf("remaining input %d has seq %d, want %d", i, in.seq, 8+i)
		}
	}
}

func TestReconcileDiscardsOnlyAckedInputs(t *testing.T) {
	cfg := physics.DefaultConfig()
	w := newClientWorld(1, cfg)
	for i := 0; i < 5; i++ {
		w.Apply(cfg, 0, 0, 0, 0.05)
	}
	w.Reconcile(cfg, physics.EntityState{PosX: 1, PosY: 1}, 3, 0.05)
	if len(w.inputs) != 2 {
		t.Fatalf("got %d remaining inputs, want 2 (seq 4,5)", len(w.inputs))
	}
	if w.inputs[0].seq != 4 || w.inputs[1].seq != 5 {
		t.Fatalf("remaining seqs = %d,%d, want 4,5", w.inputs[0].seq, w.inputs[1].seq)
	}
}

func TestInputHistoryTrimmedToCap(t *testing.T) {
	cfg := physics.DefaultConfig()
	w := newClientWorld(1, cfg)
	for i := 0; i < inputHistoryCap+10; i++ {
		w.Apply(cfg, 0.1, 0, 0, 0.05)
	}
	if len(w.inputs) != inputHistoryCap {
		t.Fatalf("history length = %d, want %d", len(w.inputs), inputHistoryCap)
	}
	// Oldest kept entry should be seq 11 (1-indexed, 10 trimmed off the front).
	if w.inputs[0].seq != 11 {
		t.Fatalf("oldest kept seq = %d, want 11", w.inputs[0].seq)
	}
}

func TestRecentInputsOldestFirst(t *testing.T) {
	cfg := physics.DefaultConfig()
	w := newClientWorld(1, cfg)
	for i := 0; i < 5; i++ {
		w.Apply(cfg, 0, 0, 0, 0.05)
	}
	recs := w.RecentInputs(3)
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if recs[0].Seq != 3 || recs[1].Seq != 4 || recs[2].Seq != 5 {
		t.Fatalf("seqs = %d,%d,%d, want 3,4,5", recs[0].Seq, recs[1].Seq, recs[2].Seq)
	}
}

func TestSmoothEasesTowardPredicted(t *testing.T) {
	cfg := physics.DefaultConfig()
	w := newClientWorld(1, cfg)
	w.predicted.PosX = 100
	w.render.PosX = 0

	w.Smooth(0.05, 0.075)
	if w.render.PosX <= 0 || w.render.PosX >= 100 {
		t.Fatalf("render.PosX = %v, want strictly between 0 and 100 after one smoothing step", w.render.PosX)
	}

	for i := 0; i < 200; i++ {
		w.Smooth(0.05, 0.075)
	}
	if !approxEqual(w.render.PosX, 100, 1e-2) {
		t.Fatalf("render.PosX = %v, expected to converge to 100", w.render.PosX)
	}
}

func approxEqual(a, b, eps float32) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= eps
}
