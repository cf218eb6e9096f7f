package client

import (
	"math"

	"gamenet/physics"
	"gamenet/protocol"
)

// inputHistoryCap is N in §3's data model: the minimum size of the
// circular buffer of sent inputs kept for reconciliation replay.
const inputHistoryCap = 64

// storedInput is one entry in the client's input history: the input
// itself plus the predicted state it produced, so a caller can inspect
// what the predictor believed at the time without re-deriving it.
type storedInput struct {
	seq            uint32
	moveX, moveY   float32
	actions        uint8
	predictedAfter physics.EntityState
}

// ClientWorld is the client-side data model: the assigned id, the
// locally predicted entity, the smoothed render state exposed to the
// caller, and the bounded history of sent-but-not-yet-reconciled inputs.
// It holds no network state — that lives in Client.
type ClientWorld struct {
	assignedID uint8
	predicted  physics.EntityState
	render     physics.EntityState

	nextSeq uint32
	inputs  []storedInput // oldest first, trimmed to inputHistoryCap

	lastReconciledTick uint32
	haveReconciled     bool
}

// newClientWorld seeds a world for id, initializing the predicted and
// render state to spawn (centered in the world, full health) until the
// first snapshot arrives and corrects it.
func newClientWorld(id uint8, cfg physics.Config) *ClientWorld {
	spawn := physics.EntityState{
		ID:     id,
		PosX:   cfg.WorldW / 2,
		PosY:   cfg.WorldH / 2,
		Health: 100,
	}
	return &ClientWorld{
		assignedID: id,
		predicted:  spawn,
		render:     spawn,
		nextSeq:    1,
	}
}

// Predicted returns the locally predicted entity state for self.
func (w *ClientWorld) Predicted() physics.EntityState { return w.predicted }

// Render returns the exponentially-smoothed render state for self,
// per §4.6's "avoid visual snapping" guidance.
func (w *ClientWorld) Render() physics.EntityState { return w.render }

// Apply advances the predicted entity one tick under (moveX, moveY) and
// records the input in history, trimming it to inputHistoryCap. It
// returns the new input's sequence number.
func (w *ClientWorld) Apply(cfg physics.Config, moveX, moveY float32, actions uint8, dt float32) uint32 {
	seq := w.nextSeq
	w.nextSeq++

	e := physics.Step(cfg, entityOf(w.predicted), moveX, moveY, dt)
	w.predicted.PosX, w.predicted.PosY = e.X, e.Y
	w.predicted.VelX, w.predicted.VelY = e.VX, e.VY

	w.inputs = append(w.inputs, storedInput{
		seq: seq, moveX: moveX, moveY: moveY, actions: actions,
		predictedAfter: w.predicted,
	})
	if len(w.inputs) > inputHistoryCap {
		w.inputs = w.inputs[len(w.inputs)-inputHistoryCap:]
	}
	return seq
}

// RecentInputs returns up to k of the most recently sent inputs, oldest
// first, for the redundant INPUT payload per §4.6 step 3.
func (w *ClientWorld) RecentInputs(k int) []protocol.InputRecord {
	n := len(w.inputs)
	if k > n {
		k = n
	}
	out := make([]protocol.InputRecord, k)
	for i, in := range w.inputs[n-k:] {
		out[i] = protocol.InputRecord{Seq: in.seq, MoveX: in.moveX, MoveY: in.moveY, Actions: in.actions}
	}
	return out
}

// Reconcile implements §4.6's reconciliation algorithm: adopt the
// authoritative state for self, drop every acknowledged input, and
// replay the remainder atop it so the locally predicted state matches
// what the server will converge to once it sees those same inputs.
func (w *ClientWorld) Reconcile(cfg physics.Config, authoritative physics.EntityState, lastProcessedSeq uint32, dt float32) {
	w.predicted = authoritative

	kept := w.inputs[:0]
	for _, in := range w.inputs {
		if protocol.SeqGreater32(in.seq, lastProcessedSeq) {
			kept = append(kept, in)
		}
	}
	w.inputs = kept

	for i := range w.inputs {
		e := physics.Step(cfg, entityOf(w.predicted), w.inputs[i].moveX, w.inputs[i].moveY, dt)
		w.predicted.PosX, w.predicted.PosY = e.X, e.Y
		w.predicted.VelX, w.predicted.VelY = e.VX, e.VY
		w.inputs[i].predictedAfter = w.predicted
	}
}

// Smooth eases the render state toward the predicted state with time
// constant tau, per §4.6's 50-100ms exponential-smoothing guidance.
// alpha = 1 - e^(-dt/tau); tau <= 0 snaps immediately (no smoothing).
func (w *ClientWorld) Smooth(dt, tau float32) {
	if tau <= 0 {
		w.render = w.predicted
		return
	}
	alpha := 1 - expNeg(dt/tau)
	w.render.PosX += (w.predicted.PosX - w.render.PosX) * alpha
	w.render.PosY += (w.predicted.PosY - w.render.PosY) * alpha
	w.render.VelX = w.predicted.VelX
	w.render.VelY = w.predicted.VelY
	w.render.Health = w.predicted.Health
}

func entityOf(es physics.EntityState) physics.Entity {
	return physics.Entity{X: es.PosX, Y: es.PosY, VX: es.VelX, VY: es.VelY}
}

func expNeg(x float32) float32 {
	return float32(math.Exp(float64(-x)))
}
