package orchestrator

import (
	"encoding/hex"
	"encoding/json"

	"github.com/zeebo/blake3"

	"github.com/nomai-sim/nomai/internal/command"
	"github.com/nomai-sim/nomai/internal/ecs"
)

// EngineSnapshot is the full serializable engine state: world state,
// tick counter, fixed dt, installed input, and a content hash of the
// serialized bytes — the unit snapshot/restore and replay checkpoints
// operate on.
type EngineSnapshot struct {
	WorldSnapshot ecs.WorldSnapshot `json:"world_snapshot"`
	TickCounter   uint64            `json:"tick_counter"`
	FixedDT       float64           `json:"fixed_dt"`
	CurrentInput  InputFrame        `json:"current_input"`
	Hash          string            `json:"hash"`
}

// Snapshot captures the orchestrator's full state, including a blake3
// hash of the serialized bytes (hash excludes itself — it is computed
// before being attached).
func (o *Orchestrator) Snapshot() (EngineSnapshot, error) {
	worldSnap, err := o.world.Snapshot()
	if err != nil {
		return EngineSnapshot{}, err
	}
	snap := EngineSnapshot{
		WorldSnapshot: worldSnap,
		TickCounter:   o.tickCounter,
		FixedDT:       o.cfg.FixedDT,
		CurrentInput:  o.currentInput,
	}
	hash, err := hashSnapshot(snap)
	if err != nil {
		return EngineSnapshot{}, err
	}
	snap.Hash = hash
	return snap, nil
}

// hashSnapshot computes blake3(serialized snapshot bytes) with Hash
// zeroed, so the hash is reproducible and never a hash of itself.
func hashSnapshot(snap EngineSnapshot) (string, error) {
	snap.Hash = ""
	b, err := json.Marshal(snap)
	if err != nil {
		return "", err
	}
	h := blake3.New()
	if _, err := h.Write(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Restore clears world state, restores the allocator, re-spawns entities
// deterministically from the snapshot, resets manifest history, clears
// the command buffer, and — if a physics adapter is attached —
// reconstructs its derived state from the restored world. The script
// sandbox, if any, must be re-attached by the caller; its instance state
// is not serializable.
func (o *Orchestrator) Restore(snap EngineSnapshot) error {
	if err := o.world.Restore(snap.WorldSnapshot); err != nil {
		return err
	}
	o.tickCounter = snap.TickCounter
	o.cfg.FixedDT = snap.FixedDT
	o.currentInput = snap.CurrentInput
	o.simTime = float64(snap.TickCounter) * snap.FixedDT

	o.pipeline.ResetHistory()
	o.buf = command.NewBuffer()
	o.external = command.NewBuffer()

	if o.physicsAdapter != nil {
		if err := o.physicsAdapter.ReconstructFromWorld(o.world); err != nil {
			return err
		}
	}
	return nil
}
