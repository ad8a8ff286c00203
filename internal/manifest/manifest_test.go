package manifest

import (
	"testing"

	"github.com/nomai-sim/nomai/internal/command"
	"github.com/nomai-sim/nomai/internal/ecs"
)

type manifestTestPosition struct{ X, Y float64 }

func newManifestTestWorld(t *testing.T) *ecs.World {
	t.Helper()
	r := ecs.NewRegistry()
	if _, err := ecs.RegisterComponent[manifestTestPosition](r, "position"); err != nil {
		t.Fatalf("register: %v", err)
	}
	return ecs.NewWorld(r)
}

func TestProcessCommandsUpdatesEntityIndexOnSpawnAndDespawn(t *testing.T) {
	w := newManifestTestWorld(t)
	buf := command.NewBuffer()
	buf.PushSpawnSemantic(command.EngineInternal, command.GameRule("test"), ecs.SemanticIdentity{EntityType: "npc", Role: "guard"}, ecs.Bundle{
		"position": manifestTestPosition{X: 1, Y: 1},
	})
	applied, _ := buf.Apply(w)

	p := NewPipeline(10)
	p.BeginTick()
	p.ProcessCommands(applied, 1, w)
	manifestResult := p.EndTick(1, 0.016, []string{"spawn_system"}, w)

	if len(manifestResult.EntitySpawns) != 1 {
		t.Fatalf("expected 1 spawn recorded, got %d", len(manifestResult.EntitySpawns))
	}
	spawned := manifestResult.EntitySpawns[0]
	entry, ok := p.EntityIndex()[spawned]
	if !ok || !entry.Alive || entry.EntityType != "npc" {
		t.Fatalf("unexpected entity index entry: %#v", entry)
	}
	if manifestResult.Aggregates.TotalEntityCount != 1 {
		t.Fatalf("expected aggregate total 1, got %d", manifestResult.Aggregates.TotalEntityCount)
	}

	buf.PushDespawn(command.EngineInternal, command.GameRule("cleanup"), spawned)
	applied, _ = buf.Apply(w)
	p.BeginTick()
	p.ProcessCommands(applied, 2, w)
	manifestResult = p.EndTick(2, 0.032, nil, w)

	if len(manifestResult.EntityDespawns) != 1 {
		t.Fatalf("expected 1 despawn recorded, got %d", len(manifestResult.EntityDespawns))
	}
	if manifestResult.Aggregates.TotalEntityCount != 0 {
		t.Fatalf("expected aggregate total 0 after despawn, got %d", manifestResult.Aggregates.TotalEntityCount)
	}
}

func TestProcessCommandsCapturesOldAndNewValueInJournal(t *testing.T) {
	w := newManifestTestWorld(t)
	id, err := w.SpawnSemantic(ecs.SemanticIdentity{EntityType: "npc"}, ecs.Bundle{
		"position": manifestTestPosition{X: 0, Y: 0},
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	buf := command.NewBuffer()
	buf.PushSetComponent(command.EngineInternal, command.SystemInternal("move"), id, "position", manifestTestPosition{X: 9, Y: 9})
	applied, _ := buf.Apply(w)

	p := NewPipeline(10)
	p.BeginTick()
	p.ProcessCommands(applied, 1, w)
	m := p.EndTick(1, 0.016, nil, w)

	if len(m.ComponentChanges) != 1 {
		t.Fatalf("expected 1 journal row, got %d", len(m.ComponentChanges))
	}
	change := m.ComponentChanges[0]
	if change.OldValue.(manifestTestPosition) != (manifestTestPosition{X: 0, Y: 0}) {
		t.Fatalf("expected old value captured, got %#v", change.OldValue)
	}
	if change.NewValue.(manifestTestPosition) != (manifestTestPosition{X: 9, Y: 9}) {
		t.Fatalf("expected new value captured, got %#v", change.NewValue)
	}
}

func TestHistoryWindowDropsOldestOnOverflow(t *testing.T) {
	w := newManifestTestWorld(t)
	p := NewPipeline(2)
	for tick := uint64(1); tick <= 3; tick++ {
		p.BeginTick()
		p.EndTick(tick, float64(tick)*0.016, nil, w)
	}
	if _, ok := p.ManifestAtTick(1); ok {
		t.Fatalf("expected tick 1 to have aged out of a 2-entry window")
	}
	if _, ok := p.ManifestAtTick(3); !ok {
		t.Fatalf("expected tick 3 to still be retained")
	}
	since := p.ManifestsSince(2)
	if len(since) != 2 {
		t.Fatalf("expected 2 manifests since tick 2, got %d", len(since))
	}
}

func TestCausalChainTerminatesOnPlayerInput(t *testing.T) {
	w := newManifestTestWorld(t)
	id, err := w.SpawnSemantic(ecs.SemanticIdentity{EntityType: "npc"}, ecs.Bundle{
		"position": manifestTestPosition{X: 0, Y: 0},
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	p := NewPipeline(10)
	change := ComponentChange{
		EntityId:        id,
		ComponentName:   "position",
		Reason:          command.PlayerInput("move_forward"),
		ChangedBySystem: command.EngineInternal,
		Tick:            1,
	}
	chain := p.BuildCausalChain(change)
	if len(chain.Steps) != 1 {
		t.Fatalf("expected chain to terminate at step 1 for PlayerInput, got %d steps", len(chain.Steps))
	}
}

func TestCausalChainFollowsCollisionResponseToEvent(t *testing.T) {
	w := newManifestTestWorld(t)
	idA, err := w.SpawnSemantic(ecs.SemanticIdentity{EntityType: "ball"}, ecs.Bundle{"position": manifestTestPosition{}})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	idB, err := w.SpawnSemantic(ecs.SemanticIdentity{EntityType: "wall"}, ecs.Bundle{"position": manifestTestPosition{}})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	p := NewPipeline(10)
	p.BeginTick()
	p.RecordEvent(GameEvent{
		EventType:        "collision",
		Description:      "ball hit wall",
		InvolvedEntities: []ecs.EntityId{idA, idB},
		CausedBySystem:   command.Physics,
		Reason:           command.SystemInternal("physics_step"),
		Tick:             1,
	})
	p.EndTick(1, 0.016, nil, w)

	change := ComponentChange{
		EntityId:        idA,
		ComponentName:   "position",
		Reason:          command.CollisionResponse(idA, idB),
		ChangedBySystem: command.Physics,
		Tick:            1,
	}
	chain := p.BuildCausalChain(change)
	if len(chain.Steps) != 2 {
		t.Fatalf("expected chain to follow collision to its event, got %d steps", len(chain.Steps))
	}
	if chain.Steps[1].Reason.Description != "physics_step" {
		t.Fatalf("expected second step to carry the collision event's reason, got %#v", chain.Steps[1])
	}
}
