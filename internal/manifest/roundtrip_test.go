package manifest

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/nomai-sim/nomai/internal/command"
	"github.com/nomai-sim/nomai/internal/ecs"
)

// TestTickManifestJSONKeysAreStableSnakeCase asserts the wire shape a
// consumer depends on: snake_case keys at every level, and reasons
// serialized as single-key tagged variants rather than a struct dump.
func TestTickManifestJSONKeysAreStableSnakeCase(t *testing.T) {
	w := newManifestTestWorld(t)
	idA, err := w.SpawnSemantic(ecs.SemanticIdentity{EntityType: "ball"}, ecs.Bundle{"position": manifestTestPosition{}})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	idB, err := w.SpawnSemantic(ecs.SemanticIdentity{EntityType: "wall"}, ecs.Bundle{"position": manifestTestPosition{}})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	buf := command.NewBuffer()
	buf.PushSetComponent(command.EngineInternal, command.SystemInternal("move"), idA, "position", manifestTestPosition{X: 9, Y: 9})
	applied, _ := buf.Apply(w)

	p := NewPipeline(10)
	p.BeginTick()
	p.ProcessCommands(applied, 1, w)
	p.RecordEvent(GameEvent{
		EventType:        "collision",
		Description:      "ball hit wall",
		InvolvedEntities: []ecs.EntityId{idA, idB},
		CausedBySystem:   command.Physics,
		Reason:           command.CollisionResponse(idA, idB),
		Tick:             1,
		CommandIndex:     applied[0].CommandIndex,
	})
	m := p.EndTick(1, 0.016, []string{"move_system"}, w)

	b, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var generic map[string]any
	if err := json.Unmarshal(b, &generic); err != nil {
		t.Fatalf("unmarshal to generic map: %v", err)
	}
	for _, key := range []string{
		"tick", "sim_time", "entity_spawns", "entity_despawns", "component_changes",
		"events", "aggregates", "systems_executed", "commands_processed",
		"commands_succeeded", "manifest_generation_micros",
	} {
		if _, ok := generic[key]; !ok {
			t.Fatalf("expected top-level key %q in serialized manifest, got %s", key, b)
		}
	}

	changes, _ := generic["component_changes"].([]any)
	if len(changes) != 1 {
		t.Fatalf("expected 1 component change, got %v", changes)
	}
	change, _ := changes[0].(map[string]any)
	for _, key := range []string{"entity_id", "component_type_name", "old_value", "new_value", "changed_by_system", "reason", "command_index", "tick"} {
		if _, ok := change[key]; !ok {
			t.Fatalf("expected component change key %q, got %#v", key, change)
		}
	}

	events, _ := generic["events"].([]any)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %v", events)
	}
	event, _ := events[0].(map[string]any)
	reason, _ := event["reason"].(map[string]any)
	pair, ok := reason["CollisionResponse"].([]any)
	if !ok || len(pair) != 2 {
		t.Fatalf("expected reason to serialize as a CollisionResponse tagged pair, got %#v", event["reason"])
	}
	if uint64(pair[0].(float64)) != uint64(idA) || uint64(pair[1].(float64)) != uint64(idB) {
		t.Fatalf("expected CollisionResponse pair (%d,%d), got %v", idA, idB, pair)
	}
}

// TestTickManifestJSONRoundTrips is the §8 round-trip law: serialize,
// deserialize, re-serialize, and expect byte-identical output.
func TestTickManifestJSONRoundTrips(t *testing.T) {
	w := newManifestTestWorld(t)
	idA, err := w.SpawnSemantic(ecs.SemanticIdentity{EntityType: "ball"}, ecs.Bundle{"position": manifestTestPosition{X: 1, Y: 2}})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	idB, err := w.SpawnSemantic(ecs.SemanticIdentity{EntityType: "wall"}, ecs.Bundle{"position": manifestTestPosition{}})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	buf := command.NewBuffer()
	buf.PushSetComponent(command.EngineInternal, command.PlayerInput("nudge"), idA, "position", manifestTestPosition{X: 5, Y: 5})
	applied, _ := buf.Apply(w)

	p := NewPipeline(10)
	p.BeginTick()
	p.ProcessCommands(applied, 3, w)
	p.RecordEvent(GameEvent{
		EventType:        "collision",
		Description:      "ball hit wall",
		InvolvedEntities: []ecs.EntityId{idA, idB},
		CausedBySystem:   command.Physics,
		Reason:           command.CollisionResponse(idA, idB),
		Tick:             3,
	})
	p.RecordEvent(GameEvent{
		EventType:      "timer_fired",
		Description:    "respawn_timer",
		CausedBySystem: command.EngineInternal,
		Reason:         command.Timer("respawn_timer"),
		Tick:           3,
	})
	m := p.EndTick(3, 0.048, []string{"move_system", "physics"}, w)

	first, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("first marshal: %v", err)
	}

	var decoded TickManifest
	if err := json.Unmarshal(first, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	second, err := json.Marshal(decoded)
	if err != nil {
		t.Fatalf("second marshal: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Fatalf("expected byte-identical round trip:\nfirst:  %s\nsecond: %s", first, second)
	}

	if decoded.ComponentChanges[0].Reason.Kind != command.ReasonPlayerInput {
		t.Fatalf("expected decoded reason kind PlayerInput, got %v", decoded.ComponentChanges[0].Reason.Kind)
	}
	if decoded.Events[0].Reason.EntityA != idA || decoded.Events[0].Reason.EntityB != idB {
		t.Fatalf("expected decoded CollisionResponse entities (%d,%d), got (%d,%d)", idA, idB, decoded.Events[0].Reason.EntityA, decoded.Events[0].Reason.EntityB)
	}
}

// TestPooledEntitiesAggregateByTypeNotPerInstance asserts pooled spawns
// never get a per-instance EntityEntry — only a running PoolCounts
// count — while semantic spawns still get their own entry.
func TestPooledEntitiesAggregateByTypeNotPerInstance(t *testing.T) {
	w := newManifestTestWorld(t)
	p := NewPipeline(10)

	buf := command.NewBuffer()
	buf.PushSpawnPooled(command.EngineInternal, command.GameRule("wave_spawn"), ecs.PoolIdentity{PoolType: "bullet"}, ecs.Bundle{
		"position": manifestTestPosition{},
	})
	buf.PushSpawnPooled(command.EngineInternal, command.GameRule("wave_spawn"), ecs.PoolIdentity{PoolType: "bullet"}, ecs.Bundle{
		"position": manifestTestPosition{},
	})
	buf.PushSpawnSemantic(command.EngineInternal, command.GameRule("spawn_boss"), ecs.SemanticIdentity{EntityType: "boss"}, ecs.Bundle{
		"position": manifestTestPosition{},
	})
	applied, _ := buf.Apply(w)

	p.BeginTick()
	p.ProcessCommands(applied, 1, w)
	m := p.EndTick(1, 0.016, nil, w)

	if len(p.EntityIndex()) != 1 {
		t.Fatalf("expected only the semantic spawn to get a per-instance entry, got %d", len(p.EntityIndex()))
	}
	if got := p.PoolCounts()["bullet"]; got != 2 {
		t.Fatalf("expected pool count 2 for bullet, got %d", got)
	}
	if m.Aggregates.EntityCountByType["bullet"] != 2 {
		t.Fatalf("expected aggregated bullet count 2, got %d", m.Aggregates.EntityCountByType["bullet"])
	}
	if m.Aggregates.TotalEntityCount != 3 {
		t.Fatalf("expected total entity count 3 (1 semantic + 2 pooled), got %d", m.Aggregates.TotalEntityCount)
	}
	if len(m.EntitySpawns) != 3 {
		t.Fatalf("expected 3 entity spawns recorded, got %d", len(m.EntitySpawns))
	}

	bulletID := applied[0].SpawnedEntity.Id
	buf.PushDespawn(command.EngineInternal, command.GameRule("bullet_expired"), bulletID)
	applied, _ = buf.Apply(w)
	p.BeginTick()
	p.ProcessCommands(applied, 2, w)
	m = p.EndTick(2, 0.032, nil, w)

	if got := p.PoolCounts()["bullet"]; got != 1 {
		t.Fatalf("expected pool count 1 for bullet after despawn, got %d", got)
	}
	if m.Aggregates.TotalEntityCount != 2 {
		t.Fatalf("expected total entity count 2 after despawn, got %d", m.Aggregates.TotalEntityCount)
	}
}

// TestCausalReasonJSONRoundTrip exercises every CausalReason variant
// directly, independent of the manifest it's embedded in.
func TestCausalReasonJSONRoundTrip(t *testing.T) {
	reasons := []command.CausalReason{
		command.PlayerInput("jump"),
		command.GameRule("max_health_cap"),
		command.StateTransition("idle_to_chasing"),
		command.Timer("respawn_timer"),
		command.SystemInternal("physics_step"),
		command.CollisionResponse(ecs.EntityId(7), ecs.EntityId(42)),
	}
	for _, r := range reasons {
		b, err := json.Marshal(r)
		if err != nil {
			t.Fatalf("marshal %#v: %v", r, err)
		}
		var decoded command.CausalReason
		if err := json.Unmarshal(b, &decoded); err != nil {
			t.Fatalf("unmarshal %s: %v", b, err)
		}
		if decoded != r {
			t.Fatalf("round trip mismatch: want %#v, got %#v (wire: %s)", r, decoded, b)
		}
	}
}
