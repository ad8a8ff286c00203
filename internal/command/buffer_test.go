package command

import (
	"testing"

	"github.com/nomai-sim/nomai/internal/ecs"
)

type cmdTestPosition struct {
	X, Y float64
}

func newCmdTestWorld(t *testing.T) *ecs.World {
	t.Helper()
	r := ecs.NewRegistry()
	if _, err := ecs.RegisterComponent[cmdTestPosition](r, "position"); err != nil {
		t.Fatalf("register: %v", err)
	}
	return ecs.NewWorld(r)
}

func TestApplySequentialSetComponentLastWriteWins(t *testing.T) {
	w := newCmdTestWorld(t)
	id, err := w.SpawnSemantic(ecs.SemanticIdentity{EntityType: "npc"}, ecs.Bundle{
		"position": cmdTestPosition{X: 0, Y: 0},
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	buf := NewBuffer()
	buf.PushSetComponent(EngineInternal, SystemInternal("first"), id, "position", cmdTestPosition{X: 1, Y: 1})
	buf.PushSetComponent(EngineInternal, SystemInternal("second"), id, "position", cmdTestPosition{X: 2, Y: 2})

	applied, report := buf.Apply(w)
	if report.ConflictCount != 1 {
		t.Fatalf("expected 1 conflict, got %d", report.ConflictCount)
	}
	if report.SuccessCount != 2 || report.FailedCount != 0 {
		t.Fatalf("unexpected report: %#v", report)
	}
	if len(applied) != 2 {
		t.Fatalf("expected both commands in applied vector, got %d", len(applied))
	}

	v, err := w.GetComponent(id, "position")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v.(cmdTestPosition) != (cmdTestPosition{X: 2, Y: 2}) {
		t.Fatalf("expected last write to win, got %#v", v)
	}

	if buf.Len() != 0 {
		t.Fatalf("expected buffer to reset after apply")
	}
}

func TestApplyFailureDoesNotHaltOthers(t *testing.T) {
	w := newCmdTestWorld(t)
	alive, err := w.SpawnSemantic(ecs.SemanticIdentity{EntityType: "npc"}, ecs.Bundle{
		"position": cmdTestPosition{X: 0, Y: 0},
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	stale, err := w.SpawnSemantic(ecs.SemanticIdentity{EntityType: "npc"}, ecs.Bundle{
		"position": cmdTestPosition{X: 0, Y: 0},
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := w.Despawn(stale); err != nil {
		t.Fatalf("despawn: %v", err)
	}

	buf := NewBuffer()
	buf.PushSetComponent(EngineInternal, SystemInternal("a"), stale, "position", cmdTestPosition{X: 9, Y: 9})
	buf.PushSetComponent(EngineInternal, SystemInternal("b"), alive, "position", cmdTestPosition{X: 5, Y: 5})

	applied, report := buf.Apply(w)
	if report.SuccessCount != 1 || report.FailedCount != 1 {
		t.Fatalf("unexpected report: %#v", report)
	}
	if applied[0].AppliedSuccessfully {
		t.Fatalf("expected first command (stale target) to fail")
	}
	if applied[0].FailureReason == "" {
		t.Fatalf("expected failure reason to be recorded")
	}
	if !applied[1].AppliedSuccessfully {
		t.Fatalf("expected second command (alive target) to succeed")
	}

	v, err := w.GetComponent(alive, "position")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v.(cmdTestPosition) != (cmdTestPosition{X: 5, Y: 5}) {
		t.Fatalf("expected successful command to still apply, got %#v", v)
	}
}

func TestSpawnCommandsPopulateSpawnedEntity(t *testing.T) {
	w := newCmdTestWorld(t)
	buf := NewBuffer()
	buf.PushSpawnSemantic(EngineInternal, GameRule("spawn_test"), ecs.SemanticIdentity{EntityType: "npc"}, ecs.Bundle{
		"position": cmdTestPosition{X: 1, Y: 1},
	})
	applied, report := buf.Apply(w)
	if report.SuccessCount != 1 {
		t.Fatalf("unexpected report: %#v", report)
	}
	if !applied[0].SpawnedEntity.Valid {
		t.Fatalf("expected spawned entity to be populated")
	}
	if !w.IsAlive(applied[0].SpawnedEntity.Id) {
		t.Fatalf("expected spawned entity to be alive")
	}
}

func TestPushRawRenumbersIntoTargetBufferSequence(t *testing.T) {
	w := newCmdTestWorld(t)
	id, err := w.SpawnSemantic(ecs.SemanticIdentity{EntityType: "npc"}, ecs.Bundle{
		"position": cmdTestPosition{X: 0, Y: 0},
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	imported := Command{
		CommandIndex:   77, // from some other buffer's sequence
		IssuedBy:       WasmGameplay,
		Reason:         GameRule("guest_rule"),
		Kind:           KindSetComponent,
		Target:         Target(id),
		ComponentName:  "position",
		ComponentValue: cmdTestPosition{X: 3, Y: 3},
	}

	buf := NewBuffer()
	buf.PushSetComponent(EngineInternal, SystemInternal("local"), id, "position", cmdTestPosition{X: 1, Y: 1})
	buf.PushRaw(imported)

	applied, _ := buf.Apply(w)
	if len(applied) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(applied))
	}
	if applied[1].CommandIndex != 1 {
		t.Fatalf("expected imported command renumbered to index 1, got %d", applied[1].CommandIndex)
	}
	if applied[1].IssuedBy != WasmGameplay {
		t.Fatalf("expected imported command to preserve IssuedBy")
	}
}
