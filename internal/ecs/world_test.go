package ecs

import (
	"sort"
	"testing"
)

func newTestWorld(t *testing.T) (*World, *Registry) {
	t.Helper()
	r := NewRegistry()
	if _, err := RegisterComponent[testPosition](r, "position"); err != nil {
		t.Fatalf("register position: %v", err)
	}
	if _, err := RegisterComponent[testVelocity](r, "velocity"); err != nil {
		t.Fatalf("register velocity: %v", err)
	}
	return NewWorld(r), r
}

func TestSpawnSemanticAndQuery(t *testing.T) {
	w, _ := newTestWorld(t)

	id, err := w.SpawnSemantic(SemanticIdentity{EntityType: "npc", Role: "guard"}, Bundle{
		"position": testPosition{X: 1, Y: 2},
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if !w.IsAlive(id) {
		t.Fatalf("expected entity alive")
	}

	ident, ok := w.Identity(id)
	if !ok || ident.Tier != TierSemantic || ident.EntityType != "npc" {
		t.Fatalf("unexpected identity: %#v", ident)
	}

	matches, err := w.QueryNames("position")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 1 || matches[0] != id {
		t.Fatalf("expected query to find spawned entity, got %v", matches)
	}
}

func TestArchetypeTransitionOnInsertAndRemove(t *testing.T) {
	w, _ := newTestWorld(t)

	id, err := w.SpawnSemantic(SemanticIdentity{EntityType: "npc"}, Bundle{
		"position": testPosition{X: 0, Y: 0},
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	if err := w.InsertComponent(id, "velocity", testVelocity{DX: 1, DY: 1}); err != nil {
		t.Fatalf("insert velocity: %v", err)
	}

	both, err := w.QueryNames("position", "velocity")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(both) != 1 || both[0] != id {
		t.Fatalf("expected entity to carry both components after transition, got %v", both)
	}

	if err := w.RemoveComponent(id, "velocity"); err != nil {
		t.Fatalf("remove velocity: %v", err)
	}
	both, err = w.QueryNames("position", "velocity")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(both) != 0 {
		t.Fatalf("expected no entities with both components after removal, got %v", both)
	}

	posOnly, err := w.QueryNames("position")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(posOnly) != 1 || posOnly[0] != id {
		t.Fatalf("expected entity still carries position, got %v", posOnly)
	}
}

func TestDespawnPreservesOrderOfSurvivors(t *testing.T) {
	w, _ := newTestWorld(t)

	var ids []EntityId
	for i := 0; i < 5; i++ {
		id, err := w.SpawnPooled(PoolIdentity{PoolType: "debris"}, Bundle{
			"position": testPosition{X: float64(i)},
		})
		if err != nil {
			t.Fatalf("spawn %d: %v", i, err)
		}
		ids = append(ids, id)
	}

	// Despawn the middle entity; the rest must keep their relative order.
	if err := w.Despawn(ids[2]); err != nil {
		t.Fatalf("despawn: %v", err)
	}

	remaining, err := w.QueryNames("position")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	want := []EntityId{ids[0], ids[1], ids[3], ids[4]}
	if len(remaining) != len(want) {
		t.Fatalf("expected %d survivors, got %d: %v", len(want), len(remaining), remaining)
	}
	for i, id := range want {
		if remaining[i] != id {
			t.Fatalf("order mismatch at %d: want %v got %v", i, want, remaining)
		}
	}

	if w.IsAlive(ids[2]) {
		t.Fatalf("despawned entity should not be alive")
	}
}

func TestGetComponentOnStaleEntityErrors(t *testing.T) {
	w, _ := newTestWorld(t)
	id, err := w.SpawnSemantic(SemanticIdentity{EntityType: "npc"}, Bundle{
		"position": testPosition{X: 0, Y: 0},
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := w.Despawn(id); err != nil {
		t.Fatalf("despawn: %v", err)
	}
	if _, err := w.GetComponent(id, "position"); err == nil {
		t.Fatalf("expected stale entity error")
	} else if _, ok := err.(*StaleEntityError); !ok {
		t.Fatalf("expected *StaleEntityError, got %T", err)
	}
}

func TestQueryNamesUnknownComponent(t *testing.T) {
	w, _ := newTestWorld(t)
	if _, err := w.QueryNames("nonexistent"); err == nil {
		t.Fatalf("expected unknown component error")
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	w, _ := newTestWorld(t)

	ids := make([]EntityId, 0, 3)
	for i := 0; i < 3; i++ {
		id, err := w.SpawnSemantic(SemanticIdentity{EntityType: "npc", Role: "guard"}, Bundle{
			"position": testPosition{X: float64(i), Y: float64(i) * 2},
		})
		if err != nil {
			t.Fatalf("spawn: %v", err)
		}
		ids = append(ids, id)
	}
	if err := w.InsertComponent(ids[1], "velocity", testVelocity{DX: 3, DY: 4}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := w.Despawn(ids[0]); err != nil {
		t.Fatalf("despawn: %v", err)
	}

	snap, err := w.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Entities) != 2 {
		t.Fatalf("expected 2 surviving entities in snapshot, got %d", len(snap.Entities))
	}

	restored := NewWorld(w.registry)
	if err := restored.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if restored.IsAlive(ids[0]) {
		t.Fatalf("despawned entity should not reappear after restore")
	}
	if !restored.IsAlive(ids[1]) || !restored.IsAlive(ids[2]) {
		t.Fatalf("surviving entities should be alive after restore")
	}

	v, err := restored.GetComponent(ids[1], "velocity")
	if err != nil {
		t.Fatalf("get velocity after restore: %v", err)
	}
	if v.(testVelocity) != (testVelocity{DX: 3, DY: 4}) {
		t.Fatalf("velocity mismatch after restore: %#v", v)
	}

	restoredNames, err := restored.QueryNames("position")
	if err != nil {
		t.Fatalf("query after restore: %v", err)
	}
	sort.Slice(restoredNames, func(i, j int) bool { return restoredNames[i] < restoredNames[j] })
	if len(restoredNames) != 2 {
		t.Fatalf("expected 2 entities with position after restore, got %d", len(restoredNames))
	}
}
