package ecs

import "testing"

func TestQuery1EachVisitsInsertionOrder(t *testing.T) {
	w, r := newTestWorld(t)
	q, err := NewQuery1[testPosition](w)
	if err != nil {
		t.Fatalf("new query: %v", err)
	}

	var ids []EntityId
	for i := 0; i < 4; i++ {
		id, err := w.SpawnPooled(PoolIdentity{PoolType: "particle"}, Bundle{
			"position": testPosition{X: float64(i)},
		})
		if err != nil {
			t.Fatalf("spawn: %v", err)
		}
		ids = append(ids, id)
	}

	var seen []EntityId
	q.Each(func(id EntityId, pos testPosition) {
		seen = append(seen, id)
		if pos.X != float64(len(seen)-1) {
			t.Fatalf("unexpected position value at visit %d: %#v", len(seen)-1, pos)
		}
	})
	if len(seen) != len(ids) {
		t.Fatalf("expected %d visits, got %d", len(ids), len(seen))
	}
	for i, id := range ids {
		if seen[i] != id {
			t.Fatalf("order mismatch at %d: want %v got %v", i, id, seen[i])
		}
	}
	_ = r
}

func TestQuery2OnlyMatchesSupersetArchetypes(t *testing.T) {
	w, _ := newTestWorld(t)

	onlyPos, err := w.SpawnSemantic(SemanticIdentity{EntityType: "rock"}, Bundle{
		"position": testPosition{X: 1},
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	both, err := w.SpawnSemantic(SemanticIdentity{EntityType: "npc"}, Bundle{
		"position": testPosition{X: 2},
		"velocity": testVelocity{DX: 1},
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	q, err := NewQuery2[testPosition, testVelocity](w)
	if err != nil {
		t.Fatalf("new query: %v", err)
	}

	var seen []EntityId
	q.Each(func(id EntityId, pos testPosition, vel testVelocity) {
		seen = append(seen, id)
	})
	if len(seen) != 1 || seen[0] != both {
		t.Fatalf("expected only the dual-component entity, got %v (onlyPos=%v)", seen, onlyPos)
	}
}

func TestQueryCacheInvalidatedByNewArchetype(t *testing.T) {
	w, _ := newTestWorld(t)
	q, err := NewQuery1[testPosition](w)
	if err != nil {
		t.Fatalf("new query: %v", err)
	}

	var firstCount int
	q.Each(func(EntityId, testPosition) { firstCount++ })
	if firstCount != 0 {
		t.Fatalf("expected zero matches before any spawn")
	}

	genBefore := w.ArchetypeGeneration()
	if _, err := w.SpawnPooled(PoolIdentity{PoolType: "p"}, Bundle{"position": testPosition{X: 1}}); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if w.ArchetypeGeneration() == genBefore {
		t.Fatalf("expected archetype generation to bump on new archetype creation")
	}

	var secondCount int
	q.Each(func(EntityId, testPosition) { secondCount++ })
	if secondCount != 1 {
		t.Fatalf("expected query to observe newly created archetype, got %d matches", secondCount)
	}
}
