package ecs

import "testing"

func TestEntityAllocatorReuseIsLIFO(t *testing.T) {
	a := NewEntityAllocator()
	e0 := a.Allocate()
	e1 := a.Allocate()
	e2 := a.Allocate()

	if err := a.Free(e1); err != nil {
		t.Fatalf("free e1: %v", err)
	}
	if err := a.Free(e2); err != nil {
		t.Fatalf("free e2: %v", err)
	}

	// LIFO: e2's index comes back before e1's.
	r1 := a.Allocate()
	r2 := a.Allocate()
	if r1.Index() != e2.Index() {
		t.Fatalf("expected first reuse to take e2's index %d, got %d", e2.Index(), r1.Index())
	}
	if r2.Index() != e1.Index() {
		t.Fatalf("expected second reuse to take e1's index %d, got %d", e1.Index(), r2.Index())
	}
	if r1.Generation() != e2.Generation()+1 {
		t.Fatalf("expected generation bump on reuse")
	}
	if !a.IsAlive(e0) {
		t.Fatalf("e0 should still be alive")
	}
}

func TestEntityAllocatorStaleDetection(t *testing.T) {
	a := NewEntityAllocator()
	e := a.Allocate()
	if err := a.Free(e); err != nil {
		t.Fatalf("free: %v", err)
	}
	if a.IsAlive(e) {
		t.Fatalf("freed entity should not be alive")
	}
	if err := a.Free(e); err == nil {
		t.Fatalf("double free should error")
	}

	var neverAllocated EntityId = NewEntityId(0, 999)
	err := a.Free(neverAllocated)
	if err == nil {
		t.Fatalf("freeing a never-allocated index should error")
	}
	if se, ok := err.(*StaleEntityError); !ok || se.IndexEverAllocated {
		t.Fatalf("expected IndexEverAllocated=false, got %#v", err)
	}
}

func TestEntityAllocatorSnapshotRestore(t *testing.T) {
	a := NewEntityAllocator()
	e0 := a.Allocate()
	e1 := a.Allocate()
	if err := a.Free(e0); err != nil {
		t.Fatalf("free: %v", err)
	}

	snap := a.Snapshot()

	b := NewEntityAllocator()
	b.Restore(snap)

	if b.IsAlive(e0) {
		t.Fatalf("restored allocator should not resurrect freed entity")
	}
	if !b.IsAlive(e1) {
		t.Fatalf("restored allocator should keep e1 alive")
	}

	// Next allocation on the restored allocator should still reuse e0's
	// freed index LIFO, matching the pre-snapshot allocator's behavior.
	r := b.Allocate()
	if r.Index() != e0.Index() {
		t.Fatalf("expected restored allocator to reuse index %d, got %d", e0.Index(), r.Index())
	}
}
