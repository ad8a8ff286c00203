// Package ecs implements the archetype-backed entity/component kernel:
// the entity allocator (C1), the component registry (C2), the archetype
// store (C3), and the World that binds them (C4).
package ecs

import "fmt"

// EntityId is an opaque 64-bit handle split into a generation (high 32
// bits) and an index (low 32 bits). An id whose generation no longer
// matches the allocator's current generation for that index is stale.
type EntityId uint64

// NewEntityId packs a generation and index into an EntityId.
func NewEntityId(generation, index uint32) EntityId {
	return EntityId(uint64(generation)<<32 | uint64(index))
}

// Generation returns the high 32 bits.
func (e EntityId) Generation() uint32 { return uint32(e >> 32) }

// Index returns the low 32 bits.
func (e EntityId) Index() uint32 { return uint32(e) }

func (e EntityId) String() string {
	return fmt.Sprintf("Entity(%d:%d)", e.Index(), e.Generation())
}

// StaleEntityError is returned whenever an operation targets an EntityId
// that is no longer valid — wrong generation, freed twice, or never
// allocated. It is enriched with the allocator's current generation for
// the index so callers can tell a typo apart from a genuinely stale handle.
type StaleEntityError struct {
	Entity             EntityId
	CurrentGeneration  uint32
	IndexEverAllocated bool
}

func (e *StaleEntityError) Error() string {
	if !e.IndexEverAllocated {
		return fmt.Sprintf("stale entity %s: index was never allocated", e.Entity)
	}
	return fmt.Sprintf("stale entity %s: current generation for index %d is %d", e.Entity, e.Entity.Index(), e.CurrentGeneration)
}

// AllocatorSnapshot captures the entity allocator's three parallel vectors
// so EngineSnapshot can restore it deterministically (§4.9).
type AllocatorSnapshot struct {
	Generations []uint32 `json:"generations"`
	Alive       []bool   `json:"alive"`
	FreeIndices []uint32 `json:"free_indices"`
}

// EntityAllocator issues generational entity ids and recycles freed
// indices LIFO, which is what makes allocation order deterministic across
// runs (§5 ordering guarantee iii).
type EntityAllocator struct {
	generations []uint32
	alive       []bool
	free        []uint32
}

// NewEntityAllocator returns an empty allocator.
func NewEntityAllocator() *EntityAllocator {
	return &EntityAllocator{}
}

// Allocate reuses the most recently freed index (LIFO) or appends a new one.
// Allocation never fails.
func (a *EntityAllocator) Allocate() EntityId {
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		a.alive[idx] = true
		return NewEntityId(a.generations[idx], idx)
	}
	idx := uint32(len(a.generations))
	a.generations = append(a.generations, 0)
	a.alive = append(a.alive, true)
	return NewEntityId(0, idx)
}

// Free marks id's index dead, bumps its generation, and pushes the index
// back onto the free list. Freeing a stale or already-dead id is rejected.
func (a *EntityAllocator) Free(id EntityId) error {
	idx := id.Index()
	if int(idx) >= len(a.generations) {
		return &StaleEntityError{Entity: id, IndexEverAllocated: false}
	}
	if a.generations[idx] != id.Generation() || !a.alive[idx] {
		return &StaleEntityError{Entity: id, CurrentGeneration: a.generations[idx], IndexEverAllocated: true}
	}
	a.alive[idx] = false
	a.generations[idx]++
	a.free = append(a.free, idx)
	return nil
}

// IsAlive reports whether id is currently live.
func (a *EntityAllocator) IsAlive(id EntityId) bool {
	idx := id.Index()
	if int(idx) >= len(a.generations) {
		return false
	}
	return a.alive[idx] && a.generations[idx] == id.Generation()
}

// CurrentGeneration returns the allocator's live generation for an index,
// used to enrich StaleEntityError.
func (a *EntityAllocator) CurrentGeneration(index uint32) (uint32, bool) {
	if int(index) >= len(a.generations) {
		return 0, false
	}
	return a.generations[index], true
}

// AliveCount returns the number of currently live entities.
func (a *EntityAllocator) AliveCount() int {
	n := 0
	for _, v := range a.alive {
		if v {
			n++
		}
	}
	return n
}

// Snapshot captures the allocator's state for EngineSnapshot.
func (a *EntityAllocator) Snapshot() AllocatorSnapshot {
	return AllocatorSnapshot{
		Generations: append([]uint32(nil), a.generations...),
		Alive:       append([]bool(nil), a.alive...),
		FreeIndices: append([]uint32(nil), a.free...),
	}
}

// Restore replaces the allocator's state wholesale, used by snapshot restore.
func (a *EntityAllocator) Restore(s AllocatorSnapshot) {
	a.generations = append([]uint32(nil), s.Generations...)
	a.alive = append([]bool(nil), s.Alive...)
	a.free = append([]uint32(nil), s.FreeIndices...)
}
