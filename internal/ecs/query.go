package ecs

// Query1 iterates every live entity carrying component A. Queries are
// restartable (a fresh Each call re-walks the current archetype set) and
// deterministic: archetype creation order, then row order (§4.4).
type Query1[A any] struct {
	world *World
	typeA TypeID
}

// NewQuery1 builds a Query1 for component A against world.
func NewQuery1[A any](world *World) (*Query1[A], error) {
	ct, err := typeFor[A](world.registry)
	if err != nil {
		return nil, err
	}
	return &Query1[A]{world: world, typeA: ct.ID}, nil
}

// Each calls fn for every matching row. Values are passed by copy —
// queries never hand out mutable references, because the command buffer
// is the only legal mutation path (§4.4 safe-iteration rule).
func (q *Query1[A]) Each(fn func(EntityId, A)) {
	for _, archID := range q.world.queryArchetypes([]TypeID{q.typeA}) {
		arch := q.world.archByID[archID]
		col := arch.columns[q.typeA]
		for row := 0; row < arch.len(); row++ {
			fn(arch.entities[row], col.Index(row).Interface().(A))
		}
	}
}

// Query2 iterates every live entity carrying components A and B.
type Query2[A, B any] struct {
	world          *World
	typeA, typeB   TypeID
}

// NewQuery2 builds a Query2 for components A and B against world.
func NewQuery2[A, B any](world *World) (*Query2[A, B], error) {
	ca, err := typeFor[A](world.registry)
	if err != nil {
		return nil, err
	}
	cb, err := typeFor[B](world.registry)
	if err != nil {
		return nil, err
	}
	return &Query2[A, B]{world: world, typeA: ca.ID, typeB: cb.ID}, nil
}

// Each calls fn for every matching row, values passed by copy.
func (q *Query2[A, B]) Each(fn func(EntityId, A, B)) {
	for _, archID := range q.world.queryArchetypes([]TypeID{q.typeA, q.typeB}) {
		arch := q.world.archByID[archID]
		colA := arch.columns[q.typeA]
		colB := arch.columns[q.typeB]
		for row := 0; row < arch.len(); row++ {
			fn(arch.entities[row], colA.Index(row).Interface().(A), colB.Index(row).Interface().(B))
		}
	}
}

// Query3 iterates every live entity carrying components A, B, and C.
type Query3[A, B, C any] struct {
	world                 *World
	typeA, typeB, typeC   TypeID
}

// NewQuery3 builds a Query3 for components A, B, and C against world.
func NewQuery3[A, B, C any](world *World) (*Query3[A, B, C], error) {
	ca, err := typeFor[A](world.registry)
	if err != nil {
		return nil, err
	}
	cb, err := typeFor[B](world.registry)
	if err != nil {
		return nil, err
	}
	cc, err := typeFor[C](world.registry)
	if err != nil {
		return nil, err
	}
	return &Query3[A, B, C]{world: world, typeA: ca.ID, typeB: cb.ID, typeC: cc.ID}, nil
}

// Each calls fn for every matching row, values passed by copy.
func (q *Query3[A, B, C]) Each(fn func(EntityId, A, B, C)) {
	for _, archID := range q.world.queryArchetypes([]TypeID{q.typeA, q.typeB, q.typeC}) {
		arch := q.world.archByID[archID]
		colA := arch.columns[q.typeA]
		colB := arch.columns[q.typeB]
		colC := arch.columns[q.typeC]
		for row := 0; row < arch.len(); row++ {
			fn(arch.entities[row],
				colA.Index(row).Interface().(A),
				colB.Index(row).Interface().(B),
				colC.Index(row).Interface().(C))
		}
	}
}
