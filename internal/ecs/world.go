package ecs

// Bundle is a structured-value bag of component-name -> concrete Go
// value, the shape spawn and command application both take (§3).
type Bundle map[string]any

// World binds the entity allocator, the component registry, and the
// archetype store, and is the only construction entry point for entities
// (§4.4) — there is no tier-less spawn.
type World struct {
	allocator *EntityAllocator
	registry  *Registry

	archetypes  []*Archetype // creation order — also iteration order
	archByID    map[ArchetypeID]*Archetype
	bySignature map[string]ArchetypeID
	nextArchID  ArchetypeID

	locations map[EntityId]Location
	identity  map[EntityId]Identity

	queryCache          map[string][]ArchetypeID
	archetypeGeneration uint64
}

// NewWorld constructs an empty World over the given component registry.
func NewWorld(registry *Registry) *World {
	return &World{
		allocator:   NewEntityAllocator(),
		registry:    registry,
		archByID:    make(map[ArchetypeID]*Archetype),
		bySignature: make(map[string]ArchetypeID),
		locations:   make(map[EntityId]Location),
		identity:    make(map[EntityId]Identity),
		queryCache:  make(map[string][]ArchetypeID),
	}
}

// Registry returns the component registry this world was built over.
func (w *World) Registry() *Registry { return w.registry }

// Allocator exposes the entity allocator for snapshot/restore.
func (w *World) Allocator() *EntityAllocator { return w.allocator }

// EntityCount returns the number of currently live entities.
func (w *World) EntityCount() int { return w.allocator.AliveCount() }

// IsAlive reports whether id currently names a live entity.
func (w *World) IsAlive(id EntityId) bool { return w.allocator.IsAlive(id) }

// Identity returns the stored tier/type/role metadata for id.
func (w *World) Identity(id EntityId) (Identity, bool) {
	ident, ok := w.identity[id]
	return ident, ok
}

func (w *World) staleErr(id EntityId) error {
	gen, everAllocated := w.allocator.CurrentGeneration(id.Index())
	return &StaleEntityError{Entity: id, CurrentGeneration: gen, IndexEverAllocated: everAllocated}
}

func (w *World) locationOf(id EntityId) (Location, error) {
	if !w.allocator.IsAlive(id) {
		return Location{}, w.staleErr(id)
	}
	loc, ok := w.locations[id]
	if !ok {
		return Location{}, w.staleErr(id)
	}
	return loc, nil
}

func (w *World) archetypeByID(id ArchetypeID) *Archetype { return w.archByID[id] }

// archetypeFor returns (creating if necessary) the archetype for the
// given type set. Creating a new archetype clears the query cache and
// bumps archetype_generation (§4.4 invariant).
func (w *World) archetypeFor(types []TypeID) *Archetype {
	key := typesetKey(types)
	if id, ok := w.bySignature[key]; ok {
		return w.archByID[id]
	}
	id := w.nextArchID
	w.nextArchID++
	arch := newArchetype(id, types, w.registry)
	w.archetypes = append(w.archetypes, arch)
	w.archByID[id] = arch
	w.bySignature[key] = id
	w.archetypeGeneration++
	w.queryCache = make(map[string][]ArchetypeID)
	return arch
}

// queryArchetypes resolves a required type set to the list of archetype
// ids whose type set is a superset, caching the result until the next
// archetype creation (§4.3).
func (w *World) queryArchetypes(types []TypeID) []ArchetypeID {
	key := typesetKey(types)
	if ids, ok := w.queryCache[key]; ok {
		return ids
	}
	var matches []ArchetypeID
	for _, arch := range w.archetypes {
		if arch.supersetOf(types) {
			matches = append(matches, arch.id)
		}
	}
	w.queryCache[key] = matches
	return matches
}

// ArchetypeGeneration returns the counter bumped every time a new
// archetype is created — distributed query-cache mirrors (internal/cache)
// use this to know when to invalidate.
func (w *World) ArchetypeGeneration() uint64 { return w.archetypeGeneration }

func (w *World) bundleToValues(bundle Bundle) ([]TypeID, map[TypeID]any, error) {
	types := make([]TypeID, 0, len(bundle))
	values := make(map[TypeID]any, len(bundle))
	for name, v := range bundle {
		ct, ok := w.registry.ByName(name)
		if !ok {
			return nil, nil, w.registry.unknownComponent(name)
		}
		types = append(types, ct.ID)
		values[ct.ID] = v
	}
	return types, values, nil
}

func (w *World) spawn(identity Identity, bundle Bundle) (EntityId, error) {
	types, values, err := w.bundleToValues(bundle)
	if err != nil {
		return 0, err
	}
	id := w.allocator.Allocate()
	arch := w.archetypeFor(types)
	row := arch.appendRow(id, values)
	w.locations[id] = Location{Archetype: arch.id, Row: row}
	w.identity[id] = identity
	return id, nil
}

// SpawnSemantic spawns an individually-tracked entity.
func (w *World) SpawnSemantic(identity SemanticIdentity, bundle Bundle) (EntityId, error) {
	return w.spawn(identity.toIdentity(), bundle)
}

// SpawnPooled spawns a type-aggregated entity.
func (w *World) SpawnPooled(identity PoolIdentity, bundle Bundle) (EntityId, error) {
	return w.spawn(identity.toIdentity(), bundle)
}

// Despawn frees id and removes its row from its archetype, preserving the
// relative row order of every other entity in that archetype.
func (w *World) Despawn(id EntityId) error {
	loc, err := w.locationOf(id)
	if err != nil {
		return err
	}
	arch := w.archByID[loc.Archetype]
	shifted := arch.removeRow(loc.Row)
	for i, e := range shifted {
		w.locations[e] = Location{Archetype: loc.Archetype, Row: loc.Row + i}
	}
	delete(w.locations, id)
	delete(w.identity, id)
	return w.allocator.Free(id)
}

// GetComponent returns the current value of component name on id.
func (w *World) GetComponent(id EntityId, name string) (any, error) {
	loc, err := w.locationOf(id)
	if err != nil {
		return nil, err
	}
	ct, ok := w.registry.ByName(name)
	if !ok {
		return nil, w.registry.unknownComponent(name)
	}
	arch := w.archByID[loc.Archetype]
	if !arch.has(ct.ID) {
		return nil, nil
	}
	return arch.valueAt(ct.ID, loc.Row), nil
}

// InsertComponent sets component name on id to v, transitioning id to a
// new archetype if it doesn't already carry that component type.
func (w *World) InsertComponent(id EntityId, name string, v any) error {
	loc, err := w.locationOf(id)
	if err != nil {
		return err
	}
	ct, ok := w.registry.ByName(name)
	if !ok {
		return w.registry.unknownComponent(name)
	}

	old := w.archByID[loc.Archetype]
	if old.has(ct.ID) {
		old.setValue(ct.ID, loc.Row, v)
		return nil
	}

	values := old.rowValues(loc.Row)
	values[ct.ID] = v
	newTypes := append(append([]TypeID{}, old.types...), ct.ID)
	w.transition(id, loc, old, newTypes, values)
	return nil
}

// RemoveComponent removes component name from id, transitioning it to a
// smaller archetype. Removing a component the entity doesn't carry is a
// no-op success.
func (w *World) RemoveComponent(id EntityId, name string) error {
	loc, err := w.locationOf(id)
	if err != nil {
		return err
	}
	ct, ok := w.registry.ByName(name)
	if !ok {
		return w.registry.unknownComponent(name)
	}

	old := w.archByID[loc.Archetype]
	if !old.has(ct.ID) {
		return nil
	}

	values := old.rowValues(loc.Row)
	delete(values, ct.ID)
	newTypes := make([]TypeID, 0, len(old.types)-1)
	for _, t := range old.types {
		if t != ct.ID {
			newTypes = append(newTypes, t)
		}
	}
	w.transition(id, loc, old, newTypes, values)
	return nil
}

// transition moves id from old's row loc.Row into the archetype for
// newTypes, carrying values across byte-for-byte, and fixes up the
// locations of every row that shifted in old.
func (w *World) transition(id EntityId, loc Location, old *Archetype, newTypes []TypeID, values map[TypeID]any) {
	newArch := w.archetypeFor(newTypes)
	newRow := newArch.appendRow(id, values)
	shifted := old.removeRow(loc.Row)
	for i, e := range shifted {
		w.locations[e] = Location{Archetype: old.id, Row: loc.Row + i}
	}
	w.locations[id] = Location{Archetype: newArch.id, Row: newRow}
}

// SetComponentByName decodes a structured value against the registered
// component type and applies it, the entry point set_component_by_name
// from §4.4 and the sandbox's set_component host call (§4.7).
func (w *World) SetComponentByName(id EntityId, name string, structured map[string]any) error {
	ct, ok := w.registry.ByName(name)
	if !ok {
		return w.registry.unknownComponent(name)
	}
	v, err := ct.Deserialize(structured)
	if err != nil {
		return &ComponentDeserializationError{Component: name, Details: err.Error()}
	}
	return w.InsertComponent(id, name, v)
}

// QueryNames returns every live entity carrying all of names, in
// deterministic archetype-creation/row order.
func (w *World) QueryNames(names ...string) ([]EntityId, error) {
	types := make([]TypeID, 0, len(names))
	for _, n := range names {
		ct, ok := w.registry.ByName(n)
		if !ok {
			return nil, w.registry.unknownComponent(n)
		}
		types = append(types, ct.ID)
	}
	var out []EntityId
	for _, archID := range w.queryArchetypes(types) {
		arch := w.archByID[archID]
		out = append(out, arch.entities...)
	}
	return out, nil
}
