package ecs

import "sort"

// EntitySnapshot captures one live entity's identity and component
// values as structured data, the per-entity shape EngineSnapshot's
// world_snapshot.entities uses (§6).
type EntitySnapshot struct {
	EntityID        uint64                    `json:"entity_id"`
	Tier            string                    `json:"tier"`
	EntityType      string                    `json:"entity_type,omitempty"`
	Role            string                    `json:"role,omitempty"`
	SpawnedBySystem int                       `json:"spawned_by_system,omitempty"`
	RequirementID   string                    `json:"requirement_id,omitempty"`
	PoolType        string                    `json:"pool_type,omitempty"`
	Components      map[string]map[string]any `json:"components"`
}

// WorldSnapshot is the serializable capture of an entire World: allocator
// state, registered component names in id order, and every live entity's
// components as structured values (§6 snapshot file format).
type WorldSnapshot struct {
	Allocator      AllocatorSnapshot `json:"allocator"`
	ComponentNames []string          `json:"component_names"`
	Entities       []EntitySnapshot  `json:"entities"`
}

// Snapshot captures the world deterministically: entities are walked in
// archetype-creation order, then row order, matching query iteration
// order (§4.4) so two runs of the same simulation produce byte-identical
// snapshots.
func (w *World) Snapshot() (WorldSnapshot, error) {
	snap := WorldSnapshot{
		Allocator:      w.allocator.Snapshot(),
		ComponentNames: w.registry.NamesByID(),
	}

	for _, arch := range w.archetypes {
		for row := 0; row < arch.len(); row++ {
			id := arch.entities[row]
			ident := w.identity[id]
			es := EntitySnapshot{
				EntityID:        uint64(id),
				Tier:            ident.Tier.String(),
				EntityType:      ident.EntityType,
				Role:            ident.Role,
				SpawnedBySystem: ident.SpawnedBySystem,
				RequirementID:   ident.RequirementID,
				PoolType:        ident.PoolType,
				Components:      make(map[string]map[string]any, len(arch.types)),
			}
			for _, t := range arch.types {
				ct, ok := w.registry.ByID(t)
				if !ok {
					continue
				}
				structured, err := ct.Serialize(arch.valueAt(t, row))
				if err != nil {
					return WorldSnapshot{}, err
				}
				es.Components[ct.Name] = structured
			}
			snap.Entities = append(snap.Entities, es)
		}
	}
	return snap, nil
}

// Restore clears all world state and rebuilds it from snap, re-spawning
// every entity at its original EntityId (allocator state is restored
// first so ids line up) — required for deterministic replay (§4.9).
func (w *World) Restore(snap WorldSnapshot) error {
	w.allocator.Restore(snap.Allocator)
	w.archetypes = nil
	w.archByID = make(map[ArchetypeID]*Archetype)
	w.bySignature = make(map[string]ArchetypeID)
	w.nextArchID = 0
	w.locations = make(map[EntityId]Location)
	w.identity = make(map[EntityId]Identity)
	w.queryCache = make(map[string][]ArchetypeID)
	w.archetypeGeneration = 0

	sorted := append([]EntitySnapshot(nil), snap.Entities...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].EntityID < sorted[j].EntityID })

	for _, es := range sorted {
		bundle := make(Bundle, len(es.Components))
		for name, structured := range es.Components {
			ct, ok := w.registry.ByName(name)
			if !ok {
				return w.registry.unknownComponent(name)
			}
			v, err := ct.Deserialize(structured)
			if err != nil {
				return &ComponentDeserializationError{Component: name, Details: err.Error()}
			}
			bundle[name] = v
		}

		ident := Identity{
			EntityType:      es.EntityType,
			Role:            es.Role,
			SpawnedBySystem: es.SpawnedBySystem,
			RequirementID:   es.RequirementID,
			PoolType:        es.PoolType,
		}
		if es.Tier == "pooled" {
			ident.Tier = TierPooled
		} else {
			ident.Tier = TierSemantic
		}

		id := EntityId(es.EntityID)
		types, values, err := w.bundleToValues(bundle)
		if err != nil {
			return err
		}
		arch := w.archetypeFor(types)
		row := arch.appendRow(id, values)
		w.locations[id] = Location{Archetype: arch.id, Row: row}
		w.identity[id] = ident
	}
	return nil
}
