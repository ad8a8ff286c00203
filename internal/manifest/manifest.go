// Package manifest implements the three-layer observation pipeline that
// sits downstream of command application: an entity index, a per-tick
// change journal, and an event log, rolled up each tick into a bounded
// history of TickManifests with causal-chain reconstruction over them.
package manifest

import (
	"encoding/json"
	"time"

	"github.com/nomai-sim/nomai/internal/command"
	"github.com/nomai-sim/nomai/internal/ecs"
)

// EntityEntry is Layer 1's per-entity row. Pooled entities share one
// aggregated entry per pool type rather than one row per instance.
type EntityEntry struct {
	EntityId        ecs.EntityId `json:"entity_id"`
	Tier            string       `json:"tier"`
	EntityType      string       `json:"entity_type"`
	Role            string       `json:"role"`
	Alive           bool         `json:"alive"`
	SpawnedAtTick   uint64       `json:"spawned_at_tick"`
	DespawnedAtTick *uint64      `json:"despawned_at_tick,omitempty"`
}

// ComponentChange is one Layer 2 journal row — both the pre- and
// post-mutation values are captured so causal-chain reconstruction and
// external observers never need to re-derive "what changed".
type ComponentChange struct {
	EntityId        ecs.EntityId         `json:"entity_id"`
	ComponentName   string               `json:"component_type_name"`
	OldValue        any                  `json:"old_value"`
	NewValue        any                  `json:"new_value"`
	ChangedBySystem command.SystemId     `json:"changed_by_system"`
	Reason          command.CausalReason `json:"reason"`
	CommandIndex    int                  `json:"command_index"`
	Tick            uint64               `json:"tick"`
}

// componentChangeWire mirrors ComponentChange field-for-field. Marshaling
// through it (rather than ComponentChange directly) avoids infinite
// recursion in ComponentChange.MarshalJSON while keeping the same tags.
type componentChangeWire ComponentChange

// MarshalJSON normalizes OldValue/NewValue to the generic
// map/slice/scalar shape encoding/json itself would produce on decode —
// a concrete Go struct value and the map UnmarshalJSON later reconstructs
// from it must serialize identically, or the round-trip law in §8
// doesn't hold.
func (c ComponentChange) MarshalJSON() ([]byte, error) {
	wire := componentChangeWire(c)
	wire.OldValue = normalizeValue(c.OldValue)
	wire.NewValue = normalizeValue(c.NewValue)
	return json.Marshal(wire)
}

// normalizeValue round-trips v through JSON once so a typed struct value
// and the map[string]any/[]any/scalar UnmarshalJSON produces from its
// encoding compare byte-identical on a second marshal.
func normalizeValue(v any) any {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

// GameEvent is one Layer 3 event-log row. CommandIndex is the index of
// the command this event is attached to, if any (e.g. a physics
// collision event's CollisionMarker command) — zero (and meaningless) for
// events with no anchoring command, such as a guest emit_event.
type GameEvent struct {
	EventType        string               `json:"event_type"`
	Description      string               `json:"description"`
	InvolvedEntities []ecs.EntityId       `json:"involved_entities"`
	CausedBySystem   command.SystemId     `json:"caused_by"`
	Reason           command.CausalReason `json:"reason"`
	Tick             uint64               `json:"tick"`
	CommandIndex     int                  `json:"command_index,omitempty"`
}

// Aggregates are recomputed from the entity index every tick.
type Aggregates struct {
	EntityCountByTier map[string]int     `json:"entity_count_by_tier"`
	EntityCountByType map[string]int     `json:"entity_count_by_type"`
	TotalEntityCount  int                `json:"total_entity_count"`
	Custom            map[string]float64 `json:"custom"`
}

// TickManifest is the published summary of one tick.
type TickManifest struct {
	Tick                     uint64            `json:"tick"`
	SimTime                  float64           `json:"sim_time"`
	EntitySpawns             []ecs.EntityId    `json:"entity_spawns"`
	EntityDespawns           []ecs.EntityId    `json:"entity_despawns"`
	ComponentChanges         []ComponentChange `json:"component_changes"`
	Events                   []GameEvent       `json:"events"`
	Aggregates               Aggregates        `json:"aggregates"`
	SystemsExecuted          []string          `json:"systems_executed"`
	CommandsProcessed        int               `json:"commands_processed"`
	CommandsSucceeded        int               `json:"commands_succeeded"`
	ManifestGenerationMicros int64             `json:"manifest_generation_micros"`
}

// CausalStep is one hop in a CausalChain.
type CausalStep struct {
	Tick         uint64               `json:"tick"`
	CommandIndex int                  `json:"command_index"`
	SystemId     command.SystemId     `json:"system_id"`
	Reason       command.CausalReason `json:"reason"`
	Description  string               `json:"description"`
}

// CausalChain is the result of walking a ComponentChange back to its root cause.
type CausalChain struct {
	EntityId  ecs.EntityId `json:"entity_id"`
	Component string       `json:"component"`
	Steps     []CausalStep `json:"steps"`
}

// CustomAggregate is a user-registered closure invoked against the world
// each tick to compute one named aggregate value.
type CustomAggregate func(world *ecs.World) float64

// Pipeline holds the entity index, bounded TickManifest history, and
// user-registered custom aggregates.
type Pipeline struct {
	historyWindow int
	history       []TickManifest

	entityIndex map[ecs.EntityId]*EntityEntry

	// poolCounts and poolMembership implement the pooled tier's
	// aggregated accounting: pooled entities never get a per-instance
	// EntityEntry, only a running count per pool type, plus enough
	// membership bookkeeping to decrement the right count on despawn.
	poolCounts     map[string]int
	poolMembership map[ecs.EntityId]string

	customAggregates map[string]CustomAggregate

	// per-tick scratch state, live between BeginTick and EndTick
	tickStart     time.Time
	spawns        []ecs.EntityId
	despawns      []ecs.EntityId
	changes       []ComponentChange
	events        []GameEvent
	commandsTotal int
	commandsOK    int
}

// NewPipeline returns a pipeline retaining at most historyWindow TickManifests.
func NewPipeline(historyWindow int) *Pipeline {
	return &Pipeline{
		historyWindow:    historyWindow,
		entityIndex:      make(map[ecs.EntityId]*EntityEntry),
		poolCounts:       make(map[string]int),
		poolMembership:   make(map[ecs.EntityId]string),
		customAggregates: make(map[string]CustomAggregate),
	}
}

// RegisterCustomAggregate adds a named aggregate computed from the world
// at the end of every tick.
func (p *Pipeline) RegisterCustomAggregate(name string, fn CustomAggregate) {
	p.customAggregates[name] = fn
}

// BeginTick clears per-tick buffers and starts the generation timer.
func (p *Pipeline) BeginTick() {
	p.tickStart = time.Now()
	p.spawns = nil
	p.despawns = nil
	p.changes = nil
	p.events = nil
	p.commandsTotal = 0
	p.commandsOK = 0
}

// RecordEvent appends an event directly to the current tick's event log —
// used by the physics step and by guest/system emit_event calls, which
// don't go through ProcessCommands.
func (p *Pipeline) RecordEvent(ev GameEvent) {
	p.events = append(p.events, ev)
}

// ProcessCommands folds one batch of applied commands into Layer 1 and
// Layer 2: spawns/despawns update the entity index, and every successful
// SetComponent/RemoveComponent appends a journal row.
func (p *Pipeline) ProcessCommands(applied []command.Command, tick uint64, world *ecs.World) {
	for _, cmd := range applied {
		p.commandsTotal++
		if cmd.AppliedSuccessfully {
			p.commandsOK++
		}
		if !cmd.AppliedSuccessfully {
			continue
		}

		switch cmd.Kind {
		case command.KindSpawnSemantic:
			if !cmd.SpawnedEntity.Valid {
				continue
			}
			id := cmd.SpawnedEntity.Id
			ident, _ := world.Identity(id)
			p.entityIndex[id] = &EntityEntry{
				EntityId:      id,
				Tier:          ident.Tier.String(),
				EntityType:    ident.EntityType,
				Role:          ident.Role,
				Alive:         true,
				SpawnedAtTick: tick,
			}
			p.spawns = append(p.spawns, id)

		case command.KindSpawnPooled:
			// Pooled entities never get a per-instance EntityEntry — only
			// a running count keyed by pool type, since Layer 1 aggregates
			// them at the type level rather than tracking instances.
			if !cmd.SpawnedEntity.Valid {
				continue
			}
			id := cmd.SpawnedEntity.Id
			ident, _ := world.Identity(id)
			p.poolCounts[ident.PoolType]++
			p.poolMembership[id] = ident.PoolType
			p.spawns = append(p.spawns, id)

		case command.KindDespawn:
			if !cmd.Target.Valid {
				continue
			}
			id := cmd.Target.Id
			if entry, ok := p.entityIndex[id]; ok {
				entry.Alive = false
				t := tick
				entry.DespawnedAtTick = &t
			} else if poolType, ok := p.poolMembership[id]; ok {
				if p.poolCounts[poolType] > 0 {
					p.poolCounts[poolType]--
				}
				delete(p.poolMembership, id)
			}
			p.despawns = append(p.despawns, id)

		case command.KindSetComponent, command.KindRemoveComponent:
			if !cmd.Target.Valid {
				continue
			}
			p.changes = append(p.changes, ComponentChange{
				EntityId:        cmd.Target.Id,
				ComponentName:   cmd.ComponentName,
				OldValue:        cmd.OldValue,
				NewValue:        cmd.ComponentValue,
				ChangedBySystem: cmd.IssuedBy,
				Reason:          cmd.Reason,
				CommandIndex:    cmd.CommandIndex,
				Tick:            tick,
			})
		}
	}
}

// EndTick computes aggregates, assembles the TickManifest, pushes it into
// the bounded history (dropping the oldest on overflow), and records the
// elapsed generation time.
func (p *Pipeline) EndTick(tick uint64, simTime float64, systemNames []string, world *ecs.World) TickManifest {
	agg := Aggregates{
		EntityCountByTier: make(map[string]int),
		EntityCountByType: make(map[string]int),
		Custom:            make(map[string]float64),
	}
	for _, entry := range p.entityIndex {
		if !entry.Alive {
			continue
		}
		agg.TotalEntityCount++
		agg.EntityCountByTier[entry.Tier]++
		agg.EntityCountByType[entry.EntityType]++
	}
	for poolType, count := range p.poolCounts {
		if count <= 0 {
			continue
		}
		agg.TotalEntityCount += count
		agg.EntityCountByTier[ecs.TierPooled.String()] += count
		agg.EntityCountByType[poolType] += count
	}
	for name, fn := range p.customAggregates {
		agg.Custom[name] = fn(world)
	}

	m := TickManifest{
		Tick:                     tick,
		SimTime:                  simTime,
		EntitySpawns:             p.spawns,
		EntityDespawns:           p.despawns,
		ComponentChanges:         p.changes,
		Events:                   p.events,
		Aggregates:               agg,
		SystemsExecuted:          systemNames,
		CommandsProcessed:        p.commandsTotal,
		CommandsSucceeded:        p.commandsOK,
		ManifestGenerationMicros: time.Since(p.tickStart).Microseconds(),
	}

	p.history = append(p.history, m)
	if len(p.history) > p.historyWindow {
		p.history = p.history[len(p.history)-p.historyWindow:]
	}
	return m
}

// ManifestAtTick returns the manifest for tick, or false if it has aged
// out of the bounded history window — never fabricated.
func (p *Pipeline) ManifestAtTick(tick uint64) (TickManifest, bool) {
	for _, m := range p.history {
		if m.Tick == tick {
			return m, true
		}
	}
	return TickManifest{}, false
}

// ManifestsSince returns every retained manifest with Tick >= tick, in
// tick order.
func (p *Pipeline) ManifestsSince(tick uint64) []TickManifest {
	var out []TickManifest
	for _, m := range p.history {
		if m.Tick >= tick {
			out = append(out, m)
		}
	}
	return out
}

// EntityIndex returns the full entity index. Pooled entities are never
// present here — see PoolCounts for their type-level aggregation.
func (p *Pipeline) EntityIndex() map[ecs.EntityId]*EntityEntry {
	return p.entityIndex
}

// PoolCounts returns a snapshot of the current live count per pool type.
func (p *Pipeline) PoolCounts() map[string]int {
	out := make(map[string]int, len(p.poolCounts))
	for k, v := range p.poolCounts {
		out[k] = v
	}
	return out
}

// ResetHistory clears retained manifests, the entity index, and pool
// bookkeeping — used on snapshot restore, since stale history would
// reference entities that no longer exist at their old ids.
func (p *Pipeline) ResetHistory() {
	p.history = nil
	p.entityIndex = make(map[ecs.EntityId]*EntityEntry)
	p.poolCounts = make(map[string]int)
	p.poolMembership = make(map[ecs.EntityId]string)
}
