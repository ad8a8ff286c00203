// Package command implements the command buffer (C5): the sole mutation
// path into a World. Systems never call World mutators directly — they
// push commands, and the buffer applies them in push order at a
// well-defined point in the tick.
package command

import (
	"encoding/json"
	"fmt"

	"github.com/nomai-sim/nomai/internal/ecs"
)

// SystemId identifies who issued a command. Application code registers
// its own ids; a handful are reserved.
type SystemId int

const (
	EngineInternal SystemId = 0
	Physics        SystemId = 1
	WasmGameplay   SystemId = 2
)

// ReasonKind tags the causal variant a CausalReason carries.
type ReasonKind int

const (
	ReasonPlayerInput ReasonKind = iota
	ReasonCollisionResponse
	ReasonGameRule
	ReasonStateTransition
	ReasonTimer
	ReasonSystemInternal
)

func (k ReasonKind) String() string {
	switch k {
	case ReasonPlayerInput:
		return "player_input"
	case ReasonCollisionResponse:
		return "collision_response"
	case ReasonGameRule:
		return "game_rule"
	case ReasonStateTransition:
		return "state_transition"
	case ReasonTimer:
		return "timer"
	case ReasonSystemInternal:
		return "system_internal"
	default:
		return "unknown"
	}
}

// CausalReason is a tagged variant explaining why a command was issued.
// Only the fields relevant to Kind are meaningful; construct with one of
// the helper functions below rather than the struct literal.
type CausalReason struct {
	Kind        ReasonKind
	Description string // PlayerInput, GameRule, StateTransition, Timer, SystemInternal
	EntityA     ecs.EntityId
	EntityB     ecs.EntityId // CollisionResponse
}

func PlayerInput(s string) CausalReason       { return CausalReason{Kind: ReasonPlayerInput, Description: s} }
func GameRule(s string) CausalReason          { return CausalReason{Kind: ReasonGameRule, Description: s} }
func StateTransition(s string) CausalReason   { return CausalReason{Kind: ReasonStateTransition, Description: s} }
func Timer(s string) CausalReason             { return CausalReason{Kind: ReasonTimer, Description: s} }
func SystemInternal(s string) CausalReason    { return CausalReason{Kind: ReasonSystemInternal, Description: s} }
func CollisionResponse(a, b ecs.EntityId) CausalReason {
	return CausalReason{Kind: ReasonCollisionResponse, EntityA: a, EntityB: b}
}

// MarshalJSON emits a CausalReason as a single-key tagged variant, e.g.
// {"CollisionResponse":[a,b]} or {"PlayerInput":"move_forward"} — the
// wire shape manifests and snapshots serialize reasons as.
func (r CausalReason) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case ReasonCollisionResponse:
		return json.Marshal(map[string][2]uint64{"CollisionResponse": {uint64(r.EntityA), uint64(r.EntityB)}})
	case ReasonPlayerInput:
		return json.Marshal(map[string]string{"PlayerInput": r.Description})
	case ReasonGameRule:
		return json.Marshal(map[string]string{"GameRule": r.Description})
	case ReasonStateTransition:
		return json.Marshal(map[string]string{"StateTransition": r.Description})
	case ReasonTimer:
		return json.Marshal(map[string]string{"Timer": r.Description})
	case ReasonSystemInternal:
		return json.Marshal(map[string]string{"SystemInternal": r.Description})
	default:
		return json.Marshal(map[string]string{"SystemInternal": r.Description})
	}
}

// UnmarshalJSON parses a single-key tagged variant back into a
// CausalReason. Exactly one key is expected; anything else is malformed.
func (r *CausalReason) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return fmt.Errorf("causal reason: expected exactly one variant key, got %d", len(raw))
	}
	for kind, payload := range raw {
		switch kind {
		case "PlayerInput":
			var s string
			if err := json.Unmarshal(payload, &s); err != nil {
				return err
			}
			*r = PlayerInput(s)
		case "GameRule":
			var s string
			if err := json.Unmarshal(payload, &s); err != nil {
				return err
			}
			*r = GameRule(s)
		case "StateTransition":
			var s string
			if err := json.Unmarshal(payload, &s); err != nil {
				return err
			}
			*r = StateTransition(s)
		case "Timer":
			var s string
			if err := json.Unmarshal(payload, &s); err != nil {
				return err
			}
			*r = Timer(s)
		case "SystemInternal":
			var s string
			if err := json.Unmarshal(payload, &s); err != nil {
				return err
			}
			*r = SystemInternal(s)
		case "CollisionResponse":
			var pair [2]uint64
			if err := json.Unmarshal(payload, &pair); err != nil {
				return err
			}
			*r = CollisionResponse(ecs.EntityId(pair[0]), ecs.EntityId(pair[1]))
		default:
			return fmt.Errorf("causal reason: unknown variant %q", kind)
		}
	}
	return nil
}

// Kind discriminates a Command's payload.
type Kind int

const (
	KindSetComponent Kind = iota
	KindRemoveComponent
	KindDespawn
	KindSpawnSemantic
	KindSpawnPooled
)

// Command is one queued mutation, tagged with who issued it and why.
// CommandIndex is assigned by the buffer at push time and is stable for
// the life of the command — the manifest and causal-chain reconstruction
// key off it.
type Command struct {
	CommandIndex int
	IssuedBy     SystemId
	Reason       CausalReason
	Kind         Kind

	Target EntityIdOrNil

	ComponentName  string     // SetComponent, RemoveComponent
	ComponentValue any        // SetComponent
	Identity       any        // ecs.SemanticIdentity or ecs.PoolIdentity, for spawns
	Components     ecs.Bundle // spawns

	AppliedSuccessfully bool
	SpawnedEntity       EntityIdOrNil
	FailureReason       string

	// OldValue is the component's pre-mutation value, captured by Apply
	// just before a SetComponent/RemoveComponent mutates the world — the
	// change journal's ComponentChange rows need both old and new values,
	// and by the time Apply returns the world no longer holds the old one.
	OldValue any
}

// EntityIdOrNil distinguishes "no target" (spawns) from a concrete
// entity id, since ecs.EntityId's zero value is a legitimate id.
type EntityIdOrNil struct {
	Id    ecs.EntityId
	Valid bool
}

func Target(id ecs.EntityId) EntityIdOrNil { return EntityIdOrNil{Id: id, Valid: true} }
