package manifest

import (
	"fmt"
	"strings"

	"github.com/nomai-sim/nomai/internal/command"
	"github.com/nomai-sim/nomai/internal/ecs"
)

// BuildCausalChain walks a ComponentChange back to its root cause over
// the retained history. Step 0 is always the change's own
// {system, reason}. CollisionResponse hops to the GameEvent the physics
// step emitted for that entity pair; GameRule/Timer search for a
// preceding event whose description mentions the reason string;
// PlayerInput terminates immediately, as does running out of history.
func (p *Pipeline) BuildCausalChain(change ComponentChange) CausalChain {
	chain := CausalChain{EntityId: change.EntityId, Component: change.ComponentName}
	chain.Steps = append(chain.Steps, CausalStep{
		Tick:         change.Tick,
		CommandIndex: change.CommandIndex,
		SystemId:     change.ChangedBySystem,
		Reason:       change.Reason,
		Description:  describeReason(change.Reason),
	})

	reason := change.Reason
	tick := change.Tick
	visited := make(map[string]bool)

	for {
		key := fmt.Sprintf("%d|%d|%s", tick, reason.Kind, reason.Description)
		if visited[key] {
			break // cycle guard; a well-formed chain never revisits a step
		}
		visited[key] = true

		switch reason.Kind {
		case command.ReasonPlayerInput:
			return chain

		case command.ReasonCollisionResponse:
			ev, ok := p.findCollisionEvent(reason.EntityA, reason.EntityB, tick)
			if !ok {
				return chain
			}
			chain.Steps = append(chain.Steps, CausalStep{
				Tick:         ev.Tick,
				CommandIndex: ev.CommandIndex,
				SystemId:     ev.CausedBySystem,
				Reason:       ev.Reason,
				Description:  ev.Description,
			})
			reason, tick = ev.Reason, ev.Tick

		case command.ReasonGameRule, command.ReasonTimer:
			ev, ok := p.findEventMentioning(reason.Description, tick)
			if !ok {
				return chain
			}
			chain.Steps = append(chain.Steps, CausalStep{
				Tick:        ev.Tick,
				SystemId:    ev.CausedBySystem,
				Reason:      ev.Reason,
				Description: ev.Description,
			})
			reason, tick = ev.Reason, ev.Tick

		default: // StateTransition, SystemInternal: terminal by construction
			return chain
		}
	}
	return chain
}

func describeReason(r command.CausalReason) string {
	if r.Kind == command.ReasonCollisionResponse {
		return fmt.Sprintf("collision(%d,%d)", uint64(r.EntityA), uint64(r.EntityB))
	}
	return r.Kind.String() + ": " + r.Description
}

// findCollisionEvent looks up the GameEvent the physics step recorded for
// (a,b) at or before maxTick, walking history newest-first.
func (p *Pipeline) findCollisionEvent(a, b ecs.EntityId, maxTick uint64) (GameEvent, bool) {
	for i := len(p.history) - 1; i >= 0; i-- {
		if p.history[i].Tick > maxTick {
			continue
		}
		for j := len(p.history[i].Events) - 1; j >= 0; j-- {
			ev := p.history[i].Events[j]
			if ev.Reason.Kind != command.ReasonCollisionResponse {
				continue
			}
			if (ev.Reason.EntityA == a || ev.Reason.EntityB == a) && (ev.Reason.EntityA == b || ev.Reason.EntityB == b) {
				return ev, true
			}
		}
	}
	return GameEvent{}, false
}

// findEventMentioning searches history, newest first, for a GameEvent at
// or before maxTick whose description contains s.
func (p *Pipeline) findEventMentioning(s string, maxTick uint64) (GameEvent, bool) {
	for i := len(p.history) - 1; i >= 0; i-- {
		if p.history[i].Tick > maxTick {
			continue
		}
		for j := len(p.history[i].Events) - 1; j >= 0; j-- {
			ev := p.history[i].Events[j]
			if strings.Contains(ev.Description, s) {
				return ev, true
			}
		}
	}
	return GameEvent{}, false
}
