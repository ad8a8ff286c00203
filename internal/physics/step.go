package physics

import (
	"github.com/nomai-sim/nomai/internal/command"
	"github.com/nomai-sim/nomai/internal/ecs"
)

// StepEvent is the structured description of a collision, emitted onto
// the event log by RunPhysicsStep. MarkerCommandIndex is the index of the
// CollisionMarker command pushed for this pair, so BuildCausalChain's
// CollisionResponse branch can anchor its chain step to a concrete
// command rather than only a tick/event pair.
type StepEvent struct {
	EntityA, EntityB   ecs.EntityId
	Tick               uint64
	MarkerCommandIndex int
}

// RunPhysicsStep advances the adapter by dt, converts every newly-started
// collision into a StepEvent at tick (plus a queryable CollisionMarker
// command on entity A), and queues one SetComponent per dynamic body for
// its post-step position and velocity — issued by command.Physics with a
// SystemInternal("physics_step") reason, so the causal chain always
// traces a body's motion back to the step that moved it rather than to
// whatever last touched it out-of-band.
func RunPhysicsStep(adapter *Adapter, buf *command.Buffer, world *ecs.World, dt float64, tick uint64) []StepEvent {
	pairs := adapter.Step(dt)

	events := make([]StepEvent, 0, len(pairs))
	for _, p := range pairs {
		reason := command.CollisionResponse(p.A, p.B)
		idx := buf.PushSetComponent(command.Physics, reason, p.A, "_collision_marker", CollisionMarker{Other: p.B, Tick: tick})
		events = append(events, StepEvent{EntityA: p.A, EntityB: p.B, Tick: tick, MarkerCommandIndex: idx})
	}

	reason := command.SystemInternal("physics_step")
	for _, r := range adapter.ReadResults() {
		if !world.IsAlive(r.Entity) {
			continue
		}
		buf.PushSetComponent(command.Physics, reason, r.Entity, "position", r.Position)
		buf.PushSetComponent(command.Physics, reason, r.Entity, "velocity", r.Velocity)
	}
	return events
}
