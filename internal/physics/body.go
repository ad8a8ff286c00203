// Package physics adapts the engine's deterministic 2D rigid-body
// simulation to the ECS: it owns rapier-equivalent body storage keyed by
// EntityId, translates collisions into command-buffer writes, and can
// rebuild its own state from the World after a snapshot restore.
package physics

import "github.com/nomai-sim/nomai/internal/ecs"

// BodyType mirrors the three rigid-body kinds a PhysicsBody component can
// declare.
type BodyType int

const (
	Dynamic BodyType = iota
	Kinematic
	Static
)

// ColliderKind discriminates a Collider's shape.
type ColliderKind int

const (
	ColliderBox ColliderKind = iota
	ColliderCircle
)

// Collider is a tagged union: Box uses HalfWidth/HalfHeight, Circle uses
// Radius.
type Collider struct {
	Kind       ColliderKind
	HalfWidth  float64
	HalfHeight float64
	Radius     float64
}

func Box(hw, hh float64) Collider   { return Collider{Kind: ColliderBox, HalfWidth: hw, HalfHeight: hh} }
func Circle(r float64) Collider     { return Collider{Kind: ColliderCircle, Radius: r} }

// PhysicsBody is the component declaring an entity's participation in the
// physics simulation. Position and Velocity are ordinary ECS components;
// this only carries what the rigid-body solver needs beyond them.
type PhysicsBody struct {
	BodyType    BodyType
	Collider    Collider
	Restitution float64
	IsSensor    bool
}

// Position is the ECS-visible component the adapter reads from and
// writes back to.
type Position struct {
	X, Y float64
}

// Velocity is the ECS-visible component the adapter reads from and
// writes back to.
type Velocity struct {
	DX, DY float64
}

// rigidBody is the adapter's own derived state for one registered
// entity — reconstructible from (Position, Velocity, PhysicsBody) at any
// time, never the source of truth.
type rigidBody struct {
	entity   ecs.EntityId
	pos      Position
	vel      Velocity
	body     PhysicsBody
	colliderID int
}

// CollisionPair is one contact the solver reports for a step, already
// mapped back from colliders to entities.
type CollisionPair struct {
	A, B ecs.EntityId
}

// CollisionMarker is the component RunPhysicsStep writes to entity A of
// every started collision pair, giving BuildCausalChain's
// CollisionResponse branch a concrete command to anchor its step to —
// without it, the chain would only have the GameEvent's tick to point at,
// not a specific command_index.
type CollisionMarker struct {
	Other ecs.EntityId
	Tick  uint64
}
