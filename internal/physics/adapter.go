package physics

import (
	"math"
	"sort"

	"github.com/nomai-sim/nomai/internal/ecs"
)

// Adapter wraps the deterministic rigid-body simulation. It maintains its
// own entity<->body mapping as derived state: none of it is authoritative,
// all of it is reconstructible from the World via ReconstructFromWorld.
type Adapter struct {
	bodies map[ecs.EntityId]*rigidBody
	order  []ecs.EntityId // registration order — deterministic iteration

	pendingUnregister map[ecs.EntityId]bool

	// contacts is the set of pairs still touching as of the end of the
	// last Step call. Step diffs against it to report only newly-Started
	// contacts, not every tick a pair remains overlapped.
	contacts map[contactKey]bool

	gravityX, gravityY float64
	iterations         int
}

// contactKey identifies a pair independent of which entity was
// registered first, so the same two entities always hash the same way
// regardless of iteration order.
type contactKey struct{ A, B ecs.EntityId }

func keyForPair(p CollisionPair) contactKey {
	if p.A <= p.B {
		return contactKey{p.A, p.B}
	}
	return contactKey{p.B, p.A}
}

// NewAdapter returns an adapter configured with the given gravity vector
// and solver iteration count.
func NewAdapter(gravityX, gravityY float64, iterations int) *Adapter {
	return &Adapter{
		bodies:            make(map[ecs.EntityId]*rigidBody),
		pendingUnregister: make(map[ecs.EntityId]bool),
		contacts:          make(map[contactKey]bool),
		gravityX:          gravityX,
		gravityY:          gravityY,
		iterations:        iterations,
	}
}

// RegisterEntity adds id to the simulation, or updates its body in place
// if already registered — idempotent.
func (a *Adapter) RegisterEntity(id ecs.EntityId, pos Position, vel Velocity, body PhysicsBody) {
	if rb, ok := a.bodies[id]; ok {
		rb.pos, rb.vel, rb.body = pos, vel, body
		return
	}
	a.bodies[id] = &rigidBody{entity: id, pos: pos, vel: vel, body: body}
	a.order = append(a.order, id)
	delete(a.pendingUnregister, id)
}

// UnregisterEntity immediately removes id's body and any colliders
// attached to it.
func (a *Adapter) UnregisterEntity(id ecs.EntityId) {
	if _, ok := a.bodies[id]; !ok {
		return
	}
	delete(a.bodies, id)
	delete(a.pendingUnregister, id)
	for i, e := range a.order {
		if e == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	for k := range a.contacts {
		if k.A == id || k.B == id {
			delete(a.contacts, k)
		}
	}
}

// DeferredUnregister queues id for removal at the start of the next Step,
// so collision resolution already in flight for the current tick still
// observes it — avoids the responder-entity-gone-before-its-velocity-delta
// class of bug.
func (a *Adapter) DeferredUnregister(id ecs.EntityId) {
	a.pendingUnregister[id] = true
}

// SyncToRapier forces the physics body to match ECS state, used for
// kinematic bodies driven by game logic rather than the solver.
func (a *Adapter) SyncToRapier(id ecs.EntityId, pos Position, vel Velocity) {
	if rb, ok := a.bodies[id]; ok {
		rb.pos, rb.vel = pos, vel
	}
}

func (a *Adapter) drainPendingUnregisters() {
	if len(a.pendingUnregister) == 0 {
		return
	}
	for id := range a.pendingUnregister {
		a.UnregisterEntity(id)
	}
	a.pendingUnregister = make(map[ecs.EntityId]bool)
}

// Step advances the simulation by dt: drains deferred unregisters,
// integrates dynamic bodies under gravity, resolves collisions over
// a.iterations passes, and returns only the pairs that started touching
// this step — a pair still overlapping from a prior step is resolved
// again (so rest contact stays stable) but not re-reported. Iteration
// order follows registration order, keeping results deterministic across
// runs.
func (a *Adapter) Step(dt float64) []CollisionPair {
	a.drainPendingUnregisters()

	for _, id := range a.order {
		rb := a.bodies[id]
		if rb.body.BodyType != Dynamic {
			continue
		}
		rb.vel.DX += a.gravityX * dt
		rb.vel.DY += a.gravityY * dt
		rb.pos.X += rb.vel.DX * dt
		rb.pos.Y += rb.vel.DY * dt
	}

	var started []CollisionPair
	current := make(map[contactKey]bool)
	for iter := 0; iter < a.iterations; iter++ {
		touching := a.detectCollisions()
		if iter == 0 {
			for _, p := range touching {
				key := keyForPair(p)
				current[key] = true
				if !a.contacts[key] {
					started = append(started, p)
				}
			}
		}
		for _, p := range touching {
			a.resolveCollision(p)
		}
	}
	a.contacts = current
	return started
}

// detectCollisions runs a simple deterministic O(n^2) broad+narrow phase
// over registered non-sensor bodies, in registration order, so the same
// input state always yields the same pair list in the same order.
func (a *Adapter) detectCollisions() []CollisionPair {
	var pairs []CollisionPair
	for i := 0; i < len(a.order); i++ {
		for j := i + 1; j < len(a.order); j++ {
			idA, idB := a.order[i], a.order[j]
			rbA, rbB := a.bodies[idA], a.bodies[idB]
			if rbA.body.IsSensor && rbB.body.IsSensor {
				continue
			}
			if overlaps(rbA, rbB) {
				pairs = append(pairs, CollisionPair{A: idA, B: idB})
			}
		}
	}
	return pairs
}

func overlaps(a, b *rigidBody) bool {
	ar := colliderRadius(a.body.Collider)
	br := colliderRadius(b.body.Collider)
	dx := a.pos.X - b.pos.X
	dy := a.pos.Y - b.pos.Y
	dist2 := dx*dx + dy*dy
	r := ar + br
	return dist2 <= r*r
}

// colliderRadius approximates any collider shape as a bounding radius —
// sufficient for the deterministic broad-phase test above; box colliders
// use their diagonal half-extent.
func colliderRadius(c Collider) float64 {
	switch c.Kind {
	case ColliderCircle:
		return c.Radius
	default:
		return math.Hypot(c.HalfWidth, c.HalfHeight)
	}
}

// resolveCollision applies a 1D impulse along the contact normal, the
// standard two-body restitution solution: j = -(1+e)*relVel·n /
// (invMassA+invMassB), with dynamic bodies at unit mass and static/
// kinematic bodies at infinite mass (invMass 0, so they never move and
// absorb none of the impulse). For a dynamic body hitting an immovable
// one with restitution 1, this reflects the normal velocity component
// exactly — the wall-bounce sign flip §8 S1 requires.
func (a *Adapter) resolveCollision(p CollisionPair) {
	rbA, rbB := a.bodies[p.A], a.bodies[p.B]
	if rbA.body.IsSensor || rbB.body.IsSensor {
		return
	}
	invMassA, invMassB := inverseMass(rbA.body.BodyType), inverseMass(rbB.body.BodyType)
	if invMassA == 0 && invMassB == 0 {
		return
	}
	restitution := math.Min(rbA.body.Restitution, rbB.body.Restitution)

	dx := rbB.pos.X - rbA.pos.X
	dy := rbB.pos.Y - rbA.pos.Y
	dist := math.Hypot(dx, dy)
	if dist == 0 {
		dx, dy, dist = 1, 0, 1
	}
	nx, ny := dx/dist, dy/dist

	relVelX := rbB.vel.DX - rbA.vel.DX
	relVelY := rbB.vel.DY - rbA.vel.DY
	relVelAlongNormal := relVelX*nx + relVelY*ny
	if relVelAlongNormal > 0 {
		// Already separating along the normal; don't pull them back together.
		return
	}

	j := -(1 + restitution) * relVelAlongNormal / (invMassA + invMassB)

	rbA.vel.DX -= j * invMassA * nx
	rbA.vel.DY -= j * invMassA * ny
	rbB.vel.DX += j * invMassB * nx
	rbB.vel.DY += j * invMassB * ny
}

// inverseMass treats every dynamic body as unit mass and every
// static/kinematic body as immovable (infinite mass, invMass 0).
func inverseMass(t BodyType) float64 {
	if t == Dynamic {
		return 1
	}
	return 0
}

// ReadResult is one dynamic body's post-step state.
type ReadResult struct {
	Entity   ecs.EntityId
	Position Position
	Velocity Velocity
}

// ReadResults returns post-step state for every dynamic body — kinematic
// and static bodies are ECS-driven, one-way, and never reported here.
func (a *Adapter) ReadResults() []ReadResult {
	var out []ReadResult
	for _, id := range a.order {
		rb := a.bodies[id]
		if rb.body.BodyType != Dynamic {
			continue
		}
		out = append(out, ReadResult{Entity: id, Position: rb.pos, Velocity: rb.vel})
	}
	return out
}

// ReconstructFromWorld clears all adapter state and re-registers every
// (Position, PhysicsBody) entity found in world — required after
// snapshot restore, since adapter state is derived, not authoritative.
func (a *Adapter) ReconstructFromWorld(world *ecs.World) error {
	a.bodies = make(map[ecs.EntityId]*rigidBody)
	a.order = nil
	a.pendingUnregister = make(map[ecs.EntityId]bool)

	ids, err := world.QueryNames("position", "velocity", "physics_body")
	if err != nil {
		return err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		posRaw, err := world.GetComponent(id, "position")
		if err != nil {
			return err
		}
		velRaw, err := world.GetComponent(id, "velocity")
		if err != nil {
			return err
		}
		bodyRaw, err := world.GetComponent(id, "physics_body")
		if err != nil {
			return err
		}
		a.RegisterEntity(id, posRaw.(Position), velRaw.(Velocity), bodyRaw.(PhysicsBody))
	}
	return nil
}
