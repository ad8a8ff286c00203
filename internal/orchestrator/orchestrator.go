package orchestrator

import (
	"time"

	"github.com/nomai-sim/nomai/internal/command"
	"github.com/nomai-sim/nomai/internal/ecs"
	"github.com/nomai-sim/nomai/internal/manifest"
	"github.com/nomai-sim/nomai/internal/physics"
	"github.com/nomai-sim/nomai/internal/sandbox"
)

// TickConfig configures the fixed-timestep loop.
type TickConfig struct {
	FixedDT  float64
	Headless bool
}

// SystemTiming is one entry in TickDiagnostics.SystemTimes.
type SystemTiming struct {
	Name     string
	Duration time.Duration
}

// TickDiagnostics reports per-system and aggregate timing for the most
// recently executed tick.
type TickDiagnostics struct {
	SystemTimes      []SystemTiming
	TotalTime        time.Duration
	CommandApplyTime time.Duration
}

// Orchestrator holds the World, its command buffer, the registered
// system graph, the manifest pipeline, and the optional physics adapter
// and script sandbox, and drives the fixed-timestep tick loop.
type Orchestrator struct {
	world   *ecs.World
	buf     *command.Buffer
	systems *systemGraph
	pipeline *manifest.Pipeline

	cfg TickConfig

	tickCounter uint64
	simTime     float64

	currentInput InputFrame
	lastDiag     TickDiagnostics

	physicsAdapter *physics.Adapter
	sandbox        *sandbox.Sandbox

	lastManifest manifest.TickManifest

	external *command.Buffer
}

// New constructs an orchestrator over world with the given tick config
// and history window. Physics and script sandbox are optional and
// attached separately via AttachPhysics / AttachSandbox.
func New(world *ecs.World, cfg TickConfig, historyWindow int) *Orchestrator {
	return &Orchestrator{
		world:    world,
		buf:      command.NewBuffer(),
		systems:  newSystemGraph(),
		pipeline: manifest.NewPipeline(historyWindow),
		cfg:      cfg,
		external: command.NewBuffer(),
	}
}

// External returns the buffer callers outside the tick loop (an HTTP
// command-surface handler, an admin console) push commands onto. Its
// contents are drained into the tick's own buffer at the start of the
// next Tick, tagged with whatever reason the caller supplied.
func (o *Orchestrator) External() *command.Buffer { return o.external }

// AttachPhysics wires a physics adapter into the tick loop.
func (o *Orchestrator) AttachPhysics(adapter *physics.Adapter) { o.physicsAdapter = adapter }

// AttachSandbox wires a script sandbox into the tick loop.
func (o *Orchestrator) AttachSandbox(sb *sandbox.Sandbox) { o.sandbox = sb }

// World returns the underlying World.
func (o *Orchestrator) World() *ecs.World { return o.world }

// Manifest returns the manifest pipeline.
func (o *Orchestrator) Manifest() *manifest.Pipeline { return o.pipeline }

// TickCounter returns the number of ticks executed so far.
func (o *Orchestrator) TickCounter() uint64 { return o.tickCounter }

// SimTime returns accumulated simulation time.
func (o *Orchestrator) SimTime() float64 { return o.simTime }

// LastDiagnostics returns timing for the most recently executed tick.
func (o *Orchestrator) LastDiagnostics() TickDiagnostics { return o.lastDiag }

// AddSystem registers a system with no dependencies.
func (o *Orchestrator) AddSystem(name string, fn SystemFn) error {
	return o.systems.Add(name, fn)
}

// AddSystemAfter registers a system to run after deps.
func (o *Orchestrator) AddSystemAfter(name string, deps []string, fn SystemFn) error {
	return o.systems.AddAfter(name, deps, fn)
}

// SetInput installs the input frame that user systems will read on the
// next Tick call.
func (o *Orchestrator) SetInput(input InputFrame) { o.currentInput = input }

// Tick executes exactly one fixed-timestep tick: manifest begin, user
// systems in topological order, the physics step (if attached), the
// script sandbox (if attached), command application, manifest
// processing, and the tick/sim-time advance.
func (o *Orchestrator) Tick() manifest.TickManifest {
	tickStart := time.Now()
	o.pipeline.BeginTick()

	for _, cmd := range o.external.Drain() {
		o.buf.PushRaw(cmd)
	}

	var diag TickDiagnostics
	for _, sys := range o.systems.TopoOrder() {
		t0 := time.Now()
		sys.fn(o.world, o.buf, o.currentInput)
		diag.SystemTimes = append(diag.SystemTimes, SystemTiming{Name: sys.name, Duration: time.Since(t0)})
	}

	if o.physicsAdapter != nil {
		// The adapter's body set is derived, never authoritative — rebuild it
		// from whatever (position, velocity, physics_body) entities currently
		// exist before stepping, so spawns/despawns since the last tick (and
		// any guest- or command-surface-issued position/velocity writes) are
		// actually observed by the solver.
		if err := o.physicsAdapter.ReconstructFromWorld(o.world); err != nil {
			o.pipeline.RecordEvent(manifest.GameEvent{
				EventType:      "physics_reconstruct_failed",
				Description:    err.Error(),
				CausedBySystem: command.Physics,
				Reason:         command.SystemInternal("physics_step"),
				Tick:           o.tickCounter,
			})
		}
		for _, ev := range physics.RunPhysicsStep(o.physicsAdapter, o.buf, o.world, o.cfg.FixedDT, o.tickCounter) {
			o.pipeline.RecordEvent(manifest.GameEvent{
				EventType:        "collision",
				Description:      "physics_step",
				InvolvedEntities: []ecs.EntityId{ev.EntityA, ev.EntityB},
				CausedBySystem:   command.Physics,
				Reason:           command.CollisionResponse(ev.EntityA, ev.EntityB),
				Tick:             ev.Tick,
				CommandIndex:     ev.MarkerCommandIndex,
			})
		}
	}

	if o.sandbox != nil {
		result := o.sandbox.RunTick(o.world, o.tickCounter, o.simTime)
		switch result.Outcome {
		case sandbox.OutcomeSuccess:
			for _, cmd := range result.Commands {
				o.buf.PushRaw(cmd)
			}
			for _, ev := range result.Events {
				o.pipeline.RecordEvent(manifest.GameEvent{
					EventType:      "guest_event",
					Description:    stringField(ev, "description"),
					CausedBySystem: command.WasmGameplay,
					Reason:         command.GameRule("guest_emit_event"),
					Tick:           o.tickCounter,
				})
			}
		default:
			// OutOfFuel / Trap: the guest is skipped for this tick, engine proceeds.
		}
	}

	applyStart := time.Now()
	applied, _ := o.buf.Apply(o.world)
	diag.CommandApplyTime = time.Since(applyStart)

	o.pipeline.ProcessCommands(applied, o.tickCounter, o.world)
	m := o.pipeline.EndTick(o.tickCounter, o.simTime, o.systems.Names(), o.world)

	diag.TotalTime = time.Since(tickStart)
	o.lastDiag = diag
	o.lastManifest = m

	o.tickCounter++
	o.simTime += o.cfg.FixedDT
	return m
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
