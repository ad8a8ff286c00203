// Package sandbox runs a single gameplay script per tick inside an
// isolated goja runtime, with a deny-by-default host surface: only the
// documented host namespace and an allow-listed guest-runtime namespace
// may be imported, reads come from a frozen per-tick world snapshot, and
// every write is deferred into the guest's own command buffer.
package sandbox

import (
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/nomai-sim/nomai/internal/command"
	"github.com/nomai-sim/nomai/internal/ecs"
)

// Outcome classifies how a guest tick finished.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeOutOfFuel
	OutcomeTrap
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeOutOfFuel:
		return "out_of_fuel"
	case OutcomeTrap:
		return "trap"
	default:
		return "unknown"
	}
}

// InvalidImportError is returned at load time when a script references a
// global outside the host and guest-runtime namespaces.
type InvalidImportError struct {
	Name string
}

func (e *InvalidImportError) Error() string {
	return fmt.Sprintf("invalid import %q: not in host or guest-runtime namespace", e.Name)
}

// Config configures fuel, memory, and wall-clock limits for a sandbox
// instance.
type Config struct {
	FuelBudget       int64
	MemoryLimitBytes int64

	// WallClockTimeout bounds how long a single tick() call may run
	// regardless of host-call volume — the backstop for a guest loop
	// that never calls into the host and so never spends fuel. Zero
	// disables the watchdog.
	WallClockTimeout time.Duration
}

// DefaultConfig matches the engine's documented defaults: ~1M fuel units
// per tick, 16 MiB memory cap, 50ms wall-clock watchdog.
func DefaultConfig() Config {
	return Config{FuelBudget: 1_000_000, MemoryLimitBytes: 16 << 20, WallClockTimeout: 50 * time.Millisecond}
}

// hostCallCost is the fuel a single host-API call consumes. goja does not
// expose bytecode-level step counting through its public API, so fuel is
// approximated by metering host-call volume rather than guest
// instructions — a script that never calls into the host never runs out
// of fuel under this model. WallClockTimeout is the backstop for exactly
// that case: a pure compute loop with no host calls trips the watchdog
// instead of running forever.
const hostCallCost = 50

// Sandbox runs one guest script: a goja runtime plus its own deferred
// command buffer and the bookkeeping the engine needs to decide whether
// to keep running it.
type Sandbox struct {
	mu sync.Mutex

	cfg Config

	vm      *goja.Runtime
	scriptSrc string

	fuelRemaining int64
	consecutiveTraps int

	buf *command.Buffer

	world       *ecs.World
	snapshotTick uint64
	snapshotTime float64

	events []map[string]any
	logs   []string

	pendingSwap *goja.Runtime
	pendingSwapSrc string
}

// allowedGuestGlobals are identifiers a script may reference that are not
// part of the documented host API — the guest-runtime namespace (basic
// language facilities goja itself provides). Anything else at the top
// level of a script is rejected at load.
var allowedGuestGlobals = map[string]bool{
	"Math": true, "JSON": true, "console": true, "Object": true, "Array": true,
	"String": true, "Number": true, "Boolean": true, "Date": true,
	"undefined": true, "NaN": true, "Infinity": true, "parseInt": true, "parseFloat": true,
	"isNaN": true, "isFinite": true,
}

var hostAPINames = []string{
	"host_get_entity_count", "host_sim_time", "host_tick_number", "host_get_component",
	"host_set_component", "host_spawn_semantic", "host_spawn_pooled", "host_despawn",
	"host_emit_event", "host_log",
}

// New constructs a Sandbox with no active script loaded.
func New(cfg Config) *Sandbox {
	return &Sandbox{cfg: cfg, fuelRemaining: cfg.FuelBudget, buf: command.NewBuffer()}
}

// ConsecutiveTraps returns how many ticks in a row ended in OutOfFuel or
// Trap — the orchestrator uses this to decide whether to keep scheduling
// the guest.
func (s *Sandbox) ConsecutiveTraps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveTraps
}

// Load validates a script's imports and instantiates it, replacing any
// currently active instance immediately. Swap uses this internally but
// defers the replacement to the next tick boundary.
func (s *Sandbox) Load(script string) error {
	if err := validateImports(script); err != nil {
		return err
	}
	vm := goja.New()
	bindHostAPI(vm, s)
	if _, err := vm.RunString(script); err != nil {
		return fmt.Errorf("compile script: %w", err)
	}
	s.mu.Lock()
	s.vm = vm
	s.scriptSrc = script
	s.mu.Unlock()
	return nil
}

// Swap validates and instantiates newSrc now, but only makes it the
// active instance at the next tick boundary (no guest-memory migration —
// durable state must already live in ECS components).
func (s *Sandbox) Swap(newSrc string) error {
	if err := validateImports(newSrc); err != nil {
		return err
	}
	vm := goja.New()
	bindHostAPI(vm, s)
	if _, err := vm.RunString(newSrc); err != nil {
		return fmt.Errorf("compile script: %w", err)
	}
	s.mu.Lock()
	s.pendingSwap = vm
	s.pendingSwapSrc = newSrc
	s.mu.Unlock()
	return nil
}

func (s *Sandbox) applyPendingSwap() {
	if s.pendingSwap == nil {
		return
	}
	s.vm = s.pendingSwap
	s.scriptSrc = s.pendingSwapSrc
	s.pendingSwap, s.pendingSwapSrc = nil, ""
}
