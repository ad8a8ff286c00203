package sandbox

import (
	"errors"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/nomai-sim/nomai/internal/command"
	"github.com/nomai-sim/nomai/internal/ecs"
)

// errWallClockExceeded is the watchdog's Interrupt reason — it never
// calls into the host, so it never spends fuel, but it still shows up as
// a *goja.InterruptedError wrapping this value.
var errWallClockExceeded = errors.New("guest tick exceeded wall-clock budget")

// TickResult reports how a guest tick finished: outcome, drained
// commands (on success only), drained events, and logs emitted either way.
type TickResult struct {
	Outcome    Outcome
	Commands   []command.Command
	Events     []map[string]any
	Logs       []string
	TrapReason string
}

// RunTick applies the pending swap (if any), resets fuel to budget,
// installs the per-tick snapshot, and calls the guest's tick() export.
// On success, commands and events are drained and consecutive_traps
// resets to zero; on OutOfFuel or Trap, consecutive_traps increments and
// the engine proceeds without this tick's guest contribution.
func (s *Sandbox) RunTick(world *ecs.World, tick uint64, simTime float64) TickResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.applyPendingSwap()

	if s.vm == nil {
		return TickResult{Outcome: OutcomeSuccess}
	}

	s.fuelRemaining = s.cfg.FuelBudget
	s.world = world
	s.snapshotTick = tick
	s.snapshotTime = simTime
	s.events = nil
	s.logs = nil
	s.buf = command.NewBuffer()
	// A watchdog firing right as the previous tick's call returned can
	// race timer.Stop(); clear any stale interrupt flag before reusing
	// this runtime so it doesn't bleed into the tick about to run.
	s.vm.ClearInterrupt()

	fn, ok := goja.AssertFunction(s.vm.Get("tick"))
	if !ok {
		s.consecutiveTraps++
		return TickResult{Outcome: OutcomeTrap, TrapReason: "guest does not export tick()", Logs: s.logs}
	}

	// The fuel model meters host-call volume, so a guest loop that never
	// calls into the host never spends fuel. This timer is the backstop:
	// goja.Interrupt is safe to call from another goroutine and aborts
	// the runtime regardless of what the guest is doing.
	if s.cfg.WallClockTimeout > 0 {
		timer := time.AfterFunc(s.cfg.WallClockTimeout, func() {
			s.vm.Interrupt(errWallClockExceeded)
		})
		defer timer.Stop()
	}

	_, err := fn(goja.Undefined())
	if s.fuelRemaining < 0 {
		s.consecutiveTraps++
		return TickResult{Outcome: OutcomeOutOfFuel, Logs: s.logs}
	}
	if err != nil {
		s.consecutiveTraps++
		if _, ok := err.(*goja.InterruptedError); ok {
			s.vm.ClearInterrupt()
			return TickResult{Outcome: OutcomeTrap, TrapReason: errWallClockExceeded.Error(), Logs: s.logs}
		}
		reason := err.Error()
		if strings.Contains(reason, "goroutine stack exceeds") {
			reason = "guest exceeded memory limit"
		}
		return TickResult{Outcome: OutcomeTrap, TrapReason: reason, Logs: s.logs}
	}

	s.consecutiveTraps = 0
	cmds := s.buf.Drain()
	return TickResult{Outcome: OutcomeSuccess, Commands: cmds, Events: s.events, Logs: s.logs}
}
