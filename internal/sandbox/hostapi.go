package sandbox

import (
	"regexp"
	"strings"

	"github.com/dop251/goja"

	"github.com/nomai-sim/nomai/internal/command"
	"github.com/nomai-sim/nomai/internal/ecs"
)

// identifierPattern pulls out bare identifiers a script references at
// statement level — a pragmatic stand-in for a true import/linkage
// analysis, since goja scripts have no module import statements to
// inspect; everything is a global lookup.
var identifierPattern = regexp.MustCompile(`\b[A-Za-z_][A-Za-z0-9_]*\b`)

var jsKeywords = map[string]bool{
	"var": true, "let": true, "const": true, "function": true, "return": true,
	"if": true, "else": true, "for": true, "while": true, "do": true, "break": true,
	"continue": true, "switch": true, "case": true, "default": true, "true": true,
	"false": true, "null": true, "this": true, "new": true, "typeof": true,
	"instanceof": true, "in": true, "of": true, "try": true, "catch": true,
	"finally": true, "throw": true, "delete": true, "void": true,
}

// validateImports rejects scripts that reference any global outside the
// documented host API and the allow-listed guest-runtime namespace.
func validateImports(script string) error {
	hostSet := make(map[string]bool, len(hostAPINames))
	for _, n := range hostAPINames {
		hostSet[n] = true
	}
	for _, ident := range identifierPattern.FindAllString(script, -1) {
		if jsKeywords[ident] || allowedGuestGlobals[ident] || hostSet[ident] {
			continue
		}
		if ident == "tick" || ident == "alloc" {
			continue
		}
		if isLikelyLocalBinding(script, ident) {
			continue
		}
		return &InvalidImportError{Name: ident}
	}
	return nil
}

// isLikelyLocalBinding is a conservative heuristic: identifiers declared
// with var/let/const/function anywhere in the script are treated as
// script-local rather than a disallowed import, since a full scope
// analysis is out of scope for the load-time check.
func isLikelyLocalBinding(script, ident string) bool {
	for _, kw := range []string{"var ", "let ", "const ", "function "} {
		if strings.Contains(script, kw+ident) {
			return true
		}
	}
	return false
}

// bindHostAPI installs the documented host namespace onto vm. Reads go
// straight to the frozen per-tick snapshot state on s; writes append a
// command to s.buf tagged issued_by=WasmGameplay.
func bindHostAPI(vm *goja.Runtime, s *Sandbox) {
	charge := func() bool {
		s.fuelRemaining -= hostCallCost
		return s.fuelRemaining >= 0
	}

	vm.Set("host_get_entity_count", func() int {
		charge()
		if s.world == nil {
			return 0
		}
		return s.world.EntityCount()
	})

	vm.Set("host_sim_time", func() float64 {
		charge()
		return s.snapshotTime
	})

	vm.Set("host_tick_number", func() int64 {
		charge()
		return int64(s.snapshotTick)
	})

	vm.Set("host_get_component", func(entity int64, name string) any {
		charge()
		if s.world == nil {
			return goja.Undefined()
		}
		v, err := s.world.GetComponent(ecs.EntityId(entity), name)
		if err != nil || v == nil {
			return goja.Undefined()
		}
		ct, ok := s.world.Registry().ByName(name)
		if !ok {
			return goja.Undefined()
		}
		structured, err := ct.Serialize(v)
		if err != nil {
			return goja.Undefined()
		}
		return structured
	})

	vm.Set("host_set_component", func(entity int64, name string, value map[string]any, reason string) {
		charge()
		s.buf.PushSetComponent(command.WasmGameplay, command.GameRule(reason), ecs.EntityId(entity), name, value)
	})

	vm.Set("host_spawn_semantic", func(entityType, role, reason string) {
		charge()
		s.buf.PushSpawnSemantic(command.WasmGameplay, command.GameRule(reason), ecs.SemanticIdentity{
			EntityType: entityType, Role: role,
		}, ecs.Bundle{})
	})

	vm.Set("host_spawn_pooled", func(poolType, reason string) {
		charge()
		s.buf.PushSpawnPooled(command.WasmGameplay, command.GameRule(reason), ecs.PoolIdentity{
			PoolType: poolType,
		}, ecs.Bundle{})
	})

	vm.Set("host_despawn", func(entity int64, reason string) {
		charge()
		s.buf.PushDespawn(command.WasmGameplay, command.GameRule(reason), ecs.EntityId(entity))
	})

	vm.Set("host_emit_event", func(event map[string]any) {
		charge()
		s.events = append(s.events, event)
	})

	vm.Set("host_log", func(level, msg string) {
		charge()
		s.logs = append(s.logs, level+": "+msg)
	})
}
