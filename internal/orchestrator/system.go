// Package orchestrator runs the fixed-timestep tick loop: it owns the
// World, the command buffer, the manifest pipeline, and the optional
// physics adapter and script sandbox, and executes user-registered
// systems in a dependency-resolved order every tick.
package orchestrator

import (
	"fmt"
	"sort"

	"github.com/nomai-sim/nomai/internal/command"
	"github.com/nomai-sim/nomai/internal/ecs"
)

// SystemFn is a user-registered system: it reads the world and queues
// mutations onto buf, it never calls World mutators directly.
type SystemFn func(world *ecs.World, buf *command.Buffer, input InputFrame)

// InputFrame is a name -> structured-value bag of installed inputs for
// the current tick.
type InputFrame map[string]any

type registeredSystem struct {
	name string
	fn   SystemFn
	deps []string
	seq  int // registration order, used as the topo-sort tiebreak
}

// systemGraph holds registered systems and validates the dependency
// graph incrementally: every add runs a DFS cycle check before the
// system is accepted, mirroring a dependency-resolution manager that
// verifies on each registration rather than only at startup.
type systemGraph struct {
	byName map[string]*registeredSystem
	order  []*registeredSystem // registration order
}

func newSystemGraph() *systemGraph {
	return &systemGraph{byName: make(map[string]*registeredSystem)}
}

// Add registers fn under name with no dependencies.
func (g *systemGraph) Add(name string, fn SystemFn) error {
	return g.AddAfter(name, nil, fn)
}

// AddAfter registers fn under name, to run after every system in deps.
// name must be unused, every entry in deps must already be registered,
// and the resulting graph must remain acyclic.
func (g *systemGraph) AddAfter(name string, deps []string, fn SystemFn) error {
	if _, exists := g.byName[name]; exists {
		return fmt.Errorf("system %q already registered", name)
	}
	for _, d := range deps {
		if _, ok := g.byName[d]; !ok {
			return fmt.Errorf("system %q depends on unregistered system %q", name, d)
		}
	}

	sys := &registeredSystem{name: name, fn: fn, deps: append([]string(nil), deps...), seq: len(g.order)}
	g.byName[name] = sys
	g.order = append(g.order, sys)

	if cyclePath, ok := g.detectCycle(); ok {
		// Roll back the registration that introduced the cycle.
		delete(g.byName, name)
		g.order = g.order[:len(g.order)-1]
		return fmt.Errorf("adding system %q would introduce a dependency cycle: %v", name, cyclePath)
	}
	return nil
}

// detectCycle runs DFS with a recursion stack over every registered
// system's dependency edges.
func (g *systemGraph) detectCycle() ([]string, bool) {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(g.order))
	var path []string

	var visit func(name string) ([]string, bool)
	visit = func(name string) ([]string, bool) {
		color[name] = gray
		path = append(path, name)
		for _, dep := range g.byName[name].deps {
			switch color[dep] {
			case gray:
				return append(append([]string(nil), path...), dep), true
			case white:
				if cyc, found := visit(dep); found {
					return cyc, true
				}
			}
		}
		path = path[:len(path)-1]
		color[name] = black
		return nil, false
	}

	for _, sys := range g.order {
		if color[sys.name] == white {
			if cyc, found := visit(sys.name); found {
				return cyc, true
			}
		}
	}
	return nil, false
}

// TopoOrder returns systems in dependency order, using registration
// order as the tiebreak among systems with no relative ordering
// constraint — a Kahn's-algorithm-style repeated scan rather than a
// single DFS post-order, so ties resolve to registration order exactly.
func (g *systemGraph) TopoOrder() []*registeredSystem {
	done := make(map[string]bool, len(g.order))
	resolved := make([]*registeredSystem, 0, len(g.order))

	for len(resolved) < len(g.order) {
		progressed := false
		for _, sys := range g.order {
			if done[sys.name] {
				continue
			}
			ready := true
			for _, dep := range sys.deps {
				if !done[dep] {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			resolved = append(resolved, sys)
			done[sys.name] = true
			progressed = true
		}
		if !progressed {
			break // unreachable once AddAfter's cycle check has passed
		}
	}
	return resolved
}

// Names returns every registered system name, sorted.
func (g *systemGraph) Names() []string {
	names := make([]string, 0, len(g.order))
	for _, sys := range g.order {
		names = append(names, sys.name)
	}
	sort.Strings(names)
	return names
}
