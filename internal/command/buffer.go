package command

import "github.com/nomai-sim/nomai/internal/ecs"

// ApplyReport summarizes one Apply call: how many commands touched the
// same (entity, component) key more than once, and the success/failure
// split. Conflicts are never errors — last write wins, deterministically,
// because command order is preserved.
type ApplyReport struct {
	ConflictCount int
	SuccessCount  int
	FailedCount   int
}

// Buffer accumulates commands during a tick and applies them against a
// World in push order. It is the only legal mutation path — systems push
// commands instead of calling World mutators directly.
type Buffer struct {
	commands []Command
}

// NewBuffer returns an empty command buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Push appends a command, assigning it the next sequential index in this
// buffer.
func (b *Buffer) Push(issuedBy SystemId, reason CausalReason, kind Kind) *Command {
	cmd := Command{
		CommandIndex: len(b.commands),
		IssuedBy:     issuedBy,
		Reason:       reason,
		Kind:         kind,
	}
	b.commands = append(b.commands, cmd)
	return &b.commands[len(b.commands)-1]
}

// PushSetComponent queues a SetComponent command against target and
// returns its CommandIndex, so callers that need to reference the command
// later (e.g. a causal-chain anchor) don't have to re-derive it.
func (b *Buffer) PushSetComponent(issuedBy SystemId, reason CausalReason, target ecs.EntityId, name string, value any) int {
	cmd := b.Push(issuedBy, reason, KindSetComponent)
	cmd.Target = Target(target)
	cmd.ComponentName = name
	cmd.ComponentValue = value
	return cmd.CommandIndex
}

// PushRemoveComponent queues a RemoveComponent command against target.
func (b *Buffer) PushRemoveComponent(issuedBy SystemId, reason CausalReason, target ecs.EntityId, name string) {
	cmd := b.Push(issuedBy, reason, KindRemoveComponent)
	cmd.Target = Target(target)
	cmd.ComponentName = name
}

// PushDespawn queues a Despawn command against target.
func (b *Buffer) PushDespawn(issuedBy SystemId, reason CausalReason, target ecs.EntityId) {
	cmd := b.Push(issuedBy, reason, KindDespawn)
	cmd.Target = Target(target)
}

// PushSpawnSemantic queues a SpawnSemantic command.
func (b *Buffer) PushSpawnSemantic(issuedBy SystemId, reason CausalReason, identity ecs.SemanticIdentity, components ecs.Bundle) {
	cmd := b.Push(issuedBy, reason, KindSpawnSemantic)
	cmd.Identity = identity
	cmd.Components = components
}

// PushSpawnPooled queues a SpawnPooled command.
func (b *Buffer) PushSpawnPooled(issuedBy SystemId, reason CausalReason, identity ecs.PoolIdentity, components ecs.Bundle) {
	cmd := b.Push(issuedBy, reason, KindSpawnPooled)
	cmd.Identity = identity
	cmd.Components = components
}

// PushRaw imports a command issued elsewhere (e.g. the script sandbox's
// own buffer), renumbering its CommandIndex into this buffer's sequence.
// Every field except CommandIndex is preserved verbatim.
func (b *Buffer) PushRaw(cmd Command) {
	cmd.CommandIndex = len(b.commands)
	b.commands = append(b.commands, cmd)
}

// Len reports the number of commands currently queued.
func (b *Buffer) Len() int { return len(b.commands) }

// Drain returns every queued command, unapplied, and clears the buffer —
// used by the sandbox to hand its own buffer's contents to the
// orchestrator's tick buffer via PushRaw rather than applying them
// against a world of its own.
func (b *Buffer) Drain() []Command {
	out := b.commands
	b.commands = nil
	return out
}

type conflictKey struct {
	entity ecs.EntityId
	name   string
}

// scanConflicts builds entity/component -> command indices for
// SetComponent, RemoveComponent and Despawn commands, the conflict-scan
// step of Apply. Despawn's key uses an empty component name, since it
// conflicts with any mutation targeting the same entity's lifetime.
func (b *Buffer) scanConflicts() map[conflictKey][]int {
	seen := make(map[conflictKey][]int)
	for i, cmd := range b.commands {
		if !cmd.Target.Valid {
			continue
		}
		var key conflictKey
		switch cmd.Kind {
		case KindSetComponent, KindRemoveComponent:
			key = conflictKey{entity: cmd.Target.Id, name: cmd.ComponentName}
		case KindDespawn:
			key = conflictKey{entity: cmd.Target.Id}
		default:
			continue
		}
		seen[key] = append(seen[key], i)
	}
	return seen
}

// Apply runs the conflict scan then the sequential apply against world,
// in push order, and returns the fully-annotated command vector (failed
// commands included, flags set) plus the ApplyReport. The buffer is
// cleared and its index counter reset on return, regardless of outcome.
func (b *Buffer) Apply(world *ecs.World) ([]Command, ApplyReport) {
	var report ApplyReport

	conflicts := b.scanConflicts()
	for _, indices := range conflicts {
		if len(indices) > 1 {
			report.ConflictCount++
		}
	}

	for i := range b.commands {
		cmd := &b.commands[i]
		if err := applyOne(world, cmd); err != nil {
			cmd.AppliedSuccessfully = false
			cmd.FailureReason = err.Error()
			report.FailedCount++
			continue
		}
		cmd.AppliedSuccessfully = true
		report.SuccessCount++
	}

	out := append([]Command(nil), b.commands...)
	b.commands = nil
	return out, report
}

func applyOne(world *ecs.World, cmd *Command) error {
	switch cmd.Kind {
	case KindSetComponent:
		if world.IsAlive(cmd.Target.Id) {
			cmd.OldValue, _ = world.GetComponent(cmd.Target.Id, cmd.ComponentName)
		}
		return world.SetComponentByName(cmd.Target.Id, cmd.ComponentName, structuredValue(world, cmd.ComponentName, cmd.ComponentValue))

	case KindRemoveComponent:
		if world.IsAlive(cmd.Target.Id) {
			cmd.OldValue, _ = world.GetComponent(cmd.Target.Id, cmd.ComponentName)
		}
		return world.RemoveComponent(cmd.Target.Id, cmd.ComponentName)

	case KindDespawn:
		return world.Despawn(cmd.Target.Id)

	case KindSpawnSemantic:
		identity, _ := cmd.Identity.(ecs.SemanticIdentity)
		id, err := world.SpawnSemantic(identity, cmd.Components)
		if err != nil {
			return err
		}
		cmd.SpawnedEntity = Target(id)
		return nil

	case KindSpawnPooled:
		identity, _ := cmd.Identity.(ecs.PoolIdentity)
		id, err := world.SpawnPooled(identity, cmd.Components)
		if err != nil {
			return err
		}
		cmd.SpawnedEntity = Target(id)
		return nil
	}
	return nil
}

// structuredValue adapts a SetComponent's value to the structured-value
// shape World.SetComponentByName expects when the caller already holds a
// concrete Go value rather than a decoded map (the common in-process
// case — only guest/SDK boundary callers pass already-structured maps).
func structuredValue(world *ecs.World, name string, v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	ct, ok := world.Registry().ByName(name)
	if !ok {
		return nil
	}
	structured, err := ct.Serialize(v)
	if err != nil {
		return nil
	}
	return structured
}
