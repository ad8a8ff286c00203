package ecs

import (
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// ArchetypeID identifies an archetype — the unique set of component type
// ids present on an entity (§3).
type ArchetypeID uint64

// Location points to where an entity's row lives.
type Location struct {
	Archetype ArchetypeID
	Row       int
}

// Archetype owns one column per component type plus the entity handles
// for each row. Columns are homogeneous reflect.Slice values, so
// component data for a type is contiguous the way a real columnar store
// would keep it, without resorting to unsafe pointer arithmetic (§4.3).
type Archetype struct {
	id       ArchetypeID
	types    []TypeID // sorted ascending; the archetype's signature
	columns  map[TypeID]reflect.Value
	entities []EntityId
}

func typesetKey(types []TypeID) string {
	sorted := append([]TypeID(nil), types...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	parts := make([]string, len(sorted))
	for i, t := range sorted {
		parts[i] = strconv.FormatUint(uint64(t), 10)
	}
	return strings.Join(parts, ",")
}

func newArchetype(id ArchetypeID, types []TypeID, registry *Registry) *Archetype {
	sorted := append([]TypeID(nil), types...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	columns := make(map[TypeID]reflect.Value, len(sorted))
	for _, t := range sorted {
		ct, ok := registry.ByID(t)
		if !ok {
			continue
		}
		columns[t] = reflect.MakeSlice(reflect.SliceOf(ct.GoType), 0, 0)
	}
	return &Archetype{id: id, types: sorted, columns: columns}
}

// has reports whether the archetype carries component type t.
func (a *Archetype) has(t TypeID) bool {
	for _, ct := range a.types {
		if ct == t {
			return true
		}
	}
	return false
}

// supersetOf reports whether a's type set is a superset of required —
// the query-resolution predicate from §4.3.
func (a *Archetype) supersetOf(required []TypeID) bool {
	for _, t := range required {
		if !a.has(t) {
			return false
		}
	}
	return true
}

func (a *Archetype) len() int { return len(a.entities) }

// valueAt returns the boxed value in column t at row.
func (a *Archetype) valueAt(t TypeID, row int) any {
	return a.columns[t].Index(row).Interface()
}

// rowValues gathers every column's value at row into a map, used when an
// entity transitions to a different archetype and its surviving
// components must be carried over byte-for-byte (§4.3 failure mode).
func (a *Archetype) rowValues(row int) map[TypeID]any {
	out := make(map[TypeID]any, len(a.types))
	for _, t := range a.types {
		out[t] = a.valueAt(t, row)
	}
	return out
}

// appendRow appends a new row with the given entity and per-type values,
// returning the row index.
func (a *Archetype) appendRow(entity EntityId, values map[TypeID]any) int {
	for _, t := range a.types {
		col := a.columns[t]
		v := values[t]
		var rv reflect.Value
		if v == nil {
			rv = reflect.Zero(col.Type().Elem())
		} else {
			rv = reflect.ValueOf(v)
		}
		a.columns[t] = reflect.Append(col, rv)
	}
	a.entities = append(a.entities, entity)
	return len(a.entities) - 1
}

// removeRow removes row, preserving the relative order of all other rows
// (insertion-stable iteration order is an ordering guarantee — §5 iv —
// so this is a shift, not a swap-remove). Returns the entities whose row
// index shifted down by one, in order, so the caller can fix up
// World.locations.
func (a *Archetype) removeRow(row int) []EntityId {
	shifted := append([]EntityId(nil), a.entities[row+1:]...)

	for t, col := range a.columns {
		n := col.Len()
		kept := reflect.MakeSlice(col.Type(), 0, n-1)
		kept = reflect.AppendSlice(kept, col.Slice(0, row))
		kept = reflect.AppendSlice(kept, col.Slice(row+1, n))
		a.columns[t] = kept
	}
	a.entities = append(a.entities[:row], a.entities[row+1:]...)
	return shifted
}

// setValue overwrites column t at row with v, used by InsertComponent
// when the entity already carries the type (no archetype transition
// needed).
func (a *Archetype) setValue(t TypeID, row int, v any) {
	a.columns[t].Index(row).Set(reflect.ValueOf(v))
}
