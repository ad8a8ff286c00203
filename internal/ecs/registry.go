package ecs

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// TypeID is a dense, first-come component type identifier assigned by the
// Registry. Ids start at 0 and have no gaps.
type TypeID uint32

// ComponentType describes one registered component: its name, its Go
// type, and the structured-value conversion functions the manifest,
// sandbox, and snapshot code use to cross the host/guest and
// host/SDK boundaries (§4.2, §6).
type ComponentType struct {
	ID          TypeID
	Name        string
	GoType      reflect.Type
	Size        uintptr
	Align       uintptr
	Serialize   func(v any) (map[string]any, error)
	Deserialize func(data map[string]any) (any, error)
	Clone       func(v any) any
}

// UnknownComponentError is returned when an operation references a
// component name the Registry has never seen, enriched with the sorted
// list of names that are registered (§4.4).
type UnknownComponentError struct {
	Name       string
	Registered []string
}

func (e *UnknownComponentError) Error() string {
	return fmt.Sprintf("unknown component %q (registered: %v)", e.Name, e.Registered)
}

// ComponentDeserializationError is returned when a structured value
// cannot be decoded into a registered component's Go type.
type ComponentDeserializationError struct {
	Component string
	Details   string
}

func (e *ComponentDeserializationError) Error() string {
	return fmt.Sprintf("deserialize component %q: %s", e.Component, e.Details)
}

// Registry holds the engine's registered component types: name <-> type id,
// size/align, and per-type serialize/deserialize/clone closures (§4.2).
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*ComponentType
	byID   []*ComponentType
	byType map[reflect.Type]*ComponentType
}

// NewRegistry returns an empty component registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*ComponentType),
		byType: make(map[reflect.Type]*ComponentType),
	}
}

// RegisterComponent registers T under name with a dense, first-come type
// id. Default serialize/deserialize/clone go through a JSON round-trip,
// which is exactly what "structured value" means at the host/guest and
// host/SDK boundaries (§6).
func RegisterComponent[T any](r *Registry, name string) (*ComponentType, error) {
	var zero T
	goType := reflect.TypeOf(zero)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return nil, fmt.Errorf("component %q already registered", name)
	}

	ct := &ComponentType{
		ID:     TypeID(len(r.byID)),
		Name:   name,
		GoType: goType,
		Serialize: func(v any) (map[string]any, error) {
			b, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			var m map[string]any
			if err := json.Unmarshal(b, &m); err != nil {
				// Non-object component values (e.g. scalars) serialize to a
				// single "value" key so they still fit the structured-value shape.
				var scalar any
				if err2 := json.Unmarshal(b, &scalar); err2 != nil {
					return nil, err
				}
				return map[string]any{"value": scalar}, nil
			}
			return m, nil
		},
		Deserialize: func(data map[string]any) (any, error) {
			b, err := json.Marshal(data)
			if err != nil {
				return nil, err
			}
			out := reflect.New(goType)
			if err := json.Unmarshal(b, out.Interface()); err != nil {
				if scalar, ok := data["value"]; ok && len(data) == 1 {
					sb, _ := json.Marshal(scalar)
					if err2 := json.Unmarshal(sb, out.Interface()); err2 == nil {
						return out.Elem().Interface(), nil
					}
				}
				return nil, err
			}
			return out.Elem().Interface(), nil
		},
		Clone: func(v any) any {
			b, err := json.Marshal(v)
			if err != nil {
				return v
			}
			out := reflect.New(goType)
			if err := json.Unmarshal(b, out.Interface()); err != nil {
				return v
			}
			return out.Elem().Interface()
		},
	}
	if goType != nil {
		ct.Size = goType.Size()
		ct.Align = uintptr(goType.Align())
	}

	r.byName[name] = ct
	r.byID = append(r.byID, ct)
	r.byType[goType] = ct
	return ct, nil
}

// ByName resolves a registered component type by its registration name.
func (r *Registry) ByName(name string) (*ComponentType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ct, ok := r.byName[name]
	return ct, ok
}

// ByID resolves a registered component type by its dense type id.
func (r *Registry) ByID(id TypeID) (*ComponentType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.byID) {
		return nil, false
	}
	return r.byID[id], true
}

// ByType resolves a registered component type by its Go reflect.Type.
func (r *Registry) ByType(t reflect.Type) (*ComponentType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ct, ok := r.byType[t]
	return ct, ok
}

// NamesByID returns every registered component name ordered by type id —
// the order EngineSnapshot records component_names in (§6).
func (r *Registry) NamesByID() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.byID))
	for i, ct := range r.byID {
		names[i] = ct.Name
	}
	return names
}

// RegisteredNames returns every registered component name, sorted — used
// to enrich UnknownComponentError.
func (r *Registry) RegisteredNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// unknownComponent builds an UnknownComponentError for name, enriched
// with the current registered set.
func (r *Registry) unknownComponent(name string) *UnknownComponentError {
	return &UnknownComponentError{Name: name, Registered: r.RegisteredNames()}
}

// typeFor looks up the component type for a generic parameter, used by
// the typed World accessors and the generic Query constructors.
func typeFor[T any](r *Registry) (*ComponentType, error) {
	var zero T
	t := reflect.TypeOf(zero)
	ct, ok := r.ByType(t)
	if !ok {
		return nil, fmt.Errorf("component type %s was never registered with RegisterComponent", t)
	}
	return ct, nil
}
